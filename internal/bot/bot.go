// Package bot answers chat messages from a Lua script.
//
// A script returns a table:
//
//	return {
//	  name = "echo",
//	  public = false,
//	  rules = { { match = "^ping$", reply = "pong" } },
//	  on_message = function(from, text, public) return nil end,
//	}
//
// Rules are tried in order; a match reply may use $1 style group
// references. on_message runs when no rule matches and may return a
// string to send or nil.
package bot

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/danmuck/meshmodem/internal/chat"
	"github.com/rs/zerolog/log"
	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
)

var ErrBadScript = errors.New("bot: invalid script")

// Script is the mapped form of the table a bot script returns.
type Script struct {
	Name string
	// Public enables replies on the public channel.
	Public bool
	Rules  []Rule
}

type Rule struct {
	Match string
	Reply string
}

type compiledRule struct {
	re    *regexp.Regexp
	reply string
}

// Message is one inbound chat text offered to the bot.
type Message struct {
	From   string
	Text   string
	Public bool
}

// Replier sends a bot answer. *chat.Node satisfies it.
type Replier interface {
	Reply(ctx context.Context, to, text string) error
}

// Bot owns a Lua state. Respond is serialized because LState is not safe
// for concurrent use.
type Bot struct {
	mu        sync.Mutex
	L         *lua.LState
	script    Script
	rules     []compiledRule
	onMessage *lua.LFunction
}

func Load(path string) (*Bot, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("bot: load %s: %w", path, err)
	}
	return fromState(L)
}

func LoadString(src string) (*Bot, error) {
	L := lua.NewState()
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("bot: load: %w", err)
	}
	return fromState(L)
}

func fromState(L *lua.LState) (*Bot, error) {
	table, ok := L.Get(-1).(*lua.LTable)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("%w: script did not return a table", ErrBadScript)
	}
	L.Pop(1)

	var script Script
	if err := gluamapper.Map(table, &script); err != nil {
		L.Close()
		return nil, fmt.Errorf("%w: %v", ErrBadScript, err)
	}
	b := &Bot{L: L, script: script}
	for i, r := range script.Rules {
		re, err := regexp.Compile(r.Match)
		if err != nil {
			L.Close()
			return nil, fmt.Errorf("%w: rule %d: %v", ErrBadScript, i, err)
		}
		b.rules = append(b.rules, compiledRule{re: re, reply: r.Reply})
	}
	switch fn := table.RawGetString("on_message").(type) {
	case *lua.LFunction:
		b.onMessage = fn
	case *lua.LNilType:
	default:
		L.Close()
		return nil, fmt.Errorf("%w: on_message is %s", ErrBadScript, fn.Type())
	}
	if b.onMessage == nil && len(b.rules) == 0 {
		L.Close()
		return nil, fmt.Errorf("%w: no rules and no on_message", ErrBadScript)
	}
	return b, nil
}

func (b *Bot) Name() string {
	if b.script.Name == "" {
		return "bot"
	}
	return b.script.Name
}

func (b *Bot) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.L.Close()
}

// Respond returns the reply for m, if any.
func (b *Bot) Respond(m Message) (string, bool, error) {
	if m.Public && !b.script.Public {
		return "", false, nil
	}
	for _, r := range b.rules {
		match := r.re.FindStringSubmatchIndex(m.Text)
		if match == nil {
			continue
		}
		out := r.re.ExpandString(nil, r.reply, m.Text, match)
		return string(out), len(out) > 0, nil
	}
	if b.onMessage == nil {
		return "", false, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.L.CallByParam(lua.P{Fn: b.onMessage, NRet: 1, Protect: true},
		lua.LString(m.From), lua.LString(m.Text), lua.LBool(m.Public))
	if err != nil {
		return "", false, fmt.Errorf("bot: on_message: %w", err)
	}
	ret := b.L.Get(-1)
	b.L.Pop(1)
	s, ok := ret.(lua.LString)
	if !ok || s == "" {
		return "", false, nil
	}
	return string(s), true, nil
}

// Serve answers message events until ctx is done or events closes.
func (b *Bot) Serve(ctx context.Context, events <-chan chat.Event, r Replier) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.handle(ctx, ev, r)
		}
	}
}

func (b *Bot) handle(ctx context.Context, ev chat.Event, r Replier) {
	var m Message
	switch ev.Kind {
	case chat.EventMessage:
		m = Message{From: ev.From, Text: ev.Text}
	case chat.EventChannel:
		text := ev.Text
		if _, body, found := strings.Cut(text, ": "); found {
			text = body
		}
		m = Message{From: ev.From, Text: text, Public: true}
	default:
		return
	}
	reply, ok, err := b.Respond(m)
	if err != nil {
		log.Warn().Err(err).Str("bot", b.Name()).Msg("bot: script error")
		return
	}
	if !ok {
		return
	}
	to := m.From
	if m.Public {
		to = chat.PublicName
	}
	if err := r.Reply(ctx, to, reply); err != nil {
		log.Warn().Err(err).Str("bot", b.Name()).Str("to", to).Msg("bot: reply failed")
		return
	}
	log.Debug().Str("bot", b.Name()).Str("to", to).Msg("bot: replied")
}
