package chat

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/danmuck/meshmodem/internal/delivery"
	"github.com/danmuck/meshmodem/internal/timesync"
)

// Version is reported by the ver command.
const Version = "meshchat 1.0"

var ErrUnknownCommand = errors.New("chat: unknown command")

type handler func(n *Node, arg string) ([]string, error)

var commands map[string]handler

func init() {
	commands = map[string]handler{
		"send":     (*Node).cmdSend,
		"public":   (*Node).cmdPublic,
		"to":       (*Node).cmdTo,
		"list":     (*Node).cmdList,
		"contacts": (*Node).cmdList,
		"history":  (*Node).cmdHistory,
		"clock":    (*Node).cmdClock,
		"set":      (*Node).cmdSet,
		"advert":   (*Node).cmdAdvert,
		"reset":    (*Node).cmdReset,
		"delete":   (*Node).cmdDelete,
		"rename":   (*Node).cmdRename,
		"card":     (*Node).cmdCard,
		"import":   (*Node).cmdImport,
		"info":     (*Node).cmdInfo,
		"status":   (*Node).cmdStatus,
		"radio":    (*Node).cmdRadio,
		"ver":      (*Node).cmdVersion,
		"help":     (*Node).cmdHelp,
		"?":        (*Node).cmdHelp,
	}
}

// Exec runs one line of the command surface on the node loop.
func (n *Node) Exec(ctx context.Context, line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	verb, arg, _ := strings.Cut(line, " ")
	h, ok := commands[strings.ToLower(verb)]
	if !ok {
		return nil, fmt.Errorf("%w: %s (try help)", ErrUnknownCommand, verb)
	}
	return n.do(ctx, func(context.Context) ([]string, error) {
		return h(n, strings.TrimSpace(arg))
	})
}

func (n *Node) cmdSend(text string) ([]string, error) {
	switch {
	case n.public:
		return nil, n.sendPublic(text)
	case n.recipient != nil:
		if err := n.sendDirect(text, n.recipient); err != nil {
			return nil, err
		}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: use 'to <name>'", ErrNoRecipient)
	}
}

func (n *Node) cmdPublic(text string) ([]string, error) {
	return nil, n.sendPublic(text)
}

func (n *Node) cmdTo(ref string) ([]string, error) {
	if ref == "" {
		if name := n.recipientName(); name != "" {
			return []string{"To: " + name}, nil
		}
		return []string{"(none - use 'to <name>')"}, nil
	}
	if strings.EqualFold(ref, PublicName) {
		n.public, n.recipient = true, nil
		return []string{"To: Public channel"}, nil
	}
	c, err := n.contacts.Resolve(ref)
	if err != nil {
		return nil, err
	}
	n.public, n.recipient = false, c
	return []string{"To: " + c.Name}, nil
}

func (n *Node) cmdList(arg string) ([]string, error) {
	sorted := n.contacts.Sorted()
	if len(sorted) == 0 {
		return []string{"No contacts"}, nil
	}
	limit := len(sorted)
	if arg != "" {
		v, err := strconv.Atoi(arg)
		if err != nil || v < 1 {
			return nil, fmt.Errorf("chat: list takes a positive count")
		}
		if v < limit {
			limit = v
		}
	}
	now := n.clock.Now()
	out := []string{fmt.Sprintf("Contacts (%d):", len(sorted))}
	for i, c := range sorted[:limit] {
		out = append(out, fmt.Sprintf("[%d] %s - %s", i+1, c.Name, relativeAge(now, c.LastAdvert)))
	}
	return out, nil
}

func relativeAge(now, then uint32) string {
	if then == 0 {
		return "never"
	}
	if then > now {
		return "in future"
	}
	d := time.Duration(now-then) * time.Second
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// FormatHistory renders one history line in chat style.
func FormatHistory(e HistoryEntry) string {
	ts := time.Unix(int64(e.Timestamp), 0).UTC().Format("15:04:05")
	if e.Route == HistoryPublic {
		return fmt.Sprintf("[%s] * %s", ts, e.Text)
	}
	return fmt.Sprintf("[%s] <%s> %s", ts, e.From, e.Text)
}

func (n *Node) cmdHistory(string) ([]string, error) {
	entries := n.history.Entries()
	if len(entries) == 0 {
		return []string{"No messages"}, nil
	}
	out := []string{"Message History:"}
	for _, e := range entries {
		out = append(out, FormatHistory(e))
	}
	return out, nil
}

func (n *Node) cmdClock(arg string) ([]string, error) {
	if strings.EqualFold(arg, "sync") {
		return n.cmdSend(ClockSyncText)
	}
	now := n.clock.Now()
	t := time.Unix(int64(now), 0).UTC()
	return []string{fmt.Sprintf("%s (epoch %d)", t.Format("15:04:05 2006/01/02"), now)}, nil
}

func (n *Node) cmdSet(arg string) ([]string, error) {
	key, value, ok := strings.Cut(arg, " ")
	if !ok {
		return nil, fmt.Errorf("chat: usage: set <key> <value>")
	}
	if strings.EqualFold(key, "time") {
		ts, err := timesync.ParseTime(value)
		if err != nil {
			return nil, err
		}
		if err := n.applyClock(ts); err != nil {
			return nil, err
		}
		return []string{"OK - clock set"}, nil
	}
	next := n.cfg.Prefs
	msg, err := next.Set(key, value)
	if err != nil {
		return nil, err
	}
	n.cfg.Prefs = next
	if err := n.savePrefs(); err != nil {
		return nil, err
	}
	return []string{msg}, nil
}

func (n *Node) cmdAdvert(string) ([]string, error) {
	if err := n.advertise(); err != nil {
		return nil, fmt.Errorf("%w: %v", delivery.ErrSendFailed, err)
	}
	return []string{"Advert sent"}, nil
}

func (n *Node) cmdReset(arg string) ([]string, error) {
	if !strings.EqualFold(arg, "path") {
		return nil, fmt.Errorf("chat: usage: reset path")
	}
	if n.recipient == nil {
		return nil, ErrNoRecipient
	}
	n.recipient.ResetPath()
	n.saveContacts()
	return []string{"Path reset"}, nil
}

func (n *Node) cmdDelete(ref string) ([]string, error) {
	c, err := n.contacts.Resolve(ref)
	if err != nil {
		return nil, err
	}
	n.contacts.Remove(c)
	if n.recipient == c {
		n.recipient = nil
	}
	n.saveContacts()
	return []string{"Deleted " + c.Name}, nil
}

func (n *Node) cmdRename(arg string) ([]string, error) {
	fields := strings.Fields(arg)
	if len(fields) != 2 {
		return nil, fmt.Errorf("chat: usage: rename <contact> <new name>")
	}
	if err := ValidateName(fields[1]); err != nil {
		return nil, err
	}
	c, err := n.contacts.Resolve(fields[0])
	if err != nil {
		return nil, err
	}
	c.Name = fields[1]
	n.saveContacts()
	return []string{"Renamed to " + c.Name}, nil
}

func (n *Node) cmdCard(string) ([]string, error) {
	pkt, err := n.selfAdvert()
	if err != nil {
		return nil, err
	}
	raw, err := pkt.Marshal()
	if err != nil {
		return nil, err
	}
	return []string{"Hello " + n.cfg.Prefs.NodeName, "Your card:", EncodeCard(raw)}, nil
}

func (n *Node) cmdImport(card string) ([]string, error) {
	_, adv, err := DecodeCard(card)
	if err != nil {
		return nil, err
	}
	if n.contacts.ByKey(adv.ID.PubKey[:]) != nil {
		return nil, fmt.Errorf("chat: %s is already a contact", adv.AppData.Name)
	}
	c, err := n.learnAdvert(adv, 0)
	if err != nil {
		return nil, err
	}
	return []string{"Imported " + c.Name}, nil
}

func (n *Node) cmdInfo(string) ([]string, error) {
	if n.recipient == nil {
		return nil, ErrNoRecipient
	}
	c := n.recipient
	out := []string{
		"Contact: " + c.Name,
		"  Type: " + c.Type.String(),
		"  Public key: " + hex.EncodeToString(c.ID.PubKey[:]),
	}
	if c.OutPathLen < 0 {
		out = append(out, "  Path: flood")
	} else {
		out = append(out, fmt.Sprintf("  Path: %d hops", c.OutPathLen))
	}
	if c.Lat != 0 || c.Lon != 0 {
		out = append(out, fmt.Sprintf("  GPS: %.6f, %.6f", c.Lat, c.Lon))
	}
	return out, nil
}

func (n *Node) cmdStatus(string) ([]string, error) {
	p := n.cfg.Prefs
	ansi := "OFF"
	if p.ANSI {
		ansi = "ON"
	}
	out := []string{
		"Node: " + p.NodeName,
		"Key: " + hex.EncodeToString(n.id.PublicKey()),
		fmt.Sprintf("Contacts: %d", n.contacts.Len()),
		"Delivery: " + n.engine.State().String(),
		"ANSI colors: " + ansi,
	}
	if p.Lat != 0 || p.Lon != 0 {
		out = append(out, fmt.Sprintf("GPS: %.6f, %.6f", p.Lat, p.Lon))
	}
	return out, nil
}

// SignalBars maps SNR onto 0..5 bars.
func SignalBars(snr float32) int {
	switch {
	case snr == 0:
		return 0
	case snr > 10:
		return 5
	case snr > 5:
		return 4
	case snr > 0:
		return 3
	case snr > -5:
		return 2
	case snr > -10:
		return 1
	default:
		return 0
	}
}

func (n *Node) cmdRadio(string) ([]string, error) {
	p := n.cfg.Prefs
	out := []string{
		fmt.Sprintf("Radio: %.2f MHz, BW: %.1f kHz", p.Freq, p.Bandwidth),
		fmt.Sprintf("TX: %d dBm, SF: %d, CR: %d", p.TxPowerDBm, p.SF, p.CR),
		fmt.Sprintf("Airtime Factor: %.2f", p.AirtimeFactor),
	}
	if n.lastSNR != 0 {
		bars := SignalBars(n.lastSNR)
		out = append(out, fmt.Sprintf("Last RX SNR: %.1f dB [%s%s]", n.lastSNR, strings.Repeat("|", bars), strings.Repeat(".", 5-bars)))
	}
	return out, nil
}

func (n *Node) cmdVersion(string) ([]string, error) {
	return []string{Version}, nil
}

var helpText = []string{
	"Messaging:",
	"  send <text>        send to current recipient",
	"  public <text>      send to the public channel",
	"  to <name|#|public> select recipient (no arg shows it)",
	"  history            recent received messages",
	"Contacts:",
	"  list [n]           contacts, most recent first",
	"  info               current recipient details",
	"  reset path         forget route to recipient",
	"  delete <contact>   remove a contact",
	"  rename <c> <name>  rename a contact",
	"  advert             announce this node",
	"  card / import <c>  share or add a meshcore:// card",
	"Settings:",
	"  clock [sync]       show clock, or send 'clock sync'",
	"  set time <t>       epoch, dd/mm/yyyy hh:mm, yyyy-mm-dd hh:mm",
	"  set name|lat|lon|af|tx|freq|bw|sf|cr|ansi <v>",
	"  status, radio, ver, help",
}

func (n *Node) cmdHelp(string) ([]string, error) {
	return helpText, nil
}
