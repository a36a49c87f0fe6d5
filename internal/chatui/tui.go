package chatui

import (
	"context"
	"errors"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/danmuck/meshmodem/internal/chat"
)

// maxLines bounds the scrollback kept in the viewport.
const maxLines = 500

type eventMsg chat.Event

type eventsClosedMsg struct{}

type execMsg struct {
	lines []string
	err   error
}

type Model struct {
	ctx    context.Context
	exec   Executor
	events <-chan chat.Event
	title  string

	input  textinput.Model
	view   viewport.Model
	lines  []string
	width  int
	height int
	ready  bool
}

func NewModel(ctx context.Context, title string, ex Executor, events <-chan chat.Event) Model {
	in := textinput.New()
	in.Placeholder = "type a message, or help"
	in.Prompt = "> "
	in.CharLimit = 256
	in.Focus()
	return Model{
		ctx:    ctx,
		exec:   ex,
		events: events,
		title:  title,
		input:  in,
		view:   viewport.New(80, 20),
	}
}

func waitForEvent(ch <-chan chat.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func runExec(ctx context.Context, ex Executor, line string) tea.Cmd {
	return func() tea.Msg {
		lines, err := ex.Exec(ctx, line)
		return execMsg{lines: lines, err: err}
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForEvent(m.events))
}

// Lines returns the scrollback.
func (m Model) Lines() []string {
	return append([]string(nil), m.lines...)
}

func (m *Model) appendLines(lines ...string) {
	m.lines = append(m.lines, lines...)
	if over := len(m.lines) - maxLines; over > 0 {
		m.lines = append([]string(nil), m.lines[over:]...)
	}
	m.view.SetContent(strings.Join(m.lines, "\n"))
	m.view.GotoBottom()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		// title bar and input line
		m.view.Width = msg.Width
		m.view.Height = max(msg.Height-2, 1)
		m.input.Width = max(msg.Width-4, 10)
		m.ready = true
		m.view.SetContent(strings.Join(m.lines, "\n"))
		m.view.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		case tea.KeyEnter:
			line := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if line == "" {
				return m, nil
			}
			if line == "quit" || line == "exit" {
				return m, tea.Quit
			}
			m.appendLines(styleMuted.Render("> " + line))
			return m, runExec(m.ctx, m.exec, line)
		}

	case eventMsg:
		m.appendLines(FormatEvent(chat.Event(msg), true))
		return m, waitForEvent(m.events)

	case eventsClosedMsg:
		m.appendLines(styleMuted.Render("node stopped"))
		return m, nil

	case execMsg:
		if msg.err != nil {
			m.appendLines(FormatError(msg.err, true))
			return m, nil
		}
		m.appendLines(msg.lines...)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	if !m.ready {
		return "starting..."
	}
	title := styleTitle.Render(m.title)
	return lipgloss.JoinVertical(lipgloss.Left, title, m.view.View(), m.input.View())
}

// Run shows the full-screen UI until the user quits or ctx ends.
func Run(ctx context.Context, title string, ex Executor, events <-chan chat.Event) error {
	p := tea.NewProgram(NewModel(ctx, title, ex, events), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
