// Package chatui renders chat events and runs the interactive front ends:
// a full-screen terminal UI and a plain line mode for pipes and scripts.
package chatui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/danmuck/meshmodem/internal/chat"
)

// Executor runs one command line. *chat.Node satisfies it.
type Executor interface {
	Exec(ctx context.Context, line string) ([]string, error)
}

var (
	colorPrimary = lipgloss.Color("#7D56F4")
	colorAccent  = lipgloss.Color("#F4A956")
	colorSubtext = lipgloss.Color("#777777")
	colorSuccess = lipgloss.Color("#43BF6D")
	colorError   = lipgloss.Color("#FF5F5F")

	styleFrom    = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	stylePublic  = lipgloss.NewStyle().Foreground(colorPrimary)
	styleMuted   = lipgloss.NewStyle().Foreground(colorSubtext)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess)
	styleError   = lipgloss.NewStyle().Foreground(colorError)
	styleTitle   = lipgloss.NewStyle().
			Background(colorPrimary).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1).
			Bold(true)
)

func stamp(ts uint32) string {
	if ts == 0 {
		return "--:--:--"
	}
	return time.Unix(int64(ts), 0).UTC().Format("15:04:05")
}

func routeLabel(ev chat.Event) string {
	if ev.Route == chat.HistoryDirect {
		return fmt.Sprintf("direct %d hops", ev.Hops)
	}
	return fmt.Sprintf("flood %d hops", ev.Hops)
}

// FormatEvent renders ev as one line. With color the line carries ANSI
// styling.
func FormatEvent(ev chat.Event, color bool) string {
	paint := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}
	switch ev.Kind {
	case chat.EventMessage:
		return fmt.Sprintf("[%s] %s %s %s", stamp(ev.Timestamp),
			paint(styleFrom, "<"+ev.From+">"), ev.Text,
			paint(styleMuted, fmt.Sprintf("(%s, snr %.1f)", routeLabel(ev), ev.SNR)))
	case chat.EventChannel:
		return fmt.Sprintf("[%s] %s %s", stamp(ev.Timestamp),
			paint(stylePublic, "*"), paint(stylePublic, ev.Text))
	case chat.EventAck:
		return paint(styleSuccess, fmt.Sprintf("delivered to %s in %s (attempt %d)",
			ev.From, ev.RTT.Round(time.Millisecond), ev.Attempt))
	case chat.EventRetry:
		if ev.FellBack {
			return paint(styleMuted, fmt.Sprintf("retry %d, path reset, flooding", ev.Attempt+1))
		}
		return paint(styleMuted, fmt.Sprintf("retry %d", ev.Attempt+1))
	case chat.EventFailed:
		return paint(styleError, "delivery failed: "+ev.Text)
	case chat.EventContact:
		if ev.New {
			return paint(styleSuccess, fmt.Sprintf("new contact %s (%d hops)", ev.From, ev.Hops))
		}
		return paint(styleMuted, fmt.Sprintf("advert from %s (%d hops)", ev.From, ev.Hops))
	case chat.EventPath:
		return paint(styleMuted, fmt.Sprintf("path to %s learned (%d hops)", ev.From, ev.Hops))
	case chat.EventClock:
		return paint(styleMuted, fmt.Sprintf("%s: %s", ev.Text, stamp(ev.Timestamp)))
	case chat.EventNotice:
		return paint(styleError, ev.Text)
	default:
		return fmt.Sprintf("%s: %s", ev.Kind, ev.Text)
	}
}

// FormatError renders a command error.
func FormatError(err error, color bool) string {
	if color {
		return styleError.Render("error: " + err.Error())
	}
	return "error: " + err.Error()
}
