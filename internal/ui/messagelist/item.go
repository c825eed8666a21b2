package messagelist

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/theme"
)

// MessageItem wraps a model.Message so it can be used in a bubbles/list.
type MessageItem struct {
	Message model.Message
}

// FilterValue returns the string used for filtering.
func (i MessageItem) FilterValue() string {
	return i.Message.Subject + " " + i.Message.From.String()
}

// Title returns the subject line for the list.
func (i MessageItem) Title() string { return subjectOrPlaceholder(i.Message.Subject) }

// Description returns a short summary line for the list.
func (i MessageItem) Description() string {
	parts := []string{
		i.Message.From.String(),
		relativeTime(i.Message.CreatedAt),
	}
	return strings.Join(parts, " | ")
}

// ItemDelegate implements list.ItemDelegate for rendering messages.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 1 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused for now).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single message line: seen marker, sender, subject, age.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	mi, ok := item.(MessageItem)
	if !ok {
		return
	}
	msg := mi.Message
	isSelected := index == m.Index()

	prefix := "●"
	textStyle := theme.UnseenStyle
	if msg.Seen {
		prefix = "○"
		textStyle = theme.SeenStyle
	}

	from := msg.From.Name
	if from == "" {
		from = msg.From.Address
	}
	fromStr := lipgloss.NewStyle().
		Foreground(theme.ColorBlue).
		Width(24).
		MaxWidth(24).
		Render(from)

	attach := ""
	if msg.HasAttachments {
		attach = lipgloss.NewStyle().Foreground(theme.ColorMagenta).Render(" 📎")
	}

	timeStr := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(relativeTime(msg.CreatedAt))

	line := fmt.Sprintf(
		"%s %s %s%s  %s",
		prefix, fromStr, textStyle.Render(subjectOrPlaceholder(msg.Subject)), attach, timeStr,
	)

	if isSelected {
		line = theme.SelectedItemStyle.Render(line)
	} else {
		line = theme.ListItemStyle.Render(line)
	}

	fmt.Fprint(w, line)
}

func subjectOrPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(no subject)"
	}
	return s
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hrs)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		weeks := int(d.Hours() / 24 / 7)
		if weeks == 1 {
			return "1w ago"
		}
		return fmt.Sprintf("%dw ago", weeks)
	}
}
