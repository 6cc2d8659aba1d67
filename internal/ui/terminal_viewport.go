package ui

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"ecochat/models"
)

var (
	selfStyle      = lipgloss.NewStyle().Foreground(primaryColor)
	pendingStyle   = lipgloss.NewStyle().Foreground(mutedColor).Italic(true)
	highlightStyle = lipgloss.NewStyle().Reverse(true)
)

// TerminalViewport is a line-based Viewport: every message is one line of
// LineHeight units and the window shows Rows lines.
type TerminalViewport struct {
	mu         sync.Mutex
	console    *Console
	selfID     int64
	rows       int
	lineHeight float64

	msgs      []models.Message
	printed   map[string]bool
	scrollTop float64
}

// NewTerminalViewport prints new messages through console.
func NewTerminalViewport(console *Console, selfID int64, rows int) *TerminalViewport {
	if rows <= 0 {
		rows = 20
	}
	return &TerminalViewport{
		console:    console,
		selfID:     selfID,
		rows:       rows,
		lineHeight: 1,
		printed:    make(map[string]bool),
	}
}

// Reset forgets everything printed, for a room switch.
func (v *TerminalViewport) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.msgs = nil
	v.printed = make(map[string]bool)
	v.scrollTop = 0
}

// Render prints messages not shown before. Older pages are summarized instead of printed.
func (v *TerminalViewport) Render(msgs []models.Message) {
	v.mu.Lock()
	prepended := 0
	if len(v.msgs) > 0 {
		if idx := indexOf(msgs, v.msgs[0].LocalID); idx > 0 {
			prepended = idx
		}
	}
	var lines []string
	for i, m := range msgs {
		if v.printed[m.LocalID] {
			continue
		}
		v.printed[m.LocalID] = true
		if i < prepended {
			continue
		}
		lines = append(lines, v.formatLocked(m))
	}
	v.msgs = append(v.msgs[:0], msgs...)
	v.mu.Unlock()

	if prepended > 0 {
		v.console.Muted(fmt.Sprintf("── %d older messages loaded ──", prepended))
	}
	for _, line := range lines {
		v.console.Println(line)
	}
}

func indexOf(msgs []models.Message, localID string) int {
	for i := range msgs {
		if msgs[i].LocalID == localID {
			return i
		}
	}
	return -1
}

func (v *TerminalViewport) formatLocked(m models.Message) string {
	var b strings.Builder
	b.WriteString(mutedStyle.Render(Clock(m.CreatedAt.Time)))
	b.WriteString(" ")
	switch m.MessageType {
	case models.MessageEnter, models.MessageLeave, models.MessageSystem, models.MessageNotice:
		b.WriteString(mutedStyle.Render("· " + m.Content))
		return b.String()
	}

	name := m.SenderName
	if m.SenderID == v.selfID {
		name = selfStyle.Render(name)
	}
	b.WriteString(fmt.Sprintf("[%d] %s: ", m.MessageID, name))
	if m.ParentMessageID != nil {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("↪ %s: %q ", m.ParentMessageSenderName, m.ParentMessageContent)))
	}
	content := m.Content
	switch m.MessageType {
	case models.MessageImage:
		content = "🖼 " + content
	case models.MessageFile:
		content = "📎 " + content
	case models.MessageDeleted:
		content = mutedStyle.Render(models.DeletedPlaceholder)
	}
	if m.IsOptimistic {
		content = pendingStyle.Render(content + " (sending…)")
	}
	b.WriteString(content)
	for _, r := range m.Reactions {
		mark := ""
		if r.SelectedByMe {
			mark = "*"
		}
		b.WriteString(fmt.Sprintf(" %s%d%s", r.EmojiType, r.Count, mark))
	}
	if m.UnreadCount > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf(" %d", m.UnreadCount)))
	}
	return b.String()
}

func (v *TerminalViewport) Metrics() ScrollMetrics {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.metricsLocked()
}

func (v *TerminalViewport) metricsLocked() ScrollMetrics {
	return ScrollMetrics{
		ScrollTop:    v.scrollTop,
		ScrollHeight: float64(len(v.msgs)) * v.lineHeight,
		ClientHeight: float64(v.rows) * v.lineHeight,
	}
}

func (v *TerminalViewport) SetScrollTop(top float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.metricsLocked()
	v.scrollTop = clamp(top, 0, maxScrollTop(m))
}

func (v *TerminalViewport) ScrollToBottom() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.scrollTop = maxScrollTop(v.metricsLocked())
}

// ScrollBy moves the window by lines; negative scrolls toward older messages.
func (v *TerminalViewport) ScrollBy(lines int) ScrollMetrics {
	v.mu.Lock()
	defer v.mu.Unlock()
	m := v.metricsLocked()
	v.scrollTop = clamp(v.scrollTop+float64(lines)*v.lineHeight, 0, maxScrollTop(m))
	return v.metricsLocked()
}

func (v *TerminalViewport) ScrollToMessage(localID string) bool {
	v.mu.Lock()
	idx := indexOf(v.msgs, localID)
	if idx < 0 {
		v.mu.Unlock()
		return false
	}
	m := v.msgs[idx]
	v.scrollTop = clamp(float64(idx)*v.lineHeight, 0, maxScrollTop(v.metricsLocked()))
	line := v.formatLocked(m)
	v.mu.Unlock()

	v.console.Println(highlightStyle.Render("→ " + line))
	return true
}

func maxScrollTop(m ScrollMetrics) float64 {
	if m.ScrollHeight <= m.ClientHeight {
		return 0
	}
	return m.ScrollHeight - m.ClientHeight
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
