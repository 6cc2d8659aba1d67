package ui

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	primaryColor = lipgloss.Color("#10B981")
	mutedColor   = lipgloss.Color("#9CA3AF")
	errorColor   = lipgloss.Color("#EF4444")
	warnColor    = lipgloss.Color("#F59E0B")

	titleStyle = lipgloss.NewStyle().
			Foreground(primaryColor).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	blockingStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(errorColor).
			Padding(0, 1)

	toastStyle = lipgloss.NewStyle().
			Foreground(warnColor)
)

// Console implements Presenter and Confirmer on a terminal.
type Console struct {
	mu  sync.Mutex
	out io.Writer
	in  *bufio.Scanner
}

// NewConsole writes to out and reads confirmations from in. in may be nil,
// in which case every confirmation is declined.
func NewConsole(out io.Writer, in *bufio.Scanner) *Console {
	return &Console{out: out, in: in}
}

// Println writes one line.
func (c *Console) Println(a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, a...)
}

// Printf writes formatted output.
func (c *Console) Printf(format string, a ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, a...)
}

// Title writes a highlighted heading.
func (c *Console) Title(s string) {
	c.Println(titleStyle.Render(s))
}

// Muted writes a dimmed line.
func (c *Console) Muted(s string) {
	c.Println(mutedStyle.Render(s))
}

func (c *Console) Alert(title, message string) {
	c.Println(errorStyle.Render("✖ "+title) + " " + message)
}

func (c *Console) BlockingAlert(title, message string) {
	c.Println(blockingStyle.Render(title + "\n" + message))
}

func (c *Console) Toast(title, body string) {
	c.Println(toastStyle.Render("🔔 "+title) + " " + mutedStyle.Render(body))
}

func (c *Console) ConnectionState(connected bool) {
	if connected {
		c.Println(titleStyle.Render("● connected"))
		return
	}
	c.Println(errorStyle.Render("○ reconnecting…"))
}

func (c *Console) Confirm(prompt string) bool {
	if c.in == nil {
		return false
	}
	c.Printf("%s [y/N] ", prompt)
	if !c.in.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(c.in.Text()))
	return answer == "y" || answer == "yes"
}

// Clock formats timestamps for message lines.
func Clock(t time.Time) string {
	if t.IsZero() {
		return "--:--"
	}
	return t.Local().Format("15:04")
}
