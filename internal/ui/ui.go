// Package ui renders the short status lines rerun prints to stderr.
package ui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Printer writes styled lines to a terminal and plain ones elsewhere.
type Printer struct {
	w      io.Writer
	accent lipgloss.Style
	muted  lipgloss.Style
	warn   lipgloss.Style
}

// New returns a Printer for w. Styling is disabled unless w is a terminal.
func New(w io.Writer) *Printer {
	r := lipgloss.NewRenderer(w)
	if !isTerminal(w) {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:      w,
		accent: r.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
		muted:  r.NewStyle().Foreground(lipgloss.Color("8")),
		warn:   r.NewStyle().Foreground(lipgloss.Color("11")),
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Banner describes a run for the startup message.
type Banner struct {
	Command   string
	Paths     []string
	Interval  string
	OnMissing string
	Async     bool
}

// maxListed bounds how many paths the banner lists individually.
const maxListed = 5

// PrintBanner writes the startup summary.
func (p *Printer) PrintBanner(b Banner) {
	fmt.Fprintf(p.w, "%s %s\n", p.accent.Render("rerun"), b.Command)

	mode := "blocking"
	if b.Async {
		mode = "async"
	}
	fmt.Fprintf(p.w, "   %s\n", p.muted.Render(fmt.Sprintf(
		"every %s, %s, on missing file: %s", b.Interval, mode, b.OnMissing)))

	listed := b.Paths
	if len(listed) > maxListed {
		listed = listed[:maxListed]
	}
	fmt.Fprintf(p.w, "   watching %d file(s): %s", len(b.Paths), strings.Join(listed, ", "))
	if extra := len(b.Paths) - len(listed); extra > 0 {
		fmt.Fprintf(p.w, " %s", p.muted.Render(fmt.Sprintf("(+%d more)", extra)))
	}
	fmt.Fprintln(p.w)
}

// Warn writes a highlighted warning line.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintf(p.w, "%s %s\n", p.warn.Render("warning:"), fmt.Sprintf(format, args...))
}
