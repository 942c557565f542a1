package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/user/streamsync/internal/domain"
	"github.com/user/streamsync/internal/reconcile"
)

// textView renders stream activity for humans. Styling is dropped when
// stdout is not a terminal so piped output stays clean.
type textView struct {
	globals *Globals
	styled  bool

	dim   lipgloss.Style
	warn  lipgloss.Style
	fail  lipgloss.Style
	role  lipgloss.Style
	faded lipgloss.Style
}

func newTextView(globals *Globals) *textView {
	styled := false
	if f, ok := globals.Stdout.(*os.File); ok {
		styled = isatty.IsTerminal(f.Fd())
	}
	return &textView{
		globals: globals,
		styled:  styled,
		dim:     lipgloss.NewStyle().Faint(true),
		warn:    lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		fail:    lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		role:    lipgloss.NewStyle().Bold(true),
		faded:   lipgloss.NewStyle().Faint(true).Strikethrough(true),
	}
}

func (v *textView) render(s lipgloss.Style, text string) string {
	if !v.styled {
		return text
	}
	return s.Render(text)
}

func (v *textView) StreamText(text string) {
	fmt.Fprint(v.globals.Stdout, text)
}

func (v *textView) Message(msg domain.Message) {
	label := v.render(v.role, string(msg.Role))
	body := msg.Content
	if msg.Superseded {
		body = v.render(v.faded, body)
		label += v.render(v.dim, " (superseded)")
	}
	fmt.Fprintf(v.globals.Stdout, "%s: %s\n", label, body)
}

func (v *textView) Advisory(a reconcile.Advisory) {
	if v.globals.Quiet && a.Kind == reconcile.AdvisoryResumed {
		return
	}
	line := string(a.Kind)
	if a.Message != "" {
		line += ": " + a.Message
	}
	switch a.Kind {
	case reconcile.AdvisoryStuck, reconcile.AdvisoryRunError, reconcile.AdvisoryCommandFailed:
		fmt.Fprintln(v.globals.Stderr, v.render(v.fail, line))
	case reconcile.AdvisorySlow:
		fmt.Fprintln(v.globals.Stderr, v.render(v.warn, line))
	default:
		fmt.Fprintln(v.globals.Stderr, v.render(v.dim, line))
	}
}

func (v *textView) ConnState(s domain.ConnState) {
	if v.globals.Quiet {
		return
	}
	fmt.Fprintln(v.globals.Stderr, v.render(v.dim, "connection: "+string(s)))
}
