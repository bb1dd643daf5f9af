package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/itsmostafa/gocell/internal/host"
)

var (
	// promptStyle for the execution counter
	promptStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("42"))

	// dimStyle for muted metadata text
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// errorStyle for error headings
	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196"))

	// caretStyle for the range under a diagnostic
	caretStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	// warnStyle for aborted executions
	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	// updateStyle for committed entities
	updateStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81"))

	// displayStyle frames display() values
	displayStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// Options controls what Render prints.
type Options struct {
	// Output prints captured stream text. Front ends that stream output as
	// it is produced leave it off.
	Output bool
	// Updates prints the entities the submission committed.
	Updates bool
}

// Render writes a human readable form of r.
func Render(w io.Writer, r Reply, opts Options) {
	if opts.Output {
		for _, c := range r.Output {
			text := c.Text
			if c.Stream == host.Stderr {
				text = caretStyle.Render(strings.TrimSuffix(text, "\n")) + "\n"
			}
			fmt.Fprint(w, text)
		}
	}

	for _, d := range r.Displays {
		header := dimStyle.Render(d.MIME)
		if d.Update {
			header = dimStyle.Render(fmt.Sprintf("update %s %s", d.ID, d.MIME))
		}
		fmt.Fprintln(w, displayStyle.Render(header+"\n"+d.Data))
	}

	switch {
	case r.Value != nil:
		prompt := promptStyle.Render(fmt.Sprintf("[%d]", r.ExecutionCount))
		fmt.Fprintf(w, "%s %s %s\n", prompt, r.Value.Repr, dimStyle.Render(r.Value.Type))
	case len(r.Diagnostics) > 0:
		for _, d := range r.Diagnostics {
			renderDiagnostic(w, d)
		}
	case r.Fault != nil:
		renderFault(w, r.Fault)
	case r.Outcome == host.TagTimedOut.String():
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("Execution timed out after %s", round(r.Duration))))
	case r.Outcome == host.TagInterrupted.String():
		fmt.Fprintln(w, warnStyle.Render("Execution interrupted"))
	}

	if r.Halted {
		fmt.Fprintln(w, errorStyle.Render("The session is halted; run %reset to continue"))
	}

	if opts.Updates {
		for _, u := range r.Updates {
			fmt.Fprintln(w, updateStyle.Render(FormatUpdate(u)))
		}
	}

	if r.Timed {
		fmt.Fprintln(w, dimStyle.Render("Wall time: "+round(r.Duration).String()))
	}
}

// FormatUpdate describes one committed entity, e.g.
// "replaced method area (v2), dependents: total".
func FormatUpdate(u Update) string {
	verb := "created"
	if u.Replaced {
		verb = "replaced"
	}
	s := fmt.Sprintf("%s %s %s", verb, u.Kind, u.Name)
	if u.Version > 1 {
		s += fmt.Sprintf(" (v%d)", u.Version)
	}
	if len(u.Dependents) > 0 {
		s += ", dependents: " + strings.Join(u.Dependents, ", ")
	}
	return s
}

func renderDiagnostic(w io.Writer, d Diagnostic) {
	heading := errorStyle.Render("error:") + " " + d.Message
	if d.Line > 0 {
		heading += dimStyle.Render(fmt.Sprintf(" (%d:%d)", d.Line, d.Column))
	}
	fmt.Fprintln(w, heading)
	if d.SourceLine == "" {
		return
	}
	width := d.End - d.Start
	fmt.Fprintln(w, "  "+d.SourceLine)
	fmt.Fprintln(w, "  "+caret(d.SourceLine, d.Column, width))
}

func renderFault(w io.Writer, f *Fault) {
	heading := errorStyle.Render(f.Kind)
	if f.Message != "" {
		heading += ": " + f.Message
	}
	fmt.Fprintln(w, heading)
	if f.SourceLine != "" {
		fmt.Fprintln(w, "  "+f.SourceLine)
		fmt.Fprintln(w, "  "+caret(f.SourceLine, f.Column, 1))
	}
	for _, frame := range f.Stack {
		fmt.Fprintln(w, dimStyle.Render("    "+frame))
	}
}

// caret underlines width bytes of line starting at the 1-based column.
// Tabs before the column are kept so the caret lines up.
func caret(line string, column, width int) string {
	if column < 1 {
		column = 1
	}
	if column > len(line)+1 {
		column = len(line) + 1
	}
	if width < 1 {
		width = 1
	}
	if rest := len(line) - column + 1; width > rest && rest > 0 {
		width = rest
	}
	var pad strings.Builder
	for _, c := range []byte(line[:column-1]) {
		if c == '\t' {
			pad.WriteByte('\t')
		} else {
			pad.WriteByte(' ')
		}
	}
	return pad.String() + caretStyle.Render(strings.Repeat("^", width))
}

func round(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return d.Round(time.Millisecond)
	case d >= time.Millisecond:
		return d.Round(10 * time.Microsecond)
	default:
		return d
	}
}
