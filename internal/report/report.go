// Package report turns execution outcomes into replies for front ends.
package report

import (
	"fmt"
	"time"

	"github.com/itsmostafa/gocell/internal/compiler"
	"github.com/itsmostafa/gocell/internal/host"
	"github.com/itsmostafa/gocell/internal/snippet"
	"github.com/itsmostafa/gocell/internal/symbols"
)

// Status summarizes a reply.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
	// StatusAborted is used for timeouts and interrupts.
	StatusAborted Status = "aborted"
)

// Reply is the caller-facing result of one submission.
type Reply struct {
	Status         Status `json:"status"`
	Outcome        string `json:"outcome"`
	ExecutionCount int    `json:"execution_count"`

	Value       *Value       `json:"value,omitempty"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
	Fault       *Fault       `json:"fault,omitempty"`

	Output   []host.Chunk   `json:"output,omitempty"`
	Displays []host.Display `json:"displays,omitempty"`
	Updates  []Update       `json:"updates,omitempty"`

	Duration time.Duration `json:"duration"`
	// Timed asks renderers to show Duration.
	Timed bool `json:"timed,omitempty"`
	// Halted is set when the runtime was abandoned; the session needs a
	// reset before it accepts more work.
	Halted bool `json:"halted,omitempty"`
}

// Value is a rendered result value.
type Value struct {
	Type string `json:"type"`
	Repr string `json:"repr"`
	// Fallback is set when Repr is a placeholder because rendering the
	// value failed.
	Fallback bool `json:"fallback,omitempty"`
}

// Diagnostic is a compile diagnostic with the source line it points into.
type Diagnostic struct {
	snippet.Diagnostic
	SourceLine string `json:"source_line,omitempty"`
}

// Fault is a runtime fault in submission coordinates.
type Fault struct {
	Unit       int      `json:"unit"`
	Kind       string   `json:"kind"`
	Message    string   `json:"message"`
	Line       int      `json:"line,omitempty"`
	Column     int      `json:"column,omitempty"`
	SourceLine string   `json:"source_line,omitempty"`
	Stack      []string `json:"stack,omitempty"`
}

// Update describes an entity committed by the submission.
type Update struct {
	Kind       string   `json:"kind"`
	Name       string   `json:"name"`
	Version    int      `json:"version"`
	Replaced   bool     `json:"replaced,omitempty"`
	Dependents []string `json:"dependents,omitempty"`
}

// Input is everything Build needs about one submission. Program and Table
// are nil when the submission did not compile or did not commit.
type Input struct {
	Number  int
	Text    string
	Outcome host.Outcome
	Capture *host.Capture
	Program *compiler.Program
	// Table is the symbol table after the commit.
	Table *symbols.Table
	Timed bool
}

// Build maps an outcome to a reply. It has no side effects and always
// produces a reply.
func Build(in Input) Reply {
	o := in.Outcome
	r := Reply{
		Status:         statusOf(o.Tag),
		Outcome:        o.Tag.String(),
		ExecutionCount: in.Number,
		Duration:       o.Duration,
		Timed:          in.Timed,
		Halted:         o.Halted,
	}
	if in.Capture != nil {
		r.Output = in.Capture.Chunks()
		r.Displays = in.Capture.Displays()
	}

	var lines *snippet.LineIndex
	if in.Text != "" {
		lines = snippet.NewLineIndex(in.Text)
	}
	sourceLine := func(line int) string {
		if lines == nil || line == 0 {
			return ""
		}
		return lines.Line(in.Text, line)
	}

	switch o.Tag {
	case host.TagValue:
		r.Value = value(o.Value)
	case host.TagCompileFailure:
		for _, d := range o.Diagnostics {
			r.Diagnostics = append(r.Diagnostics, Diagnostic{Diagnostic: d, SourceLine: sourceLine(d.Line)})
		}
	case host.TagRuntimeFault:
		if f := o.Fault; f != nil {
			r.Fault = &Fault{
				Unit:       f.Unit,
				Kind:       f.Kind,
				Message:    f.Message,
				Line:       f.Line,
				Column:     f.Column,
				SourceLine: sourceLine(f.Line),
				Stack:      f.Stack,
			}
		} else {
			r.Fault = &Fault{Kind: "Error", Message: "unknown fault"}
		}
	}

	if o.Commit && in.Program != nil && in.Table != nil {
		r.Updates = updates(in.Program, in.Table)
	}
	return r
}

func statusOf(t host.Tag) Status {
	switch t {
	case host.TagValue, host.TagVoid:
		return StatusOK
	case host.TagTimedOut, host.TagInterrupted:
		return StatusAborted
	default:
		return StatusError
	}
}

func value(v *host.Value) *Value {
	if v == nil {
		return &Value{Type: "unknown", Repr: fallbackRepr("unknown"), Fallback: true}
	}
	typ := v.Type
	if typ == "" {
		typ = "unknown"
	}
	if v.ReprErr != "" {
		return &Value{Type: typ, Repr: fallbackRepr(typ), Fallback: true}
	}
	return &Value{Type: typ, Repr: v.Repr}
}

func fallbackRepr(typ string) string {
	return fmt.Sprintf("<object of type %s: representation unavailable>", typ)
}

func updates(p *compiler.Program, t *symbols.Table) []Update {
	replaced := make(map[string]bool, len(p.Superseded))
	for _, name := range p.Superseded {
		replaced[name] = true
	}
	seen := make(map[string]bool, len(p.Definitions))
	var out []Update
	for _, d := range p.Definitions {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		e, ok := t.Lookup(d.Name)
		if !ok {
			continue
		}
		out = append(out, Update{
			Kind:       e.Kind.String(),
			Name:       e.Name,
			Version:    e.Version,
			Replaced:   replaced[d.Name],
			Dependents: t.DependentsOf(d.Name),
		})
	}
	return out
}
