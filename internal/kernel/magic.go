package kernel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/itsmostafa/gocell/internal/compiler"
	"github.com/itsmostafa/gocell/internal/config"
	"github.com/itsmostafa/gocell/internal/host"
)

// Magics are kernel commands on the leading lines of a submission. Line
// magics start with "%", the cell magic "%%time" applies to the code that
// follows.
var (
	lineMagics = []string{"classpath", "history", "lsmagic", "reset", "timeout", "who"}
	cellMagics = []string{"time", "timeit"}
)

type magic struct {
	name string
	args []string
	// start and end delimit the magic line in the submission.
	start, end int
}

type cell struct {
	magics []magic
	// body is the submission with magic lines blanked out, so offsets in
	// it are offsets in the submission.
	body  string
	timed bool
}

func (c *cell) hasCode() bool {
	return strings.TrimSpace(c.body) != ""
}

type magicError struct {
	start, end int
	msg        string
}

func (e *magicError) Error() string {
	return e.msg
}

// parseCell separates leading magic lines from code.
func parseCell(text string) (*cell, error) {
	c := &cell{}
	body := []byte(text)
	offset := 0
	for offset < len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		if end < 0 {
			end = len(text)
		} else {
			end += offset
		}
		line := text[offset:end]
		trimmed := strings.TrimSpace(line)
		start := offset + strings.Index(line, trimmed)
		lineEnd := start + len(trimmed)

		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "%%"):
			name, _, _ := strings.Cut(trimmed[2:], " ")
			if !contains(cellMagics, name) {
				return nil, &magicError{start: start, end: lineEnd, msg: fmt.Sprintf("unknown cell magic %%%%%s", name)}
			}
			c.timed = true
			blankRange(body, offset, end)
		case strings.HasPrefix(trimmed, "%"):
			args, err := compiler.SplitArgs(trimmed[1:])
			if err != nil {
				return nil, &magicError{start: start, end: lineEnd, msg: fmt.Sprintf("malformed magic: %v", err)}
			}
			if len(args) == 0 || !contains(lineMagics, args[0]) {
				name := ""
				if len(args) > 0 {
					name = args[0]
				}
				return nil, &magicError{start: start, end: lineEnd, msg: fmt.Sprintf("unknown magic %%%s", name)}
			}
			c.magics = append(c.magics, magic{name: args[0], args: args[1:], start: start, end: lineEnd})
			blankRange(body, offset, end)
		default:
			c.body = string(body)
			return c, nil
		}
		offset = end + 1
	}
	c.body = string(body)
	return c, nil
}

func blankRange(b []byte, start, end int) {
	for i := start; i < end; i++ {
		if b[i] != '\n' && b[i] != '\r' {
			b[i] = ' '
		}
	}
}

func prefixed(prefix string, names []string) string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = prefix + n
	}
	return strings.Join(out, " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// runMagic executes a line magic, writing its report to out. Callers hold
// mu.
func (k *Kernel) runMagic(m magic, out *host.Capture) error {
	switch m.name {
	case "classpath":
		return k.magicClasspath(m.args, out)
	case "timeout":
		return k.magicTimeout(m.args, out)
	case "history":
		for _, e := range k.history {
			first, _, more := strings.Cut(strings.TrimSpace(e.Text), "\n")
			if more {
				first += " ..."
			}
			out.Write(host.Stdout, fmt.Sprintf("%4d  %s\n", e.Number, first))
		}
	case "who":
		table := k.session.Table()
		for _, e := range table.Live() {
			line := fmt.Sprintf("%-16s %-8s v%d", e.Name, e.Kind, e.Version)
			if deps := table.DependentsOf(e.Name); len(deps) > 0 {
				line += "  used by " + strings.Join(deps, ", ")
			}
			out.Write(host.Stdout, line+"\n")
		}
	case "lsmagic":
		out.Write(host.Stdout, "line magics: "+prefixed("%", lineMagics)+"\n")
		out.Write(host.Stdout, "cell magics: "+prefixed("%%", cellMagics)+"\n")
	case "reset":
		if err := k.resetLocked(); err != nil {
			return err
		}
		out.Write(host.Stdout, "session reset\n")
	default:
		return fmt.Errorf("unknown magic %%%s", m.name)
	}
	return nil
}

func (k *Kernel) magicClasspath(args []string, out *host.Capture) error {
	if len(args) == 0 {
		for _, p := range k.Classpath() {
			out.Write(host.Stdout, p+"\n")
		}
		return nil
	}
	var dirs []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("classpath pattern %q: %v", pattern, err)
		}
		if len(matches) == 0 {
			return fmt.Errorf("classpath entry %q matches nothing", pattern)
		}
		sort.Strings(matches)
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return err
			}
			if !info.IsDir() {
				return fmt.Errorf("classpath entry %q is not a directory", m)
			}
			dirs = append(dirs, m)
		}
	}
	for _, d := range k.AddClasspath(dirs...) {
		out.Write(host.Stdout, "added "+d+"\n")
	}
	return nil
}

func (k *Kernel) magicTimeout(args []string, out *host.Capture) error {
	switch len(args) {
	case 0:
	case 1:
		d, err := config.ParseTimeout(args[0])
		if err != nil {
			return err
		}
		k.SetTimeout(d)
	default:
		return errors.New("usage: %timeout [duration|off]")
	}
	if d := k.Timeout(); d > 0 {
		out.Write(host.Stdout, "timeout "+d.String()+"\n")
	} else {
		out.Write(host.Stdout, "timeout off\n")
	}
	return nil
}
