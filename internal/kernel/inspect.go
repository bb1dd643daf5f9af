package kernel

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/itsmostafa/gocell/internal/compiler"
)

// Candidate is one completion suggestion.
type Candidate struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Completion lists candidates for the identifier around a cursor. Start and
// End delimit the text a chosen candidate replaces.
type Completion struct {
	Matches []Candidate `json:"matches"`
	Start   int         `json:"start"`
	End     int         `json:"end"`
}

// Inspect completes the identifier at cursor (a byte offset into text) from
// the live entities, the runtime builtins and, after a leading "%", the
// magic names. It never compiles text and never changes the session, so it
// may run while a submission executes.
func (k *Kernel) Inspect(text string, cursor int) Completion {
	cursor = max(0, min(cursor, len(text)))
	start := cursor
	for start > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:start])
		if !isIdentRune(r) {
			break
		}
		start -= size
	}
	end := cursor
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		if !isIdentRune(r) {
			break
		}
		end += size
	}
	prefix := text[start:cursor]
	c := Completion{Matches: []Candidate{}, Start: start, End: end}

	before := strings.TrimRight(text[:start], "%")
	if pct := start - len(before); pct > 0 && lineStart(before) {
		names := lineMagics
		if pct == 2 {
			names = cellMagics
		}
		for _, n := range names {
			if strings.HasPrefix(n, prefix) {
				c.Matches = append(c.Matches, Candidate{Name: n, Kind: "magic"})
			}
		}
		return c
	}
	if start > 0 && text[start-1] == '.' {
		// members need a live value to inspect
		return c
	}
	if prefix == "" {
		return c
	}

	seen := make(map[string]bool)
	for _, e := range k.session.Table().Live() {
		if !strings.HasPrefix(e.Name, prefix) {
			continue
		}
		seen[e.Name] = true
		c.Matches = append(c.Matches, Candidate{
			Name:   e.Name,
			Kind:   e.Kind.String(),
			Detail: fmt.Sprintf("v%d %s", e.Version, summary(e.Source)),
		})
	}
	var builtins []string
	for _, g := range k.globals {
		if !seen[g] && strings.HasPrefix(g, prefix) && !strings.HasPrefix(g, compiler.ImportBuiltin) {
			builtins = append(builtins, g)
		}
	}
	sort.Strings(builtins)
	for _, g := range builtins {
		c.Matches = append(c.Matches, Candidate{Name: g, Kind: "builtin"})
	}
	return c
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// lineStart reports whether only blanks precede the end of s on its line.
func lineStart(s string) bool {
	i := strings.LastIndexByte(s, '\n')
	return strings.TrimSpace(s[i+1:]) == ""
}

// summary shortens a definition to its first line.
func summary(src string) string {
	first, _, more := strings.Cut(strings.TrimSpace(src), "\n")
	const limit = 60
	if len(first) > limit {
		return first[:limit] + "..."
	}
	if more {
		return first + " ..."
	}
	return first
}
