// Package symbols tracks the live top-level entities of a session.
//
// A Table is an immutable snapshot. Commit never modifies its receiver; it
// returns the next snapshot, so a compile or an in-flight execution can keep
// using the version it started with while the session moves on. Superseded
// versions are dropped once nothing references their snapshot.
package symbols

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrDanglingReference is returned by Commit when a definition refers to
	// a name that would not be live after the commit.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrInconsistentCommit is returned by Commit when the superseded names
	// do not match the definitions being committed.
	ErrInconsistentCommit = errors.New("inconsistent commit")
)

// Kind is the kind of a top-level entity.
type Kind int

const (
	KindImport Kind = iota
	KindType
	KindMethod
	KindVariable
)

func (k Kind) String() string {
	switch k {
	case KindImport:
		return "import"
	case KindType:
		return "type"
	case KindMethod:
		return "method"
	case KindVariable:
		return "variable"
	default:
		return "unknown"
	}
}

// Entity is one version of a named top-level construct.
type Entity struct {
	Kind    Kind
	Name    string
	Version int
	// Source is the text of the unit that defined this version.
	Source string
	// Decl is the declaration form used when the entity is replayed ahead of
	// later submissions for compilation.
	Decl string
	// Refs are the logical names this version references, sorted.
	Refs  []string
	Const bool
	// Submission is the number of the submission that committed the version.
	Submission int
	// Artifact is the compiled program handle of the defining unit.
	Artifact any

	order int
}

// Definition is a new entity version handed to Commit.
type Definition struct {
	Kind       Kind
	Name       string
	Source     string
	Decl       string
	Refs       []string
	Const      bool
	Submission int
	// Unit is the index of the defining unit within its submission.
	Unit     int
	Artifact any
}

// Table is an immutable snapshot of the live entity set.
type Table struct {
	live      map[string]*Entity
	nextOrder int
}

// New returns an empty table.
func New() *Table {
	return &Table{live: make(map[string]*Entity)}
}

// Len is the number of live entities.
func (t *Table) Len() int {
	return len(t.live)
}

// Lookup returns the live entity named name.
func (t *Table) Lookup(name string) (*Entity, bool) {
	e, ok := t.live[name]
	return e, ok
}

// Live returns every live entity ordered by first introduction of its name,
// ties broken by name.
func (t *Table) Live() []*Entity {
	out := make([]*Entity, 0, len(t.live))
	for _, e := range t.live {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].order != out[j].order {
			return out[i].order < out[j].order
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Names returns the live names in Live order.
func (t *Table) Names() []string {
	live := t.Live()
	names := make([]string, len(live))
	for i, e := range live {
		names[i] = e.Name
	}
	return names
}

// DependentsOf returns the sorted names of live entities that reference name.
func (t *Table) DependentsOf(name string) []string {
	var deps []string
	for _, e := range t.live {
		if e.Name == name {
			continue
		}
		if i := sort.SearchStrings(e.Refs, name); i < len(e.Refs) && e.Refs[i] == name {
			deps = append(deps, e.Name)
		}
	}
	sort.Strings(deps)
	return deps
}

// Commit returns a new table in which every name in superseded is replaced by
// its new definition and every other definition is appended. The receiver is
// left unchanged, also when Commit fails.
func (t *Table) Commit(defs []Definition, superseded []string) (*Table, error) {
	incoming := make(map[string]int, len(defs))
	firstUnit := make(map[string]int, len(defs))
	span := 0
	for i, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("%w: definition %d has no name", ErrInconsistentCommit, i)
		}
		incoming[d.Name] = i
		if u, ok := firstUnit[d.Name]; !ok || d.Unit < u {
			firstUnit[d.Name] = d.Unit
		}
		if d.Unit+1 > span {
			span = d.Unit + 1
		}
	}
	for _, name := range superseded {
		if _, ok := t.live[name]; !ok {
			return nil, fmt.Errorf("%w: %q is not live", ErrInconsistentCommit, name)
		}
		if _, ok := incoming[name]; !ok {
			return nil, fmt.Errorf("%w: %q superseded without a new definition", ErrInconsistentCommit, name)
		}
	}
	replaced := make(map[string]bool, len(superseded))
	for _, name := range superseded {
		replaced[name] = true
	}
	for name := range incoming {
		if _, live := t.live[name]; live && !replaced[name] {
			return nil, fmt.Errorf("%w: %q redefined but not superseded", ErrInconsistentCommit, name)
		}
	}

	next := &Table{
		live:      make(map[string]*Entity, len(t.live)+len(defs)),
		nextOrder: t.nextOrder + span,
	}
	for name, e := range t.live {
		next.live[name] = e
	}

	for i, d := range defs {
		if incoming[d.Name] != i {
			// a later definition of the same name in this batch wins
			continue
		}
		refs := append([]string(nil), d.Refs...)
		sort.Strings(refs)
		e := &Entity{
			Kind:       d.Kind,
			Name:       d.Name,
			Version:    1,
			Source:     d.Source,
			Decl:       d.Decl,
			Refs:       compact(refs),
			Const:      d.Const,
			Submission: d.Submission,
			Artifact:   d.Artifact,
			order:      t.nextOrder + firstUnit[d.Name],
		}
		if prev, ok := t.live[d.Name]; ok {
			e.Version = prev.Version + 1
			e.order = prev.order
		}
		next.live[d.Name] = e
	}

	var dangling []string
	for _, d := range defs {
		for _, ref := range d.Refs {
			if _, ok := next.live[ref]; !ok {
				dangling = append(dangling, fmt.Sprintf("%s -> %s", d.Name, ref))
			}
		}
	}
	if len(dangling) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDanglingReference, strings.Join(dangling, ", "))
	}
	return next, nil
}

func compact(sorted []string) []string {
	if len(sorted) < 2 {
		return sorted
	}
	out := sorted[:1]
	for _, s := range sorted[1:] {
		if s != out[len(out)-1] {
			out = append(out, s)
		}
	}
	return out
}
