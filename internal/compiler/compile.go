// Package compiler is the incremental compiler session of a kernel.
//
// Every submission is checked together with the live entity set: the
// declarations of all live entities are replayed ahead of the new units and
// the combined text is compiled once. On success each unit is compiled again
// on its own into the program the host runs. Nothing in the session changes
// until Commit is called with the resulting Program.
package compiler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"

	"github.com/itsmostafa/gocell/internal/snippet"
	"github.com/itsmostafa/gocell/internal/symbols"
)

var (
	// ErrCompilation is matched by every *CompileError.
	ErrCompilation = errors.New("compilation failed")

	// ErrStaleProgram is returned by Commit when the session moved on after
	// the program was compiled.
	ErrStaleProgram = errors.New("program compiled against a stale symbol table")
)

// CompileError carries diagnostics in submission coordinates.
type CompileError struct {
	Diagnostics []snippet.Diagnostic
}

func (e *CompileError) Error() string {
	if len(e.Diagnostics) == 0 {
		return ErrCompilation.Error()
	}
	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.String()
	}
	return fmt.Sprintf("%s: %s", ErrCompilation, strings.Join(parts, "; "))
}

func (e *CompileError) Is(target error) bool {
	return target == ErrCompilation
}

// Resolver locates modules named by import specifiers.
type Resolver interface {
	Resolve(spec string) (string, error)
}

// Unit is one compiled unit of a Program.
type Unit struct {
	Index int
	Kind  snippet.Kind
	Names []string
	Text  string
	Phase Phase
	// Name is the program name the unit runs under, "$<n>.<i>".
	Name string
	// Program is the compiled code. It is safe to run in any runtime.
	Program *goja.Program
	// Expression marks a unit whose completion value is a result.
	Expression bool
	Start      int
	End        int

	src *sourceMap
}

// Locate maps a 1-based line and column of the unit's program to a
// submission offset.
func (u *Unit) Locate(line, column int) (int, bool) {
	if u.src == nil {
		return 0, false
	}
	return u.src.locate(line, column)
}

// Generated returns the program text the unit runs as.
func (u *Unit) Generated() string {
	if u.src == nil {
		return ""
	}
	return u.src.text
}

// Program is a compiled submission ready to execute and commit.
type Program struct {
	Number int
	// Name is "$<n>", the prefix of every unit name.
	Name  string
	Text  string
	Lines *snippet.LineIndex
	Units []*Unit
	// Declared are the identifier names the submission binds, in first
	// declaration order. Bare imports are not included.
	Declared []string
	// Superseded are the declared logical names that were live before.
	Superseded  []string
	Definitions []symbols.Definition
	// HasValue is set when the last unit is an expression.
	HasValue bool

	base *symbols.Table
}

// Base is the table snapshot the program was compiled against.
func (p *Program) Base() *symbols.Table {
	return p.base
}

// Session owns the live symbol table and compiles submissions against it.
type Session struct {
	opts     atomic.Pointer[Options]
	resolver Resolver
	builtins map[string]bool
	table    atomic.Pointer[symbols.Table]
}

// NewSession creates a session with an empty table. builtins are the names
// the runtime provides without a declaration. resolver may be nil, in which
// case imports are not checked.
func NewSession(opts Options, resolver Resolver, builtins []string) *Session {
	s := &Session{
		resolver: resolver,
		builtins: make(map[string]bool, len(builtins)+1),
	}
	for _, b := range builtins {
		s.builtins[b] = true
	}
	s.builtins["arguments"] = true
	s.opts.Store(&opts)
	s.table.Store(symbols.New())
	return s
}

// Table returns the current snapshot. It is safe to call concurrently with
// Compile and Commit.
func (s *Session) Table() *symbols.Table {
	return s.table.Load()
}

// Options returns the compiler options in effect.
func (s *Session) Options() Options {
	return *s.opts.Load()
}

// SetOptions replaces the options used by the next Compile.
func (s *Session) SetOptions(opts Options) {
	s.opts.Store(&opts)
}

// Builtin reports whether name is provided by the runtime.
func (s *Session) Builtin(name string) bool {
	return s.builtins[name]
}

// Reset drops every live entity.
func (s *Session) Reset() {
	s.table.Store(symbols.New())
}

// Commit makes the program's definitions live and returns the new table.
// It fails with ErrStaleProgram when another commit or a reset happened
// after the program was compiled.
func (s *Session) Commit(p *Program) (*symbols.Table, error) {
	cur := s.table.Load()
	if p.base != cur {
		return nil, ErrStaleProgram
	}
	next, err := cur.Commit(p.Definitions, p.Superseded)
	if err != nil {
		return nil, fmt.Errorf("commit submission %d: %w", p.Number, err)
	}
	if !s.table.CompareAndSwap(cur, next) {
		return nil, ErrStaleProgram
	}
	return next, nil
}

// Compile checks sub against the live set and compiles its units. number is
// the submission counter value used to name the programs. Failures are
// returned as *CompileError.
func (s *Session) Compile(sub *snippet.Submission, number int) (*Program, error) {
	opts := s.Options()
	base := s.table.Load()

	if diags := s.check(sub, base, number, opts); len(diags) > 0 {
		return nil, &CompileError{Diagnostics: diags}
	}

	declared := declaredNames(sub)
	consts := make(map[string]bool)
	for _, u := range sub.Units {
		if u.Const {
			for _, name := range u.Names {
				consts[name] = true
			}
		}
	}

	var diags []snippet.Diagnostic
	diags = append(diags, redeclarations(sub)...)
	diags = append(diags, s.checkImports(sub)...)

	refs := make([][]string, len(sub.Units))
	for i, u := range sub.Units {
		r, d := s.resolveUnit(sub, u, base, declared, consts, opts.Resolve)
		refs[i] = r
		diags = append(diags, d...)
	}
	if len(diags) > 0 {
		sort.SliceStable(diags, func(i, j int) bool { return diags[i].Start < diags[j].Start })
		return nil, &CompileError{Diagnostics: diags}
	}

	p := &Program{
		Number: number,
		Name:   fmt.Sprintf("$%d", number),
		Text:   sub.Text,
		Lines:  sub.Lines,
		base:   base,
	}
	for _, u := range sub.Units {
		cu, err := compileUnit(p.Name, sub, u, opts.Strict)
		if err != nil {
			return nil, &CompileError{Diagnostics: []snippet.Diagnostic{err.diagnostic(sub.Lines)}}
		}
		p.Units = append(p.Units, cu)
	}
	if n := len(p.Units); n > 0 && p.Units[n-1].Expression {
		p.HasValue = true
	}

	seen := make(map[string]bool)
	for _, u := range sub.Units {
		if !u.Kind.Declares() {
			continue
		}
		for _, name := range u.Names {
			if seen[name] {
				continue
			}
			seen[name] = true
			if !strings.HasPrefix(name, `"`) {
				p.Declared = append(p.Declared, name)
			}
			if _, live := base.Lookup(name); live {
				p.Superseded = append(p.Superseded, name)
			}
		}
	}

	// Definitions follow the order the host runs units in, so a name bound
	// in both phases commits the binding the runtime is left holding.
	for _, phase := range []Phase{PhaseDeclare, PhaseExecute} {
		for _, u := range sub.Units {
			if !u.Kind.Declares() || phaseOf(u.Kind) != phase {
				continue
			}
			for _, name := range u.Names {
				p.Definitions = append(p.Definitions, symbols.Definition{
					Kind:       entityKind(u.Kind),
					Name:       name,
					Source:     u.Text,
					Decl:       declForm(u, name),
					Refs:       without(refs[u.Index], u.Names),
					Const:      u.Const,
					Submission: number,
					Unit:       u.Index,
					Artifact:   p.Units[u.Index],
				})
			}
		}
	}
	return p, nil
}

// redeclarations reports names a submission binds more than once when one of
// the bindings is lexical (let, const, class or import). The combined check
// sees every declaration as var and would accept them.
func redeclarations(sub *snippet.Submission) []snippet.Diagnostic {
	lexical := make(map[string]bool)
	reported := make(map[string]bool)
	var diags []snippet.Diagnostic
	for _, u := range sub.Units {
		if !u.Kind.Declares() {
			continue
		}
		lex := isLexical(u)
		from := 0
		for _, name := range u.Names {
			if strings.HasPrefix(name, `"`) {
				continue
			}
			at := identOffset(u.Text, name, from)
			if at >= 0 {
				from = at + len(name)
			}
			prevLex, seen := lexical[name]
			if !seen {
				lexical[name] = lex
				continue
			}
			lexical[name] = prevLex || lex
			if (!prevLex && !lex) || reported[name] {
				continue
			}
			reported[name] = true
			start, end := u.Start, u.End
			if at >= 0 {
				start, end = u.Start+at, u.Start+at+len(name)
			}
			diags = append(diags, sub.Lines.Diagnose(start, end, "identifier already declared: %s", name))
		}
	}
	return diags
}

func isLexical(u snippet.Unit) bool {
	switch u.Kind {
	case snippet.KindImport, snippet.KindType:
		return true
	case snippet.KindVariable:
		_, ok := u.Node.(*ast.LexicalDeclaration)
		return ok
	}
	return false
}

// identOffset returns the offset of the first whole-identifier occurrence of
// name in text at or after from, or -1.
func identOffset(text, name string, from int) int {
	for i := from; i < len(text); {
		j := strings.Index(text[i:], name)
		if j < 0 {
			return -1
		}
		at, end := i+j, i+j+len(name)
		if (at == 0 || !isIdentByte(text[at-1])) && (end == len(text) || !isIdentByte(text[end])) {
			return at
		}
		i = at + 1
	}
	return -1
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c >= 0x80 ||
		'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9'
}

// check compiles the live prelude followed by the submission as one script.
func (s *Session) check(sub *snippet.Submission, base *symbols.Table, number int, opts Options) []snippet.Diagnostic {
	src := &source{}
	for _, e := range base.Live() {
		if e.Decl != "" {
			src.synth(e.Decl)
			src.synth("\n")
		}
	}
	for _, u := range sub.Units {
		lowerCheck(src, u)
	}
	m := src.freeze()

	prg, err := parser.ParseFile(nil, fmt.Sprintf("$%d", number), m.text, 0, parser.WithDisableSourceMaps)
	if err != nil {
		var list parser.ErrorList
		if !errors.As(err, &list) {
			return []snippet.Diagnostic{{Message: err.Error()}}
		}
		diags := make([]snippet.Diagnostic, 0, len(list))
		for _, e := range list {
			off, ok := m.locate(e.Position.Line, e.Position.Column)
			diags = append(diags, positioned(sub.Lines, off, ok, e.Message))
		}
		return diags
	}
	if _, err := goja.CompileAST(prg, opts.Strict); err != nil {
		var syntax *goja.CompilerSyntaxError
		var ref *goja.CompilerReferenceError
		switch {
		case errors.As(err, &syntax):
			off, ok := m.src.resolve(syntax.Offset)
			return []snippet.Diagnostic{positioned(sub.Lines, off, ok, syntax.Message)}
		case errors.As(err, &ref):
			off, ok := m.src.resolve(ref.Offset)
			return []snippet.Diagnostic{positioned(sub.Lines, off, ok, ref.Message)}
		default:
			return []snippet.Diagnostic{{Message: err.Error()}}
		}
	}
	return nil
}

func positioned(lines *snippet.LineIndex, off int, ok bool, msg string) snippet.Diagnostic {
	if !ok {
		return snippet.Diagnostic{Message: "in live definition: " + msg}
	}
	return lines.Diagnose(off, off+1, "%s", msg)
}

func (s *Session) checkImports(sub *snippet.Submission) []snippet.Diagnostic {
	if s.resolver == nil {
		return nil
	}
	var diags []snippet.Diagnostic
	for _, u := range sub.Units {
		if u.Kind != snippet.KindImport {
			continue
		}
		imp := u.Import
		if _, err := s.resolver.Resolve(imp.Specifier); err != nil {
			diags = append(diags, sub.Lines.Diagnose(imp.SpecStart, imp.SpecEnd,
				"cannot find module '%s'", imp.Specifier))
		}
	}
	return diags
}

// resolveUnit returns the entity names the unit references and, when check
// is set, diagnostics for references that resolve to nothing.
func (s *Session) resolveUnit(sub *snippet.Submission, u snippet.Unit, base *symbols.Table,
	declared, consts map[string]bool, check bool) ([]string, []snippet.Diagnostic) {
	if u.Node == nil {
		return nil, nil
	}
	own := make(map[string]bool, len(u.Names))
	for _, n := range u.Names {
		own[n] = true
	}

	var refs []string
	var diags []snippet.Diagnostic
	for _, r := range scanUnit(u).free() {
		if r.typeofOnly {
			continue
		}
		live, isLive := base.Lookup(r.name)
		switch {
		case declared[r.name] || isLive:
			refs = append(refs, r.name)
			if !check || !r.assign || own[r.name] {
				continue
			}
			constant := consts[r.name]
			if !declared[r.name] {
				constant = live.Const
			}
			if constant {
				diags = append(diags, sub.Lines.Diagnose(r.start, r.end,
					"assignment to constant variable: %s", r.name))
			}
		case s.builtins[r.name]:
		case check:
			diags = append(diags, sub.Lines.Diagnose(r.start, r.end, "cannot find symbol: %s", r.name))
		}
	}
	return refs, diags
}

type unitError struct {
	offset int
	mapped bool
	msg    string
}

func (e *unitError) diagnostic(lines *snippet.LineIndex) snippet.Diagnostic {
	if !e.mapped {
		return snippet.Diagnostic{Message: e.msg}
	}
	return lines.Diagnose(e.offset, e.offset+1, "%s", e.msg)
}

func compileUnit(prefix string, sub *snippet.Submission, u snippet.Unit, strict bool) (*Unit, *unitError) {
	m := lowerRun(sub.Text, u).freeze()
	name := fmt.Sprintf("%s.%d", prefix, u.Index)

	tree, err := goja.Parse(name, m.text, parser.WithDisableSourceMaps)
	if err == nil {
		var prg *goja.Program
		if prg, err = goja.CompileAST(tree, strict); err == nil {
			return &Unit{
				Index:      u.Index,
				Kind:       u.Kind,
				Names:      u.Names,
				Text:       u.Text,
				Phase:      phaseOf(u.Kind),
				Name:       name,
				Program:    prg,
				Expression: u.Kind == snippet.KindExpression,
				Start:      u.Start,
				End:        u.End,
				src:        m,
			}, nil
		}
	}
	var syntax *goja.CompilerSyntaxError
	if errors.As(err, &syntax) && syntax.File != nil {
		off, ok := m.src.resolve(syntax.Offset)
		return nil, &unitError{offset: off, mapped: ok, msg: syntax.Message}
	}
	return nil, &unitError{offset: u.Start, mapped: true, msg: err.Error()}
}

func declaredNames(sub *snippet.Submission) map[string]bool {
	out := make(map[string]bool)
	for _, name := range sub.Declared() {
		out[name] = true
	}
	return out
}

func entityKind(k snippet.Kind) symbols.Kind {
	switch k {
	case snippet.KindImport:
		return symbols.KindImport
	case snippet.KindType:
		return symbols.KindType
	case snippet.KindMethod:
		return symbols.KindMethod
	default:
		return symbols.KindVariable
	}
}

func without(names, drop []string) []string {
	var out []string
	for _, n := range names {
		keep := true
		for _, d := range drop {
			if n == d {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, n)
		}
	}
	return out
}
