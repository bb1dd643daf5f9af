package snippet

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/parser"
	"github.com/dop251/goja/token"
)

// ErrClassification is matched by every *ClassifyError.
var ErrClassification = errors.New("classification failed")

// ClassifyError reports text that could not be split into units.
type ClassifyError struct {
	Diagnostics []Diagnostic
}

func (e *ClassifyError) Error() string {
	if len(e.Diagnostics) == 0 {
		return ErrClassification.Error()
	}
	parts := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		parts[i] = d.String()
	}
	return fmt.Sprintf("%s: %s", ErrClassification, strings.Join(parts, "; "))
}

func (e *ClassifyError) Is(target error) bool {
	return target == ErrClassification
}

// Unit is one classified top-level piece of a submission.
type Unit struct {
	Index int
	Kind  Kind
	// Names are the logical names the unit declares, in source order.
	Names []string
	Text  string
	// Start and End are byte offsets into the submission (End exclusive).
	Start int
	End   int
	// Const marks a const variable declaration.
	Const bool
	// Import is set for KindImport units.
	Import *Import
	// Node is the parsed statement. Its positions are submission offsets
	// plus one. Nil for imports.
	Node ast.Statement
}

// Submission is a classified raw text unit.
type Submission struct {
	Text  string
	Units []Unit
	Lines *LineIndex
}

// Declared returns every name declared by the submission's units.
func (s *Submission) Declared() []string {
	var names []string
	for _, u := range s.Units {
		names = append(names, u.Names...)
	}
	return names
}

type importSpan struct {
	imp        *Import
	start, end int
}

// Classify splits text into ordered units. Text that does not parse yields a
// *ClassifyError.
func Classify(text string) (*Submission, error) {
	lines := NewLineIndex(text)
	code := text
	var imports []importSpan

	var prg *ast.Program
	for {
		var err error
		prg, err = parse(code)
		if err == nil {
			break
		}
		diags := parseDiagnostics(code, lines, err)
		at := diags[0].Start
		if at >= len(code) || !isImportKeyword(code, at) {
			return nil, &ClassifyError{Diagnostics: diags}
		}
		imp, end, ierr := parseImport(code, at)
		if ierr != nil {
			return nil, &ClassifyError{Diagnostics: []Diagnostic{
				lines.Diagnose(ierr.offset, ierr.offset+1, "%s", ierr.msg),
			}}
		}
		imports = append(imports, importSpan{imp: imp, start: at, end: end})
		code = blank(code, at, end)
	}

	sub := &Submission{Text: text, Lines: lines}
	for _, stmt := range prg.Body {
		u, ok := classifyStatement(stmt)
		if !ok {
			continue
		}
		u.Start, u.End = Span(code, u.Start, u.End)
		u.Text = text[u.Start:u.End]
		sub.Units = append(sub.Units, u)
	}

	var diags []Diagnostic
	for _, span := range imports {
		if enclosing(sub.Units, span.start) {
			diags = append(diags, lines.Diagnose(span.start, span.start+len("import"),
				"import declarations may only appear at top level"))
			continue
		}
		sub.Units = append(sub.Units, Unit{
			Kind:   KindImport,
			Names:  span.imp.Locals(),
			Text:   strings.TrimRight(text[span.start:span.end], "; \t"),
			Start:  span.start,
			End:    span.end,
			Import: span.imp,
		})
	}
	if len(diags) > 0 {
		return nil, &ClassifyError{Diagnostics: diags}
	}

	sort.SliceStable(sub.Units, func(i, j int) bool {
		return sub.Units[i].Start < sub.Units[j].Start
	})
	for i := range sub.Units {
		sub.Units[i].Index = i
	}
	return sub, nil
}

func parse(code string) (*ast.Program, error) {
	return parser.ParseFile(nil, "", code, 0, parser.WithDisableSourceMaps)
}

func classifyStatement(stmt ast.Statement) (Unit, bool) {
	u := Unit{
		Start: int(stmt.Idx0()) - 1,
		End:   int(stmt.Idx1()) - 1,
		Node:  stmt,
	}
	switch s := stmt.(type) {
	case *ast.EmptyStatement:
		return u, false
	case *ast.FunctionDeclaration:
		u.Kind = KindMethod
		u.Names = []string{s.Function.Name.Name.String()}
	case *ast.ClassDeclaration:
		u.Kind = KindType
		u.Names = []string{s.Class.Name.Name.String()}
	case *ast.VariableStatement:
		u.Kind = KindVariable
		u.Names = bindingListNames(s.List)
	case *ast.LexicalDeclaration:
		u.Kind = KindVariable
		u.Const = s.Token == token.CONST
		u.Names = bindingListNames(s.List)
	case *ast.ExpressionStatement:
		u.Kind = KindExpression
	default:
		u.Kind = KindStatement
	}
	return u, true
}

func bindingListNames(list []*ast.Binding) []string {
	var names []string
	for _, b := range list {
		names = append(names, BindingNames(b.Target)...)
	}
	return names
}

// BindingNames returns the identifiers bound by a declaration target,
// descending into destructuring patterns.
func BindingNames(target ast.Expression) []string {
	var names []string
	var walk func(e ast.Expression)
	walk = func(e ast.Expression) {
		switch t := e.(type) {
		case *ast.Identifier:
			names = append(names, t.Name.String())
		case *ast.AssignExpression:
			walk(t.Left)
		case *ast.ObjectPattern:
			for _, p := range t.Properties {
				switch p := p.(type) {
				case *ast.PropertyShort:
					names = append(names, p.Name.Name.String())
				case *ast.PropertyKeyed:
					walk(p.Value)
				}
			}
			if t.Rest != nil {
				walk(t.Rest)
			}
		case *ast.ArrayPattern:
			for _, el := range t.Elements {
				if el != nil {
					walk(el)
				}
			}
			if t.Rest != nil {
				walk(t.Rest)
			}
		}
	}
	walk(target)
	return names
}

// enclosing reports whether offset falls strictly inside one of the units.
func enclosing(units []Unit, offset int) bool {
	for _, u := range units {
		if offset > u.Start && offset < u.End {
			return true
		}
	}
	return false
}

// parseDiagnostics converts parser errors into diagnostics. The result is
// never empty.
func parseDiagnostics(code string, lines *LineIndex, err error) []Diagnostic {
	var list parser.ErrorList
	if !errors.As(err, &list) || len(list) == 0 {
		return []Diagnostic{{Message: err.Error()}}
	}
	diags := make([]Diagnostic, 0, len(list))
	for _, e := range list {
		start := lines.Offset(e.Position.Line, e.Position.Column)
		diags = append(diags, lines.Diagnose(start, tokenEnd(code, start), "%s", e.Message))
	}
	return diags
}

// tokenEnd returns the end of the word starting at offset, or offset+1.
func tokenEnd(code string, offset int) int {
	end := offset
	for end < len(code) && isIdentRune(rune(code[end])) {
		end++
	}
	if end == offset && offset < len(code) {
		end++
	}
	return end
}
