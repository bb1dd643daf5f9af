package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja/ast"

	"github.com/itsmostafa/gocell/internal/snippet"
)

// ImportBuiltin is the runtime function import declarations are lowered to.
// It takes a specifier and an optional export name ("default" for a default
// import) and returns the module namespace or the named export.
const ImportBuiltin = "$$import"

// Phase says when a unit runs within its submission.
type Phase int

const (
	// PhaseDeclare units bind imports, classes and functions.
	PhaseDeclare Phase = iota
	// PhaseExecute units run initializers, statements and expressions.
	PhaseExecute
)

func (p Phase) String() string {
	if p == PhaseDeclare {
		return "declare"
	}
	return "execute"
}

func phaseOf(k snippet.Kind) Phase {
	switch k {
	case snippet.KindImport, snippet.KindType, snippet.KindMethod:
		return PhaseDeclare
	}
	return PhaseExecute
}

// nodeSpan returns the full source extent of n in submission offsets.
func nodeSpan(text string, n ast.Node) (int, int) {
	return snippet.Span(text, int(n.Idx0())-1, int(n.Idx1())-1)
}

// identNames drops the quoted pseudo-names of bare imports.
func identNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !strings.HasPrefix(n, `"`) {
			out = append(out, n)
		}
	}
	return out
}

// declForm is the text an entity contributes when live entities are replayed
// ahead of a later submission.
func declForm(u snippet.Unit, name string) string {
	switch u.Kind {
	case snippet.KindType:
		return "var " + name + " = " + u.Text + ";"
	case snippet.KindMethod:
		return u.Text
	case snippet.KindImport:
		if strings.HasPrefix(name, `"`) {
			return ""
		}
	}
	return "var " + name + ";"
}

// lowerCheck appends the unit in the form compiled together with the live
// prelude. Lexical declarations become var so that redefinitions of live
// names are accepted.
func lowerCheck(src *source, u snippet.Unit) {
	switch u.Kind {
	case snippet.KindImport:
		if names := identNames(u.Names); len(names) > 0 {
			src.pin(u.Start, "var "+strings.Join(names, ", ")+";")
		}
	case snippet.KindType:
		src.pin(u.Start, "var "+u.Names[0]+" = ")
		src.copy(u.Text, u.Start)
	case snippet.KindVariable:
		if _, ok := u.Node.(*ast.LexicalDeclaration); ok {
			kw := len("let")
			if strings.HasPrefix(u.Text, "const") {
				kw = len("const")
			}
			src.pin(u.Start, "var")
			src.copy(u.Text[kw:], u.Start+kw)
		} else {
			src.copy(u.Text, u.Start)
		}
	default:
		src.copy(u.Text, u.Start)
	}
	src.synth(";\n")
}

// lowerRun produces the program text a unit is executed as. Declarations
// become assignments to global bindings the host prepares beforehand.
func lowerRun(text string, u snippet.Unit) *source {
	src := &source{}
	switch u.Kind {
	case snippet.KindImport:
		lowerImport(src, u)
	case snippet.KindType:
		src.pin(u.Start, u.Names[0]+" = ")
		src.copy(u.Text, u.Start)
		src.synth(";")
	case snippet.KindMethod:
		lowerFunction(src, u)
	case snippet.KindVariable:
		lowerBindings(src, text, u)
	default:
		src.copy(u.Text, u.Start)
	}
	return src
}

func lowerImport(src *source, u snippet.Unit) {
	imp := u.Import
	spec := strconv.Quote(imp.Specifier)
	if imp.Bare() {
		src.pin(u.Start, fmt.Sprintf("%s(%s);\n", ImportBuiltin, spec))
		return
	}
	if imp.Default != "" {
		src.pin(u.Start, fmt.Sprintf("%s = %s(%s, \"default\");\n", imp.Default, ImportBuiltin, spec))
	}
	if imp.Namespace != "" {
		src.pin(u.Start, fmt.Sprintf("%s = %s(%s);\n", imp.Namespace, ImportBuiltin, spec))
	}
	for _, n := range imp.Named {
		src.pin(u.Start, fmt.Sprintf("%s = %s(%s, %s);\n", n.Local, ImportBuiltin, spec, strconv.Quote(n.Imported)))
	}
}

// lowerFunction turns `function f(...) {...}` into `f = function (...) {...};`.
// The name is dropped so that recursive calls go through the global binding
// and pick up later redefinitions.
func lowerFunction(src *source, u snippet.Unit) {
	decl := u.Node.(*ast.FunctionDeclaration)
	name := decl.Function.Name
	nameStart := int(name.Idx) - 1
	nameEnd := nameStart + len(name.Name)

	src.pin(u.Start, u.Names[0]+" = ")
	src.copy(u.Text[:nameStart-u.Start], u.Start)
	src.copy(u.Text[nameEnd-u.Start:], nameEnd)
	src.synth(";")
}

func lowerBindings(src *source, text string, u snippet.Unit) {
	var list []*ast.Binding
	switch n := u.Node.(type) {
	case *ast.VariableStatement:
		list = n.List
	case *ast.LexicalDeclaration:
		list = n.List
	}
	for _, b := range list {
		tStart, tEnd := nodeSpan(text, b.Target)
		if id, ok := b.Target.(*ast.Identifier); ok {
			if b.Initializer == nil {
				src.pin(tStart, id.Name.String()+" = undefined;\n")
				continue
			}
			iStart, iEnd := nodeSpan(text, b.Initializer)
			src.pin(tStart, id.Name.String()+" = ")
			src.copy(text[iStart:iEnd], iStart)
			src.synth(";\n")
			continue
		}
		if b.Initializer == nil {
			for _, name := range snippet.BindingNames(b.Target) {
				src.pin(tStart, name+" = undefined;\n")
			}
			continue
		}
		iStart, iEnd := nodeSpan(text, b.Initializer)
		src.synth("(")
		src.copy(text[tStart:tEnd], tStart)
		src.synth(" = ")
		src.copy(text[iStart:iEnd], iStart)
		src.synth(");\n")
	}
}
