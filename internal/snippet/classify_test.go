package snippet

import (
	"errors"
	"reflect"
	"testing"
)

func TestClassify_SingleUnits(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
		names []string
		cnst  bool
	}{
		{name: "let binding", input: "let x = 5;", kind: KindVariable, names: []string{"x"}},
		{name: "var list", input: "var a = 1, b", kind: KindVariable, names: []string{"a", "b"}},
		{name: "const destructuring", input: "const {a, b: [c, ...d], e = 2} = obj", kind: KindVariable, names: []string{"a", "c", "d", "e"}, cnst: true},
		{name: "function", input: "function add(a, b) { return a + b }", kind: KindMethod, names: []string{"add"}},
		{name: "async generator", input: "async function* gen() { yield 1 }", kind: KindMethod, names: []string{"gen"}},
		{name: "class", input: "class Point { constructor(x) { this.x = x } }", kind: KindType, names: []string{"Point"}},
		{name: "bare expression", input: "x + 1", kind: KindExpression},
		{name: "loop statement", input: "for (let i = 0; i < 3; i++) { print(i) }", kind: KindStatement},
		{name: "import in string", input: `"import x from 'm'"`, kind: KindExpression},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := Classify(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(sub.Units) != 1 {
				t.Fatalf("expected 1 unit, got %d", len(sub.Units))
			}
			u := sub.Units[0]
			if u.Kind != tt.kind {
				t.Errorf("expected kind %v, got %v", tt.kind, u.Kind)
			}
			if !reflect.DeepEqual(u.Names, tt.names) {
				t.Errorf("expected names %v, got %v", tt.names, u.Names)
			}
			if u.Const != tt.cnst {
				t.Errorf("expected const=%v, got %v", tt.cnst, u.Const)
			}
		})
	}
}

func TestClassify_MultipleUnitsKeepSourceOrder(t *testing.T) {
	input := "let a = 1\nfunction g() { return a }\nimport m from \"./m\"\ng() + 1"

	sub, err := Classify(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []Kind{KindVariable, KindMethod, KindImport, KindExpression}
	if len(sub.Units) != len(want) {
		t.Fatalf("expected %d units, got %d", len(want), len(sub.Units))
	}
	for i, k := range want {
		if sub.Units[i].Kind != k {
			t.Errorf("unit %d: expected %v, got %v", i, k, sub.Units[i].Kind)
		}
		if sub.Units[i].Index != i {
			t.Errorf("unit %d: index %d", i, sub.Units[i].Index)
		}
	}
	if got := sub.Units[3].Text; got != "g() + 1" {
		t.Errorf("expected expression text %q, got %q", "g() + 1", got)
	}
	if got := sub.Declared(); !reflect.DeepEqual(got, []string{"a", "g", "m"}) {
		t.Errorf("unexpected declared names: %v", got)
	}
}

func TestClassify_Imports(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		specifier string
		locals    []string
		namespace string
	}{
		{name: "default", input: `import fs from "./fs";`, specifier: "./fs", locals: []string{"fs"}},
		{name: "named with alias", input: `import {readFile as rf, stat} from 'fs'`, specifier: "fs", locals: []string{"rf", "stat"}},
		{name: "namespace", input: `import * as ns from "lib"`, specifier: "lib", locals: []string{"ns"}, namespace: "ns"},
		{name: "default and named", input: `import d, {x} from "lib"`, specifier: "lib", locals: []string{"d", "x"}},
		{name: "bare", input: `import "./side"`, specifier: "./side", locals: []string{`"./side"`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := Classify(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(sub.Units) != 1 || sub.Units[0].Kind != KindImport {
				t.Fatalf("expected a single import unit, got %+v", sub.Units)
			}
			imp := sub.Units[0].Import
			if imp.Specifier != tt.specifier {
				t.Errorf("expected specifier %q, got %q", tt.specifier, imp.Specifier)
			}
			if !reflect.DeepEqual(sub.Units[0].Names, tt.locals) {
				t.Errorf("expected locals %v, got %v", tt.locals, sub.Units[0].Names)
			}
			if imp.Namespace != tt.namespace {
				t.Errorf("expected namespace %q, got %q", tt.namespace, imp.Namespace)
			}
			if got := tt.input[imp.SpecStart+1 : imp.SpecEnd-1]; got != tt.specifier {
				t.Errorf("specifier span covers %q", got)
			}
		})
	}
}

func TestClassify_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		line  int
	}{
		{name: "syntax error", input: "let a = 1\nx = ) 1", line: 2},
		{name: "nested import", input: "if (ok) {\n  import y from \"m\"\n}", line: 2},
		{name: "malformed import", input: `import {a b} from "m"`, line: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Classify(tt.input)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrClassification) {
				t.Fatalf("expected ErrClassification, got %v", err)
			}
			var cerr *ClassifyError
			if !errors.As(err, &cerr) || len(cerr.Diagnostics) == 0 {
				t.Fatalf("expected diagnostics, got %v", err)
			}
			if cerr.Diagnostics[0].Line != tt.line {
				t.Errorf("expected line %d, got %d (%s)", tt.line, cerr.Diagnostics[0].Line, cerr.Diagnostics[0].Message)
			}
		})
	}
}

func TestClassify_EmptyInput(t *testing.T) {
	sub, err := Classify("  // nothing here\n;")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.Units) != 0 {
		t.Errorf("expected no units, got %d", len(sub.Units))
	}
}

func TestIsComplete(t *testing.T) {
	tests := []struct {
		input  string
		status Status
		indent string
	}{
		{input: "1 + 1", status: StatusComplete},
		{input: "", status: StatusComplete},
		{input: "function f() {", status: StatusIncomplete, indent: "  "},
		{input: "foo(1,", status: StatusIncomplete, indent: "  "},
		{input: "x = ) 1", status: StatusInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := IsComplete(tt.input)
			if got.Status != tt.status {
				t.Errorf("expected %s, got %s", tt.status, got.Status)
			}
			if got.Indent != tt.indent {
				t.Errorf("expected indent %q, got %q", tt.indent, got.Indent)
			}
		})
	}
}

func TestLineIndex(t *testing.T) {
	text := "ab\ncde\n\nf"
	li := NewLineIndex(text)

	offsets := []struct{ off, line, col int }{
		{0, 1, 1}, {2, 1, 3}, {3, 2, 1}, {5, 2, 3}, {7, 3, 1}, {8, 4, 1},
	}
	for _, o := range offsets {
		line, col := li.Position(o.off)
		if line != o.line || col != o.col {
			t.Errorf("offset %d: expected %d:%d, got %d:%d", o.off, o.line, o.col, line, col)
		}
		if back := li.Offset(line, col); back != o.off {
			t.Errorf("offset %d round-tripped to %d", o.off, back)
		}
	}
	if got := li.Line(text, 2); got != "cde" {
		t.Errorf("expected line 2 to be %q, got %q", "cde", got)
	}
}

func TestClassify_ParenthesizedUnitText(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "(1 + 2) * 3", want: "(1 + 2) * 3"},
		{input: "a * (b + c);", want: "a * (b + c)"},
		{input: "({a: 1})", want: "({a: 1})"},
		{input: "(function () { return 1 })()", want: "(function () { return 1 })()"},
		{input: `f(")")`, want: `f(")")`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			sub, err := Classify(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(sub.Units) != 1 {
				t.Fatalf("expected 1 unit, got %d", len(sub.Units))
			}
			if got := sub.Units[0].Text; got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
