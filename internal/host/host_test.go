package host

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/itsmostafa/gocell/internal/compiler"
	"github.com/itsmostafa/gocell/internal/modules"
	"github.com/itsmostafa/gocell/internal/snippet"
)

type fixture struct {
	t       *testing.T
	host    *Host
	session *compiler.Session
	n       int
}

func newFixture(t *testing.T, loader *modules.Loader) *fixture {
	t.Helper()
	opts := Options{Grace: time.Second}
	var resolver compiler.Resolver
	if loader != nil {
		opts.Loader = loader
		resolver = loader
	}
	h, err := New(opts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return &fixture{
		t:       t,
		host:    h,
		session: compiler.NewSession(compiler.DefaultOptions(), resolver, h.Globals()),
	}
}

// exec compiles, runs and, when the outcome allows it, commits text.
func (f *fixture) exec(text string, lim Limits) (Outcome, *Capture) {
	f.t.Helper()
	sub, err := snippet.Classify(text)
	if err != nil {
		f.t.Fatalf("unexpected classify error for %q: %v", text, err)
	}
	f.n++
	p, err := f.session.Compile(sub, f.n)
	if err != nil {
		f.t.Fatalf("unexpected compile error for %q: %v", text, err)
	}
	out := NewCapture(nil, nil)
	o, err := f.host.Execute(context.Background(), p, lim, out)
	if err != nil {
		f.t.Fatalf("unexpected execute error: %v", err)
	}
	if o.Commit {
		if _, err := f.session.Commit(p); err != nil {
			f.t.Fatalf("unexpected commit error: %v", err)
		}
	}
	return o, out
}

func (f *fixture) value(text string) string {
	f.t.Helper()
	o, _ := f.exec(text, Limits{})
	if o.Tag != TagValue {
		f.t.Fatalf("%q: expected value outcome, got %v (fault %+v)", text, o.Tag, o.Fault)
	}
	return o.Value.Repr
}

func TestExecute_ValueAndVoid(t *testing.T) {
	f := newFixture(t, nil)

	if got := f.value("1 + 1"); got != "2" {
		t.Errorf("expected 2, got %s", got)
	}
	o, _ := f.exec("let x = 5;", Limits{})
	if o.Tag != TagVoid || !o.Commit {
		t.Errorf("expected committed void outcome, got %v commit=%v", o.Tag, o.Commit)
	}
	if got := f.value("x + 1"); got != "6" {
		t.Errorf("expected 6, got %s", got)
	}
	f.exec("let x = 10;", Limits{})
	if got := f.value("x + 1"); got != "11" {
		t.Errorf("expected 11, got %s", got)
	}
}

func TestExecute_Timeout(t *testing.T) {
	f := newFixture(t, nil)
	lim := Limits{Timeout: 50 * time.Millisecond}

	o, _ := f.exec("sleep(200)", lim)
	if o.Tag != TagTimedOut {
		t.Fatalf("expected timed-out, got %v", o.Tag)
	}
	if o.Commit {
		t.Error("a timed-out submission must not commit")
	}

	o, _ = f.exec("sleep(10); 42", lim)
	if o.Tag != TagValue || o.Value.Repr != "42" {
		t.Fatalf("expected value 42, got %v %+v", o.Tag, o.Value)
	}
}

func TestExecute_TimeoutInLoop(t *testing.T) {
	f := newFixture(t, nil)
	o, _ := f.exec("while (true) {}", Limits{Timeout: 50 * time.Millisecond})
	if o.Tag != TagTimedOut {
		t.Fatalf("expected timed-out, got %v", o.Tag)
	}
	if got := f.value("1 + 1"); got != "2" {
		t.Errorf("expected 2 after timeout, got %s", got)
	}
}

func TestExecute_Interrupt(t *testing.T) {
	f := newFixture(t, nil)

	if f.host.Interrupt() {
		t.Error("expected no execution to interrupt")
	}

	done := make(chan Outcome, 1)
	go func() {
		o, _ := f.exec("let spins = 0; while (true) { spins++ }", Limits{})
		done <- o
	}()

	deadline := time.After(5 * time.Second)
	for !f.host.Interrupt() {
		select {
		case <-deadline:
			t.Fatal("execution never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case o := <-done:
		if o.Tag != TagInterrupted {
			t.Fatalf("expected interrupted, got %v", o.Tag)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt was not delivered")
	}

	if got := f.value("1 + 1"); got != "2" {
		t.Errorf("expected 2 after interrupt, got %s", got)
	}
	if got := f.value("typeof spins"); got != `"undefined"` {
		t.Errorf("expected interrupted declaration to be rolled back, got %s", got)
	}
}

func TestExecute_DeclarePhaseFaultRollsBack(t *testing.T) {
	f := newFixture(t, nil)
	f.exec("function helper() { return 1 }", Limits{})

	o, _ := f.exec("function helper() { return 2 }\nclass Broken extends null.prototype {}", Limits{})
	if o.Tag != TagRuntimeFault {
		t.Fatalf("expected runtime fault, got %v", o.Tag)
	}
	if o.Commit {
		t.Error("a declaration fault must not commit")
	}
	if got := f.value("helper()"); got != "1" {
		t.Errorf("expected prior helper to survive, got %s", got)
	}
	if got := f.value("typeof Broken"); got != `"undefined"` {
		t.Errorf("expected Broken to be removed, got %s", got)
	}
}

func TestExecute_ExecutePhaseFaultCommits(t *testing.T) {
	f := newFixture(t, nil)

	o, _ := f.exec("let a = 1;\nfunction g() { return a }\nlet b = a.missing.field;\nprint('never')", Limits{})
	if o.Tag != TagRuntimeFault {
		t.Fatalf("expected runtime fault, got %v", o.Tag)
	}
	if !o.Commit {
		t.Error("declarations must commit when a later statement faults")
	}
	if o.Fault.Kind != "TypeError" {
		t.Errorf("expected TypeError, got %s", o.Fault.Kind)
	}
	if o.Fault.Unit != 2 {
		t.Errorf("expected fault in unit 2, got %d", o.Fault.Unit)
	}
	if o.Fault.Line != 3 {
		t.Errorf("expected fault on line 3, got %d", o.Fault.Line)
	}
	if got := f.value("g()"); got != "1" {
		t.Errorf("expected g to be live, got %s", got)
	}
	// b is bound even though its initializer never completed
	if got := f.value("typeof b"); got != `"undefined"` {
		t.Errorf("expected b to be bound to undefined, got %s", got)
	}
}

func TestExecute_ThrownValues(t *testing.T) {
	f := newFixture(t, nil)

	o, _ := f.exec("throw new RangeError('too big')", Limits{})
	if o.Fault == nil || o.Fault.Kind != "RangeError" || o.Fault.Message != "too big" {
		t.Fatalf("unexpected fault %+v", o.Fault)
	}
	if o.Fault.Line != 1 || o.Fault.Column == 0 {
		t.Errorf("expected a mapped position, got %d:%d", o.Fault.Line, o.Fault.Column)
	}

	o, _ = f.exec("throw 42", Limits{})
	if o.Fault == nil || o.Fault.Kind != "Uncaught" || o.Fault.Message != "42" {
		t.Fatalf("unexpected fault %+v", o.Fault)
	}
}

func TestExecute_StackOverflow(t *testing.T) {
	h, err := New(Options{MaxCallStack: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := &fixture{t: t, host: h, session: compiler.NewSession(compiler.DefaultOptions(), nil, h.Globals())}

	f.exec("function down(n) { return down(n + 1) }", Limits{})
	o, _ := f.exec("down(0)", Limits{})
	if o.Tag != TagRuntimeFault || o.Fault.Kind != "RangeError" {
		t.Fatalf("expected RangeError fault, got %v %+v", o.Tag, o.Fault)
	}
}

func TestExecute_OutputInterleaving(t *testing.T) {
	f := newFixture(t, nil)

	_, out := f.exec("print('a', 1); console.error('oops'); console.log({ k: [1, 'x'] })", Limits{})
	chunks := out.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %+v", chunks)
	}
	if chunks[0].Stream != Stdout || chunks[0].Text != "a 1\n" {
		t.Errorf("unexpected first chunk %+v", chunks[0])
	}
	if chunks[1].Stream != Stderr || chunks[1].Text != "oops\n" {
		t.Errorf("unexpected second chunk %+v", chunks[1])
	}
	if chunks[2].Text != `{ k: [1, "x"] }`+"\n" {
		t.Errorf("unexpected third chunk %q", chunks[2].Text)
	}
}

func TestExecute_TimersAndPromises(t *testing.T) {
	f := newFixture(t, nil)

	_, out := f.exec("setTimeout(() => print('later'), 5); print('now')", Limits{Timeout: time.Second})
	if got := out.Text(Stdout); got != "now\nlater\n" {
		t.Errorf("unexpected output %q", got)
	}

	_, out = f.exec("const id = setTimeout(() => print('no'), 5); clearTimeout(id)", Limits{Timeout: time.Second})
	if got := out.Text(Stdout); got != "" {
		t.Errorf("expected cancelled timer to stay silent, got %q", got)
	}

	if got := f.value("new Promise(resolve => setTimeout(() => resolve(7), 5))"); got != "7" {
		t.Errorf("expected awaited value 7, got %s", got)
	}

	o, _ := f.exec("Promise.reject(new Error('nope'))", Limits{})
	if o.Tag != TagRuntimeFault || o.Fault.Message != "nope" {
		t.Errorf("expected rejection fault, got %v %+v", o.Tag, o.Fault)
	}

	o, out = f.exec("setTimeout(() => { throw new Error('cb') }, 1); 5", Limits{Timeout: time.Second})
	if o.Tag != TagValue {
		t.Errorf("timer errors must not change the outcome, got %v", o.Tag)
	}
	if !strings.Contains(out.Text(Stderr), "cb") {
		t.Errorf("expected timer error on stderr, got %q", out.Text(Stderr))
	}
}

func TestExecute_Display(t *testing.T) {
	f := newFixture(t, nil)
	_, out := f.exec("display('<b>hi</b>', 'text/html'); display([1, 2])", Limits{})
	ds := out.Displays()
	if len(ds) != 2 {
		t.Fatalf("expected 2 displays, got %d", len(ds))
	}
	if ds[0].MIME != "text/html" || ds[0].Data != "<b>hi</b>" || ds[0].ID == "" {
		t.Errorf("unexpected display %+v", ds[0])
	}
	if ds[1].MIME != "text/plain" || ds[1].Data != "[1, 2]" {
		t.Errorf("unexpected display %+v", ds[1])
	}
}

func TestExecute_UpdateDisplay(t *testing.T) {
	f := newFixture(t, nil)
	f.exec("const progress = display('0%')", Limits{})
	_, out := f.exec("updateDisplay(progress, '100%'); updateDisplay(progress, '<i>done</i>', 'text/html')", Limits{})

	ds := out.Displays()
	if len(ds) != 2 {
		t.Fatalf("expected 2 display updates, got %d", len(ds))
	}
	id := f.value("progress")
	for _, d := range ds {
		if !d.Update || `"`+d.ID+`"` != id {
			t.Errorf("expected an update of %s, got %+v", id, d)
		}
	}
	if ds[0].Data != "100%" || ds[1].MIME != "text/html" || ds[1].Data != "<i>done</i>" {
		t.Errorf("unexpected updates %+v", ds)
	}

	o, _ := f.exec("updateDisplay(42, 'x')", Limits{})
	if o.Tag != TagRuntimeFault || o.Fault.Kind != "TypeError" {
		t.Errorf("expected TypeError for a bad id, got %v %+v", o.Tag, o.Fault)
	}
}

func TestExecute_TimeoutWhileRenderingValue(t *testing.T) {
	f := newFixture(t, nil)
	o, _ := f.exec("let looping = ({ toString() { while (true) {} } }); looping", Limits{Timeout: 50 * time.Millisecond})
	if o.Tag != TagTimedOut {
		t.Fatalf("expected timed-out, got %v (value %+v)", o.Tag, o.Value)
	}
	if o.Commit {
		t.Error("a timed-out submission must not commit")
	}
	if got := f.value("typeof looping"); got != `"undefined"` {
		t.Errorf("expected looping to be rolled back, got %s", got)
	}
}

func TestTruncate(t *testing.T) {
	s := strings.Repeat("a", 9) + "é" + "bc"
	if got := truncate(s, 20); got != s {
		t.Errorf("expected short text unchanged, got %q", got)
	}
	if got, want := truncate(s, 10), strings.Repeat("a", 9)+"... (4 more bytes)"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}

	f := newFixture(t, nil)
	repr := f.value("'é'.repeat(6000)")
	if !utf8.ValidString(repr) {
		t.Error("expected truncated representation to stay valid UTF-8")
	}
	if !strings.Contains(repr, "more bytes)") {
		t.Errorf("expected truncation marker, got %d bytes", len(repr))
	}
}

func TestExecute_Representations(t *testing.T) {
	f := newFixture(t, nil)
	f.exec("class Point { constructor(x, y) { this.x = x; this.y = y } }", Limits{})
	f.exec("class Named { toString() { return 'named!' } }", Limits{})
	f.exec("class Bad { toString() { throw new Error('no repr') } }", Limits{})

	tests := []struct {
		text string
		typ  string
		repr string
	}{
		{`"hi"`, "string", `"hi"`},
		{"1.5", "number", "1.5"},
		{"true", "boolean", "true"},
		{"null", "null", "null"},
		{"10n", "bigint", "10n"},
		{"[1, [2, [3, [4]]]]", "Array", "[1, [2, [3, [Array]]]]"},
		{"new Point(1, 2)", "Point", "Point { x: 1, y: 2 }"},
		{"new Named()", "Named", "named!"},
		{"function sq(n) { return n * n }\nsq", "function", "[Function: sq]"},
		{"new Map([[1, 'a']])", "Map", `Map(1) { 1 => "a" }`},
		{"new Set([1, 2])", "Set", "Set(2) { 1, 2 }"},
		{"const c = {}; c.self = c; c", "Object", "{ self: [Circular] }"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			o, _ := f.exec(tt.text, Limits{})
			if o.Tag != TagValue {
				t.Fatalf("expected value, got %v %+v", o.Tag, o.Fault)
			}
			if o.Value.Type != tt.typ || o.Value.Repr != tt.repr {
				t.Errorf("got (%s, %s), want (%s, %s)", o.Value.Type, o.Value.Repr, tt.typ, tt.repr)
			}
		})
	}

	o, _ := f.exec("new Bad()", Limits{})
	if o.Tag != TagValue || o.Value.ReprErr == "" {
		t.Errorf("expected a value with a representation error, got %v %+v", o.Tag, o.Value)
	}
}

func TestExecute_Modules(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	write("counter.js", "let n = 0; exports.next = () => ++n; exports.helper = require('./helper').name")
	write("helper.js", "module.exports = { name: 'helper' }")
	write("esm.js", "exports.__esModule = true; exports.default = 'dflt'")

	loader, err := modules.NewLoader([]string{dir}, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f := newFixture(t, loader)

	f.exec("import { next } from 'counter'", Limits{})
	if got := f.value("next() + next()"); got != "3" {
		t.Errorf("expected 3, got %s", got)
	}
	// the module instance is shared by every import in the session
	f.exec("import * as counter from 'counter'", Limits{})
	if got := f.value("counter.next()"); got != "3" {
		t.Errorf("expected 3, got %s", got)
	}
	if got := f.value("counter.helper"); got != `"helper"` {
		t.Errorf("expected nested require, got %s", got)
	}
	f.exec("import d from 'esm'", Limits{})
	if got := f.value("d"); got != `"dflt"` {
		t.Errorf("expected default export, got %s", got)
	}

	o, _ := f.exec("import { nothing } from 'counter'", Limits{})
	if o.Tag != TagRuntimeFault || o.Commit {
		t.Errorf("expected uncommitted fault for a missing export, got %v commit=%v", o.Tag, o.Commit)
	}
}

func TestExecute_HaltAfterGrace(t *testing.T) {
	h, err := New(Options{Grace: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	if err := h.engine.vm.Set("block", func() { <-release }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s := compiler.NewSession(compiler.DefaultOptions(), nil, append(h.Globals(), "block"))

	sub, err := snippet.Classify("block()")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p, err := s.Compile(sub, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	o, err := h.Execute(context.Background(), p, Limits{Timeout: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.Halted || o.Tag != TagTimedOut {
		t.Fatalf("expected halted timeout, got %+v", o)
	}
	if _, err := h.Execute(context.Background(), p, Limits{}, nil); !errors.Is(err, ErrSessionHalted) {
		t.Fatalf("expected ErrSessionHalted, got %v", err)
	}
	if err := h.Reset(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Halted() {
		t.Error("expected reset to clear the halt")
	}
}
