// Package host executes compiled submissions on a persistent goja runtime.
//
// Each Execute call runs the program's units on a dedicated goroutine while
// the calling goroutine watches the deadline and interrupt requests. A run
// that does not stop within a grace period after being interrupted causes
// the runtime to be abandoned and the host to halt until Reset.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"github.com/itsmostafa/gocell/internal/compiler"
	"github.com/itsmostafa/gocell/internal/modules"
)

// DefaultGrace is how long a cancelled run may take to stop.
const DefaultGrace = 2 * time.Second

// Options configures a Host.
type Options struct {
	// Loader resolves and compiles modules for imports and require. When nil
	// both fail at run time.
	Loader *modules.Loader
	// MaxCallStack bounds the JavaScript call stack depth. Zero keeps the
	// runtime default.
	MaxCallStack int
	// Grace is how long a cancelled run may take to stop before the runtime
	// is abandoned.
	Grace  time.Duration
	Logger *slog.Logger
}

// Limits bound one execution.
type Limits struct {
	// Timeout is the deadline for the whole submission. A non-positive
	// value disables it.
	Timeout time.Duration
}

// Host runs compiled programs. Executions are serialized.
type Host struct {
	opts Options
	log  *slog.Logger

	mu     sync.Mutex
	engine *engine
	halted atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelCauseFunc
}

// engine is one goja runtime with its builtins. Only the goroutine running
// a program touches it.
type engine struct {
	vm      *goja.Runtime
	fmt     *formatter
	hasOwn  goja.Callable
	timers  *timerQueue
	modules map[string]*goja.Object
	loader  *modules.Loader
	log     *slog.Logger
	globals []string

	// set for the duration of one run
	ctx context.Context
	out *Capture
}

// New creates a host with a fresh runtime.
func New(opts Options) (*Host, error) {
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	h := &Host{opts: opts, log: opts.Logger}
	e, err := h.newEngine()
	if err != nil {
		return nil, err
	}
	h.engine = e
	return h, nil
}

func (h *Host) newEngine() (*engine, error) {
	vm := goja.New()
	if h.opts.MaxCallStack > 0 {
		vm.SetMaxCallStackSize(h.opts.MaxCallStack)
	}
	e := &engine{
		vm:      vm,
		timers:  newTimerQueue(),
		modules: make(map[string]*goja.Object),
		loader:  h.opts.Loader,
		log:     h.log,
		ctx:     context.Background(),
	}

	helpers, err := vm.RunString(`[Object.prototype.hasOwnProperty, Object.prototype.toString, (v) => Array.from(v)]`)
	if err != nil {
		return nil, fmt.Errorf("initialise runtime: %w", err)
	}
	list := helpers.ToObject(vm)
	hasOwn, _ := goja.AssertFunction(list.Get("0"))
	arrayFrom, _ := goja.AssertFunction(list.Get("2"))
	e.hasOwn = hasOwn
	e.fmt = &formatter{vm: vm, objectToString: list.Get("1"), arrayFrom: arrayFrom}

	if err := e.install(); err != nil {
		return nil, fmt.Errorf("install builtins: %w", err)
	}
	names := vm.GlobalObject().GetOwnPropertyNames()
	sort.Strings(names)
	e.globals = names
	return e, nil
}

// Globals returns the names the runtime defines before any submission.
func (h *Host) Globals() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.engine.globals...)
}

// Halted reports whether the host abandoned its runtime.
func (h *Host) Halted() bool {
	return h.halted.Load()
}

// Interrupt cancels the execution in flight. It reports whether there was
// one.
func (h *Host) Interrupt() bool {
	h.cancelMu.Lock()
	cancel := h.cancel
	h.cancelMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel(ErrInterrupted)
	return true
}

func (h *Host) setCancel(cancel context.CancelCauseFunc) {
	h.cancelMu.Lock()
	h.cancel = cancel
	h.cancelMu.Unlock()
}

// Reset replaces the runtime with a fresh one and clears a halt.
func (h *Host) Reset() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, err := h.newEngine()
	if err != nil {
		return err
	}
	h.engine = e
	h.halted.Store(false)
	return nil
}

// Execute runs p under lim, writing output to out. User code failures are
// reported in the Outcome; the error is ErrSessionHalted when the host no
// longer has a usable runtime.
func (h *Host) Execute(ctx context.Context, p *compiler.Program, lim Limits, out *Capture) (Outcome, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.halted.Load() {
		return Outcome{}, ErrSessionHalted
	}
	if out == nil {
		out = NewCapture(nil, nil)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if lim.Timeout > 0 {
		var stop context.CancelFunc
		runCtx, stop = context.WithTimeoutCause(runCtx, lim.Timeout, ErrTimedOut)
		defer stop()
	}
	h.setCancel(cancel)
	defer h.setCancel(nil)

	e := h.engine
	e.vm.ClearInterrupt()
	snap := e.declare(p.Declared)
	e.ctx, e.out = runCtx, out

	start := time.Now()
	done := make(chan Outcome, 1)
	go func() { done <- e.run(p) }()

	var o Outcome
	select {
	case o = <-done:
	case <-runCtx.Done():
		cause := context.Cause(runCtx)
		e.vm.Interrupt(cause)
		select {
		case <-done:
			// whatever the run produced, the deadline or interrupt wins
			o = Outcome{Tag: tagFor(cause)}
		case <-time.After(h.opts.Grace):
			h.halted.Store(true)
			h.log.Error("execution did not stop, runtime abandoned",
				"program", p.Name, "cause", cause, "grace", h.opts.Grace)
			return Outcome{Tag: tagFor(cause), Duration: time.Since(start), Halted: true}, nil
		}
	}

	e.vm.ClearInterrupt()
	e.timers.reset()
	e.ctx, e.out = context.Background(), nil
	if !o.Commit {
		snap.restore(e.vm)
	}
	o.Duration = time.Since(start)
	switch o.Tag {
	case TagTimedOut, TagInterrupted:
		h.log.Info("execution stopped", "program", p.Name, "outcome", o.Tag.String(), "duration", o.Duration)
	}
	return o, nil
}

type prior struct {
	name    string
	value   goja.Value
	existed bool
}

type snapshot []prior

// declare records the current bindings of names and defines the missing
// ones as configurable globals so lowered declarations can assign them.
func (e *engine) declare(names []string) snapshot {
	global := e.vm.GlobalObject()
	snap := make(snapshot, 0, len(names))
	for _, name := range names {
		p := prior{name: name}
		if own, err := e.hasOwn(global, e.vm.ToValue(name)); err == nil && own.ToBoolean() {
			p.existed = true
			p.value = global.Get(name)
		} else {
			_ = global.DefineDataProperty(name, goja.Undefined(), goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE)
		}
		snap = append(snap, p)
	}
	return snap
}

// restore puts back the bindings recorded by declare.
func (s snapshot) restore(vm *goja.Runtime) {
	global := vm.GlobalObject()
	for _, p := range s {
		if p.existed {
			_ = global.Set(p.name, p.value)
		} else {
			_ = global.Delete(p.name)
		}
	}
}

// run executes the declare phase, then the execute phase, then drains
// timers and settles a promise result.
func (e *engine) run(p *compiler.Program) Outcome {
	var last goja.Value
	for _, phase := range []compiler.Phase{compiler.PhaseDeclare, compiler.PhaseExecute} {
		for _, u := range p.Units {
			if u.Phase != phase {
				continue
			}
			v, err := e.vm.RunProgram(u.Program)
			if err != nil {
				return e.failure(p, u, err)
			}
			if o, stopped := e.stopped(); stopped {
				return o
			}
			if u.Expression {
				last = v
			}
		}
	}

	if err := e.drain(nil); err != nil {
		return Outcome{Tag: tagFor(err)}
	}
	if !p.HasValue {
		return Outcome{Tag: TagVoid, Commit: true}
	}
	final := p.Units[len(p.Units)-1]

	if promise, ok := exportPromise(last); ok {
		if err := e.drain(promise); err != nil {
			return Outcome{Tag: tagFor(err)}
		}
		switch promise.State() {
		case goja.PromiseStateFulfilled:
			last = promise.Result()
		case goja.PromiseStateRejected:
			fault := e.faultFromValue(p, final, promise.Result(), nil)
			if o, stopped := e.stopped(); stopped {
				return o
			}
			return Outcome{Tag: TagRuntimeFault, Commit: true, Fault: fault}
		}
	}
	if last == nil || goja.IsUndefined(last) {
		return Outcome{Tag: TagVoid, Commit: true}
	}
	val := e.describe(last)
	// rendering may run user code that the deadline or an interrupt cut
	// short, which describe reports as a representation failure
	if o, stopped := e.stopped(); stopped {
		return o
	}
	return Outcome{Tag: TagValue, Commit: true, Value: val}
}

// stopped reports the outcome of a run whose context has ended.
func (e *engine) stopped() (Outcome, bool) {
	if e.ctx.Err() == nil {
		return Outcome{}, false
	}
	return Outcome{Tag: tagFor(context.Cause(e.ctx))}, true
}

func exportPromise(v goja.Value) (*goja.Promise, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	p, ok := obj.Export().(*goja.Promise)
	return p, ok
}

// drain runs due timers until none remain or, when wait is set, until the
// promise settles. It returns the cancellation cause when the run ends
// first. Errors thrown by callbacks go to stderr.
func (e *engine) drain(wait *goja.Promise) error {
	for e.timers.len() > 0 {
		if wait != nil && wait.State() != goja.PromiseStatePending {
			return nil
		}
		t, err := e.timers.next(e.ctx)
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		if _, err := t.fn(goja.Undefined(), t.args...); err != nil {
			var interrupted *goja.InterruptedError
			if errors.As(err, &interrupted) {
				return context.Cause(e.ctx)
			}
			e.write(Stderr, "Uncaught "+e.errorText(err)+"\n")
		}
	}
	if e.ctx.Err() != nil {
		return context.Cause(e.ctx)
	}
	return nil
}

// describe renders a value on the execution goroutine. A failure while
// rendering is reported in ReprErr and never changes the outcome.
func (e *engine) describe(v goja.Value) *Value {
	val := &Value{}
	err := safely(func() {
		val.Type = e.fmt.typeName(v)
		val.Repr = e.fmt.repr(v)
	})
	if err != nil {
		val.ReprErr = err.Error()
		val.Repr = ""
	}
	return val
}

// safely runs f and turns any panic, including uncatchable runtime errors,
// into an error.
func safely(f func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	f()
	return nil
}

func (e *engine) failure(p *compiler.Program, u *compiler.Unit, err error) Outcome {
	var interrupted *goja.InterruptedError
	var overflow *goja.StackOverflowError
	var ex *goja.Exception
	commit := u.Phase == compiler.PhaseExecute
	switch {
	case errors.As(err, &interrupted):
		cause := context.Cause(e.ctx)
		if cause == nil {
			if c, ok := interrupted.Value().(error); ok {
				cause = c
			}
		}
		return Outcome{Tag: tagFor(cause)}
	case errors.As(err, &overflow):
		f := &Fault{Unit: u.Index, Kind: "RangeError", Message: "Maximum call stack size exceeded"}
		e.locate(p, f, overflow.Stack())
		return Outcome{Tag: TagRuntimeFault, Fault: f, Commit: commit}
	case errors.As(err, &ex):
		return Outcome{Tag: TagRuntimeFault, Fault: e.faultFromValue(p, u, ex.Value(), ex.Stack()), Commit: commit}
	default:
		return Outcome{Tag: TagRuntimeFault, Fault: &Fault{Unit: u.Index, Kind: "Error", Message: err.Error()}, Commit: commit}
	}
}

// faultFromValue describes a thrown value. Error objects contribute their
// name and message, anything else is rendered.
func (e *engine) faultFromValue(p *compiler.Program, u *compiler.Unit, v goja.Value, stack []goja.StackFrame) *Fault {
	f := &Fault{Unit: u.Index, Kind: "Uncaught"}
	err := safely(func() {
		obj, ok := v.(*goja.Object)
		if ok && obj.ClassName() == "Error" {
			f.Kind = obj.Get("name").String()
			f.Message = obj.Get("message").String()
			return
		}
		f.Message = e.fmt.repr(v)
	})
	if err != nil {
		f.Message = "<unprintable thrown value>"
	}
	e.locate(p, f, stack)
	return f
}

// locate fills the fault position from the innermost frame belonging to the
// program and renders the stack in cell coordinates.
func (e *engine) locate(p *compiler.Program, f *Fault, stack []goja.StackFrame) {
	found := false
	for i := range stack {
		fr := &stack[i]
		src := fr.SrcName()
		pos := fr.Position()
		where := src
		if cell, unit, ok := splitUnitName(src); ok {
			if cell == p.Number && unit < len(p.Units) {
				if off, mapped := p.Units[unit].Locate(pos.Line, pos.Column); mapped {
					line, col := p.Lines.Position(off)
					where = fmt.Sprintf("%d:%d", line, col)
					if !found {
						found = true
						f.Line, f.Column, f.Offset = line, col, off
					}
				}
			} else {
				where = fmt.Sprintf("cell %d", cell)
			}
		} else if pos.Line > 0 {
			where = fmt.Sprintf("%s:%d:%d", src, pos.Line, pos.Column)
		}
		f.Stack = append(f.Stack, fmt.Sprintf("at %s (%s)", fr.FuncName(), where))
	}
}

// splitUnitName parses "$<cell>.<unit>".
func splitUnitName(name string) (cell, unit int, ok bool) {
	rest, found := strings.CutPrefix(name, "$")
	if !found {
		return 0, 0, false
	}
	c, u, found := strings.Cut(rest, ".")
	if !found {
		return 0, 0, false
	}
	var err error
	if cell, err = strconv.Atoi(c); err != nil {
		return 0, 0, false
	}
	if unit, err = strconv.Atoi(u); err != nil {
		return 0, 0, false
	}
	return cell, unit, true
}

func (e *engine) errorText(err error) string {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err.Error()
	}
	text := err.Error()
	_ = safely(func() {
		if obj, ok := ex.Value().(*goja.Object); ok && obj.ClassName() == "Error" {
			text = obj.String()
			return
		}
		text = e.fmt.text(ex.Value())
	})
	return text
}
