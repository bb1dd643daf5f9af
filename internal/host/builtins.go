package host

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/itsmostafa/gocell/internal/compiler"
)

// install defines the host functions on the global object.
func (e *engine) install() error {
	printer := func(stream Stream) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = e.fmt.text(arg)
			}
			e.write(stream, strings.Join(parts, " ")+"\n")
			return goja.Undefined()
		}
	}

	console := e.vm.NewObject()
	for name, stream := range map[string]Stream{
		"log":   Stdout,
		"info":  Stdout,
		"debug": Stdout,
		"warn":  Stderr,
		"error": Stderr,
	} {
		if err := console.Set(name, printer(stream)); err != nil {
			return err
		}
	}

	builtins := map[string]any{
		"print":                 printer(Stdout),
		"console":               console,
		"sleep":                 e.sleep,
		"setTimeout":            e.setTimeout,
		"clearTimeout":          e.clearTimeout,
		"display":               e.display,
		"updateDisplay":         e.updateDisplay,
		"require":               e.requireFrom(""),
		compiler.ImportBuiltin: e.importModule,
	}
	for name, fn := range builtins {
		if err := e.vm.Set(name, fn); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) write(stream Stream, text string) {
	if e.out != nil {
		e.out.Write(stream, text)
	}
}

// sleep blocks for the given number of milliseconds or until the run is
// cancelled, in which case the runtime is interrupted right away.
func (e *engine) sleep(call goja.FunctionCall) goja.Value {
	d := time.Duration(call.Argument(0).ToFloat() * float64(time.Millisecond))
	if d <= 0 {
		return goja.Undefined()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-e.ctx.Done():
		e.vm.Interrupt(context.Cause(e.ctx))
	}
	return goja.Undefined()
}

func (e *engine) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("setTimeout requires a function"))
	}
	delay := time.Duration(call.Argument(1).ToFloat() * float64(time.Millisecond))
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}
	return e.vm.ToValue(e.timers.add(fn, delay, args))
}

func (e *engine) clearTimeout(call goja.FunctionCall) goja.Value {
	e.timers.cancel(call.Argument(0).ToInteger())
	return goja.Undefined()
}

// display records a value for rich output and returns its display id.
func (e *engine) display(call goja.FunctionCall) goja.Value {
	d := e.displayData(call.Argument(0), call.Argument(1))
	d.ID = uuid.NewString()
	if e.out != nil {
		e.out.AddDisplay(d)
	}
	return e.vm.ToValue(d.ID)
}

// updateDisplay replaces the content shown under an id returned by display,
// possibly one from an earlier submission.
func (e *engine) updateDisplay(call goja.FunctionCall) goja.Value {
	id := call.Argument(0)
	if !goja.IsString(id) || id.String() == "" {
		panic(e.vm.NewTypeError("updateDisplay requires a display id"))
	}
	d := e.displayData(call.Argument(1), call.Argument(2))
	d.ID, d.Update = id.String(), true
	if e.out != nil {
		e.out.AddDisplay(d)
	}
	return goja.Undefined()
}

func (e *engine) displayData(v, m goja.Value) Display {
	mime := "text/plain"
	if !goja.IsUndefined(m) {
		mime = m.String()
	}
	data := e.fmt.text(v)
	if mime == "text/plain" && !goja.IsString(v) {
		data = e.fmt.repr(v)
	}
	return Display{MIME: mime, Data: data}
}

// requireFrom returns a require function resolving relative specifiers
// against dir, or against the loader's working directory when dir is empty.
func (e *engine) requireFrom(dir string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		spec := call.Argument(0).String()
		return e.load(e.resolve(dir, spec))
	}
}

// importModule backs lowered import declarations: $$import(spec) returns
// the module namespace and $$import(spec, name) one export of it.
func (e *engine) importModule(call goja.FunctionCall) goja.Value {
	spec := call.Argument(0).String()
	exports := e.load(e.resolve("", spec))
	name := call.Argument(1)
	if goja.IsUndefined(name) {
		return exports
	}
	obj, ok := exports.(*goja.Object)
	if name.String() == "default" {
		if ok && obj.Get("__esModule") != nil && obj.Get("__esModule").ToBoolean() {
			return obj.Get("default")
		}
		return exports
	}
	if !ok {
		panic(e.vm.NewTypeError("module '%s' has no export named '%s'", spec, name.String()))
	}
	v := obj.Get(name.String())
	if v == nil {
		panic(e.vm.NewTypeError("module '%s' has no export named '%s'", spec, name.String()))
	}
	return v
}

func (e *engine) resolve(dir, spec string) string {
	if e.loader == nil {
		panic(e.vm.NewGoError(errors.New("modules are not available")))
	}
	var path string
	var err error
	if dir == "" {
		path, err = e.loader.Resolve(spec)
	} else {
		path, err = e.loader.ResolveFrom(dir, spec)
	}
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	return path
}

// load runs the module at path once per runtime and returns its exports.
func (e *engine) load(path string) goja.Value {
	if mod, ok := e.modules[path]; ok {
		return mod.Get("exports")
	}
	prg, err := e.loader.Program(path)
	if err != nil {
		panic(e.vm.NewGoError(err))
	}
	wrapper, err := e.vm.RunProgram(prg)
	if err != nil {
		panic(err)
	}
	fn, ok := goja.AssertFunction(wrapper)
	if !ok {
		panic(e.vm.NewTypeError("module %s did not compile to a function", path))
	}

	module := e.vm.NewObject()
	exports := e.vm.NewObject()
	_ = module.Set("exports", exports)
	_ = module.Set("id", path)
	_ = module.Set("loaded", false)
	e.modules[path] = module

	dir := filepath.Dir(path)
	if _, err := fn(exports, exports, e.vm.ToValue(e.requireFrom(dir)), module, e.vm.ToValue(path), e.vm.ToValue(dir)); err != nil {
		delete(e.modules, path)
		panic(err)
	}
	_ = module.Set("loaded", true)
	e.log.Debug("module loaded", "path", path)
	return module.Get("exports")
}
