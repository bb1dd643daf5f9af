package modules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dop251/goja"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func newTestLoader(t *testing.T, paths ...string) *Loader {
	t.Helper()
	l, err := NewLoader(paths, 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return l
}

func TestLoader_ResolveSearchPath(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writeFile(t, filepath.Join(first, "util.js"), "exports.a = 1")
	writeFile(t, filepath.Join(second, "util.js"), "exports.a = 2")
	writeFile(t, filepath.Join(second, "data.json"), `{"k": 1}`)
	writeFile(t, filepath.Join(second, "pkg", "package.json"), `{"main": "lib/main.js"}`)
	writeFile(t, filepath.Join(second, "pkg", "lib", "main.js"), "")
	writeFile(t, filepath.Join(second, "plain", "index.js"), "")

	l := newTestLoader(t, first, second)

	tests := []struct {
		spec string
		want string
	}{
		{"util", filepath.Join(first, "util.js")},
		{"util.js", filepath.Join(first, "util.js")},
		{"data", filepath.Join(second, "data.json")},
		{"pkg", filepath.Join(second, "pkg", "lib", "main.js")},
		{"plain", filepath.Join(second, "plain", "index.js")},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := l.Resolve(tt.spec)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}

	if _, err := l.Resolve("missing"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestLoader_RelativeSpecifiers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "b.js"), "")
	writeFile(t, filepath.Join(dir, "c.js"), "")

	l := newTestLoader(t)
	l.WorkDir = dir

	got, err := l.Resolve("./a/b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(dir, "a", "b.js") {
		t.Errorf("unexpected path %s", got)
	}

	got, err = l.ResolveFrom(filepath.Join(dir, "a"), "../c")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != filepath.Join(dir, "c.js") {
		t.Errorf("unexpected path %s", got)
	}

	// relative specifiers never fall back to the search path
	l.SetPaths([]string{filepath.Join(dir, "a")})
	if _, err := l.Resolve("./b"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
}

func TestLoader_AddDeduplicates(t *testing.T) {
	dir := t.TempDir()
	l := newTestLoader(t, dir)

	added := l.Add(dir, " ", filepath.Join(dir, "x"))
	if len(added) != 1 || added[0] != filepath.Join(dir, "x") {
		t.Errorf("unexpected added dirs: %v", added)
	}
	if got := l.Paths(); len(got) != 2 {
		t.Errorf("expected 2 paths, got %v", got)
	}
}

func TestLoader_ProgramRunsAsCommonJS(t *testing.T) {
	dir := t.TempDir()
	js := filepath.Join(dir, "m.js")
	writeFile(t, js, "module.exports = { twice: function (n) { return n * 2 }, file: __filename }")
	data := filepath.Join(dir, "d.json")
	writeFile(t, data, `{"answer": 42}`)

	l := newTestLoader(t)
	vm := goja.New()

	load := func(path string) *goja.Object {
		prg, err := l.Program(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fnVal, err := vm.RunProgram(prg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		fn, ok := goja.AssertFunction(fnVal)
		if !ok {
			t.Fatalf("expected wrapper function, got %v", fnVal)
		}
		module := vm.NewObject()
		exports := vm.NewObject()
		_ = module.Set("exports", exports)
		if _, err := fn(goja.Undefined(), exports, goja.Undefined(), module, vm.ToValue(path), vm.ToValue(dir)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		return module.Get("exports").ToObject(vm)
	}

	m := load(js)
	twice, ok := goja.AssertFunction(m.Get("twice"))
	if !ok {
		t.Fatal("expected twice to be a function")
	}
	v, err := twice(goja.Undefined(), vm.ToValue(21))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.ToInteger() != 42 {
		t.Errorf("expected 42, got %v", v)
	}
	if m.Get("file").String() != js {
		t.Errorf("unexpected __filename %v", m.Get("file"))
	}

	if got := load(data).Get("answer").ToInteger(); got != 42 {
		t.Errorf("expected 42 from json module, got %d", got)
	}
}

func TestLoader_ProgramCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "m.js")
	writeFile(t, path, "exports.v = 1")

	l := newTestLoader(t)
	first, err := l.Program(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	again, err := l.Program(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != again {
		t.Error("expected cached program to be reused")
	}

	writeFile(t, path, "exports.v = 22")
	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	changed, err := l.Program(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed == first {
		t.Error("expected a modified file to be recompiled")
	}
}

func TestLoader_ProgramErrors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.js")
	writeFile(t, bad, "let = = 1")
	big := filepath.Join(dir, "big.js")
	writeFile(t, big, strings.Repeat("x", 64))

	l := newTestLoader(t)
	l.MaxFileSize = 32

	if _, err := l.Program(bad); err == nil || !strings.Contains(err.Error(), "compile module") {
		t.Errorf("expected compile error, got %v", err)
	}
	if _, err := l.Program(big); err == nil || !strings.Contains(err.Error(), "limit") {
		t.Errorf("expected size error, got %v", err)
	}
	if _, err := l.Program(filepath.Join(dir, "none.js")); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("expected ErrModuleNotFound, got %v", err)
	}
}
