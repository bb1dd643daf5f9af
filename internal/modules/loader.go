// Package modules resolves import specifiers against the module search path
// and compiles CommonJS module files for the execution host.
package modules

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrModuleNotFound is returned when a specifier resolves to no file.
var ErrModuleNotFound = errors.New("module not found")

// DefaultMaxFileSize bounds the size of a module file.
const DefaultMaxFileSize = 4 << 20

// Loader resolves module specifiers and caches compiled module programs.
// It is safe for concurrent use.
type Loader struct {
	// WorkDir anchors relative specifiers used outside of a module.
	WorkDir string
	// MaxFileSize is the largest module file that is loaded.
	MaxFileSize int64
	Logger      *slog.Logger

	mu    sync.RWMutex
	paths []string
	cache *lru.Cache[string, *compiled]
}

type compiled struct {
	modTime time.Time
	size    int64
	program *goja.Program
}

// NewLoader creates a loader searching paths in order. cacheSize bounds the
// number of compiled programs kept.
func NewLoader(paths []string, cacheSize int) (*Loader, error) {
	cache, err := lru.New[string, *compiled](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create module cache: %w", err)
	}
	wd, _ := os.Getwd()
	l := &Loader{
		WorkDir:     wd,
		MaxFileSize: DefaultMaxFileSize,
		Logger:      slog.New(slog.DiscardHandler),
		cache:       cache,
	}
	l.SetPaths(paths)
	return l, nil
}

// Paths returns a copy of the search path.
func (l *Loader) Paths() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.paths...)
}

// SetPaths replaces the search path.
func (l *Loader) SetPaths(paths []string) {
	clean := make([]string, 0, len(paths))
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			clean = append(clean, l.abs(p))
		}
	}
	l.mu.Lock()
	l.paths = clean
	l.mu.Unlock()
}

// Add appends directories to the search path, skipping ones already present.
func (l *Loader) Add(dirs ...string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var added []string
	for _, d := range dirs {
		if d = strings.TrimSpace(d); d == "" {
			continue
		}
		d = l.abs(d)
		present := false
		for _, p := range l.paths {
			if p == d {
				present = true
				break
			}
		}
		if !present {
			l.paths = append(l.paths, d)
			added = append(added, d)
		}
	}
	return added
}

func (l *Loader) abs(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Clean(filepath.Join(l.WorkDir, p))
}

// Resolve resolves a specifier written outside of any module.
func (l *Loader) Resolve(spec string) (string, error) {
	return l.ResolveFrom(l.WorkDir, spec)
}

// ResolveFrom resolves spec as seen from a module in dir. Relative and
// absolute specifiers name a file or directory directly; any other
// specifier is looked up in each search path directory in order.
func (l *Loader) ResolveFrom(dir, spec string) (string, error) {
	if spec == "" {
		return "", fmt.Errorf("%w: empty specifier", ErrModuleNotFound)
	}
	if isPathSpec(spec) {
		target := spec
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, spec)
		}
		if path, ok := probe(filepath.Clean(target)); ok {
			return path, nil
		}
		return "", fmt.Errorf("%w: %s", ErrModuleNotFound, spec)
	}
	for _, p := range l.Paths() {
		if path, ok := probe(filepath.Join(p, spec)); ok {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModuleNotFound, spec)
}

func isPathSpec(spec string) bool {
	return strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		spec == "." || spec == ".." || filepath.IsAbs(spec)
}

// probe tries target as a file, with a .js or .json extension, and as a
// directory holding a package.json main entry or an index.js.
func probe(target string) (string, bool) {
	if isFile(target) {
		return target, true
	}
	for _, ext := range []string{".js", ".json"} {
		if isFile(target + ext) {
			return target + ext, true
		}
	}
	if main := packageMain(target); main != "" {
		if path, ok := probe(filepath.Join(target, main)); ok {
			return path, true
		}
	}
	index := filepath.Join(target, "index.js")
	if isFile(index) {
		return index, true
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func packageMain(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return ""
	}
	var pkg struct {
		Main string `json:"main"`
	}
	if json.Unmarshal(data, &pkg) != nil {
		return ""
	}
	return pkg.Main
}

// Program returns the compiled wrapper of the module file at path. The
// wrapper is a function expression taking (exports, require, module,
// __filename, __dirname). A cached program is reused while the file's
// modification time and size are unchanged.
func (l *Loader) Program(path string) (*goja.Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModuleNotFound, err)
	}
	if c, ok := l.cache.Get(path); ok && c.modTime.Equal(info.ModTime()) && c.size == info.Size() {
		return c.program, nil
	}
	if info.Size() > l.MaxFileSize {
		return nil, fmt.Errorf("module %s is %d bytes, limit is %d", path, info.Size(), l.MaxFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read module %s: %w", path, err)
	}
	prg, err := goja.Compile(path, wrap(path, string(data)), false)
	if err != nil {
		return nil, fmt.Errorf("compile module %s: %w", path, err)
	}
	l.cache.Add(path, &compiled{modTime: info.ModTime(), size: info.Size(), program: prg})
	l.Logger.Debug("module compiled", "path", path, "bytes", len(data))
	return prg, nil
}

// Forget drops every cached program.
func (l *Loader) Forget() {
	l.cache.Purge()
}

func wrap(path, src string) string {
	const head = "(function (exports, require, module, __filename, __dirname) {"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return head + "module.exports = " + src + "\n;})"
	}
	return head + src + "\n})"
}
