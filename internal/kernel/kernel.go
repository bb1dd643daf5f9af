// Package kernel is the interactive execution engine front ends talk to.
//
// A Kernel owns one session: the compiler session with its symbol table,
// the execution host with its runtime, the module loader and the history of
// accepted submissions. Submissions are processed one at a time; Interrupt
// may be called from any goroutine while one runs.
//
//	k, err := kernel.New(cfg)
//	reply, err := k.Submit(ctx, "let x = 5;")
package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/itsmostafa/gocell/internal/compiler"
	"github.com/itsmostafa/gocell/internal/config"
	"github.com/itsmostafa/gocell/internal/host"
	"github.com/itsmostafa/gocell/internal/modules"
	"github.com/itsmostafa/gocell/internal/report"
	"github.com/itsmostafa/gocell/internal/snippet"
	"github.com/itsmostafa/gocell/internal/symbols"
)

// Option configures a Kernel after config-driven initialization.
type Option func(*Kernel)

// WithLogger overrides the discarding default logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithOutput streams captured output to stdout and stderr while code runs,
// in addition to recording it in the reply.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(k *Kernel) { k.stdout, k.stderr = stdout, stderr }
}

// Entry is one accepted submission.
type Entry struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Kernel is one interactive session.
type Kernel struct {
	cfg     config.Config
	log     *slog.Logger
	stdout  io.Writer
	stderr  io.Writer
	globals []string

	id      atomic.Pointer[string]
	loader  *modules.Loader
	host    *host.Host
	session *compiler.Session
	timeout atomic.Int64

	// mu serializes submissions and guards the fields below.
	mu      sync.Mutex
	count   int
	seq     int
	history []Entry
	started bool
	halted  bool
}

// New creates a kernel from cfg.
func New(cfg *config.Config, opts ...Option) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	copts, err := cfg.CompilerOptions()
	if err != nil {
		return nil, err
	}

	k := &Kernel{
		cfg: *cfg,
		log: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(k)
	}

	k.loader, err = modules.NewLoader(cfg.Classpath, cfg.ModuleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create module loader: %w", err)
	}
	k.loader.Logger = k.log

	k.host, err = host.New(host.Options{
		Loader:       k.loader,
		MaxCallStack: cfg.MaxCallStack,
		Logger:       k.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create execution host: %w", err)
	}
	k.globals = k.host.Globals()
	k.session = compiler.NewSession(copts, k.loader, k.globals)
	k.SetTimeout(cfg.Timeout)

	k.newID()
	k.log.Info("session created", "session", k.ID(), "timeout", cfg.Timeout, "classpath", k.loader.Paths())
	return k, nil
}

func (k *Kernel) newID() {
	id := uuid.NewString()
	k.id.Store(&id)
}

// ID identifies the current session. It changes on reset.
func (k *Kernel) ID() string {
	return *k.id.Load()
}

// Timeout is the deadline applied to each submission; zero means none.
func (k *Kernel) Timeout() time.Duration {
	return time.Duration(k.timeout.Load())
}

// SetTimeout changes the deadline for later submissions.
func (k *Kernel) SetTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	k.timeout.Store(int64(d))
}

// Classpath returns the module search path.
func (k *Kernel) Classpath() []string {
	return k.loader.Paths()
}

// AddClasspath appends directories to the module search path. The change
// applies from the next compile on.
func (k *Kernel) AddClasspath(dirs ...string) []string {
	added := k.loader.Add(dirs...)
	if len(added) > 0 {
		k.log.Debug("classpath extended", "session", k.ID(), "added", added)
	}
	return added
}

// Table returns the current live entity snapshot.
func (k *Kernel) Table() *symbols.Table {
	return k.session.Table()
}

// History returns the accepted submissions in order.
func (k *Kernel) History() []Entry {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]Entry(nil), k.history...)
}

// Interrupt requests cancellation of the running submission. It reports
// whether one was running.
func (k *Kernel) Interrupt() bool {
	ok := k.host.Interrupt()
	if ok {
		k.log.Info("interrupt requested", "session", k.ID())
	}
	return ok
}

// Reset interrupts any running submission and returns the session to its
// initial state: no entities, no history and a fresh runtime.
func (k *Kernel) Reset() error {
	k.host.Interrupt()
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.resetLocked()
}

func (k *Kernel) resetLocked() error {
	if err := k.host.Reset(); err != nil {
		return fmt.Errorf("failed to reset execution host: %w", err)
	}
	k.session.Reset()
	k.history = nil
	k.count = 0
	k.started = false
	k.halted = false
	k.newID()
	k.log.Info("session reset", "session", k.ID())
	return nil
}

// IsComplete reports whether text is ready to be submitted.
func (k *Kernel) IsComplete(text string) snippet.Completeness {
	cell, err := parseCell(text)
	if err != nil {
		return snippet.Completeness{Status: snippet.StatusInvalid}
	}
	return snippet.IsComplete(cell.body)
}

// Submit classifies, compiles and runs text. Failures of the user's code are
// reported in the reply; the error is reserved for a session that can no
// longer run code.
func (k *Kernel) Submit(ctx context.Context, text string) (*report.Reply, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.count++
	number := k.count

	cell, err := parseCell(text)
	if err != nil {
		var d snippet.Diagnostic
		var merr *magicError
		if errors.As(err, &merr) {
			d = snippet.NewLineIndex(text).Diagnose(merr.start, merr.end, "%s", merr.msg)
		} else {
			d = snippet.Diagnostic{Message: err.Error()}
		}
		r := report.Build(report.Input{Number: number, Text: text, Outcome: host.CompileFailure([]snippet.Diagnostic{d})})
		return &r, nil
	}

	magicOut := host.NewCapture(k.stdout, k.stderr)
	for _, m := range cell.magics {
		if err := k.runMagic(m, magicOut); err != nil {
			d := snippet.NewLineIndex(text).Diagnose(m.start, m.end, "%s", err.Error())
			r := report.Build(report.Input{Number: number, Text: text, Capture: magicOut,
				Outcome: host.CompileFailure([]snippet.Diagnostic{d})})
			return &r, nil
		}
	}
	if k.count < number {
		// %reset restarted the numbering
		k.count++
		number = k.count
	}

	if k.halted || k.host.Halted() {
		return nil, fmt.Errorf("submission %d: %w", number, host.ErrSessionHalted)
	}
	if !cell.hasCode() {
		r := report.Build(report.Input{Number: number, Text: text, Capture: magicOut,
			Outcome: host.Outcome{Tag: host.TagVoid}})
		return &r, nil
	}

	if !k.started {
		k.runStartup(ctx)
	}

	res, err := k.execute(ctx, cell.body, magicOut)
	if err != nil {
		return nil, err
	}
	if res.outcome.Commit {
		k.history = append(k.history, Entry{Number: number, Text: text})
	}

	r := report.Build(report.Input{
		Number:  number,
		Text:    text,
		Outcome: res.outcome,
		Capture: magicOut,
		Program: res.program,
		Table:   res.table,
		Timed:   cell.timed,
	})
	return &r, nil
}

type result struct {
	outcome host.Outcome
	program *compiler.Program
	table   *symbols.Table
}

// execute runs one piece of code through classification, compilation,
// execution and commit. Callers hold mu.
func (k *Kernel) execute(ctx context.Context, code string, out *host.Capture) (result, error) {
	k.seq++
	sub, err := snippet.Classify(code)
	if err != nil {
		var cerr *snippet.ClassifyError
		if errors.As(err, &cerr) {
			k.log.Debug("classification failed", "session", k.ID(), "error", err)
			return result{outcome: host.CompileFailure(cerr.Diagnostics)}, nil
		}
		return result{}, err
	}

	p, err := k.session.Compile(sub, k.seq)
	if err != nil {
		var cerr *compiler.CompileError
		if errors.As(err, &cerr) {
			k.log.Debug("compilation failed", "session", k.ID(), "error", err)
			return result{outcome: host.CompileFailure(cerr.Diagnostics)}, nil
		}
		return result{}, err
	}

	o, err := k.host.Execute(ctx, p, host.Limits{Timeout: k.Timeout()}, out)
	if err != nil {
		return result{}, fmt.Errorf("submission %d: %w", k.seq, err)
	}
	if o.Halted {
		k.log.Error("session halted", "session", k.ID(), "program", p.Name)
	}

	res := result{outcome: o, program: p}
	if !o.Commit {
		return res, nil
	}
	table, err := k.session.Commit(p)
	if err != nil {
		// the runtime already holds the new bindings, so the session can
		// no longer be trusted
		k.halted = true
		k.log.Error("commit failed, session halted", "session", k.ID(), "program", p.Name, "error", err)
		return result{}, fmt.Errorf("%w: %w: %v", ErrInternal, host.ErrSessionHalted, err)
	}
	res.table = table
	return res, nil
}
