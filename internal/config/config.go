// Package config loads kernel settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/itsmostafa/gocell/internal/compiler"
)

// ErrConfiguration is returned for invalid settings.
var ErrConfiguration = errors.New("invalid configuration")

// Environment keys.
const (
	EnvTimeout            = "GOCELL_TIMEOUT"
	EnvClasspath          = "GOCELL_CLASSPATH"
	EnvStartupScriptsPath = "GOCELL_STARTUP_SCRIPTS_PATH"
	EnvStartupScript      = "GOCELL_STARTUP_SCRIPT"
	EnvCompilerOpts       = "GOCELL_COMPILER_OPTS"
	EnvModuleCacheSize    = "GOCELL_MODULE_CACHE_SIZE"
	EnvMaxCallStack       = "GOCELL_MAX_CALL_STACK"
	EnvHistoryFile        = "GOCELL_HISTORY_FILE"
	EnvLogLevel           = "GOCELL_LOG_LEVEL"
)

// Config holds the kernel settings.
type Config struct {
	// Timeout bounds each submission. Zero disables it.
	Timeout time.Duration
	// Classpath lists the module search directories.
	Classpath []string
	// StartupScriptsPath lists script files or glob patterns run before the
	// first submission.
	StartupScriptsPath []string
	// StartupScript is source run after the startup script files.
	StartupScript string
	// CompilerOpts is the default compiler flag string.
	CompilerOpts    string
	ModuleCacheSize int
	MaxCallStack    int
	// HistoryFile is where the REPL keeps its line history.
	HistoryFile string
	LogLevel    string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Timeout:         0,
		ModuleCacheSize: 64,
		MaxCallStack:    10000,
		LogLevel:        "warn",
	}
}

// Load reads .env files (the working directory's .env when none are given)
// and then the GOCELL_* environment on top of the defaults.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from the variables returned by getenv. Unset
// variables keep their defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()
	get := func(key string) string { return strings.TrimSpace(getenv(key)) }

	if raw := get(EnvTimeout); raw != "" {
		d, err := ParseTimeout(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.Timeout = d
	}
	cfg.Classpath = SplitPathList(get(EnvClasspath))
	cfg.StartupScriptsPath = SplitPathList(get(EnvStartupScriptsPath))
	cfg.StartupScript = getenv(EnvStartupScript)
	cfg.CompilerOpts = get(EnvCompilerOpts)
	cfg.HistoryFile = get(EnvHistoryFile)
	cfg.LogLevel = firstNonEmpty(get(EnvLogLevel), cfg.LogLevel)

	var err error
	if cfg.ModuleCacheSize, err = intValue(get(EnvModuleCacheSize), cfg.ModuleCacheSize); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvModuleCacheSize, err)
	}
	if cfg.MaxCallStack, err = intValue(get(EnvMaxCallStack), cfg.MaxCallStack); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvMaxCallStack, err)
	}
	return &cfg, nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	var problems []string
	if c.ModuleCacheSize <= 0 {
		problems = append(problems, "module cache size must be positive")
	}
	if c.MaxCallStack < 0 {
		problems = append(problems, "max call stack must not be negative")
	}
	if _, err := c.Level(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := compiler.ParseFlags(c.CompilerOpts); err != nil {
		problems = append(problems, err.Error())
	}
	for _, p := range c.StartupScriptsPath {
		if _, err := filepath.Match(p, ""); err != nil {
			problems = append(problems, fmt.Sprintf("startup script pattern %q: %v", p, err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(problems, "; "))
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(firstNonEmpty(c.LogLevel, "warn"))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// CompilerOptions parses CompilerOpts.
func (c *Config) CompilerOptions() (compiler.Options, error) {
	return compiler.ParseFlags(c.CompilerOpts)
}

// ParseTimeout parses a timeout given as a Go duration ("1.5s") or as
// milliseconds ("1500"). "off", "none" and non-positive values disable the
// timeout.
func ParseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "", "off", "none":
		return 0, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if ms <= 0 {
			return 0, nil
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: timeout %q", ErrConfiguration, raw)
	}
	if d <= 0 {
		return 0, nil
	}
	return d, nil
}

// SplitPathList splits an OS path list and drops empty entries.
func SplitPathList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, p := range filepath.SplitList(raw) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// StartupFiles expands StartupScriptsPath into the script files it names,
// in order. Directories contribute their *.js files.
func (c *Config) StartupFiles() ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	for _, pattern := range c.StartupScriptsPath {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: startup script pattern %q: %v", ErrConfiguration, pattern, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				return nil, err
			}
			if !info.IsDir() {
				add(m)
				continue
			}
			scripts, err := filepath.Glob(filepath.Join(m, "*.js"))
			if err != nil {
				return nil, err
			}
			for _, s := range scripts {
				add(s)
			}
		}
	}
	return files, nil
}

func intValue(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrConfiguration, raw)
	}
	return n, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
