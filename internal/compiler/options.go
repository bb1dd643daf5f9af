package compiler

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// ErrInvalidOptions is returned when a compiler flag string cannot be parsed.
var ErrInvalidOptions = errors.New("invalid compiler options")

// Options controls how submissions are compiled.
type Options struct {
	// Strict compiles every program in strict mode.
	Strict bool

	// Resolve rejects free identifiers that name nothing live, declared or
	// built in.
	Resolve bool
}

// DefaultOptions returns the options used when no flags are given.
func DefaultOptions() Options {
	return Options{
		Strict:  false,
		Resolve: true,
	}
}

// ParseFlags parses a compiler flag string such as `--strict --no-resolve`.
// Quoting follows shell conventions so values may contain spaces.
func ParseFlags(raw string) (Options, error) {
	opts := DefaultOptions()

	args, err := SplitArgs(raw)
	if err != nil {
		return opts, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	fs := pflag.NewFlagSet("compiler", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&opts.Strict, "strict", opts.Strict, "compile in strict mode")
	noResolve := fs.Bool("no-resolve", false, "allow unresolved identifiers")

	if err := fs.Parse(args); err != nil {
		return DefaultOptions(), fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if fs.NArg() > 0 {
		return DefaultOptions(), fmt.Errorf("%w: unexpected argument %q", ErrInvalidOptions, fs.Arg(0))
	}
	opts.Resolve = !*noResolve
	return opts, nil
}

// Flags renders the options back into a flag string.
func (o Options) Flags() string {
	var parts []string
	if o.Strict {
		parts = append(parts, "--strict")
	}
	if !o.Resolve {
		parts = append(parts, "--no-resolve")
	}
	return strings.Join(parts, " ")
}

// SplitArgs splits s on unquoted whitespace. Single and double quotes group
// words and a backslash escapes the next character outside single quotes.
func SplitArgs(s string) ([]string, error) {
	var (
		args    []string
		cur     strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
			inWord = true
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inWord {
				args = append(args, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(r)
			inWord = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if escaped {
		return nil, errors.New("trailing backslash")
	}
	if inWord {
		args = append(args, cur.String())
	}
	return args, nil
}
