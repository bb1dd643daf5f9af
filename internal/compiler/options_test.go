package compiler

import (
	"errors"
	"reflect"
	"testing"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Options
		wantErr bool
	}{
		{"empty", "", DefaultOptions(), false},
		{"strict", "--strict", Options{Strict: true, Resolve: true}, false},
		{"both", "  --strict   --no-resolve ", Options{Strict: true, Resolve: false}, false},
		{"explicit false", "--strict=false", Options{Strict: false, Resolve: true}, false},
		{"unknown flag", "--fast", DefaultOptions(), true},
		{"positional", "--strict extra", DefaultOptions(), true},
		{"bad quoting", "--strict 'open", DefaultOptions(), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFlags(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOptions) {
					t.Fatalf("expected ErrInvalidOptions, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestOptions_FlagsRoundTrip(t *testing.T) {
	for _, opts := range []Options{
		DefaultOptions(),
		{Strict: true, Resolve: true},
		{Strict: true, Resolve: false},
	} {
		got, err := ParseFlags(opts.Flags())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != opts {
			t.Errorf("round trip of %q: got %+v, want %+v", opts.Flags(), got, opts)
		}
	}
}

func TestSplitArgs(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"a b  c", []string{"a", "b", "c"}},
		{`"a b" c`, []string{"a b", "c"}},
		{`'a "b"' c`, []string{`a "b"`, "c"}},
		{`a\ b`, []string{"a b"}},
		{`''`, []string{""}},
		{"a\tb\nc", []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		got, err := SplitArgs(tt.in)
		if err != nil {
			t.Fatalf("SplitArgs(%q): unexpected error: %v", tt.in, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitArgs(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	for _, bad := range []string{`"open`, `trailing\`} {
		if _, err := SplitArgs(bad); err == nil {
			t.Errorf("SplitArgs(%q): expected error", bad)
		}
	}
}
