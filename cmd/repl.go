package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/itsmostafa/gocell/internal/kernel"
	"github.com/itsmostafa/gocell/internal/report"
	"github.com/itsmostafa/gocell/internal/snippet"
	"github.com/itsmostafa/gocell/internal/version"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
)

const (
	promptMain    = "gocell> "
	promptCont    = "   ...> "
	defaultHist   = ".gocell_history"
	commandPrefix = ":"
)

var quietUpdates bool

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive session",
	Long: `Start an interactive session. Input continues over several lines until it
forms a complete snippet. Ctrl-C interrupts the running snippet or clears the
current input, Ctrl-D or :quit exits. Magics such as %who, %timeout, %classpath,
%history and %reset control the session; %lsmagic lists them all.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		k, err := newKernel(cfg, kernel.WithOutput(out, cmd.ErrOrStderr()))
		if err != nil {
			return err
		}
		histPath := cfg.HistoryFile
		if histPath == "" {
			home, _ := os.UserHomeDir()
			histPath = filepath.Join(home, defaultHist)
		}
		return repl(cmd.Context(), k, out, histPath)
	},
}

func init() {
	replCmd.Flags().BoolVar(&quietUpdates, "quiet", false, "Do not list the entities each snippet defines")
	rootCmd.AddCommand(replCmd)
}

func repl(ctx context.Context, k *kernel.Kernel, out io.Writer, histPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintf(out, "gocell %s, session %s\n", version.Version, k.ID())
	fmt.Fprintln(out, "Type :quit or press Ctrl-D to exit.")

	ln := liner.NewLiner()
	defer ln.Close()
	ln.SetCtrlCAborts(true)
	ln.SetTabCompletionStyle(liner.TabPrints)
	ln.SetWordCompleter(func(line string, pos int) (string, []string, string) {
		return complete(k, line, pos)
	})

	if f, err := os.Open(histPath); err == nil {
		_, _ = ln.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			_, _ = ln.WriteHistory(f)
			_ = f.Close()
		}
	}()

	// The terminal is in raw mode while liner prompts, so a signal only
	// arrives while a snippet runs.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)
	go func() {
		for range sigc {
			k.Interrupt()
		}
	}()

	opts := report.Options{Updates: !quietUpdates}
	for {
		code, ok := readSnippet(ln, k)
		if !ok {
			fmt.Fprintln(out)
			return nil
		}
		trimmed := strings.TrimSpace(code)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, commandPrefix) {
			switch strings.ToLower(trimmed) {
			case ":quit", ":exit":
				return nil
			default:
				fmt.Fprintln(out, "unknown command. Type :quit to exit.")
			}
			continue
		}
		ln.AppendHistory(code)

		reply, err := k.Submit(ctx, code)
		if err != nil {
			fmt.Fprintln(out, err)
			if errors.Is(err, kernel.ErrInternal) {
				fmt.Fprintln(out, "run %reset to start over")
			}
			continue
		}
		report.Render(out, *reply, opts)
	}
}

// readSnippet reads lines until they form a complete snippet. It reports
// false at end of input.
func readSnippet(ln *liner.State, k *kernel.Kernel) (string, bool) {
	var b strings.Builder
	indent := ""
	for {
		var line string
		var err error
		if b.Len() == 0 {
			line, err = ln.Prompt(promptMain)
		} else {
			line, err = ln.PromptWithSuggestion(promptCont, indent, -1)
		}
		if errors.Is(err, liner.ErrPromptAborted) {
			b.Reset()
			continue
		}
		if err != nil {
			return "", false
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		c := k.IsComplete(b.String())
		if c.Status != snippet.StatusIncomplete {
			return b.String(), true
		}
		indent = c.Indent
	}
}

// complete adapts Inspect to liner's word completer, whose pos counts runes.
func complete(k *kernel.Kernel, line string, pos int) (string, []string, string) {
	runes := []rune(line)
	pos = max(0, min(pos, len(runes)))
	cursor := len(string(runes[:pos]))

	c := k.Inspect(line, cursor)
	if len(c.Matches) == 0 {
		return line[:cursor], nil, line[cursor:]
	}
	names := make([]string, len(c.Matches))
	for i, m := range c.Matches {
		names[i] = m.Name
	}
	return line[:c.Start], names, line[c.End:]
}
