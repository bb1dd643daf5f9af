package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"strings"

	"github.com/itsmostafa/gocell/internal/kernel"
	"github.com/itsmostafa/gocell/internal/report"
	"github.com/spf13/cobra"
)

var jsonOutput bool
var keepGoing bool
var showUpdates bool

// cellMarker separates cells in a script, e.g. "// %%" or "// %% setup".
var cellMarker = regexp.MustCompile(`^\s*//\s*%%`)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a script of cells in one session",
	Long: `Run a script whose cells are separated by lines starting with "// %%".
Each cell is submitted in order to the same session, as if typed into the REPL.
Use "-" to read the script from standard input.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		src, err := readScript(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		var opts []kernel.Option
		if !jsonOutput {
			opts = append(opts, kernel.WithOutput(out, cmd.ErrOrStderr()))
		}
		k, err := newKernel(cfg, opts...)
		if err != nil {
			return err
		}

		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, os.Interrupt)
		defer signal.Stop(sigc)
		go func() {
			for range sigc {
				k.Interrupt()
			}
		}()

		enc := json.NewEncoder(out)
		failed := 0
		for _, c := range SplitCells(src) {
			reply, err := k.Submit(cmd.Context(), c.Text)
			if err != nil {
				return fmt.Errorf("cell at line %d: %w", c.Line, err)
			}
			if jsonOutput {
				if err := enc.Encode(reply); err != nil {
					return err
				}
			} else {
				report.Render(out, *reply, report.Options{Updates: showUpdates})
			}
			if reply.Status != report.StatusOK {
				failed++
				if !keepGoing {
					return fmt.Errorf("cell at line %d: %s", c.Line, reply.Outcome)
				}
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d cells failed", failed)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print one JSON reply per cell")
	runCmd.Flags().BoolVar(&keepGoing, "keep-going", false, "Continue after a failing cell")
	runCmd.Flags().BoolVar(&showUpdates, "updates", false, "List the entities each cell defines")

	rootCmd.AddCommand(runCmd)
}

func readScript(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Cell is one submission of a script. Line is the 1-based script line the
// cell starts on.
type Cell struct {
	Line int
	Text string
}

// SplitCells splits a script on cell marker lines. Cells holding only
// whitespace are dropped.
func SplitCells(src string) []Cell {
	var cells []Cell
	var cur []string
	start := 1
	flush := func() {
		text := strings.Join(cur, "\n")
		if strings.TrimSpace(text) != "" {
			cells = append(cells, Cell{Line: start, Text: text})
		}
		cur = nil
	}
	for i, line := range strings.Split(src, "\n") {
		if cellMarker.MatchString(line) {
			flush()
			start = i + 2
			continue
		}
		cur = append(cur, line)
	}
	flush()
	return cells
}
