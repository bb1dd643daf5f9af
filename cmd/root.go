package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/itsmostafa/gocell/internal/config"
	"github.com/itsmostafa/gocell/internal/kernel"
	"github.com/itsmostafa/gocell/internal/version"
	"github.com/spf13/cobra"
)

var envFiles []string
var timeoutFlag string
var classpath []string
var compilerOpts string
var logLevel string

var rootCmd = &cobra.Command{
	Use:   "gocell",
	Short: "Interactive JavaScript execution kernel",
	Long: `gocell runs JavaScript snippets one at a time against a persistent session.
Declarations made by one snippet stay visible to every later one, a redefinition
supersedes the previous version, and each execution runs under a deadline that
can also be interrupted.

Settings come from GOCELL_* environment variables (and a .env file); the flags
below override them.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(fmt.Sprintf("gocell %s\n", version.String()))

	flags := rootCmd.PersistentFlags()
	flags.StringSliceVar(&envFiles, "env-file", nil, "Environment files to load (default .env)")
	flags.StringVar(&timeoutFlag, "timeout", "", "Per-submission timeout, a duration or milliseconds (off disables)")
	flags.StringSliceVar(&classpath, "classpath", nil, "Module search directories, appended to GOCELL_CLASSPATH")
	flags.StringVar(&compilerOpts, "compiler-opts", "", "Compiler flags such as --strict or --no-resolve")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("timeout") {
		if cfg.Timeout, err = config.ParseTimeout(timeoutFlag); err != nil {
			return nil, err
		}
	}
	cfg.Classpath = append(cfg.Classpath, classpath...)
	if flags.Changed("compiler-opts") {
		cfg.CompilerOpts = compilerOpts
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newKernel builds a kernel logging to stderr at the configured level.
func newKernel(cfg *config.Config, opts ...kernel.Option) (*kernel.Kernel, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return kernel.New(cfg, append([]kernel.Option{kernel.WithLogger(logger)}, opts...)...)
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
