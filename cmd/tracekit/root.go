package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/tracekit/pkg/cli"
	"mercator-hq/tracekit/pkg/config"
	"mercator-hq/tracekit/pkg/telemetry/logging"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "tracekit",
	Short: "Tracekit - trace context propagation and sampling",
	Long: `Tracekit continues traces across service boundaries and decides which
units of work are recorded.

It understands the W3C traceparent header, the sentry-trace header and the
dynamic sampling context carried in W3C baggage. The tracekit command can:
  - Decode propagation headers
  - Show the sampling decision for a set of headers
  - Validate configuration files
  - Run an instrumented demo server`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		printError(os.Stderr, err)
		os.Exit(cli.ExitCode(err))
	}
}

func printError(w io.Writer, err error) {
	if fields := cli.ConfigErrors(err); len(fields) > 0 {
		fmt.Fprintln(w, "Configuration is invalid:")
		for _, f := range fields {
			fmt.Fprintf(w, "  ✗ %s: %s\n", f.Field, f.Message)
		}
		return
	}
	fmt.Fprintln(w, "Error:", err)
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the config file with environment overrides. When the
// default config file does not exist the built-in defaults are used; a
// missing file named with --config is an error.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	explicit := false
	if f := cmd.Flag("config"); f != nil {
		explicit = f.Changed
	}

	if _, err := os.Stat(cfgFile); errors.Is(err, fs.ErrNotExist) && !explicit {
		return config.Default(), nil
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// commandLogger returns the logger used by the short-lived commands. Engine
// faults are shown at warn level, everything at debug with --verbose.
func commandLogger(w io.Writer) (*logging.Logger, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logging.New(logging.Config{
		Level:  level,
		Format: string(logging.FormatText),
		Writer: w,
	})
}
