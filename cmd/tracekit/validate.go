package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"mercator-hq/tracekit/pkg/cli"
	"mercator-hq/tracekit/pkg/config"
	"mercator-hq/tracekit/pkg/telemetry/tracing/dsc"
)

var validateFlags struct {
	strict bool
	format string
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and environment overrides, and
check it.

Errors prevent startup. Warnings describe settings that are accepted but
probably not what was meant, such as a sample rate outside [0.0, 1.0] which
is clamped at runtime.

Examples:
  # Validate the default config.yaml
  tracekit validate

  # Treat warnings as errors
  tracekit validate --config /etc/tracekit/config.yaml --strict

  # Print the effective settings as JSON
  tracekit validate --format json`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().BoolVar(&validateFlags.strict, "strict", false, "fail on warnings")
	validateCmd.Flags().StringVarP(&validateFlags.format, "format", "f", "text", "output format: text, json, csv")
}

func runValidate(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(validateFlags.format))
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return err
	}

	warnings := config.Warnings(cfg)
	out := cmd.OutOrStdout()

	if validateFlags.format == string(cli.FormatText) {
		fmt.Fprintf(out, "✓ Configuration %s is valid\n", cfgFile)
		printWarnings(out, warnings)
		fmt.Fprintln(out)
	}

	rec := effectiveSettings(cfg)
	for _, w := range warnings {
		rec = rec.Add("warning."+w.Field, w.Message)
	}
	if err := formatter.FormatTo(out, rec); err != nil {
		return err
	}

	if validateFlags.strict && len(warnings) > 0 {
		return cli.NewConfigError(warnings[0].Field, fmt.Sprintf("%s (%d warnings, --strict)", warnings[0].Message, len(warnings)))
	}
	return nil
}

func printWarnings(w io.Writer, warnings []config.FieldError) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "! %s: %s\n", warn.Field, warn.Message)
	}
}

// effectiveSettings summarizes the configuration after defaults and
// environment overrides.
func effectiveSettings(cfg *config.Config) cli.Record {
	rec := cli.Record{}.
		Addf("tracing.enabled", "%t", cfg.Tracing.Enabled).
		Add("tracing.sampler", cfg.Tracing.Sampler).
		Add("tracing.sample_rate", dsc.FormatRate(cfg.Tracing.EffectiveSampleRate())).
		Add("tracing.service_name", cfg.Tracing.ServiceName).
		Add("tracing.environment", cfg.Tracing.Environment).
		Addf("tracing.propagation_targets", "%d", len(cfg.Tracing.PropagationTargets)).
		Add("export.exporter", cfg.Export.Exporter)
	if cfg.Export.Exporter == "otlp" {
		rec = rec.Add("export.endpoint", cfg.Export.Endpoint)
	}
	rec = rec.
		Add("server.listen_address", cfg.Server.ListenAddress).
		Add("telemetry.logging.level", cfg.Telemetry.Logging.Level).
		Addf("telemetry.metrics.enabled", "%t", cfg.Telemetry.Metrics.Enabled).
		Addf("telemetry.health.enabled", "%t", cfg.Telemetry.Health.Enabled)
	return rec
}
