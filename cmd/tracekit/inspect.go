package main

import (
	"net/http"
	"slices"

	"github.com/spf13/cobra"

	"mercator-hq/tracekit/pkg/cli"
	"mercator-hq/tracekit/pkg/telemetry/tracing"
)

var inspectFlags struct {
	headerFlags
	format string
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Decode trace propagation headers",
	Long: `Decode traceparent, sentry-trace and baggage headers.

The output shows which header a service would continue, the decoded trace id,
parent span id and sampling flag, the dynamic sampling context entries found
in baggage and any third-party baggage members that are passed through.

Examples:
  # Decode a traceparent header
  tracekit inspect -H "traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

  # Decode a header block
  printf 'traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01\n\n' | tracekit inspect --stdin

  # Machine readable output
  tracekit inspect -H "baggage: sentry-trace_id=4bf92f3577b34da6a3ce929d0e0e4736" --format json`,
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringArrayVarP(&inspectFlags.headers, "header", "H", nil, "header to decode as \"Name: value\" (repeatable)")
	inspectCmd.Flags().BoolVar(&inspectFlags.stdin, "stdin", false, "read a header block from stdin")
	inspectCmd.Flags().StringVarP(&inspectFlags.format, "format", "f", "text", "output format: text, json, csv")
}

func runInspect(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(inspectFlags.format))
	if err != nil {
		return err
	}

	headers, err := inspectFlags.parseHeaders(cmd.InOrStdin())
	if err != nil {
		return cli.NewConfigError("header", err.Error())
	}

	return formatter.FormatTo(cmd.OutOrStdout(), inspectRecord(headers))
}

// inspectRecord lists the decoded headers sorted by key.
func inspectRecord(headers http.Header) cli.Record {
	info := tracing.PropagationDebugInfo(headers)

	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rec := make(cli.Record, 0, len(keys))
	for _, k := range keys {
		rec = rec.Add(k, info[k])
	}
	return rec
}
