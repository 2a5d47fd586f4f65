package main

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/propagation"

	"mercator-hq/tracekit/pkg/cli"
	"mercator-hq/tracekit/pkg/config"
	"mercator-hq/tracekit/pkg/telemetry/tracing"
	"mercator-hq/tracekit/pkg/telemetry/tracing/baggage"
	"mercator-hq/tracekit/pkg/telemetry/tracing/dsc"
	"mercator-hq/tracekit/pkg/telemetry/tracing/export"
	"mercator-hq/tracekit/pkg/telemetry/tracing/sampling"
	"mercator-hq/tracekit/pkg/telemetry/tracing/tracecontext"
)

var decideFlags struct {
	headerFlags
	rate        float64
	name        string
	op          string
	sentryTrace bool
	format      string
}

var decideCmd = &cobra.Command{
	Use:   "decide",
	Short: "Show the sampling decision for a set of headers",
	Long: `Begin one unit of work the way a service would and print the outcome.

A valid traceparent or sentry-trace header continues the upstream trace and
its decision. Without one a new trace is started and sampled at the local
rate; a sample rate found in baggage is ignored for new traces.

The headers the service would send downstream are printed as well.

Examples:
  # New trace at the configured rate
  tracekit decide

  # New trace at 25%
  tracekit decide --rate 0.25

  # Continue an upstream trace
  tracekit decide -H "sentry-trace: 4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-0" \
    -H "baggage: sentry-sample_rate=0.5,sentry-release=1.2.0"`,
	RunE: runDecide,
}

func init() {
	rootCmd.AddCommand(decideCmd)

	decideCmd.Flags().StringArrayVarP(&decideFlags.headers, "header", "H", nil, "incoming header as \"Name: value\" (repeatable)")
	decideCmd.Flags().BoolVar(&decideFlags.stdin, "stdin", false, "read an incoming header block from stdin")
	decideCmd.Flags().Float64Var(&decideFlags.rate, "rate", 0, "local sample rate (overrides the config file)")
	decideCmd.Flags().StringVar(&decideFlags.name, "name", "tracekit.decide", "transaction name")
	decideCmd.Flags().StringVar(&decideFlags.op, "op", "default", "transaction op")
	decideCmd.Flags().BoolVar(&decideFlags.sentryTrace, "sentry-trace", false, "also emit the sentry-trace header")
	decideCmd.Flags().StringVarP(&decideFlags.format, "format", "f", "text", "output format: text, json, csv")
}

func runDecide(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(decideFlags.format))
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	headers, err := decideFlags.parseHeaders(cmd.InOrStdin())
	if err != nil {
		return cli.NewConfigError("header", err.Error())
	}

	tcfg := cfg.Tracing
	if cmd.Flags().Changed("rate") {
		rate := decideFlags.rate
		tcfg.SampleRate = &rate
		tcfg.Sampler = sampling.StrategyRatio
	}
	tcfg.EmitSentryTrace = tcfg.EmitSentryTrace || decideFlags.sentryTrace

	logger, err := commandLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	rec, err := decide(cmd.Context(), tcfg, headers, decideFlags.name, decideFlags.op, logger.Slog())
	if err != nil {
		return cli.NewCommandError("decide", err)
	}
	return formatter.FormatTo(cmd.OutOrStdout(), rec)
}

// decide runs one unit of work through a throwaway tracer and reports the
// decision, the outgoing headers and whether the unit of work was exported.
func decide(ctx context.Context, cfg config.TracingConfig, headers http.Header, name, op string, logger *slog.Logger) (cli.Record, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.Enabled = true

	exporter := export.NewMemoryExporter()
	tracer, err := tracing.New(&cfg, tracing.WithExporter(exporter), tracing.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	defer tracer.Shutdown(context.Background())

	ctx = tracer.Propagator().Extract(ctx, propagation.HeaderCarrier(headers))
	ctx, tx := tracer.Begin(ctx, name, tracing.WithOp(op))

	outgoing := http.Header{}
	tracer.Propagator().Inject(ctx, propagation.HeaderCarrier(outgoing))
	tx.End()

	d := tx.Decision()
	sampled, _ := d.Sampled.Bool()

	rec := cli.Record{}.
		Add("trace_id", d.TraceID.String()).
		Add("span_id", tx.Span().SpanID().String())
	if d.ParentSpanID.IsValid() {
		rec = rec.Add("parent_span_id", d.ParentSpanID.String())
	}
	rec = rec.
		Add("origin", d.Origin.String()).
		Add("reason", d.Reason).
		Add("sampled", strconv.FormatBool(sampled))
	if d.HasSampleRate {
		rec = rec.Add("sample_rate", dsc.FormatRate(d.SampleRate))
	}
	rec = rec.Add("exported", strconv.FormatBool(len(exporter.Transactions()) > 0))

	for _, h := range []string{tracecontext.TraceParentHeader, tracecontext.SentryTraceHeader, baggage.Header} {
		if v := outgoing.Get(h); v != "" {
			rec = rec.Add("outgoing."+h, v)
		}
	}
	return rec, nil
}
