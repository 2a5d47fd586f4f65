package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/spf13/cobra"

	"mercator-hq/tracekit/pkg/cli"
	"mercator-hq/tracekit/pkg/config"
	"mercator-hq/tracekit/pkg/telemetry/health"
	"mercator-hq/tracekit/pkg/telemetry/logging"
	"mercator-hq/tracekit/pkg/telemetry/metrics"
	"mercator-hq/tracekit/pkg/telemetry/tracing"
	"mercator-hq/tracekit/pkg/telemetry/tracing/export"
)

// healthRequestsPerSecond limits each probe endpoint.
const healthRequestsPerSecond = 20

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the instrumented demo server",
	Long: `Start an HTTP server whose routes are traced by the engine.

Every request continues the caller's trace or starts a new one. Outgoing
requests made by the demo routes carry the trace headers downstream.

Routes:
  GET /hello               traced handler with a child span and an
                           application counter tagged with the scope user
  GET /downstream          calls /debug/propagation through the traced client
  GET /fail                captures an error group
  GET /debug/propagation   decodes the trace headers of the request

Operational endpoints:
  /metrics                 Prometheus metrics (telemetry.metrics.enabled)
  /health, /ready          liveness and readiness
  /version                 build information

The sample rate and log level are reloaded when the config file changes.

Examples:
  # Start with default config
  tracekit serve

  # Override listen address and log level
  tracekit serve --listen 0.0.0.0:8080 --log-level debug

  # Validate config without starting server
  tracekit serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting server")
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	if err := config.Initialize(cfgFile); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := config.GetConfig()

	// Apply flag overrides
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Tracekit v%s\n", Version)
	fmt.Fprintf(out, "✓ Configuration loaded from %s\n", cfgFile)
	printWarnings(out, config.Warnings(cfg))

	if serveFlags.dryRun {
		fmt.Fprintln(out, "✓ Dry run complete, not starting server")
		return nil
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	defer logger.Shutdown()
	slog.SetDefault(logger.Slog())

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	srv, err := newServer(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	watcher, err := srv.watchConfig(ctx, cfgFile)
	if err != nil {
		logger.Warn("config hot reload disabled", "error", err)
	} else {
		defer watcher.Stop()
	}

	addr, err := srv.listen()
	if err != nil {
		_ = srv.shutdown()
		return cli.NewCommandError("serve", err)
	}

	fmt.Fprintf(out, "✓ Exporter: %s\n", cfg.Export.Exporter)
	fmt.Fprintf(out, "✓ Server listening on %s\n", addr)
	if cfg.Telemetry.Health.Enabled {
		fmt.Fprintf(out, "✓ Health endpoint: http://%s%s\n", addr, cfg.Telemetry.Health.LivenessPath)
	}
	if cfg.Telemetry.Metrics.Enabled {
		fmt.Fprintf(out, "✓ Metrics endpoint: http://%s%s\n", addr, cfg.Telemetry.Metrics.Path)
	}
	fmt.Fprintln(out, "\nPress Ctrl+C to stop")

	if err := srv.serve(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}

	fmt.Fprintln(out, "✓ Server stopped")
	return nil
}

// server is the demo HTTP server and the components it owns.
type server struct {
	cfg        *config.Config
	logger     *logging.Logger
	tracer     *tracing.Tracer
	collector  *metrics.Collector
	aggregator *metrics.Aggregator
	checker    *health.Checker
	client     *http.Client
	httpServer *http.Server
	listener   net.Listener

	// selfURL is where /downstream sends its request.
	selfURL string
}

func newServer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*server, error) {
	s := &server{cfg: cfg, logger: logger}

	exporter, err := newExporter(ctx, cfg, logger.Slog())
	if err != nil {
		return nil, err
	}

	opts := []tracing.Option{
		tracing.WithExporter(exporter),
		tracing.WithLogger(logger.Slog()),
	}
	if cfg.Telemetry.Metrics.Enabled {
		s.collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
		if err := s.collector.RegisterRuntimeCollectors(); err != nil {
			return nil, fmt.Errorf("failed to register runtime metrics: %w", err)
		}
		opts = append(opts, tracing.WithObserver(s.collector))
	}

	s.tracer, err = tracing.New(&cfg.Tracing, opts...)
	if err != nil {
		_ = exporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	s.aggregator = metrics.NewAggregator(metrics.LogSink{Logger: logger.Slog()}, cfg.Telemetry.Metrics.FlushSchedule, logger.Slog())

	s.checker = health.New(cfg.Telemetry.Health.CheckTimeout)
	health.RegisterTracerChecks(s.checker, s.tracer)

	s.client = &http.Client{
		Transport: s.tracer.Transport(http.DefaultTransport),
		Timeout:   cfg.Server.WriteTimeout,
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.ListenAddress,
		Handler:      s.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Slog().Handler(), slog.LevelError),
	}

	return s, nil
}

// newExporter builds the exporter selected by export.exporter.
func newExporter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (export.Exporter, error) {
	switch cfg.Export.Exporter {
	case "otlp":
		exp, err := export.NewOTel(ctx, export.OTelConfig{
			Endpoint:       cfg.Export.Endpoint,
			Insecure:       cfg.Export.OTLP.Insecure,
			Timeout:        cfg.Export.OTLP.Timeout,
			Headers:        cfg.Export.OTLP.Headers,
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
			Environment:    cfg.Tracing.Environment,
		})
		if err != nil {
			return nil, err
		}
		return exp, nil
	case "memory":
		return export.NewMemoryExporter(), nil
	case "none":
		return export.Discard{}, nil
	case "log", "":
		return export.NewLogExporter(logger), nil
	default:
		return nil, cli.NewConfigError("export.exporter", fmt.Sprintf("unknown exporter %q", cfg.Export.Exporter))
	}
}

// routes mounts the operational endpoints untraced and the demo routes
// behind the tracing middleware.
func (s *server) routes() http.Handler {
	app := http.NewServeMux()
	app.HandleFunc("GET /hello", s.handleHello)
	app.HandleFunc("GET /downstream", s.handleDownstream)
	app.HandleFunc("GET /fail", s.handleFail)
	app.HandleFunc("GET /debug/propagation", s.handlePropagation)

	mux := http.NewServeMux()
	if s.cfg.Telemetry.Health.Enabled {
		health.Register(mux, s.checker, s.cfg.Telemetry.Health, versionInfo(), healthRequestsPerSecond)
	}
	if s.collector != nil {
		mux.Handle(s.cfg.Telemetry.Metrics.Path, s.collector.Handler())
	}
	mux.Handle("/", s.tracer.Middleware(app))
	return mux
}

// watchConfig applies sample rate and log level changes from the config
// file without a restart.
func (s *server) watchConfig(ctx context.Context, path string) (*config.Watcher, error) {
	w, err := config.NewWatcher(path, config.DefaultDebounceInterval, s.logger.Slog())
	if err != nil {
		return nil, err
	}
	config.OnReload(s.applyReload)

	go func() {
		if err := w.Watch(ctx); err != nil {
			s.logger.Error("config watcher stopped", "error", err)
		}
	}()
	return w, nil
}

func (s *server) applyReload(cfg *config.Config) {
	s.tracer.SetSampleRate(cfg.Tracing.EffectiveSampleRate())
	if err := s.logger.SetLevel(cfg.Telemetry.Logging.Level); err != nil {
		s.logger.Warn("ignoring reloaded log level", "level", cfg.Telemetry.Logging.Level, "error", err)
	}
	for _, w := range config.Warnings(cfg) {
		s.logger.Warn("configuration warning", "field", w.Field, "message", w.Message)
	}
}

// listen binds the configured address and returns the bound address.
func (s *server) listen() (string, error) {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddress)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", s.cfg.Server.ListenAddress, err)
	}
	s.listener = ln
	s.selfURL = "http://" + ln.Addr().String()
	return ln.Addr().String(), nil
}

// serve blocks until ctx is cancelled or the server fails, then shuts
// everything down.
func (s *server) serve(ctx context.Context) error {
	if s.listener == nil {
		if _, err := s.listen(); err != nil {
			return err
		}
	}

	if err := s.aggregator.Start(ctx); err != nil {
		s.logger.Warn("metric aggregation disabled", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "address", s.listener.Addr().String())
		if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return errors.Join(err, s.shutdown())
	case <-ctx.Done():
		s.logger.Info("shutting down")
		return s.shutdown()
	}
}

// shutdown stops accepting requests, flushes application metrics and
// exports what the tracer still holds, bounded by the shutdown timeout.
func (s *server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http server: %w", err))
	}
	s.aggregator.Stop()
	if err := s.tracer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("tracer: %w", err))
	}
	return errors.Join(errs...)
}
