// Tracekit propagates trace context across service boundaries and decides
// which units of work are sampled.
//
// The tracekit command is the operator tool for the engine:
//   - Decode traceparent, sentry-trace and baggage headers
//   - Run the sampling resolver against a set of headers
//   - Validate configuration files
//   - Run an instrumented demo server with metrics and health endpoints
//
// Usage:
//
//	# Decode incoming headers
//	tracekit inspect -H "traceparent: 00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"
//
//	# Show the sampling decision for a new trace at 25%
//	tracekit decide --rate 0.25
//
//	# Validate a configuration file
//	tracekit validate --config /etc/tracekit/config.yaml
//
//	# Start the demo server
//	tracekit serve --config config.yaml
package main

func main() {
	Execute()
}
