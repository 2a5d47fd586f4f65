// Package logging provides structured logging with trace correlation and PII
// redaction.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - Structured logging with JSON, text, and console formats
//   - trace_id, span_id and user_id taken from the tracing scope in the context
//   - Automatic PII redaction (tokens, emails, IP addresses, card numbers)
//   - Async buffering for non-blocking writes
//   - Log levels that can be changed at runtime
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	defer logger.Shutdown()
//
//	slog.SetDefault(logger.Slog())
//
//	// Inside a unit of work the trace fields are added automatically
//	logger.InfoContext(ctx, "order placed", "items", 3)
//	// {"level":"INFO","msg":"order placed","items":3,"trace_id":"4bf9...","span_id":"00f0...","user_id":"42"}
//
// # PII Redaction
//
// With RedactPII enabled:
//
//   - API keys: sk-abc123xyz → sk-a***
//   - Emails: user@example.com → u***@example.com
//   - IP addresses: 192.168.1.100 → 192.*.*.*
//   - Credit cards: 4111-1111-1111-1111 → ****-****-****-1111
//   - Bearer tokens: Bearer abc.def → Bearer ***
//
// Fields whose key names a secret (password, token, email, ip_address, ...)
// are masked entirely.
package logging
