package tracing

import (
	"fmt"

	"mercator-hq/tracekit/pkg/telemetry/tracing/span"
)

// Span Data Keys
//
// Keys follow the OpenTelemetry semantic conventions where one exists:
//   - http.*, url.*: HTTP server and client spans
//   - rpc.*: gRPC spans
//   - error.*: failed operations
//
// Keys without a convention use the "tracekit.*" namespace.
const (
	// HTTP
	DataHTTPMethod     = "http.request.method"
	DataHTTPStatusCode = "http.response.status_code"
	DataURLPath        = "url.path"
	DataURLFull        = "url.full"

	// gRPC
	DataGRPCStatusCode = "rpc.grpc.status_code"

	// Errors
	DataErrorType    = "error.type"
	DataErrorMessage = "error.message"

	// Engine
	DataSampleReason = "tracekit.sample_reason"
)

// SetErrorData records err on s and marks it failed.
//
// Example:
//
//	if err != nil {
//	    tracing.SetErrorData(sp, err, "timeout")
//	}
func SetErrorData(s *span.Span, err error, errorType string) {
	if s == nil || err == nil {
		return
	}
	if errorType == "" {
		errorType = fmt.Sprintf("%T", err)
	}
	s.SetData(DataErrorType, errorType)
	s.SetData(DataErrorMessage, err.Error())
	if s.Status() == span.StatusUnset {
		s.SetStatus(span.StatusInternalError)
	}
}
