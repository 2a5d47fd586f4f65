package span

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Status is the outcome of a span.
type Status string

// Span statuses. The set mirrors the gRPC status codes.
const (
	StatusUnset              Status = ""
	StatusOK                 Status = "ok"
	StatusCancelled          Status = "cancelled"
	StatusUnknown            Status = "unknown_error"
	StatusInvalidArgument    Status = "invalid_argument"
	StatusDeadlineExceeded   Status = "deadline_exceeded"
	StatusNotFound           Status = "not_found"
	StatusAlreadyExists      Status = "already_exists"
	StatusPermissionDenied   Status = "permission_denied"
	StatusResourceExhausted  Status = "resource_exhausted"
	StatusFailedPrecondition Status = "failed_precondition"
	StatusAborted            Status = "aborted"
	StatusOutOfRange         Status = "out_of_range"
	StatusUnimplemented      Status = "unimplemented"
	StatusInternalError      Status = "internal_error"
	StatusUnavailable        Status = "unavailable"
	StatusDataLoss           Status = "data_loss"
	StatusUnauthenticated    Status = "unauthenticated"
)

// IsError reports whether the status describes a failure.
func (s Status) IsError() bool {
	return s != StatusUnset && s != StatusOK
}

// StatusFromHTTP maps an HTTP response code to a span status.
func StatusFromHTTP(code int) Status {
	switch {
	case code >= 100 && code < 400:
		return StatusOK
	case code >= 400 && code < 500:
		switch code {
		case http.StatusUnauthorized:
			return StatusUnauthenticated
		case http.StatusForbidden:
			return StatusPermissionDenied
		case http.StatusNotFound:
			return StatusNotFound
		case http.StatusConflict:
			return StatusAlreadyExists
		case http.StatusRequestEntityTooLarge:
			return StatusFailedPrecondition
		case http.StatusTooManyRequests:
			return StatusResourceExhausted
		case 499:
			return StatusCancelled
		default:
			return StatusInvalidArgument
		}
	case code >= 500 && code < 600:
		switch code {
		case http.StatusNotImplemented:
			return StatusUnimplemented
		case http.StatusServiceUnavailable:
			return StatusUnavailable
		case http.StatusGatewayTimeout:
			return StatusDeadlineExceeded
		default:
			return StatusInternalError
		}
	default:
		return StatusUnknown
	}
}

var grpcStatuses = map[codes.Code]Status{
	codes.OK:                 StatusOK,
	codes.Canceled:           StatusCancelled,
	codes.Unknown:            StatusUnknown,
	codes.InvalidArgument:    StatusInvalidArgument,
	codes.DeadlineExceeded:   StatusDeadlineExceeded,
	codes.NotFound:           StatusNotFound,
	codes.AlreadyExists:      StatusAlreadyExists,
	codes.PermissionDenied:   StatusPermissionDenied,
	codes.ResourceExhausted:  StatusResourceExhausted,
	codes.FailedPrecondition: StatusFailedPrecondition,
	codes.Aborted:            StatusAborted,
	codes.OutOfRange:         StatusOutOfRange,
	codes.Unimplemented:      StatusUnimplemented,
	codes.Internal:           StatusInternalError,
	codes.Unavailable:        StatusUnavailable,
	codes.DataLoss:           StatusDataLoss,
	codes.Unauthenticated:    StatusUnauthenticated,
}

// StatusFromGRPC maps a gRPC status code to a span status.
func StatusFromGRPC(code codes.Code) Status {
	if s, ok := grpcStatuses[code]; ok {
		return s
	}
	return StatusUnknown
}
