// Package errs implements the engine's error taxonomy: a small set of typed,
// comparable error values that HTTP handlers and the SSE adapter can map to
// status codes and safe user-visible messages without string matching.
package errs

import (
	"fmt"
	"net/http"
)

// Kind identifies a taxonomy entry. Kept as a string so it can be logged and
// compared without an extra import.
type Kind string

const (
	KindValidation          Kind = "validation_error"
	KindInvalidModelPath    Kind = "invalid_model_path"
	KindModelLoad           Kind = "model_load_error"
	KindModelNotReady       Kind = "model_not_ready"
	KindBusy                Kind = "busy"
	KindQueueFull           Kind = "queue_full"
	KindRateLimited         Kind = "rate_limited"
	KindContextOverflow     Kind = "context_overflow"
	KindTokenize            Kind = "tokenize_error"
	KindBackend             Kind = "backend_error"
	KindClientCancelled     Kind = "client_cancelled"
	KindShuttingDown        Kind = "shutting_down"
	KindNotImplemented      Kind = "not_implemented"
	KindModelNotFound       Kind = "model_not_found"
)

// Error is the concrete error type for every taxonomy entry. Field is set
// for validation-style errors where the offending request field is known.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	cause   error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Kind, e.Message, e.Field)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode implements httpapi.HTTPError.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation, KindInvalidModelPath, KindContextOverflow, KindTokenize:
		return http.StatusBadRequest
	case KindModelNotFound:
		return http.StatusNotFound
	case KindBusy:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindQueueFull, KindModelNotReady, KindShuttingDown:
		return http.StatusServiceUnavailable
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindModelLoad, KindBackend:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// DoneReason maps a taxonomy entry onto the §3 Done-event terminal reason,
// used by the worker when a job ends mid-stream instead of at admission.
func (e *Error) DoneReason() string {
	if e.Kind == KindClientCancelled {
		return "stop_cancelled"
	}
	return "stop_error"
}

func newErr(k Kind, msg string) *Error { return &Error{Kind: k, Message: msg} }

func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Field: field}
}

func InvalidModelPath(msg string) *Error { return newErr(KindInvalidModelPath, msg) }

func ModelLoad(cause error, msg string) *Error {
	return &Error{Kind: KindModelLoad, Message: msg, cause: cause}
}

func ModelNotReady(msg string) *Error { return newErr(KindModelNotReady, msg) }

func Busy(msg string) *Error { return newErr(KindBusy, msg) }

func QueueFull(msg string) *Error { return newErr(KindQueueFull, msg) }

func RateLimited(msg string) *Error { return newErr(KindRateLimited, msg) }

func ContextOverflow(msg string) *Error { return newErr(KindContextOverflow, msg) }

func Tokenize(cause error, msg string) *Error {
	return &Error{Kind: KindTokenize, Message: msg, cause: cause}
}

func Backend(cause error, msg string) *Error {
	return &Error{Kind: KindBackend, Message: msg, cause: cause}
}

func ClientCancelled() *Error { return newErr(KindClientCancelled, "client disconnected") }

func ShuttingDown() *Error { return newErr(KindShuttingDown, "server is shutting down") }

func NotImplemented(msg string) *Error { return newErr(KindNotImplemented, msg) }

func ModelNotFound(id string) *Error {
	return newErr(KindModelNotFound, "model not found: "+id)
}

// Is reports whether err carries the given Kind. Mirrors the teacher's
// IsTooBusy/IsModelNotFound free functions but generalized across the whole
// taxonomy instead of one function per kind.
func Is(err error, k Kind) bool {
	e, ok := err.(*Error)
	return ok && e.Kind == k
}
