package types

import "fmt"

// ValidationError reports malformed or inconsistent input detected
// before any provider call is made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Message)
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// NewValidationError builds a ValidationError for one field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransportError reports a failed provider call: connection failures,
// timeouts, or non-success HTTP statuses. StatusCode is zero when the
// request never produced a response.
type TransportError struct {
	Endpoint   string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s unreachable: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("provider %s unreachable", e.Endpoint)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StreamInterruptedError reports a stream that died after delivery
// began. EventsDelivered counts client events already emitted; those
// are never retracted.
type StreamInterruptedError struct {
	EventsDelivered int
	Err             error
}

func (e *StreamInterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted after %d events: %v", e.EventsDelivered, e.Err)
}

func (e *StreamInterruptedError) Unwrap() error { return e.Err }

// CacheError reports a cache backend failure. Lookups that fail this
// way are treated as misses and stores as no-ops; the error is logged,
// never returned to callers of the request path.
type CacheError struct {
	Op  string
	Err error
}

func (e *CacheError) Error() string {
	return fmt.Sprintf("cache %s failed: %v", e.Op, e.Err)
}

func (e *CacheError) Unwrap() error { return e.Err }

// BatchItemError wraps a single batch item's failure with its position.
// One item failing never affects its siblings.
type BatchItemError struct {
	Index int
	Err   error
}

func (e *BatchItemError) Error() string {
	return fmt.Sprintf("batch item %d failed: %v", e.Index, e.Err)
}

func (e *BatchItemError) Unwrap() error { return e.Err }

// ConversionFallback records a lossy but recoverable conversion step,
// such as an unsupported block degraded to a text placeholder or an
// extension key dropped by the allow-list. Fallbacks are warnings, not
// errors; the request proceeds.
type ConversionFallback struct {
	Kind   string
	Detail string
}

func (f ConversionFallback) String() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Detail)
}

// Fallback kinds.
const (
	FallbackUnsupportedBlock = "unsupported_block"
	FallbackDroppedExtension = "dropped_extension"
	FallbackUnknownStop      = "unknown_stop_reason"
	FallbackBadToolArgs      = "unparseable_tool_arguments"
	FallbackUnknownMedia     = "unknown_media_type"
)
