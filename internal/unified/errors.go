package unified

import "fmt"

// ValidationError reports a malformed or incomplete vendor payload. It is
// raised before any transform output is produced; a transform never returns
// a partially populated object.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}

	return fmt.Sprintf("invalid request: field %q: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a named field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// UnsupportedFeatureError reports a vendor feature with no canonical
// mapping. Callers drop the feature with a warning unless it is load-bearing
// for the request.
type UnsupportedFeatureError struct {
	Feature string
}

func (e *UnsupportedFeatureError) Error() string {
	return "unsupported feature: " + e.Feature
}

// UpstreamProtocolError reports a backend response or stream that violates
// its own declared grammar. It is surfaced to the caller, never retried at
// this layer.
type UpstreamProtocolError struct {
	Vendor string
	Detail string
	Err    error
}

func (e *UpstreamProtocolError) Error() string {
	msg := fmt.Sprintf("upstream protocol error (%s): %s", e.Vendor, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *UpstreamProtocolError) Unwrap() error { return e.Err }

// ConfigurationError reports invalid configuration (bad pricing tiers,
// unknown provider protocol). Raised at load time, never at billing time.
type ConfigurationError struct {
	Detail string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Detail
}
