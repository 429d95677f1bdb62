package llm

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind classifies a provider failure for fallback decisions.
type ErrorKind string

const (
	ErrAuth        ErrorKind = "auth"
	ErrRateLimit   ErrorKind = "rate_limit"
	ErrServer      ErrorKind = "server"
	ErrTimeout     ErrorKind = "timeout"
	ErrStream      ErrorKind = "stream_error"
	ErrCircuitOpen ErrorKind = "circuit_open"
	ErrSafetyBlock ErrorKind = "safety_block"
	ErrUnknown     ErrorKind = "unknown"
)

// ProviderError wraps a vendor failure with its classification.
type ProviderError struct {
	Vendor  Vendor
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return string(e.Vendor) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Vendor) + ": " + e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, ErrUnknown when unclassified.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnknown
}

// IsCanceled reports whether err stems from caller cancellation or an
// expired deadline. Cancellation is never retried and never cascades.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// TripsBreaker reports whether a failure should count against the vendor's
// circuit. Safety rejections mean this prompt was refused, not that the
// vendor is degraded; an open circuit is not a new failure.
func TripsBreaker(kind ErrorKind) bool {
	return kind != ErrSafetyBlock && kind != ErrCircuitOpen
}

// classifyStatus maps an HTTP status code to an error kind.
func classifyStatus(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return ErrAuth
	case code == 429:
		return ErrRateLimit
	case code >= 500:
		return ErrServer
	case code == 408:
		return ErrTimeout
	default:
		return ErrUnknown
	}
}

// classifyMessage maps an opaque SDK error string to an error kind. The SDKs
// do not expose stable typed errors for every failure mode, so this mirrors
// their wire status in the message.
func classifyMessage(err error) ErrorKind {
	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "authentication") || strings.Contains(lower, "unauthorized"):
		return ErrAuth
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "rate_limit"):
		return ErrRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ErrTimeout
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") ||
		strings.Contains(lower, "503") || strings.Contains(lower, "overloaded"):
		return ErrServer
	default:
		return ErrUnknown
	}
}

// wrapVendorErr classifies an SDK error for a vendor, preserving
// context-cancellation so it propagates instead of cascading.
func wrapVendorErr(vendor Vendor, err error) error {
	if IsCanceled(err) {
		return err
	}
	return &ProviderError{
		Vendor:  vendor,
		Kind:    classifyMessage(err),
		Message: "request failed",
		Err:     err,
	}
}
