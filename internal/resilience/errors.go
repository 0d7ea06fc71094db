// Package resilience provides the pipeline's failure taxonomy and the retry
// and circuit-breaker machinery built on top of it. Every failure path is a
// first-class value: transient errors are retried, permanent errors are
// recorded and excluded, and nothing here panics or aborts a run.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError wraps an error that is safe to retry (timeouts, 5xx,
// rate-limit responses).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// PermanentReason classifies why a failure is terminal.
type PermanentReason string

const (
	ReasonNotFound        PermanentReason = "not_found"
	ReasonRobotsBlocked   PermanentReason = "robots_blocked"
	ReasonDisallowedType  PermanentReason = "disallowed_content_type"
	ReasonBadRequest      PermanentReason = "bad_request"
	ReasonMalformedOutput PermanentReason = "malformed_output"
)

// PermanentError wraps a terminal failure that must never be retried. It is
// logged, counted, and excluded from further processing.
type PermanentError struct {
	Err    error
	Reason PermanentReason
}

func (e *PermanentError) Error() string { return string(e.Reason) + ": " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// NewPermanentError wraps an error as terminal with a classification.
func NewPermanentError(err error, reason PermanentReason) *PermanentError {
	return &PermanentError{Err: err, Reason: reason}
}

// IsPermanent returns true if the error chain contains a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// PermanentReasonOf extracts the classification from a permanent error, or
// "" when the error is not permanent.
func PermanentReasonOf(err error) PermanentReason {
	var pe *PermanentError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

// IsTransient returns true if the error (or any error in its chain) is a
// TransientError, or matches common transient network patterns. A
// PermanentError anywhere in the chain always wins.
func IsTransient(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus returns true if the HTTP status code indicates a
// transient server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
