// Package taxonomy classifies geocoding failures into categories, severities
// and a retryable flag, and aggregates them for callers.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Category is the kind of failure.
type Category string

const (
	CategoryNetwork       Category = "network"
	CategoryRateLimit     Category = "rate_limit"
	CategoryValidation    Category = "validation"
	CategoryConfiguration Category = "configuration"
	CategoryUnknown       Category = "unknown"
)

// Severity tells the caller how loudly a failure should be surfaced.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Reasons shared across packages.
const (
	ReasonInsufficientAddress = "Insufficient address information"
	ReasonCancelled           = "Operation cancelled"
	ReasonNoResults           = "No results found"
	ReasonInvalidCoordinates  = "Provider returned invalid coordinates"
)

// Error is the typed failure returned by providers and the batch layer.
type Error struct {
	Category   Category
	Message    string
	Retryable  bool
	StatusCode int           // HTTP status when the failure came from a response
	Provider   string        // provider that produced the failure, if any
	RetryAfter time.Duration // suggested delay for rate-limit failures
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Network returns a retryable network failure.
func Network(provider, message string, err error) *Error {
	return &Error{Category: CategoryNetwork, Message: message, Retryable: true, Provider: provider, Err: err}
}

// RateLimited returns a retryable rate-limit failure carrying the suggested delay.
func RateLimited(provider string, retryAfter time.Duration) *Error {
	return &Error{
		Category:   CategoryRateLimit,
		Message:    "Rate limit exceeded",
		Retryable:  true,
		StatusCode: http.StatusTooManyRequests,
		Provider:   provider,
		RetryAfter: retryAfter,
	}
}

// Validation returns a non-retryable validation failure.
func Validation(provider, message string) *Error {
	return &Error{Category: CategoryValidation, Message: message, Provider: provider}
}

// Configuration returns a non-retryable configuration failure.
func Configuration(provider, message string) *Error {
	return &Error{Category: CategoryConfiguration, Message: message, Provider: provider}
}

// Cancelled returns the failure recorded for rows that never reached a provider.
func Cancelled() *Error {
	return &Error{Category: CategoryUnknown, Message: ReasonCancelled, Retryable: true, Err: context.Canceled}
}

// Unexpected wraps a failure nobody anticipated, such as a recovered panic.
func Unexpected(provider string, err error) *Error {
	return &Error{Category: CategoryUnknown, Message: "Unexpected error", Provider: provider, Err: err}
}

// FromHTTPStatus maps a non-200 provider response to a failure. Every 4xx other
// than 429, credentials included, is a non-retryable validation failure.
func FromHTTPStatus(provider string, status int, retryAfter time.Duration) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited(provider, retryAfter)
	case status >= http.StatusInternalServerError:
		err := Network(provider, fmt.Sprintf("Provider unavailable (HTTP %d)", status), nil)
		err.StatusCode = status
		return err
	case status >= http.StatusBadRequest:
		err := Validation(provider, fmt.Sprintf("Provider rejected request (HTTP %d)", status))
		err.StatusCode = status
		return err
	default:
		return &Error{
			Category:   CategoryUnknown,
			Message:    fmt.Sprintf("Unexpected provider response (HTTP %d)", status),
			StatusCode: status,
			Provider:   provider,
		}
	}
}

// ParseRetryAfter reads a Retry-After header given either as seconds or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return time.Duration(seconds) * time.Second
	}

	if at, err := http.ParseTime(value); err == nil {
		if wait := at.Sub(now); wait > 0 {
			return wait
		}
	}

	return 0
}

// AsError converts any error into a classified *Error. Errors that already are
// *Error are returned unchanged.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		return typed
	}

	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Category: CategoryUnknown, Message: ReasonCancelled, Retryable: true, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return Network("", "Request timed out", err)
	case isTransportFailure(err):
		return Network("", "Network error", err)
	}

	return &Error{Category: CategoryUnknown, Message: err.Error(), Err: err}
}

// transientPatterns are substrings of wrapped transport errors that are safe to retry.
var transientPatterns = []string{
	"connection reset by peer",
	"connection refused",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"unexpected eof",
}

func isTransportFailure(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}

	return false
}
