package megafon

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrLoginInProgress is returned when Authenticate is called on a
	// Transport that is already in the middle of a login.
	ErrLoginInProgress = errors.New("login already in progress on this transport")

	// ErrCaptchaAttemptsExceeded is returned when WithMaxCaptchaAttempts is set
	// and the portal keeps answering with a captcha challenge.
	ErrCaptchaAttemptsExceeded = errors.New("captcha attempts exceeded")
)

// ConfigurationError reports a missing or unusable collaborator at construction time.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "megafon: configuration: " + e.Reason
}

// UnauthorizedError is returned when the portal rejects a login with a
// code that is not a captcha challenge.
type UnauthorizedError struct {
	Body       string
	StatusCode int
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("megafon: unauthorized (status %d): %s", e.StatusCode, e.Body)
}

// RuntimeError is returned when a successful-looking response lacks an expected field.
type RuntimeError struct {
	Message    string
	StatusCode int
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("megafon: %s (status %d)", e.Message, e.StatusCode)
}

// RejectionError carries the portal's message when it refuses a mutation.
type RejectionError struct {
	Message string
}

func (e *RejectionError) Error() string {
	return "megafon: rejected: " + e.Message
}

const unknownRejection = "Unknown error"

// StatusError is a non-2xx portal response.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
}

// DecodeError is returned when a portal body is not valid JSON.
type DecodeError struct {
	Body string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("megafon: invalid json response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Fatal Errors
// =============================================================================

// FatalError represents an error that should stop a batch immediately.
// These are typically captcha billing/key issues where retrying won't help.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatalError wraps an error as fatal.
func NewFatalError(err error) error {
	return &FatalError{Err: err}
}

// IsFatalError checks if the error is a fatal error that should stop the batch.
func IsFatalError(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	return errors.As(err, &fe)
}

// =============================================================================
// Retryable Errors
// =============================================================================

// retryableErrorPatterns contains error message substrings that indicate retryable errors.
var retryableErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"i/o timeout",
	"context deadline exceeded",
	"TLS handshake timeout",
	"EOF",
	"malformed HTTP response",
	"transport connection broken",
	"use of closed network connection",
}

// IsRetryableError checks if the error is a network failure worth retrying
// through another proxy. Portal answers (status, auth, decode errors) never are.
func IsRetryableError(err error) bool {
	if err == nil || IsFatalError(err) {
		return false
	}

	var (
		statusErr *StatusError
		authErr   *UnauthorizedError
		decodeErr *DecodeError
	)
	if errors.As(err, &statusErr) || errors.As(err, &authErr) || errors.As(err, &decodeErr) {
		return false
	}

	if isNetworkTimeout(err) {
		return true
	}

	return containsRetryablePattern(err.Error())
}

func isNetworkTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

func containsRetryablePattern(errStr string) bool {
	for _, pattern := range retryableErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
