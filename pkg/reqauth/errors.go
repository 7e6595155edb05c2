package reqauth

import (
	"errors"
	"fmt"
)

// Authentication error codes.
const (
	ErrCodeUnknownDevice    = "auth.unknown_device"    // device id not registered
	ErrCodeExpired          = "auth.expired"           // timestamp outside tolerance window
	ErrCodeInvalidSignature = "auth.invalid_signature" // signature does not verify against the registered key
	ErrCodeReplayDetected   = "auth.replay_detected"   // counter not strictly greater than stored counter
)

// AuthError is a hard rejection of a submission. The submission never enters
// evidence computation.
type AuthError struct {
	Code    string // One of the ErrCode* constants
	Message string // Human-readable error description
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, message string) *AuthError {
	return &AuthError{Code: code, Message: message}
}

// ErrUnknownDevice creates an error for a device id that does not resolve.
func ErrUnknownDevice(deviceID string) *AuthError {
	return newError(ErrCodeUnknownDevice, fmt.Sprintf("device %q is not registered", deviceID))
}

// ErrExpired creates an error for a timestamp outside the tolerance window.
func ErrExpired(deltaMS, toleranceMS int64) *AuthError {
	return newError(ErrCodeExpired, fmt.Sprintf("request timestamp off by %dms, tolerance %dms", deltaMS, toleranceMS))
}

// ErrInvalidSignature creates an error for a signature that fails verification.
func ErrInvalidSignature() *AuthError {
	return newError(ErrCodeInvalidSignature, "request signature verification failed")
}

// ErrReplayDetected creates an error for a counter that did not increase.
func ErrReplayDetected(counter, stored uint64) *AuthError {
	return newError(ErrCodeReplayDetected, fmt.Sprintf("counter %d is not greater than %d", counter, stored))
}

// ErrorCode extracts the authentication error code from an error.
// Returns empty string if the error is not an AuthError.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return ""
}

// IsAuthError returns true if the error is or wraps an AuthError.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	var authErr *AuthError
	return errors.As(err, &authErr)
}
