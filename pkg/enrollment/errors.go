// Package enrollment issues and redeems single-use attestation challenges.
//
// A device obtains a challenge before registering. The challenge nonce is
// bound into the hardware attestation, and the attestation verifier redeems
// the challenge exactly once. Challenges expire after a configured TTL.
package enrollment

import (
	"errors"
	"fmt"
)

// Challenge error codes.
const (
	ErrCodeInvalidChallenge  = "enroll.invalid_challenge"  // challenge id not found
	ErrCodeChallengeExpired  = "enroll.challenge_expired"  // challenge TTL exceeded
	ErrCodeChallengeConsumed = "enroll.challenge_consumed" // challenge already redeemed
	ErrCodeDeviceMismatch    = "enroll.device_mismatch"    // challenge bound to another device
)

// EnrollmentError represents an enrollment error with a structured code.
type EnrollmentError struct {
	Code    string // One of the ErrCode* constants
	Message string // Human-readable error description
}

// Error implements the error interface.
func (e *EnrollmentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code, message string) *EnrollmentError {
	return &EnrollmentError{Code: code, Message: message}
}

// ErrInvalidChallenge creates an error for an unknown challenge id.
func ErrInvalidChallenge(id string) *EnrollmentError {
	return newError(ErrCodeInvalidChallenge, fmt.Sprintf("challenge %q not found", id))
}

// ErrChallengeExpired creates an error for challenge TTL exceeded.
func ErrChallengeExpired() *EnrollmentError {
	return newError(ErrCodeChallengeExpired, "challenge has expired")
}

// ErrChallengeConsumed creates an error for a challenge that was already used.
func ErrChallengeConsumed() *EnrollmentError {
	return newError(ErrCodeChallengeConsumed, "challenge has already been used")
}

// ErrDeviceMismatch creates an error for a challenge issued to another device.
func ErrDeviceMismatch(expected, actual string) *EnrollmentError {
	return newError(ErrCodeDeviceMismatch, fmt.Sprintf("challenge issued for device %q, presented by %q", expected, actual))
}

// ErrorCode extracts the enrollment error code from an error.
// Returns empty string if the error is not an EnrollmentError.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var enrollErr *EnrollmentError
	if errors.As(err, &enrollErr) {
		return enrollErr.Code
	}
	return ""
}

// IsEnrollmentError returns true if the error is or wraps an EnrollmentError.
func IsEnrollmentError(err error) bool {
	if err == nil {
		return false
	}
	var enrollErr *EnrollmentError
	return errors.As(err, &enrollErr)
}
