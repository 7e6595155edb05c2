package clierror

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Exit codes
const (
	ExitSuccess      = 0 // Operation completed successfully
	ExitGeneral      = 1 // Unknown/unhandled error
	ExitAuth         = 2 // Submission failed authentication
	ExitVerification = 3 // Manifest or attestation did not verify
	ExitNotFound     = 4 // Resource doesn't exist
	ExitInvalidInput = 5 // Unreadable or malformed input
)

// Error codes (strings) for programmatic error handling
const (
	CodeSubmissionRejected = "SUBMISSION_REJECTED"
	CodeVerificationFailed = "VERIFICATION_FAILED"
	CodeDeviceNotFound     = "DEVICE_NOT_FOUND"
	CodeEvidenceNotFound   = "EVIDENCE_NOT_FOUND"
	CodeAlreadyExists      = "ALREADY_EXISTS"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInternalError      = "INTERNAL_ERROR"
)

// CLIError represents a structured error for CLI output.
type CLIError struct {
	Code      string `json:"code"`
	Reason    string `json:"reason,omitempty"` // finer-grained cause, e.g. auth.replay_detected
	Message   string `json:"message"`
	Hint      string `json:"hint,omitempty"`
	Retryable bool   `json:"retryable"`
	ExitCode  int    `json:"-"` // Not serialized, used for os.Exit
	Err       error  `json:"-"`
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	return e.Message
}

// Unwrap returns the underlying error.
func (e *CLIError) Unwrap() error {
	return e.Err
}

var rejectionHints = map[string]string{
	"auth.unknown_device":    "Register the device with 'realitycam device register'",
	"auth.expired":           "Check the device clock; timestamps must be within the configured tolerance",
	"auth.invalid_signature": "Sign the request with the key the device registered",
	"auth.replay_detected":   "Use a counter greater than the device's last accepted counter",
}

// SubmissionRejected creates an error for a submission that failed
// authentication. reason is the authenticator's code.
func SubmissionRejected(reason string, err error) *CLIError {
	return &CLIError{
		Code:      CodeSubmissionRejected,
		Reason:    reason,
		Message:   fmt.Sprintf("submission rejected (%s): %v", reason, err),
		Hint:      rejectionHints[reason],
		Retryable: reason == "auth.expired",
		ExitCode:  ExitAuth,
		Err:       err,
	}
}

// VerificationFailed creates an error for a manifest or attestation that
// did not verify.
func VerificationFailed(err error) *CLIError {
	return &CLIError{
		Code:     CodeVerificationFailed,
		Message:  fmt.Sprintf("verification failed: %v", err),
		Hint:     "Check that --key is the public half of the signing key and the media is unmodified",
		ExitCode: ExitVerification,
		Err:      err,
	}
}

// DeviceNotFound creates an error when a device doesn't exist.
func DeviceNotFound(id string) *CLIError {
	return &CLIError{
		Code:     CodeDeviceNotFound,
		Message:  fmt.Sprintf("device '%s' not found", id),
		Hint:     "Check device ids with 'realitycam device list'",
		ExitCode: ExitNotFound,
	}
}

// EvidenceNotFound creates an error when an evidence record doesn't exist.
func EvidenceNotFound(id string) *CLIError {
	return &CLIError{
		Code:     CodeEvidenceNotFound,
		Message:  fmt.Sprintf("evidence '%s' not found", id),
		Hint:     "List a device's evidence with 'realitycam evidence list <device-id>'",
		ExitCode: ExitNotFound,
	}
}

// AlreadyExists creates an error when a resource already exists.
func AlreadyExists(resource, name string) *CLIError {
	return &CLIError{
		Code:     CodeAlreadyExists,
		Message:  fmt.Sprintf("%s '%s' already exists", resource, name),
		Hint:     "Use a different id",
		ExitCode: ExitGeneral,
	}
}

// InvalidInput creates an error for input that could not be read or parsed.
func InvalidInput(what string, err error) *CLIError {
	return &CLIError{
		Code:     CodeInvalidInput,
		Message:  fmt.Sprintf("invalid %s: %v", what, err),
		ExitCode: ExitInvalidInput,
		Err:      err,
	}
}

// InternalError creates an error for unexpected internal errors.
func InternalError(err error) *CLIError {
	msg := "an unexpected internal error occurred"
	if err != nil {
		msg = err.Error()
	}
	return &CLIError{
		Code:     CodeInternalError,
		Message:  msg,
		ExitCode: ExitGeneral,
		Err:      err,
	}
}

// From returns err as a CLIError, wrapping unstructured errors as internal.
func From(err error) *CLIError {
	var ce *CLIError
	if errors.As(err, &ce) {
		return ce
	}
	return InternalError(err)
}

// ExitCodeOf returns the process exit code for err.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return From(err).ExitCode
}

// FormatError returns the error formatted for the given output format.
// "json" and "yaml" produce a JSON object; anything else is human-readable.
func FormatError(err *CLIError, outputFormat string) string {
	if outputFormat == "json" || outputFormat == "yaml" {
		data, jsonErr := json.MarshalIndent(err, "", "  ")
		if jsonErr != nil {
			return fmt.Sprintf(`{"code":%q,"message":%q}`, err.Code, err.Message)
		}
		return string(data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Error [%s]: %s", err.Code, err.Message)
	if err.Hint != "" {
		fmt.Fprintf(&b, "\nHint: %s", err.Hint)
	}
	return b.String()
}

// PrintError writes the error to w in the appropriate format.
func PrintError(w io.Writer, err *CLIError, outputFormat string) {
	fmt.Fprintln(w, FormatError(err, outputFormat))
}
