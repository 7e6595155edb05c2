package audit

import (
	"strconv"
	"time"
)

// Severity represents syslog severity levels per RFC 5424.
type Severity int

const (
	SeverityWarning Severity = 4
	SeverityNotice  Severity = 5
	SeverityInfo    Severity = 6
)

// String returns the human-readable name for a severity level.
func (s Severity) String() string {
	switch s {
	case SeverityEmergency:
		return "EMERGENCY"
	case SeverityAlert:
		return "ALERT"
	case SeverityCritical:
		return "CRITICAL"
	case SeverityError:
		return "ERROR"
	case SeverityWarning:
		return "WARNING"
	case SeverityNotice:
		return "NOTICE"
	case SeverityInfo:
		return "INFO"
	case SeverityDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// EventType identifies a security-relevant audit event.
type EventType string

const (
	EventSubmissionReceived    EventType = "submission.received"
	EventAuthReject            EventType = "auth.reject"
	EventSubmissionAdmitted    EventType = "submission.admitted"
	EventSubmissionRejected    EventType = "submission.rejected"
	EventAttestationVerified   EventType = "attestation.verified"
	EventAttestationDowngraded EventType = "attestation.downgraded"
	EventAttestationMalformed  EventType = "attestation.malformed"
	EventEvidenceComputed      EventType = "evidence.computed"
	EventSubmissionSuperseded  EventType = "submission.superseded"
	EventChallengeIssued       EventType = "challenge.issued"
	EventDeviceRegistered      EventType = "device.registered"
)

// AllEventTypes returns every defined event type for iteration and validation.
func AllEventTypes() []EventType {
	return []EventType{
		EventSubmissionReceived,
		EventAuthReject,
		EventSubmissionAdmitted,
		EventSubmissionRejected,
		EventAttestationVerified,
		EventAttestationDowngraded,
		EventAttestationMalformed,
		EventEvidenceComputed,
		EventSubmissionSuperseded,
		EventChallengeIssued,
		EventDeviceRegistered,
	}
}

var severityMap = map[EventType]Severity{
	EventSubmissionReceived:    SeverityInfo,
	EventAuthReject:            SeverityWarning,
	EventSubmissionAdmitted:    SeverityInfo,
	EventSubmissionRejected:    SeverityWarning,
	EventAttestationVerified:   SeverityNotice,
	EventAttestationDowngraded: SeverityWarning,
	EventAttestationMalformed:  SeverityWarning,
	EventEvidenceComputed:      SeverityInfo,
	EventSubmissionSuperseded:  SeverityNotice,
	EventChallengeIssued:       SeverityInfo,
	EventDeviceRegistered:      SeverityNotice,
}

// SeverityFor returns the syslog severity for a given event type.
// Unknown event types return SeverityWarning.
func SeverityFor(et EventType) Severity {
	if s, ok := severityMap[et]; ok {
		return s
	}
	return SeverityWarning
}

// Event represents a security-relevant audit event with structured fields.
type Event struct {
	Type          EventType
	Severity      Severity
	Timestamp     time.Time
	ActorID       string            // device id when known
	CorrelationID string            // ties every event of one submission together
	Details       map[string]string // event-specific fields
}

func newEvent(et EventType, actorID, correlationID string, details map[string]string) Event {
	if details == nil {
		details = map[string]string{}
	}
	return Event{
		Type:          et,
		Severity:      SeverityFor(et),
		Timestamp:     time.Now(),
		ActorID:       actorID,
		CorrelationID: correlationID,
		Details:       details,
	}
}

// NewSubmissionReceived creates a submission.received event.
func NewSubmissionReceived(deviceID, correlationID, captureKey string) Event {
	return newEvent(EventSubmissionReceived, deviceID, correlationID, map[string]string{
		"capture_key": captureKey,
	})
}

// NewAuthReject creates an auth.reject event for a submission refused by the
// request authenticator. code is the machine-readable rejection code.
func NewAuthReject(deviceID, correlationID, code, reason string) Event {
	return newEvent(EventAuthReject, deviceID, correlationID, map[string]string{
		"code":   code,
		"reason": reason,
	})
}

// NewSubmissionAdmitted creates a submission.admitted event.
func NewSubmissionAdmitted(deviceID, correlationID string, counter uint64) Event {
	return newEvent(EventSubmissionAdmitted, deviceID, correlationID, map[string]string{
		"counter": strconv.FormatUint(counter, 10),
	})
}

// NewSubmissionRejected creates a submission.rejected event for malformed
// submissions refused after authentication.
func NewSubmissionRejected(deviceID, correlationID, reason string) Event {
	return newEvent(EventSubmissionRejected, deviceID, correlationID, map[string]string{
		"reason": reason,
	})
}

// NewAttestationVerified creates an attestation.verified event.
func NewAttestationVerified(deviceID, correlationID, keyFingerprint string) Event {
	return newEvent(EventAttestationVerified, deviceID, correlationID, map[string]string{
		"key_fingerprint": keyFingerprint,
	})
}

// NewAttestationDowngraded creates an attestation.downgraded event for a
// soft-failed verification.
func NewAttestationDowngraded(deviceID, correlationID, reason string) Event {
	return newEvent(EventAttestationDowngraded, deviceID, correlationID, map[string]string{
		"reason": reason,
	})
}

// NewAttestationMalformed creates an attestation.malformed event.
func NewAttestationMalformed(deviceID, correlationID, reason string) Event {
	return newEvent(EventAttestationMalformed, deviceID, correlationID, map[string]string{
		"reason": reason,
	})
}

// NewEvidenceComputed creates an evidence.computed event.
func NewEvidenceComputed(deviceID, correlationID, evidenceID, confidence string, latency time.Duration) Event {
	return newEvent(EventEvidenceComputed, deviceID, correlationID, map[string]string{
		"evidence_id": evidenceID,
		"confidence":  confidence,
		"latency_ms":  strconv.FormatInt(latency.Milliseconds(), 10),
	})
}

// NewSubmissionSuperseded creates a submission.superseded event.
func NewSubmissionSuperseded(deviceID, correlationID, captureKey string) Event {
	return newEvent(EventSubmissionSuperseded, deviceID, correlationID, map[string]string{
		"capture_key": captureKey,
	})
}

// NewChallengeIssued creates a challenge.issued event.
func NewChallengeIssued(challengeID, deviceID string, expiresAt time.Time) Event {
	return newEvent(EventChallengeIssued, deviceID, challengeID, map[string]string{
		"challenge_id": challengeID,
		"expires_at":   expiresAt.UTC().Format(time.RFC3339),
	})
}

// NewDeviceRegistered creates a device.registered event.
func NewDeviceRegistered(deviceID, correlationID, level string) Event {
	return newEvent(EventDeviceRegistered, deviceID, correlationID, map[string]string{
		"attestation_level": level,
	})
}
