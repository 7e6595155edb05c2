package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/attestation"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/depth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/metadata"
)

var (
	// ErrMalformedSubmission rejects a submission whose shape is invalid
	// before any authentication or analysis runs.
	ErrMalformedSubmission = errors.New("malformed submission")

	// ErrSuperseded is returned when a later submission with the same
	// capture key replaced this one while its checks were running.
	ErrSuperseded = errors.New("submission superseded")
)

// Submission is one capture as delivered by the transport layer.
type Submission struct {
	CorrelationID string // generated when empty
	DeviceID      string
	RequestTime   time.Time
	Signature     []byte // over RequestTime and SHA-256(SignedBody)
	Counter       uint64
	CaptureKey    string // logical capture identity; empty disables supersede

	MediaRef string // name or object key of the media
	Media    []byte
	Depth    *depth.Map // nil when the device sent no depth data
	Metadata *metadata.Declared

	Assertion   []byte            // per-capture proof, CBOR
	Attestation *AttestationProof // registration envelope sent with the capture
}

// AttestationProof is a full attestation object presented with a capture.
type AttestationProof struct {
	Envelope    []byte
	ChallengeID string
}

type signedBody struct {
	Counter     uint64             `json:"counter"`
	CaptureKey  string             `json:"capture_key,omitempty"`
	MediaRef    string             `json:"media_ref,omitempty"`
	Media       digest.Digest      `json:"media"`
	Depth       digest.Digest      `json:"depth,omitempty"`
	Metadata    *metadata.Declared `json:"metadata,omitempty"`
	Attestation digest.Digest      `json:"attestation,omitempty"`
	ChallengeID string             `json:"challenge_id,omitempty"`
}

// SignedBody returns the canonical body a device signs. It commits to the
// counter and to digests of every payload, so none can be swapped after
// signing.
func (s *Submission) SignedBody() ([]byte, error) {
	b := signedBody{
		Counter:    s.Counter,
		CaptureKey: s.CaptureKey,
		MediaRef:   s.MediaRef,
		Media:      digest.FromBytes(s.Media),
		Metadata:   s.Metadata,
	}
	if s.Depth != nil {
		encoded, err := depth.EncodeMap(s.Depth, false)
		if err != nil {
			return nil, err
		}
		b.Depth = digest.FromBytes(encoded)
	}
	if s.Attestation != nil {
		b.Attestation = digest.FromBytes(s.Attestation.Envelope)
		b.ChallengeID = s.Attestation.ChallengeID
	}
	return json.Marshal(b)
}

// validate checks the submission shape. It is cheap and runs before
// authentication.
func (s *Submission) validate() error {
	switch {
	case s.DeviceID == "":
		return fmt.Errorf("%w: device id missing", ErrMalformedSubmission)
	case len(s.Media) == 0:
		return fmt.Errorf("%w: media missing", ErrMalformedSubmission)
	case len(s.Signature) == 0:
		return fmt.Errorf("%w: signature missing", ErrMalformedSubmission)
	}
	if s.Depth != nil {
		if err := s.Depth.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedSubmission, err)
		}
	}
	if s.Attestation != nil {
		if s.Attestation.ChallengeID == "" {
			return fmt.Errorf("%w: attestation without challenge id", ErrMalformedSubmission)
		}
		if _, err := attestation.DecodeObject(s.Attestation.Envelope); err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedSubmission, err)
		}
	}
	return nil
}
