package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/LucaDeLeo/realitycam-sub004/internal/version"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
)

const (
	// StatementType is the in-toto Statement v1 type URI.
	StatementType = "https://in-toto.io/Statement/v1"
	// PredicateType identifies the capture evidence predicate.
	PredicateType = "https://realitycam.app/capture-evidence/v1"
	// GeneratorName names this service in the predicate.
	GeneratorName = "realitycam"
	// ActionCapture is the only recorded action type.
	ActionCapture = "capture"
)

// ErrInvalidManifest marks a statement that does not decode or describes
// something other than capture evidence.
var ErrInvalidManifest = errors.New("invalid manifest")

// Statement is an in-toto Statement v1 about one media file.
type Statement struct {
	Type          string    `json:"_type"`
	Subject       []Subject `json:"subject"`
	PredicateType string    `json:"predicateType"`
	Predicate     Predicate `json:"predicate"`
}

// Subject names an artifact and its digests.
type Subject struct {
	Name   string            `json:"name"`
	Digest map[string]string `json:"digest"`
}

// Predicate is the capture evidence.
type Predicate struct {
	ManifestID string                   `json:"manifestId"`
	Generator  Generator                `json:"generator"`
	Action     Action                   `json:"action"`
	Evidence   evidence.Package         `json:"evidence"`
	Confidence evidence.ConfidenceLevel `json:"confidence"`
}

// Generator identifies the software that produced the manifest.
type Generator struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Action describes what produced the media.
type Action struct {
	Type        string    `json:"type"`
	When        time.Time `json:"when"`
	DeviceID    string    `json:"deviceId"`
	DeviceModel string    `json:"deviceModel,omitempty"`
}

// Input is everything Build needs.
type Input struct {
	MediaName   string
	Media       []byte
	DeviceID    string
	DeviceModel string
	CapturedAt  time.Time
	Evidence    evidence.Package
	Confidence  evidence.ConfidenceLevel
	ManifestID  string // generated when empty
}

// Build assembles the statement for in.
func Build(in Input) (*Statement, error) {
	if len(in.Media) == 0 {
		return nil, errors.New("media is empty")
	}
	if in.Evidence.IsZero() {
		return nil, errors.New("evidence package is empty")
	}
	name := in.MediaName
	if name == "" {
		name = "capture"
	}
	id := in.ManifestID
	if id == "" {
		id = uuid.NewString()
	}
	confidence := in.Confidence
	if confidence == "" {
		confidence = evidence.Aggregate(in.Evidence)
	}

	d := digest.FromBytes(in.Media)
	return &Statement{
		Type: StatementType,
		Subject: []Subject{{
			Name:   name,
			Digest: map[string]string{d.Algorithm().String(): d.Encoded()},
		}},
		PredicateType: PredicateType,
		Predicate: Predicate{
			ManifestID: id,
			Generator:  Generator{Name: GeneratorName, Version: version.Version},
			Action: Action{
				Type:        ActionCapture,
				When:        in.CapturedAt.UTC(),
				DeviceID:    in.DeviceID,
				DeviceModel: in.DeviceModel,
			},
			Evidence:   in.Evidence,
			Confidence: confidence,
		},
	}, nil
}

// Canonical returns the statement's deterministic JSON encoding: struct
// fields in declaration order, map keys sorted, no insignificant
// whitespace.
func Canonical(s *Statement) ([]byte, error) {
	return json.Marshal(s)
}

// ParseStatement decodes and checks a statement payload.
func ParseStatement(payload []byte) (*Statement, error) {
	var s Statement
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if s.Type != StatementType {
		return nil, fmt.Errorf("%w: statement type %q", ErrInvalidManifest, s.Type)
	}
	if s.PredicateType != PredicateType {
		return nil, fmt.Errorf("%w: predicate type %q", ErrInvalidManifest, s.PredicateType)
	}
	if len(s.Subject) != 1 {
		return nil, fmt.Errorf("%w: %d subjects", ErrInvalidManifest, len(s.Subject))
	}
	return &s, nil
}

// SubjectDigest returns the statement's media digest.
func (s *Statement) SubjectDigest() (digest.Digest, error) {
	if len(s.Subject) == 0 {
		return "", fmt.Errorf("%w: no subject", ErrInvalidManifest)
	}
	hex, ok := s.Subject[0].Digest[digest.SHA256.String()]
	if !ok {
		return "", fmt.Errorf("%w: subject has no sha256 digest", ErrInvalidManifest)
	}
	d := digest.NewDigestFromEncoded(digest.SHA256, hex)
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	return d, nil
}
