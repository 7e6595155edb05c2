package attestation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// AAGUID values identifying the attestation environment.
var (
	aaguidProduction  = []byte("appattest\x00\x00\x00\x00\x00\x00\x00")
	aaguidDevelopment = []byte("appattestdevelop")
)

// Environment selects which AAGUID the verifier accepts.
type Environment string

const (
	EnvironmentProduction  Environment = "production"
	EnvironmentDevelopment Environment = "development"
)

// ChallengeRedeemer consumes a single-use challenge and returns its nonce.
// *enrollment.Issuer satisfies it.
type ChallengeRedeemer interface {
	Redeem(ctx context.Context, id, deviceID string) ([]byte, error)
}

// Config controls attestation verification.
type Config struct {
	// AppID is the service identity the leaf must be bound to
	// ("<team id>.<bundle id>").
	AppID string
	// Roots is the pinned platform root of trust.
	Roots *x509.CertPool
	// Environment selects the accepted AAGUID. Default: production.
	Environment Environment
}

// Registration is one attestation to verify.
type Registration struct {
	DeviceID      string
	Envelope      []byte
	ClaimedKey    crypto.PublicKey // nil accepts the leaf key
	ChallengeID   string
	CorrelationID string
}

// Result is the outcome of a decodable attestation.
type Result struct {
	Level     store.AttestationLevel
	PublicKey crypto.PublicKey // verified key; nil unless hardware_verified
	Reason    string           // why the attestation was downgraded
	AAGUID    []byte
}

// Verified reports whether the attestation established hardware trust.
func (r *Result) Verified() bool {
	return r != nil && r.Level == store.AttestationHardwareVerified
}

// Verifier checks attestation objects and per-capture assertions.
type Verifier struct {
	config     Config
	challenges ChallengeRedeemer
	rpIDHash   [32]byte
	logger     *slog.Logger
	now        func() time.Time
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithClock overrides the time used for certificate validity.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier creates a Verifier. challenges may be nil when only
// per-capture assertions are checked.
func NewVerifier(config Config, challenges ChallengeRedeemer, opts ...VerifierOption) *Verifier {
	if config.Environment == "" {
		config.Environment = EnvironmentProduction
	}
	v := &Verifier{
		config:     config,
		challenges: challenges,
		rpIDHash:   sha256.Sum256([]byte(config.AppID)),
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// VerifyRegistration verifies an attestation object.
//
// Undecodable input returns an error wrapping ErrAttestationMalformed. Any
// other failure returns a Result with level unverified and a nil error. The
// challenge is redeemed for every decodable attempt, so a challenge cannot be
// retried against a different envelope.
func (v *Verifier) VerifyRegistration(ctx context.Context, reg Registration) (*Result, error) {
	obj, err := DecodeObject(reg.Envelope)
	if err != nil {
		return nil, err
	}

	// Step 1: single-use challenge
	if v.challenges == nil {
		return v.downgrade(reg, "no challenge issuer configured"), nil
	}
	challenge, err := v.challenges.Redeem(ctx, reg.ChallengeID, reg.DeviceID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return v.downgrade(reg, "challenge: "+err.Error()), nil
	}

	// Step 2: certificate chain to the pinned root
	if err := verifyChain(obj.Leaf, obj.Intermediates, v.config.Roots, v.now()); err != nil {
		return v.downgrade(reg, "untrusted certificate chain: "+err.Error()), nil
	}

	// Step 3: app identity and key binding
	if reason := v.checkIdentity(obj, reg.ClaimedKey); reason != "" {
		return v.downgrade(reg, reason), nil
	}

	// Step 4: nonce commitment
	committed, err := leafNonce(obj.Leaf)
	if err != nil {
		return v.downgrade(reg, err.Error()), nil
	}
	expected := ExpectedNonce(obj.AuthData, challenge)
	if subtle.ConstantTimeCompare(committed, expected) != 1 {
		return v.downgrade(reg, "nonce does not match issued challenge"), nil
	}

	v.logger.Info("attestation.verified",
		"device_id", reg.DeviceID,
		"correlation_id", reg.CorrelationID,
	)
	return &Result{
		Level:     store.AttestationHardwareVerified,
		PublicKey: obj.Leaf.PublicKey,
		AAGUID:    obj.Auth.AAGUID,
	}, nil
}

// checkIdentity returns a non-empty reason when obj is not bound to this
// service or to the claimed key.
func (v *Verifier) checkIdentity(obj *Object, claimed crypto.PublicKey) string {
	if subtle.ConstantTimeCompare(obj.Auth.RPIDHash[:], v.rpIDHash[:]) != 1 {
		return "app identity mismatch"
	}

	want := aaguidProduction
	if v.config.Environment == EnvironmentDevelopment {
		want = aaguidDevelopment
	}
	if !bytes.Equal(obj.Auth.AAGUID, want) {
		return "unexpected attestation environment"
	}

	leafKey, ok := obj.Leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Sprintf("leaf key type %T is not ECDSA", obj.Leaf.PublicKey)
	}
	point, err := leafKey.ECDH()
	if err != nil {
		return "leaf key is not a valid curve point"
	}
	keyID := sha256.Sum256(point.Bytes())
	if !bytes.Equal(obj.Auth.CredentialID, keyID[:]) {
		return "credential id does not match leaf key"
	}

	if claimed != nil {
		eq, ok := claimed.(interface{ Equal(crypto.PublicKey) bool })
		if !ok || !eq.Equal(leafKey) {
			return "claimed key does not match attested key"
		}
	}
	return ""
}

func (v *Verifier) downgrade(reg Registration, reason string) *Result {
	v.logger.Warn("attestation.downgraded",
		"device_id", reg.DeviceID,
		"correlation_id", reg.CorrelationID,
		"reason", reason,
	)
	return &Result{Level: store.AttestationUnverified, Reason: reason}
}

// IsMalformed reports whether err marks undecodable attestation input.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrAttestationMalformed)
}
