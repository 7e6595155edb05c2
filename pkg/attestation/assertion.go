package attestation

import (
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// maxAssertionSize bounds a per-capture assertion.
const maxAssertionSize = 4 * 1024

// Assertion is a per-capture proof signed with the attested key.
type Assertion struct {
	Signature         []byte `cbor:"signature"`
	AuthenticatorData []byte `cbor:"authenticatorData"`
}

// DecodeAssertion parses a CBOR assertion. Failures wrap
// ErrAttestationMalformed.
func DecodeAssertion(data []byte) (*Assertion, error) {
	if len(data) == 0 || len(data) > maxAssertionSize {
		return nil, fmt.Errorf("%w: assertion is %d bytes", ErrAttestationMalformed, len(data))
	}
	var a Assertion
	if err := decMode.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationMalformed, err)
	}
	if len(a.Signature) == 0 {
		return nil, fmt.Errorf("%w: assertion has no signature", ErrAttestationMalformed)
	}
	if len(a.AuthenticatorData) < authDataMinLen {
		return nil, fmt.Errorf("%w: assertion authenticator data is %d bytes", ErrAttestationMalformed, len(a.AuthenticatorData))
	}
	return &a, nil
}

// AssertionNonce computes SHA-256(authData || clientDataHash), the message
// an assertion signs.
func AssertionNonce(authData, clientDataHash []byte) []byte {
	h := sha256.New()
	h.Write(authData)
	h.Write(clientDataHash)
	return h.Sum(nil)
}

// Check produces the hardware_attestation result for one capture.
//
// An unverified device yields unavailable. A verified device without an
// assertion passes on the strength of its registration. A supplied assertion
// must decode, match this service's app identity and verify under the
// device key; anything else fails.
func (v *Verifier) Check(ctx context.Context, device *store.Device, assertion, clientDataHash []byte) evidence.CheckResult {
	if device == nil || device.AttestationLevel != store.AttestationHardwareVerified {
		return evidence.Unavailable("attestation unverified")
	}
	if err := ctx.Err(); err != nil {
		return evidence.Unavailable("attestation check cancelled")
	}
	if len(assertion) == 0 {
		return evidence.Pass(evidence.Metrics{"assertion_verified": 0})
	}

	a, err := DecodeAssertion(assertion)
	if err != nil {
		return evidence.Fail("malformed assertion", nil)
	}
	auth, err := ParseAuthenticatorData(a.AuthenticatorData)
	if err != nil {
		return evidence.Fail("malformed assertion", nil)
	}
	if subtle.ConstantTimeCompare(auth.RPIDHash[:], v.rpIDHash[:]) != 1 {
		return evidence.Fail("assertion app identity mismatch", nil)
	}

	pub, err := reqauth.ParsePublicKey(device.PublicKey)
	if err != nil {
		return evidence.Fail("device key unusable", nil)
	}
	if !verifyAssertion(pub, AssertionNonce(a.AuthenticatorData, clientDataHash), a.Signature) {
		v.logger.Warn("attestation.assertion_invalid", "device_id", device.ID)
		return evidence.Fail("assertion signature invalid", nil)
	}
	return evidence.Pass(evidence.Metrics{
		"assertion_verified": 1,
		"assertion_counter":  float64(auth.Counter),
	})
}

// ResultCheck maps a registration result supplied alongside a capture to the
// hardware_attestation category.
func ResultCheck(r *Result) evidence.CheckResult {
	if r.Verified() {
		return evidence.Pass(evidence.Metrics{"assertion_verified": 0})
	}
	reason := "attestation unverified"
	if r != nil && r.Reason != "" {
		reason = "attestation unverified: " + r.Reason
	}
	return evidence.Unavailable(reason)
}

func verifyAssertion(pub any, nonce, sig []byte) bool {
	switch k := pub.(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(nonce)
		return ecdsa.VerifyASN1(k, digest[:], sig)
	case ed25519.PublicKey:
		return ed25519.Verify(k, nonce, sig)
	default:
		return false
	}
}
