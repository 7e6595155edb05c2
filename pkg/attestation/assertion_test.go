package attestation

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/LucaDeLeo/realitycam-sub004/internal/testutil"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/evidence"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

func deviceWithKey(t *testing.T, pub crypto.PublicKey, level store.AttestationLevel) *store.Device {
	t.Helper()
	der, err := reqauth.MarshalPublicKey(pub)
	if err != nil {
		t.Fatalf("MarshalPublicKey failed: %v", err)
	}
	return &store.Device{
		ID:               "dev-1",
		PublicKey:        der,
		KeyFingerprint:   reqauth.KeyFingerprint(der),
		AttestationLevel: level,
	}
}

func TestCheck(t *testing.T) {
	v := NewVerifier(Config{AppID: testAppID}, nil)
	key := newDeviceKey(t)
	other := newDeviceKey(t)
	verified := deviceWithKey(t, &key.PublicKey, store.AttestationHardwareVerified)
	clientDataHash := sha256.Sum256([]byte("capture payload"))

	valid, err := testutil.Assertion(key, testAppID, 3, clientDataHash[:])
	if err != nil {
		t.Fatalf("Assertion failed: %v", err)
	}
	wrongKey, _ := testutil.Assertion(other, testAppID, 3, clientDataHash[:])
	wrongApp, _ := testutil.Assertion(key, "TEAM123456.com.example.other", 3, clientDataHash[:])

	tests := []struct {
		name       string
		device     *store.Device
		assertion  []byte
		dataHash   []byte
		wantStatus evidence.Status
	}{
		{"unverified device", deviceWithKey(t, &key.PublicKey, store.AttestationUnverified), valid, clientDataHash[:], evidence.StatusUnavailable},
		{"nil device", nil, nil, nil, evidence.StatusUnavailable},
		{"verified without assertion", verified, nil, clientDataHash[:], evidence.StatusPass},
		{"valid assertion", verified, valid, clientDataHash[:], evidence.StatusPass},
		{"signed by another key", verified, wrongKey, clientDataHash[:], evidence.StatusFail},
		{"bound to another app", verified, wrongApp, clientDataHash[:], evidence.StatusFail},
		{"different capture", verified, valid, make([]byte, 32), evidence.StatusFail},
		{"malformed", verified, []byte{0xa1, 0x01}, clientDataHash[:], evidence.StatusFail},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := v.Check(context.Background(), tc.device, tc.assertion, tc.dataHash)
			if got.Status() != tc.wantStatus {
				t.Errorf("status = %s (%s), want %s", got.Status(), got.Reason(), tc.wantStatus)
			}
		})
	}

	t.Log("Verifying assertion metrics")
	r := v.Check(context.Background(), verified, valid, clientDataHash[:])
	if m, _ := r.Metric("assertion_verified"); m != 1 {
		t.Errorf("assertion_verified = %v, want 1", m)
	}
	if m, _ := r.Metric("assertion_counter"); m != 3 {
		t.Errorf("assertion_counter = %v, want 3", m)
	}
	r = v.Check(context.Background(), verified, nil, nil)
	if m, _ := r.Metric("assertion_verified"); m != 0 {
		t.Errorf("assertion_verified without assertion = %v, want 0", m)
	}
}

func TestCheck_Ed25519Device(t *testing.T) {
	v := NewVerifier(Config{AppID: testAppID}, nil)
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	device := deviceWithKey(t, pub, store.AttestationHardwareVerified)
	clientDataHash := sha256.Sum256([]byte("capture"))

	a, err := testutil.Assertion(priv, testAppID, 1, clientDataHash[:])
	if err != nil {
		t.Fatalf("Assertion failed: %v", err)
	}
	if got := v.Check(context.Background(), device, a, clientDataHash[:]); got.Status() != evidence.StatusPass {
		t.Errorf("status = %s (%s), want pass", got.Status(), got.Reason())
	}
}

func TestResultCheck(t *testing.T) {
	if got := ResultCheck(&Result{Level: store.AttestationHardwareVerified}); got.Status() != evidence.StatusPass {
		t.Errorf("verified result = %s, want pass", got.Status())
	}
	got := ResultCheck(&Result{Level: store.AttestationUnverified, Reason: "nonce mismatch"})
	if got.Status() != evidence.StatusUnavailable {
		t.Errorf("unverified result = %s, want unavailable", got.Status())
	}
	if got.Reason() != "attestation unverified: nonce mismatch" {
		t.Errorf("reason = %q", got.Reason())
	}
	if got := ResultCheck(nil); got.Status() != evidence.StatusUnavailable {
		t.Errorf("nil result = %s, want unavailable", got.Status())
	}
}

func TestDecodeAssertion_Malformed(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":        nil,
		"not cbor":     {0xff},
		"oversized":    make([]byte, maxAssertionSize+1),
		"no auth data": {0xa1, 0x69, 's', 'i', 'g', 'n', 'a', 't', 'u', 'r', 'e', 0x41, 0x01},
	} {
		if _, err := DecodeAssertion(data); !IsMalformed(err) {
			t.Errorf("%s: expected malformed, got %v", name, err)
		}
	}
}
