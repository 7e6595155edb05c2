package manifest

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
)

// ErrInvalidSignature is returned when no envelope signature verifies.
var ErrInvalidSignature = errors.New("manifest signature invalid")

// Signer signs manifest envelopes. A KMS or HSM backed key implements it
// directly; Sign receives the DSSE pre-authentication encoding.
type Signer interface {
	Sign(ctx context.Context, data []byte) ([]byte, error)
	KeyID() (string, error)
	Public() crypto.PublicKey
}

// keySigner signs with an in-process private key.
type keySigner struct {
	key   crypto.Signer
	keyID string
}

// NewEd25519Signer returns a Signer for an Ed25519 key.
func NewEd25519Signer(key ed25519.PrivateKey) (Signer, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519 private key is %d bytes", len(key))
	}
	return newKeySigner(key)
}

// NewECDSASigner returns a Signer for a P-256 key.
func NewECDSASigner(key *ecdsa.PrivateKey) (Signer, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, errors.New("ecdsa signer requires a P-256 key")
	}
	return newKeySigner(key)
}

// LoadSigner parses a PEM private key (Ed25519 or P-256).
func LoadSigner(pemData []byte) (Signer, error) {
	key, err := reqauth.LoadPrivateKeyPEM(pemData)
	if err != nil {
		return nil, err
	}
	return newKeySigner(key)
}

func newKeySigner(key crypto.Signer) (*keySigner, error) {
	id, err := keyID(key.Public())
	if err != nil {
		return nil, err
	}
	return &keySigner{key: key, keyID: id}, nil
}

func (s *keySigner) Sign(_ context.Context, data []byte) ([]byte, error) {
	switch s.key.(type) {
	case ed25519.PrivateKey:
		return s.key.Sign(rand.Reader, data, crypto.Hash(0))
	default:
		digest := sha256.Sum256(data)
		return s.key.Sign(rand.Reader, digest[:], crypto.SHA256)
	}
}

func (s *keySigner) KeyID() (string, error) { return s.keyID, nil }

func (s *keySigner) Public() crypto.PublicKey { return s.key.Public() }

// keyID is the hex SHA-256 of the PKIX encoding of pub.
func keyID(pub crypto.PublicKey) (string, error) {
	der, err := reqauth.MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	return reqauth.KeyFingerprint(der), nil
}

// keyVerifier checks envelope signatures against one public key.
type keyVerifier struct {
	pub   crypto.PublicKey
	keyID string
}

func newKeyVerifier(pub crypto.PublicKey) (*keyVerifier, error) {
	id, err := keyID(pub)
	if err != nil {
		return nil, err
	}
	return &keyVerifier{pub: pub, keyID: id}, nil
}

func (v *keyVerifier) Verify(_ context.Context, data, sig []byte) error {
	switch k := v.pub.(type) {
	case ed25519.PublicKey:
		if ed25519.Verify(k, data, sig) {
			return nil
		}
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(data)
		if ecdsa.VerifyASN1(k, digest[:], sig) {
			return nil
		}
	default:
		return fmt.Errorf("unsupported key type %T", v.pub)
	}
	return ErrInvalidSignature
}

func (v *keyVerifier) KeyID() (string, error) { return v.keyID, nil }

func (v *keyVerifier) Public() crypto.PublicKey { return v.pub }

// signerVerifier adapts a Signer to the envelope library, which also wants
// the verification half.
type signerVerifier struct {
	Signer
	verifier *keyVerifier
}

func (s signerVerifier) Verify(ctx context.Context, data, sig []byte) error {
	return s.verifier.Verify(ctx, data, sig)
}
