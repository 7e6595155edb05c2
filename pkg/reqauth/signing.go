package reqauth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// SigningInputSize is the length of the byte string a device signs.
const SigningInputSize = 8 + sha256.Size

// BodyHash returns the SHA-256 digest of a request body.
func BodyHash(body []byte) [sha256.Size]byte {
	return sha256.Sum256(body)
}

// SigningInput builds the bytes covered by a request signature.
// Timestamps are truncated to millisecond precision.
func SigningInput(ts time.Time, bodyHash [sha256.Size]byte) []byte {
	buf := make([]byte, SigningInputSize)
	binary.BigEndian.PutUint64(buf[:8], uint64(ts.UnixMilli()))
	copy(buf[8:], bodyHash[:])
	return buf
}

// SignRequest signs a request the way a device does. key must be an
// *ecdsa.PrivateKey on P-256 or an ed25519.PrivateKey.
func SignRequest(key crypto.Signer, ts time.Time, bodyHash [sha256.Size]byte) ([]byte, error) {
	input := SigningInput(ts, bodyHash)
	switch k := key.(type) {
	case ed25519.PrivateKey:
		return ed25519.Sign(k, input), nil
	case *ecdsa.PrivateKey:
		digest := sha256.Sum256(input)
		sig, err := ecdsa.SignASN1(rand.Reader, k, digest[:])
		if err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
		return sig, nil
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key)
	}
}

// errSignature is returned by VerifySignature for any mismatch; callers map
// it to ErrInvalidSignature without exposing detail to the client.
var errSignature = errors.New("signature mismatch")

// VerifySignature checks sig over the request signing input with pub.
func VerifySignature(pub crypto.PublicKey, ts time.Time, bodyHash [sha256.Size]byte, sig []byte) error {
	input := SigningInput(ts, bodyHash)
	switch k := pub.(type) {
	case ed25519.PublicKey:
		if len(k) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
			return errSignature
		}
		if !ed25519.Verify(k, input, sig) {
			return errSignature
		}
		return nil
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(input)
		if !ecdsa.VerifyASN1(k, digest[:], sig) {
			return errSignature
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}
