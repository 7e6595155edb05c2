package reqauth

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Key algorithms accepted for device and manifest keys.
const (
	AlgES256 = "ES256"
	AlgEdDSA = "EdDSA"
)

// GenerateKey creates a new key pair for alg (AlgES256 or AlgEdDSA) using
// crypto/rand.
func GenerateKey(alg string) (crypto.Signer, error) {
	switch alg {
	case AlgES256:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
		}
		return key, nil
	case AlgEdDSA:
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate Ed25519 key: %w", err)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("unsupported key algorithm %q", alg)
	}
}

// checkPublicKey rejects key types and curves devices cannot use.
func checkPublicKey(pub crypto.PublicKey) error {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		if len(k) != ed25519.PublicKeySize {
			return fmt.Errorf("ed25519 public key has wrong length %d", len(k))
		}
		return nil
	case *ecdsa.PublicKey:
		if k.Curve != elliptic.P256() {
			return fmt.Errorf("ecdsa key must use P-256, got %s", k.Curve.Params().Name)
		}
		return nil
	default:
		return fmt.Errorf("unsupported public key type %T", pub)
	}
}

// MarshalPublicKey encodes pub as PKIX DER, the form stored with a device.
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	if err := checkPublicKey(pub); err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return der, nil
}

// ParsePublicKey decodes a PKIX DER public key.
func ParsePublicKey(der []byte) (crypto.PublicKey, error) {
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKIX public key: %w", err)
	}
	if err := checkPublicKey(pub); err != nil {
		return nil, err
	}
	return pub, nil
}

// KeyFingerprint computes the SHA-256 fingerprint of a PKIX DER public key.
// Returns a lowercase hex string (64 characters).
func KeyFingerprint(der []byte) string {
	hash := sha256.Sum256(der)
	return hex.EncodeToString(hash[:])
}

// ParsePublicKeyJWK decodes a device-claimed public key from JWK JSON.
// Private keys and symmetric keys are rejected.
func ParsePublicKeyJWK(data []byte) (crypto.PublicKey, error) {
	var jwk jose.JSONWebKey
	if err := json.Unmarshal(data, &jwk); err != nil {
		return nil, fmt.Errorf("invalid JWK: %w", err)
	}
	if jwk.Key == nil {
		return nil, fmt.Errorf("invalid JWK: key is nil")
	}
	if !jwk.IsPublic() {
		return nil, fmt.Errorf("invalid JWK: expected a public key")
	}
	if err := checkPublicKey(jwk.Key); err != nil {
		return nil, fmt.Errorf("invalid JWK: %w", err)
	}
	return jwk.Key, nil
}

// PublicKeyJWK encodes pub as JWK JSON with its fingerprint as kid.
func PublicKeyJWK(pub crypto.PublicKey) ([]byte, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	alg := AlgES256
	if _, ok := pub.(ed25519.PublicKey); ok {
		alg = AlgEdDSA
	}
	jwk := jose.JSONWebKey{
		Key:       pub,
		KeyID:     KeyFingerprint(der),
		Algorithm: alg,
		Use:       "sig",
	}
	return json.Marshal(jwk)
}

// LoadPrivateKeyPEM parses an Ed25519 or ECDSA P-256 private key from
// PKCS#8 PEM ("PRIVATE KEY" block). Error messages never contain key material.
func LoadPrivateKeyPEM(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block: no valid PEM data found")
	}
	if block.Type != "PRIVATE KEY" {
		return nil, fmt.Errorf("unexpected PEM block type %q, expected PRIVATE KEY", block.Type)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PKCS#8 private key: %w", err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported private key type %T", key)
	}
	if err := checkPublicKey(signer.Public()); err != nil {
		return nil, err
	}
	return signer, nil
}

// MarshalPrivateKeyPEM encodes key as PKCS#8 PEM.
func MarshalPrivateKeyPEM(key crypto.Signer) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// LoadPublicKeyPEM parses a PKIX public key from PEM ("PUBLIC KEY" block).
func LoadPublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block: no valid PEM data found")
	}
	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unexpected PEM block type %q, expected PUBLIC KEY", block.Type)
	}
	return ParsePublicKey(block.Bytes)
}

// MarshalPublicKeyPEM encodes pub as PKIX PEM.
func MarshalPublicKeyPEM(pub crypto.PublicKey) ([]byte, error) {
	der, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
