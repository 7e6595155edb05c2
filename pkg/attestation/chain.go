package attestation

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"os"
	"time"
)

// oidNonce is the leaf certificate extension carrying the attestation nonce.
var oidNonce = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}

// LoadRoots reads a PEM bundle of pinned root certificates.
func LoadRoots(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read root bundle: %w", err)
	}
	return ParseRoots(data)
}

// ParseRoots builds a pool from PEM-encoded root certificates.
func ParseRoots(pemData []byte) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pemData) {
		return nil, errors.New("no certificates found in root bundle")
	}
	return pool, nil
}

// verifyChain checks that leaf chains to roots through intermediates at now.
func verifyChain(leaf *x509.Certificate, intermediates []*x509.Certificate, roots *x509.CertPool, now time.Time) error {
	if roots == nil {
		return errors.New("no pinned roots configured")
	}
	pool := x509.NewCertPool()
	for _, cert := range intermediates {
		pool.AddCert(cert)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: pool,
		CurrentTime:   now,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	return err
}

// leafNonce extracts the nonce committed in the leaf certificate:
// SEQUENCE { [1] EXPLICIT OCTET STRING }.
func leafNonce(leaf *x509.Certificate) ([]byte, error) {
	for _, ext := range leaf.Extensions {
		if !ext.Id.Equal(oidNonce) {
			continue
		}
		var seq struct {
			Nonce []byte `asn1:"tag:1,explicit"`
		}
		rest, err := asn1.Unmarshal(ext.Value, &seq)
		if err != nil {
			return nil, fmt.Errorf("decode nonce extension: %w", err)
		}
		if len(rest) != 0 {
			return nil, errors.New("trailing data after nonce extension")
		}
		return seq.Nonce, nil
	}
	return nil, errors.New("nonce extension not present")
}

// ExpectedNonce computes SHA-256(authData || SHA-256(challenge)).
func ExpectedNonce(authData, challenge []byte) []byte {
	clientDataHash := sha256.Sum256(challenge)
	h := sha256.New()
	h.Write(authData)
	h.Write(clientDataHash[:])
	return h.Sum(nil)
}
