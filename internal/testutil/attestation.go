package testutil

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Attestation fixture constants.
var (
	AAGUIDProduction  = []byte("appattest\x00\x00\x00\x00\x00\x00\x00")
	AAGUIDDevelopment = []byte("appattestdevelop")

	oidAttestationNonce = asn1.ObjectIdentifier{1, 2, 840, 113635, 100, 8, 2}
)

// AttestationCA is a throwaway root and intermediate that issue leaf
// certificates shaped like platform attestation certificates.
type AttestationCA struct {
	Root         *x509.Certificate
	Intermediate *x509.Certificate

	rootKey         *ecdsa.PrivateKey
	intermediateKey *ecdsa.PrivateKey
	serial          int64
}

// NewAttestationCA creates a root valid from an hour ago for a day.
func NewAttestationCA() (*AttestationCA, error) {
	ca := &AttestationCA{}
	var err error

	ca.rootKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	rootTmpl := ca.template("Test Attestation Root CA")
	rootTmpl.IsCA = true
	rootTmpl.BasicConstraintsValid = true
	rootTmpl.KeyUsage = x509.KeyUsageCertSign
	ca.Root, err = issue(rootTmpl, rootTmpl, &ca.rootKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("root: %w", err)
	}

	ca.intermediateKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	interTmpl := ca.template("Test Attestation CA 1")
	interTmpl.IsCA = true
	interTmpl.BasicConstraintsValid = true
	interTmpl.KeyUsage = x509.KeyUsageCertSign
	ca.Intermediate, err = issue(interTmpl, ca.Root, &ca.intermediateKey.PublicKey, ca.rootKey)
	if err != nil {
		return nil, fmt.Errorf("intermediate: %w", err)
	}
	return ca, nil
}

// RootPEM returns the root certificate PEM-encoded.
func (ca *AttestationCA) RootPEM() []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Root.Raw})
}

// RootPool returns a pool holding only the root.
func (ca *AttestationCA) RootPool() *x509.CertPool {
	pool := x509.NewCertPool()
	pool.AddCert(ca.Root)
	return pool
}

// EnvelopeParams describes an attestation object to build. Zero-value
// overrides fall back to the values a genuine device would produce.
type EnvelopeParams struct {
	AppID     string
	Key       *ecdsa.PrivateKey
	Challenge []byte

	AAGUID       []byte // default AAGUIDProduction
	Format       string // default "apple-appattest"
	CredentialID []byte // default SHA-256 of the key's uncompressed point
	Nonce        []byte // default SHA-256(authData || SHA-256(Challenge))
	NotAfter     time.Time
	OmitNonce    bool
}

// Envelope builds a CBOR attestation object whose leaf certifies p.Key.
func (ca *AttestationCA) Envelope(p EnvelopeParams) ([]byte, error) {
	if p.Key == nil {
		return nil, fmt.Errorf("key is required")
	}
	aaguid := p.AAGUID
	if aaguid == nil {
		aaguid = AAGUIDProduction
	}
	format := p.Format
	if format == "" {
		format = "apple-appattest"
	}
	credID := p.CredentialID
	if credID == nil {
		point, err := p.Key.PublicKey.ECDH()
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(point.Bytes())
		credID = sum[:]
	}

	authData := AuthenticatorData(p.AppID, 0, aaguid, credID)

	nonce := p.Nonce
	if nonce == nil {
		clientDataHash := sha256.Sum256(p.Challenge)
		h := sha256.New()
		h.Write(authData)
		h.Write(clientDataHash[:])
		nonce = h.Sum(nil)
	}

	leafTmpl := ca.template("device")
	leafTmpl.KeyUsage = x509.KeyUsageDigitalSignature
	if !p.NotAfter.IsZero() {
		leafTmpl.NotAfter = p.NotAfter
	}
	if !p.OmitNonce {
		value, err := asn1.Marshal(struct {
			Nonce []byte `asn1:"tag:1,explicit"`
		}{nonce})
		if err != nil {
			return nil, err
		}
		leafTmpl.ExtraExtensions = []pkix.Extension{{Id: oidAttestationNonce, Value: value}}
	}
	leaf, err := issue(leafTmpl, ca.Intermediate, &p.Key.PublicKey, ca.intermediateKey)
	if err != nil {
		return nil, fmt.Errorf("leaf: %w", err)
	}

	return cbor.Marshal(map[string]any{
		"fmt": format,
		"attStmt": map[string]any{
			"x5c":     [][]byte{leaf.Raw, ca.Intermediate.Raw},
			"receipt": []byte("receipt"),
		},
		"authData": authData,
	})
}

// AuthenticatorData lays out rpIdHash | flags | counter and, when aaguid is
// non-nil, the attested credential section.
func AuthenticatorData(appID string, counter uint32, aaguid, credID []byte) []byte {
	rpIDHash := sha256.Sum256([]byte(appID))
	b := append([]byte(nil), rpIDHash[:]...)
	flags := byte(0x01)
	if aaguid != nil {
		flags |= 0x40
	}
	b = append(b, flags)
	b = binary.BigEndian.AppendUint32(b, counter)
	if aaguid != nil {
		b = append(b, aaguid...)
		b = binary.BigEndian.AppendUint16(b, uint16(len(credID)))
		b = append(b, credID...)
	}
	return b
}

// Assertion builds a CBOR per-capture assertion signed by key over
// SHA-256(authData || clientDataHash).
func Assertion(key crypto.Signer, appID string, counter uint32, clientDataHash []byte) ([]byte, error) {
	authData := AuthenticatorData(appID, counter, nil, nil)
	h := sha256.New()
	h.Write(authData)
	h.Write(clientDataHash)
	nonce := h.Sum(nil)

	var sig []byte
	var err error
	switch key.Public().(type) {
	case *ecdsa.PublicKey:
		digest := sha256.Sum256(nonce)
		sig, err = key.Sign(rand.Reader, digest[:], crypto.SHA256)
	default:
		sig, err = key.Sign(rand.Reader, nonce, crypto.Hash(0))
	}
	if err != nil {
		return nil, err
	}
	return cbor.Marshal(map[string][]byte{
		"signature":         sig,
		"authenticatorData": authData,
	})
}

func (ca *AttestationCA) template(cn string) *x509.Certificate {
	ca.serial++
	now := time.Now()
	return &x509.Certificate{
		SerialNumber: big.NewInt(ca.serial),
		Subject:      pkix.Name{CommonName: cn},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(24 * time.Hour),
	}
}

func issue(tmpl, parent *x509.Certificate, pub crypto.PublicKey, signer crypto.Signer) (*x509.Certificate, error) {
	der, err := x509.CreateCertificate(rand.Reader, tmpl, parent, pub, signer)
	if err != nil {
		return nil, err
	}
	return x509.ParseCertificate(der)
}
