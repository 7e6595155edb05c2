package attestation

import (
	"crypto/x509"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FormatAppleAppAttest is the only attestation statement format accepted.
const FormatAppleAppAttest = "apple-appattest"

// ErrAttestationMalformed marks input that cannot be decoded. It is the only
// attestation failure that rejects a submission outright.
var ErrAttestationMalformed = errors.New("attestation malformed")

// flagAttestedCredentialData marks authenticator data that carries an
// AAGUID and credential id.
const flagAttestedCredentialData = 0x40

const (
	authDataMinLen = 32 + 1 + 4 // rpIdHash, flags, counter
	aaguidLen      = 16
)

// maxEnvelopeSize bounds the attestation object read from a client.
const maxEnvelopeSize = 64 * 1024

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		MaxNestedLevels:  8,
		MaxArrayElements: 16,
		MaxMapPairs:      16,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// Object is a decoded attestation object.
type Object struct {
	Format    string    `cbor:"fmt"`
	Statement Statement `cbor:"attStmt"`
	AuthData  []byte    `cbor:"authData"`

	// Populated by DecodeObject.
	Leaf          *x509.Certificate   `cbor:"-"`
	Intermediates []*x509.Certificate `cbor:"-"`
	Auth          AuthenticatorData   `cbor:"-"`
}

// Statement holds the platform's certificate chain and receipt.
type Statement struct {
	X5C     [][]byte `cbor:"x5c"`
	Receipt []byte   `cbor:"receipt"`
}

// AuthenticatorData is the parsed authData byte string.
type AuthenticatorData struct {
	RPIDHash     [32]byte
	Flags        byte
	Counter      uint32
	AAGUID       []byte
	CredentialID []byte
}

// DecodeObject parses a CBOR attestation object. All failures wrap
// ErrAttestationMalformed.
func DecodeObject(data []byte) (*Object, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty envelope", ErrAttestationMalformed)
	}
	if len(data) > maxEnvelopeSize {
		return nil, fmt.Errorf("%w: envelope exceeds %d bytes", ErrAttestationMalformed, maxEnvelopeSize)
	}

	var obj Object
	if err := decMode.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttestationMalformed, err)
	}
	if obj.Format != FormatAppleAppAttest {
		return nil, fmt.Errorf("%w: unsupported format %q", ErrAttestationMalformed, obj.Format)
	}
	if len(obj.Statement.X5C) == 0 {
		return nil, fmt.Errorf("%w: missing x5c", ErrAttestationMalformed)
	}

	certs := make([]*x509.Certificate, 0, len(obj.Statement.X5C))
	for i, der := range obj.Statement.X5C {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("%w: x5c[%d]: %v", ErrAttestationMalformed, i, err)
		}
		certs = append(certs, cert)
	}
	obj.Leaf = certs[0]
	obj.Intermediates = certs[1:]

	auth, err := ParseAuthenticatorData(obj.AuthData)
	if err != nil {
		return nil, err
	}
	obj.Auth = *auth
	return &obj, nil
}

// ParseAuthenticatorData decodes the fixed layout:
//
//	rpIdHash(32) | flags(1) | counter(4, big-endian) | [aaguid(16) | credIdLen(2) | credId]
//
// The attested credential section is present when flag bit 6 is set.
func ParseAuthenticatorData(b []byte) (*AuthenticatorData, error) {
	if len(b) < authDataMinLen {
		return nil, fmt.Errorf("%w: authenticator data is %d bytes, need at least %d", ErrAttestationMalformed, len(b), authDataMinLen)
	}

	var ad AuthenticatorData
	copy(ad.RPIDHash[:], b[:32])
	ad.Flags = b[32]
	ad.Counter = binary.BigEndian.Uint32(b[33:37])

	if ad.Flags&flagAttestedCredentialData == 0 {
		return &ad, nil
	}

	rest := b[authDataMinLen:]
	if len(rest) < aaguidLen+2 {
		return nil, fmt.Errorf("%w: truncated attested credential data", ErrAttestationMalformed)
	}
	ad.AAGUID = append([]byte(nil), rest[:aaguidLen]...)
	credLen := int(binary.BigEndian.Uint16(rest[aaguidLen : aaguidLen+2]))
	rest = rest[aaguidLen+2:]
	if len(rest) < credLen {
		return nil, fmt.Errorf("%w: credential id length %d exceeds remaining %d bytes", ErrAttestationMalformed, credLen, len(rest))
	}
	ad.CredentialID = append([]byte(nil), rest[:credLen]...)
	return &ad, nil
}
