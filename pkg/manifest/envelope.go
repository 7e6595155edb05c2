package manifest

import (
	"bytes"
	"context"
	"crypto"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/secure-systems-lab/go-securesystemslib/dsse"
)

// PayloadType is the DSSE payload type of an in-toto statement.
const PayloadType = "application/vnd.in-toto+json"

// Sign encodes s canonically and signs it into a DSSE envelope.
func Sign(ctx context.Context, signer Signer, s *Statement) (*dsse.Envelope, error) {
	payload, err := Canonical(s)
	if err != nil {
		return nil, fmt.Errorf("encode statement: %w", err)
	}
	verifier, err := newKeyVerifier(signer.Public())
	if err != nil {
		return nil, fmt.Errorf("signer public key: %w", err)
	}
	es, err := dsse.NewEnvelopeSigner(signerVerifier{Signer: signer, verifier: verifier})
	if err != nil {
		return nil, fmt.Errorf("create envelope signer: %w", err)
	}
	env, err := es.SignPayload(ctx, PayloadType, payload)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	return env, nil
}

// MarshalEnvelope encodes env as JSON.
func MarshalEnvelope(env *dsse.Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// ParseEnvelope decodes a JSON DSSE envelope. The input must be the
// envelope's canonical encoding, surrounding whitespace aside, with strict
// standard base64 in every field.
func ParseEnvelope(data []byte) (*dsse.Envelope, error) {
	data = bytes.TrimSpace(data)
	var env dsse.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	canonical, err := MarshalEnvelope(&env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if !bytes.Equal(canonical, data) {
		return nil, fmt.Errorf("%w: envelope is not canonically encoded", ErrInvalidManifest)
	}
	if err := strictBase64("payload", env.Payload); err != nil {
		return nil, err
	}
	for i, sig := range env.Signatures {
		if err := strictBase64(fmt.Sprintf("signature %d", i), sig.Sig); err != nil {
			return nil, err
		}
	}
	if env.PayloadType != PayloadType {
		return nil, fmt.Errorf("%w: unexpected payload type %q", ErrInvalidManifest, env.PayloadType)
	}
	if len(env.Signatures) == 0 {
		return nil, fmt.Errorf("%w: envelope is unsigned", ErrInvalidManifest)
	}
	return &env, nil
}

// VerifyEnvelope checks env's signature with pub and decodes its statement.
func VerifyEnvelope(ctx context.Context, env *dsse.Envelope, pub crypto.PublicKey) (*Statement, error) {
	verifier, err := newKeyVerifier(pub)
	if err != nil {
		return nil, err
	}
	ev, err := dsse.NewEnvelopeVerifier(verifier)
	if err != nil {
		return nil, fmt.Errorf("create envelope verifier: %w", err)
	}
	if _, err := ev.Verify(ctx, env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	payload, err := base64.StdEncoding.Strict().DecodeString(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decode payload: %v", ErrInvalidManifest, err)
	}
	return ParseStatement(payload)
}

// strictBase64 rejects anything but the padded standard encoding of the
// decoded bytes. Strict decoding still skips CR and LF, hence the re-encode.
func strictBase64(field, s string) error {
	b, err := base64.StdEncoding.Strict().DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %s is not standard base64: %v", ErrInvalidManifest, field, err)
	}
	if base64.StdEncoding.EncodeToString(b) != s {
		return fmt.Errorf("%w: %s is not canonical base64", ErrInvalidManifest, field)
	}
	return nil
}
