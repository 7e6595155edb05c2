package manifest

import (
	"context"
	"crypto"
	"errors"
	"fmt"
)

// ErrDigestMismatch is returned when the media does not match the signed
// subject digest.
var ErrDigestMismatch = errors.New("media digest does not match manifest")

// Verification is the outcome of a successful Verify.
type Verification struct {
	Statement *Statement
	KeyID     string
	Embedded  bool   // envelope was extracted from the media
	Media     []byte // original media the digest was checked against; nil for a bare envelope
}

// Verify checks data, which is either signed media or a bare envelope.
// Signed media is verified end to end. A bare envelope is verified for
// signature and statement only; use VerifySidecar to also check media.
func Verify(ctx context.Context, data []byte, pub crypto.PublicKey) (*Verification, error) {
	if _, err := DetectContainer(data); err == nil {
		return VerifyMedia(ctx, data, pub)
	}
	env, err := ParseEnvelope(data)
	if err != nil {
		return nil, err
	}
	stmt, err := VerifyEnvelope(ctx, env, pub)
	if err != nil {
		return nil, err
	}
	id, _ := keyID(pub)
	return &Verification{Statement: stmt, KeyID: id}, nil
}

// VerifyMedia extracts the embedded envelope, verifies it and checks the
// subject digest against the stripped media.
func VerifyMedia(ctx context.Context, signed []byte, pub crypto.PublicKey) (*Verification, error) {
	envJSON, original, err := Extract(signed)
	if err != nil {
		return nil, err
	}
	v, err := VerifySidecar(ctx, envJSON, original, pub)
	if err != nil {
		return nil, err
	}
	v.Embedded = true
	return v, nil
}

// VerifySidecar verifies a detached envelope against media.
func VerifySidecar(ctx context.Context, envelope, media []byte, pub crypto.PublicKey) (*Verification, error) {
	env, err := ParseEnvelope(envelope)
	if err != nil {
		return nil, err
	}
	stmt, err := VerifyEnvelope(ctx, env, pub)
	if err != nil {
		return nil, err
	}
	want, err := stmt.SubjectDigest()
	if err != nil {
		return nil, err
	}

	dv := want.Verifier()
	if _, err := dv.Write(media); err != nil {
		return nil, fmt.Errorf("digest media: %w", err)
	}
	if !dv.Verified() {
		return nil, ErrDigestMismatch
	}

	id, _ := keyID(pub)
	return &Verification{Statement: stmt, KeyID: id, Media: media}, nil
}
