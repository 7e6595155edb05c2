package attestation

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/audit"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/reqauth"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// ErrKeyRequired is returned when an unverified registration names no key.
var ErrKeyRequired = errors.New("unverified registration requires a public key")

// DeviceStore is the device persistence the Registrar needs.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*store.Device, error)
	CreateDevice(ctx context.Context, d *store.Device) error
	UpdateDeviceAttestation(ctx context.Context, id string, level store.AttestationLevel, publicKey []byte, fingerprint string, at time.Time) error
}

// RegisterRequest is a device registration.
type RegisterRequest struct {
	DeviceID      string
	Envelope      []byte
	PublicKey     []byte // PKIX DER; optional when the envelope verifies
	ChallengeID   string
	Model         string
	CorrelationID string
}

// Registrar creates and re-verifies devices.
type Registrar struct {
	store    DeviceStore
	verifier *Verifier
	logger   *slog.Logger
	audit    audit.EventEmitter
}

// RegistrarOption configures a Registrar.
type RegistrarOption func(*Registrar)

// WithRegistrarLogger sets the registrar's logger.
func WithRegistrarLogger(logger *slog.Logger) RegistrarOption {
	return func(r *Registrar) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithAuditEmitter sets the audit backend.
func WithAuditEmitter(emitter audit.EventEmitter) RegistrarOption {
	return func(r *Registrar) {
		if emitter != nil {
			r.audit = emitter
		}
	}
}

// NewRegistrar creates a Registrar.
func NewRegistrar(s DeviceStore, v *Verifier, opts ...RegistrarOption) *Registrar {
	r := &Registrar{
		store:    s,
		verifier: v,
		logger:   slog.Default(),
		audit:    audit.NopEmitter{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register verifies req.Envelope and records the device.
//
// A new device is created at whatever level the attestation earned. An
// existing device is only updated by a hardware_verified result; an
// unverified re-registration leaves its key and level untouched, since
// registration itself is not authenticated.
func (r *Registrar) Register(ctx context.Context, req RegisterRequest) (*store.Device, *Result, error) {
	if req.DeviceID == "" {
		return nil, nil, errors.New("device id is required")
	}

	var claimed crypto.PublicKey
	if len(req.PublicKey) > 0 {
		pub, err := reqauth.ParsePublicKey(req.PublicKey)
		if err != nil {
			return nil, nil, err
		}
		claimed = pub
	}

	result, err := r.verifier.VerifyRegistration(ctx, Registration{
		DeviceID:      req.DeviceID,
		Envelope:      req.Envelope,
		ClaimedKey:    claimed,
		ChallengeID:   req.ChallengeID,
		CorrelationID: req.CorrelationID,
	})
	if err != nil {
		if IsMalformed(err) {
			r.emit(audit.NewAttestationMalformed(req.DeviceID, req.CorrelationID, err.Error()))
		}
		return nil, nil, err
	}

	keyDER := req.PublicKey
	if result.Verified() {
		keyDER, err = reqauth.MarshalPublicKey(result.PublicKey)
		if err != nil {
			return nil, nil, fmt.Errorf("attested key: %w", err)
		}
		r.emit(audit.NewAttestationVerified(req.DeviceID, req.CorrelationID, reqauth.KeyFingerprint(keyDER)))
	} else {
		r.emit(audit.NewAttestationDowngraded(req.DeviceID, req.CorrelationID, result.Reason))
	}

	now := r.verifier.now()
	existing, err := r.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, nil, err
	}

	if existing != nil {
		if !result.Verified() {
			r.logger.Info("registration did not change device",
				"device_id", req.DeviceID,
				"level", existing.AttestationLevel,
			)
			return existing, result, nil
		}
		fp := reqauth.KeyFingerprint(keyDER)
		if err := r.store.UpdateDeviceAttestation(ctx, req.DeviceID, result.Level, keyDER, fp, now); err != nil {
			return nil, nil, err
		}
		existing.AttestationLevel = result.Level
		existing.PublicKey = keyDER
		existing.KeyFingerprint = fp
		existing.AttestedAt = &now
		r.emit(audit.NewDeviceRegistered(req.DeviceID, req.CorrelationID, string(result.Level)))
		return existing, result, nil
	}

	if len(keyDER) == 0 {
		return nil, result, ErrKeyRequired
	}
	d := &store.Device{
		ID:               req.DeviceID,
		PublicKey:        keyDER,
		KeyFingerprint:   reqauth.KeyFingerprint(keyDER),
		AttestationLevel: result.Level,
		Model:            req.Model,
		RegisteredAt:     now,
	}
	if result.Verified() {
		d.AttestedAt = &now
	}
	if err := r.store.CreateDevice(ctx, d); err != nil {
		return nil, nil, err
	}

	r.logger.Info("device registered",
		"device_id", d.ID,
		"level", d.AttestationLevel,
		"fingerprint", d.KeyFingerprint,
	)
	r.emit(audit.NewDeviceRegistered(d.ID, req.CorrelationID, string(d.AttestationLevel)))
	return d, result, nil
}

func (r *Registrar) emit(ev audit.Event) {
	if err := r.audit.Emit(ev); err != nil {
		r.logger.Warn("audit emit failed", "event", ev.Type, "error", err)
	}
}
