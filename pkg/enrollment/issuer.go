package enrollment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/audit"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// ChallengeStore persists outstanding challenges. *store.Store and
// *RedisChallengeStore satisfy it.
//
// ConsumeChallenge must be atomic: at most one caller receives the challenge.
// It returns store.ErrChallengeNotFound, store.ErrChallengeConsumed or
// store.ErrChallengeExpired when the challenge cannot be redeemed.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c *store.Challenge) error
	ConsumeChallenge(ctx context.Context, id string, now time.Time) (*store.Challenge, error)
}

// Issued is a challenge handed to a device.
type Issued struct {
	ID        string
	Nonce     []byte
	ExpiresAt time.Time
}

// Issuer creates and redeems challenges.
type Issuer struct {
	store  ChallengeStore
	ttl    time.Duration
	logger *slog.Logger
	audit  audit.EventEmitter
	now    func() time.Time
}

// IssuerOption configures an Issuer.
type IssuerOption func(*Issuer)

// WithTTL sets the challenge lifetime.
func WithTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) IssuerOption {
	return func(i *Issuer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithAuditEmitter sets the audit backend.
func WithAuditEmitter(emitter audit.EventEmitter) IssuerOption {
	return func(i *Issuer) {
		if emitter != nil {
			i.audit = emitter
		}
	}
}

// WithClock overrides the clock. Intended for tests.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer creates an Issuer over s.
func NewIssuer(s ChallengeStore, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		store:  s,
		ttl:    DefaultChallengeTTL,
		logger: slog.Default(),
		audit:  audit.NopEmitter{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue generates a fresh challenge, optionally bound to deviceID.
func (i *Issuer) Issue(ctx context.Context, deviceID string) (*Issued, error) {
	nonce, err := GenerateChallenge()
	if err != nil {
		return nil, err
	}

	now := i.now()
	c := &store.Challenge{
		ID:        uuid.NewString(),
		Nonce:     nonce,
		DeviceID:  deviceID,
		CreatedAt: now,
		ExpiresAt: now.Add(i.ttl),
	}
	if err := i.store.CreateChallenge(ctx, c); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}

	i.logger.Info("challenge.issued", "challenge_id", c.ID, "device_id", deviceID, "expires_at", c.ExpiresAt)
	if err := i.audit.Emit(audit.NewChallengeIssued(c.ID, deviceID, c.ExpiresAt)); err != nil {
		i.logger.Error("audit emit failed", "event", string(audit.EventChallengeIssued), "error", err)
	}

	return &Issued{ID: c.ID, Nonce: nonce, ExpiresAt: c.ExpiresAt}, nil
}

// Redeem consumes the challenge and returns its nonce. A challenge bound to a
// device can only be redeemed for that device.
func (i *Issuer) Redeem(ctx context.Context, id, deviceID string) ([]byte, error) {
	now := i.now()
	c, err := i.store.ConsumeChallenge(ctx, id, now)
	switch {
	case errors.Is(err, store.ErrChallengeNotFound):
		return nil, ErrInvalidChallenge(id)
	case errors.Is(err, store.ErrChallengeConsumed):
		return nil, ErrChallengeConsumed()
	case errors.Is(err, store.ErrChallengeExpired):
		return nil, ErrChallengeExpired()
	case err != nil:
		return nil, fmt.Errorf("consume challenge: %w", err)
	}

	if IsChallengeExpired(c.ExpiresAt, now) {
		return nil, ErrChallengeExpired()
	}
	if c.DeviceID != "" && deviceID != "" && c.DeviceID != deviceID {
		return nil, ErrDeviceMismatch(c.DeviceID, deviceID)
	}
	return c.Nonce, nil
}
