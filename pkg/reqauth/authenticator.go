package reqauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LucaDeLeo/realitycam-sub004/pkg/audit"
	"github.com/LucaDeLeo/realitycam-sub004/pkg/store"
)

// DefaultTimestampTolerance is the default allowed clock difference between a
// device and the server.
const DefaultTimestampTolerance = 5 * time.Minute

// DeviceStore is the persistence the authenticator needs.
// *store.Store satisfies it.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (*store.Device, error)
	AdmitSubmission(ctx context.Context, a *store.Admission) error
}

// Request is the authentication-relevant part of a submission.
type Request struct {
	DeviceID      string
	Timestamp     time.Time
	Body          []byte // signed body; carries Counter
	Signature     []byte
	Counter       uint64
	CorrelationID string
	CaptureKey    string
}

// Config controls request authentication.
type Config struct {
	// TimestampTolerance is the maximum |server time - request time|. A delta
	// exactly equal to the tolerance is accepted.
	TimestampTolerance time.Duration
}

// DefaultConfig returns the default authenticator configuration.
func DefaultConfig() Config {
	return Config{TimestampTolerance: DefaultTimestampTolerance}
}

// Authenticator admits signed submissions.
type Authenticator struct {
	store  DeviceStore
	config Config
	logger *slog.Logger
	audit  audit.EventEmitter
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger sets the logger for authentication decisions.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Authenticator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithAuditEmitter sets the audit backend.
func WithAuditEmitter(emitter audit.EventEmitter) Option {
	return func(a *Authenticator) {
		if emitter != nil {
			a.audit = emitter
		}
	}
}

// WithClock overrides the server clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAuthenticator creates an Authenticator over s.
func NewAuthenticator(s DeviceStore, config Config, opts ...Option) *Authenticator {
	if config.TimestampTolerance <= 0 {
		config.TimestampTolerance = DefaultTimestampTolerance
	}
	a := &Authenticator{
		store:  s,
		config: config,
		logger: slog.Default(),
		audit:  audit.NopEmitter{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Admit authenticates req and, on success only, advances the device counter
// and records the admission atomically. Failures return *AuthError and leave
// all state untouched; each rejection is audited before returning.
//
// Check order:
//  1. device id resolves (auth.unknown_device)
//  2. |now - timestamp| <= tolerance (auth.expired)
//  3. signature verifies against the registered key (auth.invalid_signature)
//  4. counter > stored counter (auth.replay_detected)
func (a *Authenticator) Admit(ctx context.Context, req Request) (*store.Admission, *store.Device, error) {
	now := a.now()
	if req.CorrelationID == "" {
		req.CorrelationID = uuid.NewString()
	}

	// Step 1: device lookup
	device, err := a.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup device: %w", err)
	}
	if device == nil {
		return nil, nil, a.reject(req, ErrUnknownDevice(req.DeviceID), "")
	}

	// Step 2: timestamp window, inclusive
	delta := now.Sub(req.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	if delta > a.config.TimestampTolerance {
		return nil, nil, a.reject(req, ErrExpired(delta.Milliseconds(), a.config.TimestampTolerance.Milliseconds()), "")
	}

	// Step 3: signature
	pub, err := ParsePublicKey(device.PublicKey)
	if err != nil {
		return nil, nil, a.reject(req, ErrInvalidSignature(), "stored key unusable: "+err.Error())
	}
	if err := VerifySignature(pub, req.Timestamp, BodyHash(req.Body), req.Signature); err != nil {
		return nil, nil, a.reject(req, ErrInvalidSignature(), err.Error())
	}

	// Step 4: counter, checked here for a fast answer and again inside the
	// admission transaction where it is authoritative.
	if req.Counter <= device.Counter {
		return nil, nil, a.reject(req, ErrReplayDetected(req.Counter, device.Counter), "")
	}

	admission := &store.Admission{
		ID:            uuid.NewString(),
		DeviceID:      device.ID,
		Counter:       req.Counter,
		CorrelationID: req.CorrelationID,
		CaptureKey:    req.CaptureKey,
		AdmittedAt:    now,
	}
	if err := a.store.AdmitSubmission(ctx, admission); err != nil {
		if errors.Is(err, store.ErrCounterNotIncreased) {
			return nil, nil, a.reject(req, ErrReplayDetected(req.Counter, device.Counter), "lost counter race")
		}
		return nil, nil, fmt.Errorf("admit submission: %w", err)
	}

	device.Counter = req.Counter
	seen := now
	device.LastSeen = &seen

	a.logger.Info("auth.admitted",
		"device_id", sanitizeForLog(device.ID),
		"correlation_id", req.CorrelationID,
		"counter", req.Counter,
	)
	a.emit(audit.NewSubmissionAdmitted(device.ID, req.CorrelationID, req.Counter))
	return admission, device, nil
}

// reject logs and audits an authentication failure and returns authErr.
// The detail parameter provides additional context for server logs only.
func (a *Authenticator) reject(req Request, authErr *AuthError, detail string) error {
	args := []any{
		"reason", authErr.Code,
		"device_id", sanitizeForLog(req.DeviceID),
		"correlation_id", req.CorrelationID,
	}
	if detail != "" {
		args = append(args, "detail", detail)
	}
	a.logger.Warn("auth.reject", args...)
	a.emit(audit.NewAuthReject(req.DeviceID, req.CorrelationID, authErr.Code, authErr.Message))
	return authErr
}

func (a *Authenticator) emit(ev audit.Event) {
	if err := a.audit.Emit(ev); err != nil {
		a.logger.Error("audit emit failed", "event", string(ev.Type), "error", err)
	}
}

// sanitizeForLog sanitizes a string for logging to prevent log injection.
func sanitizeForLog(s string) string {
	result := strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(result) > 256 {
		result = result[:256] + "..."
	}
	return result
}
