package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// AttestationLevel records how far a device's key has been vouched for.
type AttestationLevel string

const (
	AttestationHardwareVerified AttestationLevel = "hardware_verified"
	AttestationUnverified       AttestationLevel = "unverified"
)

// Valid reports whether l is a known level.
func (l AttestationLevel) Valid() bool {
	return l == AttestationHardwareVerified || l == AttestationUnverified
}

var (
	// ErrDeviceExists is returned when registering an id that is already taken.
	ErrDeviceExists = errors.New("device already registered")

	// ErrCounterNotIncreased is returned by AdmitSubmission when the stored
	// counter is already at or above the submitted one.
	ErrCounterNotIncreased = errors.New("counter did not increase")
)

// Device is a registered capture device.
type Device struct {
	ID               string
	PublicKey        []byte // PKIX DER
	KeyFingerprint   string
	AttestationLevel AttestationLevel
	Counter          uint64
	Model            string
	LastSeen         *time.Time
	AttestedAt       *time.Time
	RegisteredAt     time.Time
}

// Admission is the record written when a submission passes authentication.
type Admission struct {
	ID            string
	DeviceID      string
	Counter       uint64
	CorrelationID string
	CaptureKey    string
	AdmittedAt    time.Time
}

// CreateDevice registers a new device. The counter starts at d.Counter.
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	if d.Counter > math.MaxInt64 {
		return fmt.Errorf("counter %d out of range", d.Counter)
	}
	level := d.AttestationLevel
	if level == "" {
		level = AttestationUnverified
	}
	registeredAt := d.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now()
	}

	var attestedAt sql.NullInt64
	if d.AttestedAt != nil {
		attestedAt = sql.NullInt64{Int64: d.AttestedAt.Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, public_key, key_fingerprint, attestation_level, counter, model, attested_at, registered_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.PublicKey, d.KeyFingerprint, string(level), int64(d.Counter), d.Model, attestedAt, registeredAt.Unix(),
	)
	if err != nil {
		existing, getErr := s.GetDevice(ctx, d.ID)
		if getErr == nil && existing != nil {
			return fmt.Errorf("%w: %s", ErrDeviceExists, d.ID)
		}
		return fmt.Errorf("failed to create device: %w", err)
	}
	return nil
}

// GetDevice retrieves a device by ID.
// Returns nil if the device does not exist.
func (s *Store) GetDevice(ctx context.Context, id string) (*Device, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, public_key, key_fingerprint, attestation_level, counter, model, last_seen, attested_at, registered_at
		 FROM devices WHERE id = ?`,
		id,
	)
	d, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	return d, nil
}

// ListDevices returns all registered devices ordered by registration time.
func (s *Store) ListDevices(ctx context.Context) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, public_key, key_fingerprint, attestation_level, counter, model, last_seen, attested_at, registered_at
		 FROM devices ORDER BY registered_at, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateDeviceAttestation records the outcome of an attestation verification.
// A non-empty publicKey replaces the registered key and its fingerprint.
func (s *Store) UpdateDeviceAttestation(ctx context.Context, id string, level AttestationLevel, publicKey []byte, fingerprint string, at time.Time) error {
	if !level.Valid() {
		return fmt.Errorf("invalid attestation level %q", level)
	}

	var result sql.Result
	var err error
	if len(publicKey) > 0 {
		result, err = s.db.ExecContext(ctx,
			`UPDATE devices SET attestation_level = ?, attested_at = ?, public_key = ?, key_fingerprint = ? WHERE id = ?`,
			string(level), at.Unix(), publicKey, fingerprint, id,
		)
	} else {
		result, err = s.db.ExecContext(ctx,
			`UPDATE devices SET attestation_level = ?, attested_at = ? WHERE id = ?`,
			string(level), at.Unix(), id,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update device attestation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("device %s: %w", id, ErrNotFound)
	}
	return nil
}

// AdmitSubmission advances the device counter to a.Counter and records the
// admission in a single transaction. The update only applies while the stored
// counter is strictly below a.Counter, so of two racing submissions carrying
// the same counter exactly one is admitted and the other receives
// ErrCounterNotIncreased.
func (s *Store) AdmitSubmission(ctx context.Context, a *Admission) error {
	if a.Counter > math.MaxInt64 {
		return fmt.Errorf("%w: counter %d out of range", ErrCounterNotIncreased, a.Counter)
	}
	admittedAt := a.AdmittedAt
	if admittedAt.IsZero() {
		admittedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin admission: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE devices SET counter = ?, last_seen = ? WHERE id = ? AND counter < ?`,
		int64(a.Counter), admittedAt.Unix(), a.DeviceID, int64(a.Counter),
	)
	if err != nil {
		return fmt.Errorf("failed to advance counter: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows != 1 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE id = ?`, a.DeviceID).Scan(&exists)
		if err == sql.ErrNoRows {
			return fmt.Errorf("device %s: %w", a.DeviceID, ErrNotFound)
		}
		return ErrCounterNotIncreased
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO admissions (id, device_id, counter, correlation_id, capture_key, admitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.DeviceID, int64(a.Counter), a.CorrelationID, a.CaptureKey, admittedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record admission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit admission: %w", err)
	}
	return nil
}

// GetAdmission retrieves an admission by ID. Returns nil if it does not exist.
func (s *Store) GetAdmission(ctx context.Context, id string) (*Admission, error) {
	var a Admission
	var counter, admittedAt int64
	var captureKey sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, device_id, counter, correlation_id, capture_key, admitted_at FROM admissions WHERE id = ?`,
		id,
	).Scan(&a.ID, &a.DeviceID, &counter, &a.CorrelationID, &captureKey, &admittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get admission: %w", err)
	}
	a.Counter = uint64(counter)
	a.CaptureKey = captureKey.String
	a.AdmittedAt = time.Unix(admittedAt, 0)
	return &a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*Device, error) {
	var d Device
	var level string
	var counter, registeredAt int64
	var model sql.NullString
	var lastSeen, attestedAt sql.NullInt64

	err := row.Scan(&d.ID, &d.PublicKey, &d.KeyFingerprint, &level, &counter, &model, &lastSeen, &attestedAt, &registeredAt)
	if err != nil {
		return nil, err
	}

	d.AttestationLevel = AttestationLevel(level)
	d.Counter = uint64(counter)
	d.Model = model.String
	d.RegisteredAt = time.Unix(registeredAt, 0)
	if lastSeen.Valid {
		t := time.Unix(lastSeen.Int64, 0)
		d.LastSeen = &t
	}
	if attestedAt.Valid {
		t := time.Unix(attestedAt.Int64, 0)
		d.AttestedAt = &t
	}
	return &d, nil
}
