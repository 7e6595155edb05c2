package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	ErrChallengeNotFound = errors.New("challenge not found")
	ErrChallengeConsumed = errors.New("challenge already consumed")
	ErrChallengeExpired  = errors.New("challenge expired")
)

// Challenge is a single-use attestation nonce.
type Challenge struct {
	ID         string
	Nonce      []byte
	DeviceID   string // optional binding
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ConsumedAt *time.Time
}

// CreateChallenge stores a new challenge.
func (s *Store) CreateChallenge(ctx context.Context, c *Challenge) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO challenges (id, nonce, device_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Nonce, c.DeviceID, c.CreatedAt.UnixMilli(), c.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

// GetChallenge retrieves a challenge by ID.
// Returns nil if the challenge does not exist.
func (s *Store) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	c, err := getChallenge(ctx, s.db, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return c, nil
}

// ConsumeChallenge marks the challenge used and returns it. A challenge can be
// consumed once; it is still usable at exactly its expiry instant.
func (s *Store) ConsumeChallenge(ctx context.Context, id string, now time.Time) (*Challenge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin consume: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE challenges SET consumed_at = ?
		 WHERE id = ? AND consumed_at IS NULL AND expires_at >= ?`,
		now.UnixMilli(), id, now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}
	rows, _ := result.RowsAffected()

	c, err := getChallenge(ctx, tx, id)
	if err == sql.ErrNoRows {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	if rows == 0 {
		// Report consumption before expiry: a used nonce is a replay.
		if c.ConsumedAt != nil {
			return nil, ErrChallengeConsumed
		}
		return nil, ErrChallengeExpired
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit consume: %w", err)
	}
	return c, nil
}

// CleanupExpiredChallenges deletes challenges that expired before now.
// Returns the count of deleted challenges.
func (s *Store) CleanupExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM challenges WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired challenges: %w", err)
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get cleanup count: %w", err)
	}
	return count, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getChallenge(ctx context.Context, q queryRower, id string) (*Challenge, error) {
	var c Challenge
	var deviceID sql.NullString
	var createdAt, expiresAt int64
	var consumedAt sql.NullInt64

	err := q.QueryRowContext(ctx,
		`SELECT id, nonce, device_id, created_at, expires_at, consumed_at FROM challenges WHERE id = ?`,
		id,
	).Scan(&c.ID, &c.Nonce, &deviceID, &createdAt, &expiresAt, &consumedAt)
	if err != nil {
		return nil, err
	}

	c.DeviceID = deviceID.String
	c.CreatedAt = time.UnixMilli(createdAt)
	c.ExpiresAt = time.UnixMilli(expiresAt)
	if consumedAt.Valid {
		t := time.UnixMilli(consumedAt.Int64)
		c.ConsumedAt = &t
	}
	return &c, nil
}
