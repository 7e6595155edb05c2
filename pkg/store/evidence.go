package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EvidenceRecord is a persisted evidence package. Records are append-only;
// the schema rejects updates and deletes.
type EvidenceRecord struct {
	ID          string
	AdmissionID string
	DeviceID    string
	CaptureKey  string
	MediaDigest string
	Package     []byte // evidence.Assessment JSON
	Confidence  string
	Manifest    []byte // DSSE envelope JSON
	CreatedAt   time.Time
}

// InsertEvidence appends an evidence record.
func (s *Store) InsertEvidence(ctx context.Context, r *EvidenceRecord) error {
	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evidence (id, admission_id, device_id, capture_key, media_digest, package, confidence, manifest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AdmissionID, r.DeviceID, r.CaptureKey, r.MediaDigest, string(r.Package), r.Confidence, r.Manifest, createdAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert evidence: %w", err)
	}
	return nil
}

// GetEvidence retrieves an evidence record by ID.
// Returns nil if the record does not exist.
func (s *Store) GetEvidence(ctx context.Context, id string) (*EvidenceRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, admission_id, device_id, capture_key, media_digest, package, confidence, manifest, created_at
		 FROM evidence WHERE id = ?`,
		id,
	)
	r, err := scanEvidence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evidence: %w", err)
	}
	return r, nil
}

// ListEvidenceByDevice returns a device's evidence, newest first.
func (s *Store) ListEvidenceByDevice(ctx context.Context, deviceID string, limit int) ([]*EvidenceRecord, error) {
	query := `SELECT id, admission_id, device_id, capture_key, media_digest, package, confidence, manifest, created_at
	          FROM evidence WHERE device_id = ? ORDER BY created_at DESC, id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list evidence: %w", err)
	}
	defer rows.Close()

	var records []*EvidenceRecord
	for rows.Next() {
		r, err := scanEvidence(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanEvidence(row rowScanner) (*EvidenceRecord, error) {
	var r EvidenceRecord
	var captureKey sql.NullString
	var pkg string
	var createdAt int64

	err := row.Scan(&r.ID, &r.AdmissionID, &r.DeviceID, &captureKey, &r.MediaDigest, &pkg, &r.Confidence, &r.Manifest, &createdAt)
	if err != nil {
		return nil, err
	}
	r.CaptureKey = captureKey.String
	r.Package = []byte(pkg)
	r.CreatedAt = time.Unix(createdAt, 0)
	return &r, nil
}
