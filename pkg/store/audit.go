package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// AuditEntry represents a single audit log record.
type AuditEntry struct {
	ID            int64
	Timestamp     time.Time
	Action        string
	Severity      int
	ActorID       string
	CorrelationID string
	Details       map[string]string
}

// AuditFilter specifies criteria for querying audit entries.
type AuditFilter struct {
	Action        string
	ActorID       string
	CorrelationID string
	Since         time.Time
	Limit         int
}

// InsertAuditEntry adds a new audit log entry to the database.
func (s *Store) InsertAuditEntry(entry *AuditEntry) (int64, error) {
	var detailsJSON sql.NullString
	if len(entry.Details) > 0 {
		data, err := json.Marshal(entry.Details)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal details: %w", err)
		}
		detailsJSON.String = string(data)
		detailsJSON.Valid = true
	}

	result, err := s.db.Exec(
		`INSERT INTO audit_log (timestamp, action, severity, actor_id, correlation_id, details)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UnixMilli(),
		entry.Action,
		entry.Severity,
		entry.ActorID,
		entry.CorrelationID,
		detailsJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// QueryAuditEntries retrieves audit entries matching the given filter, newest first.
func (s *Store) QueryAuditEntries(filter AuditFilter) ([]*AuditEntry, error) {
	var conditions []string
	var args []interface{}

	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, filter.Action)
	}

	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = ?")
		args = append(args, filter.ActorID)
	}

	if filter.CorrelationID != "" {
		conditions = append(conditions, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}

	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.Since.UnixMilli())
	}

	query := `SELECT id, timestamp, action, severity, actor_id, correlation_id, details
	          FROM audit_log`

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY timestamp DESC, id DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func scanAuditEntry(row rowScanner) (*AuditEntry, error) {
	var entry AuditEntry
	var timestamp int64
	var actorID, correlationID, detailsJSON sql.NullString

	err := row.Scan(&entry.ID, &timestamp, &entry.Action, &entry.Severity, &actorID, &correlationID, &detailsJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}

	entry.Timestamp = time.UnixMilli(timestamp)
	entry.ActorID = actorID.String
	entry.CorrelationID = correlationID.String

	if detailsJSON.Valid && detailsJSON.String != "" {
		entry.Details = make(map[string]string)
		if err := json.Unmarshal([]byte(detailsJSON.String), &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}

	return &entry, nil
}
