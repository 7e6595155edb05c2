package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// appName is used for the default state directory.
const appName = "realitycam"

// ErrNotFound is returned by lookups that require an existing row.
var ErrNotFound = errors.New("not found")

// Store provides device, challenge, evidence and audit persistence.
type Store struct {
	db *sql.DB
}

// DefaultPath returns the default database path following the XDG spec.
func DefaultPath() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appName, appName+".db")
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// Pragmas in the DSN apply to every pooled connection. Transactions take
	// the write lock at BEGIN so the counter check and update cannot interleave.
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets the evidence readers run while an admission holds the write lock.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate creates the schema if it doesn't exist.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS devices (
		id TEXT PRIMARY KEY,
		public_key BLOB NOT NULL,
		key_fingerprint TEXT NOT NULL,
		attestation_level TEXT NOT NULL DEFAULT 'unverified',
		counter INTEGER NOT NULL DEFAULT 0,
		model TEXT DEFAULT '',
		last_seen INTEGER,
		attested_at INTEGER,
		registered_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_devices_fingerprint ON devices(key_fingerprint);

	-- Single-use attestation challenges
	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		nonce BLOB NOT NULL,
		device_id TEXT DEFAULT '',
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		consumed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_challenges_expires ON challenges(expires_at);

	-- Accepted submissions; written together with the counter advance
	CREATE TABLE IF NOT EXISTS admissions (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(id),
		counter INTEGER NOT NULL,
		correlation_id TEXT NOT NULL,
		capture_key TEXT DEFAULT '',
		admitted_at INTEGER NOT NULL,
		UNIQUE (device_id, counter)
	);
	CREATE INDEX IF NOT EXISTS idx_admissions_device ON admissions(device_id);

	-- Evidence packages (append-only)
	CREATE TABLE IF NOT EXISTS evidence (
		id TEXT PRIMARY KEY,
		admission_id TEXT NOT NULL REFERENCES admissions(id),
		device_id TEXT NOT NULL,
		capture_key TEXT DEFAULT '',
		media_digest TEXT NOT NULL,
		package TEXT NOT NULL,
		confidence TEXT NOT NULL,
		manifest BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_evidence_device ON evidence(device_id);
	CREATE INDEX IF NOT EXISTS idx_evidence_media ON evidence(media_digest);

	CREATE TRIGGER IF NOT EXISTS evidence_no_update BEFORE UPDATE ON evidence
	BEGIN
		SELECT RAISE(ABORT, 'evidence is append-only');
	END;
	CREATE TRIGGER IF NOT EXISTS evidence_no_delete BEFORE DELETE ON evidence
	BEGIN
		SELECT RAISE(ABORT, 'evidence is append-only');
	END;

	CREATE TABLE IF NOT EXISTS audit_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp INTEGER NOT NULL,
		action TEXT NOT NULL,
		severity INTEGER NOT NULL DEFAULT 6,
		actor_id TEXT DEFAULT '',
		correlation_id TEXT DEFAULT '',
		details TEXT,
		created_at INTEGER DEFAULT (strftime('%s', 'now'))
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
	CREATE INDEX IF NOT EXISTS idx_audit_log_correlation ON audit_log(correlation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
// This should only be used in tests to manipulate state for testing edge cases.
func (s *Store) DB() *sql.DB {
	return s.db
}
