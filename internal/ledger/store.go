package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"proctord/internal/violation"
)

// Schema for the proctord audit store.
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id      TEXT PRIMARY KEY,
    exam_id         TEXT NOT NULL,
    started_ns      INTEGER NOT NULL,
    ended_ns        INTEGER,
    end_status      TEXT,
    end_reason      TEXT
);

CREATE TABLE IF NOT EXISTS violations (
    id              TEXT PRIMARY KEY,
    session_id      TEXT NOT NULL REFERENCES sessions(session_id),
    sequence        INTEGER NOT NULL,
    kind            TEXT NOT NULL,
    severity        TEXT NOT NULL,
    confidence      TEXT NOT NULL,
    timestamp_ns    INTEGER NOT NULL,
    details         TEXT,
    chain_mac       BLOB NOT NULL,
    UNIQUE (session_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_violations_session ON violations(session_id, sequence);
CREATE INDEX IF NOT EXISTS idx_violations_kind ON violations(kind);
`

// Store is the SQLite audit store. Writes are best-effort from the session
// loop's perspective: a failed insert is logged by the caller, never
// surfaced into the enforcement path.
type Store struct {
	db    *sql.DB
	chain *Chain
}

// OpenStore opens or creates the audit database at path and applies the
// schema. The chain key protects violation rows against silent edits.
func OpenStore(path string, chainKey []byte) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, chain: NewChain(chainKey)}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// BeginSession records a session row.
func (s *Store) BeginSession(sessionID, examID string, startedNs int64) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, exam_id, started_ns)
		VALUES (?, ?, ?)`,
		sessionID, examID, startedNs,
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// EndSession marks a session row finished.
func (s *Store) EndSession(sessionID string, endedNs int64, status, reason string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET ended_ns = ?, end_status = ?, end_reason = ?
		WHERE session_id = ?`,
		endedNs, status, reason, sessionID,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// InsertViolation mirrors an accepted violation into the audit store,
// extending the HMAC chain.
func (s *Store) InsertViolation(sessionID string, v violation.Violation) error {
	details, err := json.Marshal(v.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	mac := s.chain.Extend(sessionID, v)

	_, err = s.db.Exec(`
		INSERT INTO violations (id, session_id, sequence, kind, severity, confidence, timestamp_ns, details, chain_mac)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, sessionID, v.Sequence, string(v.Kind), string(v.Severity),
		string(v.Confidence), v.Timestamp.UnixNano(), string(details), mac,
	)
	if err != nil {
		return fmt.Errorf("insert violation: %w", err)
	}
	return nil
}

// Violations returns all stored violations for a session in sequence order.
func (s *Store) Violations(sessionID string) ([]StoredViolation, error) {
	rows, err := s.db.Query(`
		SELECT id, sequence, kind, severity, confidence, timestamp_ns, details, chain_mac
		FROM violations WHERE session_id = ? ORDER BY sequence`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []StoredViolation
	for rows.Next() {
		var sv StoredViolation
		var details string
		if err := rows.Scan(&sv.ID, &sv.Sequence, &sv.Kind, &sv.Severity,
			&sv.Confidence, &sv.TimestampNs, &details, &sv.ChainMAC); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		if details != "" {
			if err := json.Unmarshal([]byte(details), &sv.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details: %w", err)
			}
		}
		sv.SessionID = sessionID
		out = append(out, sv)
	}
	return out, rows.Err()
}

// CountViolations returns the stored count for a session.
func (s *Store) CountViolations(sessionID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM violations WHERE session_id = ?`, sessionID,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("count violations: %w", err)
	}
	return n, nil
}

// StoredViolation is one audit row.
type StoredViolation struct {
	ID          string
	SessionID   string
	Sequence    int
	Kind        string
	Severity    string
	Confidence  string
	TimestampNs int64
	Details     map[string]string
	ChainMAC    []byte
}
