package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the canonical durable session storage. It also backs the
// user directory.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create session db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process gateway. One shared connection avoids writer lock
	// contention with SQLite under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			identity TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			last_activity_ms INTEGER NOT NULL,
			ended_at_ms INTEGER NOT NULL DEFAULT 0,
			messages_json TEXT NOT NULL DEFAULT '[]',
			metadata_json TEXT NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS sessions_identity_status_idx ON sessions(identity, status);`,
		`CREATE INDEX IF NOT EXISTS sessions_status_idle_idx ON sessions(status, last_activity_ms);`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			phone TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			bio TEXT NOT NULL DEFAULT '',
			onboarding_completed INTEGER NOT NULL DEFAULT 0
		);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init session db: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, rec Record) error {
	msgs, err := encodeMessages(rec.Messages)
	if err != nil {
		return err
	}
	meta, err := encodeMap(rec.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, identity, status, started_at_ms, last_activity_ms, ended_at_ms, messages_json, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Identity, string(rec.Status),
		rec.StartedAtMS, rec.LastActivityMS, rec.EndedAtMS, msgs, meta)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, identity, status, started_at_ms, last_activity_ms, ended_at_ms, messages_json, metadata_json
		FROM sessions WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) FindActive(ctx context.Context, identity string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, identity, status, started_at_ms, last_activity_ms, ended_at_ms, messages_json, metadata_json
		FROM sessions WHERE identity = ? AND status = ?
		ORDER BY started_at_ms DESC LIMIT 1`, identity, string(StatusActive))
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("find active session: %w", err)
	}
	return rec, true, nil
}

func (s *SQLiteStore) AppendMessages(ctx context.Context, id string, msgs []Message, lastActivityMS int64) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status, messagesJSON string
	err = tx.QueryRowContext(ctx, `SELECT status, messages_json FROM sessions WHERE id = ?`, id).
		Scan(&status, &messagesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read session for append: %w", err)
	}
	if Status(status) != StatusActive {
		return ErrSessionClosed
	}

	existing, err := decodeMessages(messagesJSON)
	if err != nil {
		return err
	}
	existing = append(existing, msgs...)
	encoded, err := encodeMessages(existing)
	if err != nil {
		return err
	}

	// MAX keeps last_activity monotonic under concurrent appends.
	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET messages_json = ?, last_activity_ms = MAX(last_activity_ms, ?)
		WHERE id = ?`, encoded, lastActivityMS, id)
	if err != nil {
		return fmt.Errorf("append messages: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetMetadata(ctx context.Context, id, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metadata tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status, metadataJSON string
	err = tx.QueryRowContext(ctx, `SELECT status, metadata_json FROM sessions WHERE id = ?`, id).
		Scan(&status, &metadataJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read session metadata: %w", err)
	}
	if Status(status) != StatusActive {
		return ErrSessionClosed
	}

	meta, err := decodeMap(metadataJSON)
	if err != nil {
		return err
	}
	if value == "" {
		delete(meta, key)
	} else {
		meta[key] = value
	}
	encoded, err := encodeMap(meta)
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET metadata_json = ? WHERE id = ?`, encoded, id); err != nil {
		return fmt.Errorf("update session metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metadata tx: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkClosed(ctx context.Context, id string, endedAtMS int64) ([]Message, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin close tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status, messagesJSON string
	err = tx.QueryRowContext(ctx, `SELECT status, messages_json FROM sessions WHERE id = ?`, id).
		Scan(&status, &messagesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("read session for close: %w", err)
	}
	// The status guard makes close idempotent: only the call that flips
	// active to closed reports a transition, and a closed row is never
	// rewritten.
	if Status(status) != StatusActive {
		return nil, false, nil
	}

	// The transcript is read, sorted, and finalized in the same transaction
	// that flips the status, so appends that committed before the close are
	// in it and appends after it fail with ErrSessionClosed.
	transcript, err := decodeMessages(messagesJSON)
	if err != nil {
		return nil, false, err
	}
	SortMessages(transcript)
	encoded, err := encodeMessages(transcript)
	if err != nil {
		return nil, false, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at_ms = ?, messages_json = ?
		WHERE id = ?`,
		string(StatusClosed), endedAtMS, encoded, id)
	if err != nil {
		return nil, false, fmt.Errorf("close session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit close tx: %w", err)
	}
	return transcript, true, nil
}

func (s *SQLiteStore) ListIdleActive(ctx context.Context, cutoffMS int64) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, identity, status, started_at_ms, last_activity_ms, ended_at_ms, messages_json, metadata_json
		FROM sessions WHERE status = ? AND last_activity_ms <= ?
		ORDER BY last_activity_ms ASC`, string(StatusActive), cutoffMS)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan idle session: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpsertUser registers or updates a directory entry.
func (s *SQLiteStore) UpsertUser(ctx context.Context, u UserProfile) error {
	onboarded := 0
	if u.OnboardingCompleted {
		onboarded = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, phone, name, bio, onboarding_completed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET phone=excluded.phone, name=excluded.name,
			bio=excluded.bio, onboarding_completed=excluded.onboarding_completed`,
		u.ID, u.Phone, u.Name, u.Bio, onboarded)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ResolveUserID(ctx context.Context, identity string) (UserProfile, error) {
	profile, err := s.lookupUser(ctx, identity)
	if err == nil {
		return profile, nil
	}
	if !errors.Is(err, ErrUnknownIdentity) {
		return UserProfile{}, err
	}

	// Some registrations store the number without the plus prefix.
	bare := strings.TrimPrefix(identity, "+")
	if bare == identity {
		return UserProfile{}, ErrUnknownIdentity
	}
	return s.lookupUser(ctx, bare)
}

func (s *SQLiteStore) lookupUser(ctx context.Context, phone string) (UserProfile, error) {
	var (
		u         UserProfile
		onboarded int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, phone, name, bio, onboarding_completed FROM users WHERE phone = ?`, phone).
		Scan(&u.ID, &u.Phone, &u.Name, &u.Bio, &onboarded)
	if errors.Is(err, sql.ErrNoRows) {
		return UserProfile{}, ErrUnknownIdentity
	}
	if err != nil {
		return UserProfile{}, fmt.Errorf("lookup user: %w", err)
	}
	u.OnboardingCompleted = onboarded != 0
	return u, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec          Record
		status       string
		messagesJSON string
		metadataJSON string
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Identity, &status,
		&rec.StartedAtMS, &rec.LastActivityMS, &rec.EndedAtMS, &messagesJSON, &metadataJSON)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	if rec.Messages, err = decodeMessages(messagesJSON); err != nil {
		return Record{}, err
	}
	if rec.Metadata, err = decodeMap(metadataJSON); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func encodeMessages(msgs []Message) (string, error) {
	if msgs == nil {
		msgs = []Message{}
	}
	raw, err := json.Marshal(msgs)
	if err != nil {
		return "", fmt.Errorf("encode messages: %w", err)
	}
	return string(raw), nil
}

func decodeMessages(raw string) ([]Message, error) {
	if raw == "" {
		return []Message{}, nil
	}
	var msgs []Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return msgs, nil
}

func encodeMap(m map[string]string) (string, error) {
	if m == nil {
		m = map[string]string{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode metadata: %w", err)
	}
	return string(raw), nil
}

func decodeMap(raw string) (map[string]string, error) {
	if raw == "" {
		return map[string]string{}, nil
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return out, nil
}
