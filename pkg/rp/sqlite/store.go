// Copyright (c) 2026 Pairkey Authors
//
// This file is part of pairkey, licensed under the GNU Affero General
// Public License v3.0. See https://www.gnu.org/licenses/agpl-3.0.html

// Package sqlite provides durable identity and credential storage for the
// relying party over a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/pairkey/pairkey/pkg/rp"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	username       TEXT PRIMARY KEY,
	user_id        BLOB NOT NULL,
	display_name   TEXT NOT NULL,
	challenge_json TEXT,
	created_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	credential_id   TEXT PRIMARY KEY,
	username        TEXT NOT NULL REFERENCES identities(username),
	counter         INTEGER NOT NULL,
	credential_json TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	last_used_at    INTEGER
);

CREATE INDEX IF NOT EXISTS idx_credentials_username ON credentials(username);
`

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements rp.IdentityStore and rp.CredentialStore over SQLite.
//
// The signature counter and last-used timestamp live in their own columns so
// the counter update can be a single guarded UPDATE; the rest of the
// credential is stored as JSON.
type Store struct {
	db *sql.DB
}

// Open opens the store at the given path, creating the schema if needed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get retrieves an identity by username.
func (s *Store) Get(ctx context.Context, username string) (*rp.Identity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT username, user_id, display_name, created_at FROM identities WHERE username = ?`,
		username)

	var identity rp.Identity
	var createdAt int64
	if err := row.Scan(&identity.Username, &identity.ID, &identity.DisplayName, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, rp.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("get identity: %w", err)
	}
	identity.CreatedAt = fromMillis(createdAt)
	return &identity, nil
}

// Create creates a new identity, or returns the existing one unchanged.
func (s *Store) Create(ctx context.Context, username, displayName string) (*rp.Identity, error) {
	identity := rp.NewIdentity(username, displayName)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identities (username, user_id, display_name, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(username) DO NOTHING`,
		identity.Username, identity.ID, identity.DisplayName, toMillis(identity.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("create identity: %w", err)
	}

	return s.Get(ctx, username)
}

// SetChallenge stores the live challenge for an identity. Last write wins.
func (s *Store) SetChallenge(ctx context.Context, username string, challenge *rp.Challenge) error {
	payload, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("marshal challenge: %w", err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE identities SET challenge_json = ? WHERE username = ?`,
		string(payload), username)
	if err != nil {
		return fmt.Errorf("set challenge: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return rp.ErrIdentityNotFound
	}
	return nil
}

// TakeChallenge retrieves and clears the live challenge in one transaction.
func (s *Store) TakeChallenge(ctx context.Context, username string) (*rp.Challenge, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin take challenge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var payload sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT challenge_json FROM identities WHERE username = ?`,
		username).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rp.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load challenge: %w", err)
	}
	if !payload.Valid || payload.String == "" {
		return nil, rp.ErrNoChallenge
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE identities SET challenge_json = NULL WHERE username = ?`,
		username); err != nil {
		return nil, fmt.Errorf("clear challenge: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit take challenge: %w", err)
	}

	var challenge rp.Challenge
	if err := json.Unmarshal([]byte(payload.String), &challenge); err != nil {
		return nil, fmt.Errorf("unmarshal challenge: %w", err)
	}
	return &challenge, nil
}

// Add stores a new credential. Credential IDs are globally unique.
func (s *Store) Add(ctx context.Context, cred *rp.Credential) error {
	payload, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	var lastUsed sql.NullInt64
	if !cred.LastUsedAt.IsZero() {
		lastUsed = sql.NullInt64{Int64: toMillis(cred.LastUsedAt), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (credential_id, username, counter, credential_json, created_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hex.EncodeToString(cred.ID), cred.Username, cred.SignCount,
		string(payload), toMillis(cred.CreatedAt), lastUsed)
	if err != nil {
		if isUniqueViolation(err) {
			return rp.ErrDuplicateCredential
		}
		return fmt.Errorf("add credential: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether the driver error is a primary-key or
// unique-constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}

// ByUsername retrieves all credentials registered to an identity.
func (s *Store) ByUsername(ctx context.Context, username string) ([]*rp.Credential, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT counter, credential_json, last_used_at FROM credentials WHERE username = ? ORDER BY created_at`,
		username)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	creds := []*rp.Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows.Scan)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	return creds, nil
}

// ByID retrieves a credential by its ID.
func (s *Store) ByID(ctx context.Context, credID []byte) (*rp.Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT counter, credential_json, last_used_at FROM credentials WHERE credential_id = ?`,
		hex.EncodeToString(credID))

	cred, err := scanCredential(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rp.ErrCredentialNotFound
	}
	return cred, err
}

// UpdateCounter records a successful login. The UPDATE is guarded on the
// stored counter so concurrent logins on one credential have exactly one
// winner.
func (s *Store) UpdateCounter(ctx context.Context, credID []byte, previous, next uint32, usedAt time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE credentials SET counter = ?, last_used_at = ? WHERE credential_id = ? AND counter = ?`,
		next, toMillis(usedAt), hex.EncodeToString(credID), previous)
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	if n == 0 {
		if _, err := s.ByID(ctx, credID); err != nil {
			return err
		}
		return rp.ErrConflict
	}
	return nil
}

// scanCredential builds a credential from a row, letting the counter and
// last-used columns override the JSON snapshot.
func scanCredential(scan func(...any) error) (*rp.Credential, error) {
	var counter uint32
	var payload string
	var lastUsed sql.NullInt64
	if err := scan(&counter, &payload, &lastUsed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	var cred rp.Credential
	if err := json.Unmarshal([]byte(payload), &cred); err != nil {
		return nil, fmt.Errorf("unmarshal credential: %w", err)
	}
	cred.SignCount = counter
	if lastUsed.Valid {
		cred.LastUsedAt = fromMillis(lastUsed.Int64)
	}
	return &cred, nil
}

var _ rp.IdentityStore = (*Store)(nil)
var _ rp.CredentialStore = (*Store)(nil)
