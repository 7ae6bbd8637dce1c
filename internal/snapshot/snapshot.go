// Package snapshot persists the authority token table across process
// suspensions. The table round-trips byte-for-byte through the JSON
// export; the value graph is execution-scoped and never persisted.
package snapshot

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zamburak/zamburak/internal/authority"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the token table in a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the snapshot database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open database: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore wraps an existing database handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS tokens (
        token_id   TEXT PRIMARY KEY,
        subject    TEXT NOT NULL,
        scope      JSON NOT NULL,
        issued_at  TEXT NOT NULL,
        expires_at TEXT NOT NULL DEFAULT '',
        parent_id  TEXT NOT NULL DEFAULT '',
        revoked    INTEGER NOT NULL DEFAULT 0
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("snapshot: migrate: %w", err)
	}
	return nil
}

// Save replaces the persisted table with the given tokens, atomically.
func (s *SQLiteStore) Save(ctx context.Context, tokens []authority.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("snapshot: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tokens`); err != nil {
		return fmt.Errorf("snapshot: clear tokens: %w", err)
	}

	insert := `INSERT INTO tokens (
		token_id, subject, scope, issued_at, expires_at, parent_id, revoked
	) VALUES (?, ?, ?, ?, ?, ?, ?)`
	for i := range tokens {
		t := &tokens[i]
		scopeJSON, err := json.Marshal(t.Scope)
		if err != nil {
			return fmt.Errorf("snapshot: marshal scope: %w", err)
		}
		expires := ""
		if !t.ExpiresAt.IsZero() {
			expires = formatTime(t.ExpiresAt)
		}
		revoked := 0
		if t.Revoked {
			revoked = 1
		}
		if _, err := tx.ExecContext(ctx, insert,
			t.ID, t.Subject, string(scopeJSON), formatTime(t.IssuedAt), expires, t.ParentID, revoked,
		); err != nil {
			return fmt.Errorf("snapshot: insert token %s: %w", t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("snapshot: commit: %w", err)
	}
	return nil
}

// Load returns the persisted tokens ordered by token ID.
func (s *SQLiteStore) Load(ctx context.Context) ([]authority.Token, error) {
	query := `
        SELECT token_id, subject, scope, issued_at, expires_at, parent_id, revoked
        FROM tokens
        ORDER BY token_id
    `
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("snapshot: query tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tokens []authority.Token
	for rows.Next() {
		var (
			id        string
			subject   string
			scopeJSON string
			issuedAt  string
			expiresAt string
			parentID  string
			revoked   int
		)
		if err := rows.Scan(&id, &subject, &scopeJSON, &issuedAt, &expiresAt, &parentID, &revoked); err != nil {
			return nil, fmt.Errorf("snapshot: scan token: %w", err)
		}
		var scope []string
		if err := json.Unmarshal([]byte(scopeJSON), &scope); err != nil {
			return nil, fmt.Errorf("snapshot: token %s has malformed scope: %w", id, err)
		}
		issued, err := parseTime(issuedAt)
		if err != nil {
			return nil, fmt.Errorf("snapshot: token %s has malformed issued_at: %w", id, err)
		}
		var expires time.Time
		if expiresAt != "" {
			if expires, err = parseTime(expiresAt); err != nil {
				return nil, fmt.Errorf("snapshot: token %s has malformed expires_at: %w", id, err)
			}
		}
		tokens = append(tokens, authority.Token{
			ID:        id,
			Subject:   subject,
			Scope:     scope,
			IssuedAt:  issued,
			ExpiresAt: expires,
			ParentID:  parentID,
			Revoked:   revoked != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: iterate tokens: %w", err)
	}
	return tokens, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// ExportJSON serializes a token table deterministically: one JSON array,
// tokens in store order (sorted by ID), fixed field order, UTC times.
// Exporting the same table twice yields identical bytes.
func ExportJSON(tokens []authority.Token) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tokens); err != nil {
		return nil, fmt.Errorf("snapshot: export: %w", err)
	}
	return buf.Bytes(), nil
}

// ImportJSON parses an exported token table with strict field checking.
func ImportJSON(data []byte) ([]authority.Token, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var tokens []authority.Token
	if err := dec.Decode(&tokens); err != nil {
		return nil, fmt.Errorf("snapshot: import: %w", err)
	}
	return tokens, nil
}

// RestoreStore loads tokens into a fresh authority store and strips
// every held token that is no longer valid at the restore time. A token
// revoked or expired while the execution was suspended must not regain
// effect on resume.
func RestoreStore(store *authority.Store, tokens []authority.Token, heldIDs []string, at time.Time) (surviving []authority.Token, stripped []authority.StrippedToken) {
	store.Restore(tokens)
	return store.RevalidateOnRestore(heldIDs, at)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
