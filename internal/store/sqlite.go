package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the SQLite implementation of Store. One row per user;
// writes go through the single writer connection, reads through the pooled
// reader connection.
type SQLiteStore struct {
	db *DB
}

// NewSQLiteStore creates a SQLiteStore on top of an open DB.
func NewSQLiteStore(db *DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get returns the credential record for userID, or ErrNotFound.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Record, error) {
	const query = `SELECT user_id, access_token, refresh_token, expires_at, scopes, created_at, updated_at
		FROM credentials WHERE user_id = ?`

	var rec Record
	var expiresAt, scopes, createdAt, updatedAt string
	err := s.db.Reader.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID, &rec.AccessToken, &rec.RefreshToken, &expiresAt, &scopes, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get credential %q: %w", userID, err)
	}

	if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at for %q: %w", userID, err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at for %q: %w", userID, err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at for %q: %w", userID, err)
	}
	rec.Scopes = splitScopes(scopes)

	return &rec, nil
}

// Upsert inserts or replaces the record for record.UserID. The single-row
// ON CONFLICT update keeps the operation atomic under the engine's row
// locking; last write wins for concurrent writers of the same user.
func (s *SQLiteStore) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if record.UserID == "" {
		return errors.New("record user_id cannot be empty")
	}

	const query = `INSERT INTO credentials (user_id, access_token, refresh_token, expires_at, scopes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(user_id) DO UPDATE SET
			access_token  = excluded.access_token,
			refresh_token = excluded.refresh_token,
			expires_at    = excluded.expires_at,
			scopes        = excluded.scopes,
			updated_at    = CURRENT_TIMESTAMP`

	_, err := s.db.Writer.ExecContext(ctx, query,
		record.UserID,
		record.AccessToken,
		record.RefreshToken,
		formatTime(record.ExpiresAt),
		joinScopes(record.Scopes),
	)
	if err != nil {
		return fmt.Errorf("upsert credential %q: %w", record.UserID, err)
	}
	return nil
}

// Delete removes the record for userID. Deleting an absent record is not an
// error.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	const query = `DELETE FROM credentials WHERE user_id = ?`
	if _, err := s.db.Writer.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete credential %q: %w", userID, err)
	}
	return nil
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts both the RFC 3339 values this store writes and the
// CURRENT_TIMESTAMP format SQLite produces for created_at/updated_at.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, sqliteTimeLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", s)
}
