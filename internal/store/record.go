// Package store persists one encrypted credential record per user identity.
package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when no credential record exists for the
// requested user. The caller must route the user through the OAuth flow.
var ErrNotFound = errors.New("credential record not found")

// Record is the persisted representation of a user's OAuth grant.
// AccessToken and RefreshToken hold ciphertext; plaintext tokens never leave
// the credential manager.
type Record struct {
	UserID       string
	AccessToken  string // encrypted
	RefreshToken string // encrypted, empty when the provider never issued one
	ExpiresAt    time.Time
	Scopes       []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store is the persistence port for credential records.
type Store interface {
	// Get returns the record for userID, or ErrNotFound.
	Get(ctx context.Context, userID string) (*Record, error)

	// Upsert inserts or replaces the record for record.UserID in a single
	// row-level transaction. Repeated identical calls converge on the same
	// final state; concurrent writers for the same user resolve to
	// last-write-wins.
	Upsert(ctx context.Context, record *Record) error

	// Delete removes the record for userID. Administrative use only; the
	// credential lifecycle itself never deletes records.
	Delete(ctx context.Context, userID string) error
}

// joinScopes flattens a scope set for storage.
func joinScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}

// splitScopes restores a scope set from its stored form.
func splitScopes(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Fields(s)
}
