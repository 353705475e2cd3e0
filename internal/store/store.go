// Package store persists the two tables the AI subsystem reads: per-user
// provider credentials and vault items used as chat context.
package store

import (
	"context"
)

// Credential is one user's key for one provider. At most one row exists
// per (user, provider).
type Credential struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	Provider  string `db:"provider"`
	APIKey    string `db:"api_key"`
	Active    bool   `db:"is_active"`
	CreatedTs int64  `db:"created_ts"`
	UpdatedTs int64  `db:"updated_ts"`
}

// Item is a stored vault entry (link, email, message, password, contact, web URL).
type Item struct {
	ID        string `db:"id" json:"id"`
	UserID    string `db:"user_id" json:"-"`
	Type      string `db:"type" json:"type"`
	Title     string `db:"title" json:"title"`
	Content   string `db:"content" json:"content"`
	CreatedTs int64  `db:"created_ts" json:"createdTs"`
	UpdatedTs int64  `db:"updated_ts" json:"updatedTs"`
}

// Store defines the persistence interface for credentials and items.
type Store interface {
	// === Credentials ===

	// ListActiveCredentials returns the user's active credentials in insertion
	// order. Replacing a key keeps its position. No rows is an empty slice, not an error.
	ListActiveCredentials(ctx context.Context, userID string) ([]Credential, error)
	ListCredentials(ctx context.Context, userID string) ([]Credential, error)
	// UpsertCredential inserts or replaces the row keyed by (user, provider)
	// and fills in the stored ID and timestamps.
	UpsertCredential(ctx context.Context, c *Credential) error
	DeleteCredential(ctx context.Context, userID, provider string) error

	// === Items ===

	// ListRecentItems returns at most limit items, most recently updated first.
	ListRecentItems(ctx context.Context, userID string, limit int) ([]Item, error)
	CreateItem(ctx context.Context, item *Item) error

	Close() error
}
