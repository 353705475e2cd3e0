// Package storetest provides store fixtures for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/maximbilan/vaultai/internal/store"
)

// NewStore creates an in-memory sqlite store with all migrations applied.
// It automatically closes the store when the test completes.
func NewStore(t *testing.T) *store.SQLStore {
	t.Helper()

	s, err := store.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// AddCredential stores an active key for userID and provider.
func AddCredential(t *testing.T, s store.Store, userID, provider, apiKey string) store.Credential {
	t.Helper()

	c := store.Credential{UserID: userID, Provider: provider, APIKey: apiKey, Active: true}
	if err := s.UpsertCredential(context.Background(), &c); err != nil {
		t.Fatalf("adding credential: %v", err)
	}
	return c
}

// AddItem stores an item for userID updated at updatedTs.
func AddItem(t *testing.T, s store.Store, userID, typ, title, content string, updatedTs int64) store.Item {
	t.Helper()

	item := store.Item{UserID: userID, Type: typ, Title: title, Content: content, CreatedTs: updatedTs, UpdatedTs: updatedTs}
	if err := s.CreateItem(context.Background(), &item); err != nil {
		t.Fatalf("adding item: %v", err)
	}
	return item
}
