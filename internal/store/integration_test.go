//go:build integration

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/maximbilan/vaultai/internal/store"
	"github.com/maximbilan/vaultai/internal/store/storetest"
)

func exerciseStore(t *testing.T, s *store.SQLStore) {
	ctx := context.Background()

	storetest.AddCredential(t, s, "u1", "openai", "sk-1")
	c := store.Credential{UserID: "u1", Provider: "openai", APIKey: "sk-2", Active: true}
	require.NoError(t, s.UpsertCredential(ctx, &c))

	active, err := s.ListActiveCredentials(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "sk-2", active[0].APIKey)

	storetest.AddItem(t, s, "u1", "link", "a", "x", 10)
	storetest.AddItem(t, s, "u1", "link", "b", "y", 20)
	items, err := s.ListRecentItems(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "b", items[0].Title)

	require.NoError(t, s.DeleteCredential(ctx, "u1", "openai"))
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("vault"),
		postgres.WithUsername("vault"),
		postgres.WithPassword("vault"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := store.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
}

func TestMySQLStore(t *testing.T) {
	ctx := context.Background()

	ctr, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("vault"),
		mysql.WithUsername("vault"),
		mysql.WithPassword("vault"),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)

	s, err := store.Open("mysql", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s)
}
