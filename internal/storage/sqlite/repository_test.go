package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/storage"
	"fintrack/internal/storage/storetest"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(filepath.Join(t.TempDir(), "nested", "fintrack.db"))
	require.NoError(t, err)
	return repo
}

func TestRepositoryConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storage.Store { return newTestRepository(t) })
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fintrack.db")
	repo, err := NewRepository(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	require.NoError(t, RunMigrations(DSN(path)))
	reopened, err := NewRepository(path)
	require.NoError(t, err)
	defer reopened.Close()

	_, err = reopened.GetTransaction(context.Background(), "owner", "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestForeignKeysAreEnforced(t *testing.T) {
	repo := newTestRepository(t)
	defer repo.Close()

	var enabled int
	require.NoError(t, repo.db.QueryRow("PRAGMA foreign_keys").Scan(&enabled))
	assert.Equal(t, 1, enabled)
}
