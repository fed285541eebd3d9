package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mpharvest/mpharvest/internal/config"
	"github.com/mpharvest/mpharvest/internal/storage/local"
	"github.com/mpharvest/mpharvest/internal/storage/memory"
)

func TestInitSnapshotsSelectsBackend(t *testing.T) {
	t.Parallel()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		a := &App{cfg: config.Config{Storage: config.StorageConfig{Backend: "memory"}}}
		snapshots, err := a.initSnapshots(context.Background())
		require.NoError(t, err)
		require.IsType(t, &memory.SnapshotStore{}, snapshots)
	})

	t.Run("defaults to memory", func(t *testing.T) {
		t.Parallel()
		a := &App{cfg: config.Config{}}
		snapshots, err := a.initSnapshots(context.Background())
		require.NoError(t, err)
		require.IsType(t, &memory.SnapshotStore{}, snapshots)
	})

	t.Run("local", func(t *testing.T) {
		t.Parallel()
		a := &App{cfg: config.Config{Storage: config.StorageConfig{
			Backend:  "local",
			LocalDir: t.TempDir(),
		}}}
		snapshots, err := a.initSnapshots(context.Background())
		require.NoError(t, err)
		require.IsType(t, &local.SnapshotStore{}, snapshots)
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Parallel()
		a := &App{cfg: config.Config{Storage: config.StorageConfig{Backend: "s3"}}}
		_, err := a.initSnapshots(context.Background())
		require.Error(t, err)
		require.Contains(t, err.Error(), "unknown storage backend")
	})
}
