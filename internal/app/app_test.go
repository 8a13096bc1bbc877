package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atillabyte/World/internal/config"
	"github.com/atillabyte/World/internal/network"
	"github.com/atillabyte/World/internal/storage"
	"github.com/atillabyte/World/internal/world"
)

func testConfig(t *testing.T, backend string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Backend = backend
	cfg.Store.Path = t.TempDir()
	cfg.Session.URL = "ws://game.local/worlds/{world}"
	return cfg
}

func TestNewWithBackends(t *testing.T) {
	for _, backend := range []string{config.BackendMemory, config.BackendFile, config.BackendBadger, config.BackendSQLite} {
		t.Run(backend, func(t *testing.T) {
			a, err := New(context.Background(), testConfig(t, backend))
			require.NoError(t, err)
			require.NotNil(t, a.Store)
			require.NotNil(t, a.Bus)
			assert.NoError(t, a.Close())
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, "floppy")
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestCachedStoreReadsThrough(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	cfg.Cache.Enabled = true

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	cached, ok := a.Store.(*storage.CachedObjectStore)
	require.True(t, ok)

	files, err := storage.NewFileObjectStore(cfg.Store.Path, false)
	require.NoError(t, err)
	gen := world.NewGenerator(7)
	gen.Width, gen.Height = 10, 10
	snap, err := gen.Generate("cached")
	require.NoError(t, err)
	require.NoError(t, storage.SaveSnapshot(context.Background(), files, cfg.Sync.Collection, "w1", snap))

	got, err := a.LoadSource(context.Background(), "w1")
	require.NoError(t, err)
	assert.Equal(t, "cached", got.Name())
	assert.NoError(t, cached.Invalidate(context.Background(), cfg.Sync.Collection, "w1"))
}

func TestLoadSourceFromFile(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	defer a.Close()

	path := filepath.Join(t.TempDir(), "world.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Local","worlddata":[{"type":9,"x1":"AQ==","y1":"Ag=="}]}`), 0o644))

	snap, err := a.LoadSource(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "Local", snap.Name())
	assert.Equal(t, 1, snap.PositionCount())

	_, err = a.LoadSource(context.Background(), "absent")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestChannelConfig(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	defer a.Close()

	cc, err := a.ChannelConfig("PW01")
	require.NoError(t, err)
	assert.Equal(t, network.ChannelWebSocket, cc.Type)
	assert.Equal(t, "ws://game.local/worlds/PW01", cc.Address)

	a.Config.Session.Transport = "kcp"
	a.Config.Session.URL = "127.0.0.1:7777"
	cc, err = a.ChannelConfig("PW01")
	require.NoError(t, err)
	assert.Equal(t, network.ChannelKCP, cc.Type)
	assert.Equal(t, "127.0.0.1:7777", cc.Address)

	a.Config.Session.URL = ""
	_, err = a.ChannelConfig("PW01")
	assert.Error(t, err)
}

func TestSyncOptionsAndManager(t *testing.T) {
	a, err := New(context.Background(), testConfig(t, config.BackendMemory))
	require.NoError(t, err)
	defer a.Close()

	assert.Len(t, a.SyncOptions(), 7)
	assert.NotNil(t, a.Manager())
}
