package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lzyats/im-sentinel/internal/config"
)

func TestOpenJSONCreatesLayout(t *testing.T) {
	root := t.TempDir()
	cfg := &config.Config{}
	cfg.Storage.Driver = "json"
	cfg.Storage.DataDir = filepath.Join(root, "data")
	cfg.Storage.AuthDir = filepath.Join(root, ".auth")

	st, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()

	for _, name := range []string{"welcome_seen.json", "deleted_messages.json"} {
		b, err := os.ReadFile(filepath.Join(cfg.Storage.DataDir, name))
		require.NoError(t, err)
		assert.Equal(t, "[]", string(b))
	}
	_, err = os.Stat(cfg.Storage.AuthDir)
	assert.NoError(t, err)
}

func TestOpenPebble(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Driver = "pebble"
	cfg.Storage.Pebble.Path = filepath.Join(t.TempDir(), "pebble")

	st, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	added, err := st.Seen.Add(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, added)
	assert.NoError(t, st.Close())
}

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := &config.Config{}
	cfg.Storage.Driver = "redis"
	cfg.Storage.Redis.Addr = mr.Addr()
	cfg.Storage.Redis.Prefix = "x:"

	st, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer st.Close()
	_, err = st.Seen.Add(context.Background(), "A")
	require.NoError(t, err)
	assert.True(t, mr.Exists("x:welcome_seen"))
}

func TestOpenUnknownDriver(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Driver = "mongo"
	_, err := Open(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}
