package lobby_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobby"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := lobby.LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, lobby.DefaultConfig(), cfg)
	assert.Equal(t, ":4002", cfg.ListenAddr)
	assert.Equal(t, lobby.StoreMemory, cfg.Store)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lobby.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen_addr: ":8080"
store: sqlite
sqlite_path: /tmp/pages.db
fetch_timeout: 3s
upstream_url: http://api.local/graphql
`), 0o600))

	t.Setenv("LOBBY_LISTEN_ADDR", ":9090")

	cfg, err := lobby.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.ListenAddr, "env overrides file")
	assert.Equal(t, lobby.StoreSQLite, cfg.Store)
	assert.Equal(t, "/tmp/pages.db", cfg.SQLitePath)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout)
	assert.Equal(t, "http://api.local/graphql", cfg.UpstreamURL)
	assert.Equal(t, "lobby", cfg.RedisPrefix, "defaults survive")
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("LOBBY_STORE", "cassandra")
	_, err := lobby.LoadConfig("")
	assert.Error(t, err)

	_, err = lobby.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := lobby.DefaultConfig()
	cfg.Store = lobby.StoreRedis
	cfg.RedisAddr = ""
	assert.Error(t, cfg.Validate())

	cfg = lobby.DefaultConfig()
	cfg.FetchTimeout = -time.Second
	assert.Error(t, cfg.Validate())
}
