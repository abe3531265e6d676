package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "config.toml"))
	require.NoError(t, err)
	require.Equal(t, Default().ApprovalTTLSeconds, cfg.ApprovalTTLSeconds)
	require.Equal(t, "https://ntfy.sh", cfg.Notifier.BaseURL)
}

func TestLoadParsesFileAndOverridesApply(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	err := os.WriteFile(path, []byte(`
approval_ttl_seconds = 120
log_level = "debug"

[notifier]
topic = "from-file"
`), 0600)
	require.NoError(t, err)

	t.Setenv("NTFY_TOPIC", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 120, cfg.ApprovalTTLSeconds)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, "from-env", cfg.Notifier.Topic)
}

func TestValidateRejectsBadLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "loud"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveTTL(t *testing.T) {
	cfg := Default()
	cfg.ApprovalTTLSeconds = 0
	require.Error(t, cfg.Validate())
}

func TestDirHonorsEnvOverride(t *testing.T) {
	t.Setenv("INTERCESSIO_DATA_DIR", "/tmp/intercessio-test-dir")
	dir, err := Dir()
	require.NoError(t, err)
	require.Equal(t, "/tmp/intercessio-test-dir", dir)
}

func TestResolvePaths(t *testing.T) {
	paths := ResolvePaths("/base")
	require.Equal(t, "/base/intercessio.sock", paths.SocketFile)
	require.Equal(t, "/base/intercessio.db", paths.DatabaseFile)
	require.Equal(t, "/base/keys.json", paths.KeysFile)
}
