package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"intercessio/internal/config"
)

func TestNewWiresAllSingletonsAndStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	paths := config.ResolvePaths(dir)

	d, err := New(cfg, paths, nil)
	require.NoError(t, err)
	require.NotNil(t, d.sessions)
	require.NotNil(t, d.approvals)
	require.NotNil(t, d.control)

	require.FileExists(t, filepath.Join(dir, "keys.json"))
	require.FileExists(t, filepath.Join(dir, "state.json"))
	require.FileExists(t, filepath.Join(dir, "intercessio.db"))

	d.Stop()
	d.Stop() // must not panic or double-close
}
