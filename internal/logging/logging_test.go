package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf, Component: "test"})

	l.Info("vault write", "vault_account", "acct-123", "secret", "s3cr3t", "session_id", "abc-1")

	out := buf.String()
	require.NotContains(t, out, "acct-123")
	require.NotContains(t, out, "s3cr3t")
	require.Contains(t, out, "abc-1")
	require.True(t, strings.Contains(out, "[REDACTED]"))
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: LevelInfo, Format: FormatJSON, Output: &buf, Component: "daemon"})
	child := l.WithComponent("approval")
	child.Info("hello")
	require.Contains(t, buf.String(), `"component":"approval"`)
}
