package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intercessio/internal/activity"
	"intercessio/internal/approval"
	"intercessio/internal/metadata"
	"intercessio/internal/policy"
	"intercessio/internal/session"
	"intercessio/internal/store"
	"intercessio/internal/vault"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "intercessio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	meta, err := metadata.Open(dir)
	require.NoError(t, err)

	v, err := vault.OpenFileVault(filepath.Join(dir, "secrets.json"), filepath.Join(dir, "salt"))
	require.NoError(t, err)

	registry := policy.NewRegistry()
	log := activity.NewLog()
	approvals := approval.NewManager(st, nil, nil)
	sessions := session.NewManager(st, v, meta, registry, log, approvals, nil, time.Minute)

	socketPath := filepath.Join(dir, "intercessio.sock")
	srv := NewServer(socketPath, Dependencies{Sessions: sessions, Approvals: approvals, Log: log}, nil, nil)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)

	return srv, socketPath
}

func roundTrip(t *testing.T, socketPath string, req Request) Response {
	t.Helper()
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	data, err := json.Marshal(req)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = conn.Write(data)
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestPingReturnsOKWithUptime(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := roundTrip(t, socketPath, Request{Tag: TagPing})
	require.True(t, resp.OK)
	require.NotNil(t, resp.Pong)
}

func TestUnknownTagReturnsError(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := roundTrip(t, socketPath, Request{Tag: "not-a-real-tag"})
	require.False(t, resp.OK)
	require.Equal(t, "Unknown request", resp.Error)
}

func TestListSessionsEmptyInitially(t *testing.T) {
	_, socketPath := newTestServer(t)
	resp := roundTrip(t, socketPath, Request{Tag: TagListSessions})
	require.True(t, resp.OK)
	require.Empty(t, resp.Sessions)
}

func TestStopUnknownSessionIsOK(t *testing.T) {
	_, socketPath := newTestServer(t)
	payload, _ := json.Marshal(SessionIDPayload{SessionID: "nope"})
	resp := roundTrip(t, socketPath, Request{Tag: TagStopSession, Payload: payload})
	require.True(t, resp.OK)
}

func TestResolveApprovalUnknownIDErrors(t *testing.T) {
	_, socketPath := newTestServer(t)
	payload, _ := json.Marshal(ResolveApprovalPayload{ID: "nope", Decision: "approve"})
	resp := roundTrip(t, socketPath, Request{Tag: TagResolveApproval, Payload: payload})
	require.False(t, resp.OK)
	require.Equal(t, "Approval not found", resp.Error)
}

func TestMalformedJSONReturnsParseError(t *testing.T) {
	_, socketPath := newTestServer(t)
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("{not json\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(line, &resp))
	require.False(t, resp.OK)
}

func TestAcquireSingletonSucceedsWithNoSocketFile(t *testing.T) {
	dir := t.TempDir()
	socketPath := filepath.Join(dir, "intercessio.sock")

	// No listener at all: socket path doesn't exist yet.
	require.NoError(t, AcquireSingleton(socketPath))
}
