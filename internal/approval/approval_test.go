package approval

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intercessio/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "intercessio.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewManager(st, nil, nil), st
}

func TestCreateThenResolveApprove(t *testing.T) {
	m, _ := newTestManager(t)

	id, await, err := m.Create(context.Background(), CreateParams{
		SessionID: "sess-1", SessionAlias: "phone", SessionType: store.SessionBunker,
		Client: "abcd", EventKind: 4, PolicyID: "login_and_publish", PolicyLabel: "Login + publish",
		TTL: time.Minute,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	resultCh := make(chan bool, 1)
	go func() { resultCh <- await(context.Background()) }()

	require.NoError(t, m.Resolve(id, true))
	require.True(t, <-resultCh)

	task, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, store.ApprovalApproved, task.Status)
}

func TestResolveUnknownTaskIsNotFound(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Resolve("does-not-exist", true)
	require.Error(t, err)
}

func TestResolveTwiceIsNotFoundSecondTime(t *testing.T) {
	m, _ := newTestManager(t)
	id, await, err := m.Create(context.Background(), CreateParams{
		SessionID: "sess-1", TTL: time.Minute,
	})
	require.NoError(t, err)
	go await(context.Background())

	require.NoError(t, m.Resolve(id, false))
	require.Error(t, m.Resolve(id, true))
}

func TestExpiryResolvesFalse(t *testing.T) {
	m, _ := newTestManager(t)
	id, await, err := m.Create(context.Background(), CreateParams{
		SessionID: "sess-1", TTL: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	result := await(context.Background())
	require.False(t, result)

	task, err := m.Get(id)
	require.NoError(t, err)
	require.Equal(t, store.ApprovalExpired, task.Status)
}

func TestRejectForSessionResolvesAllPendingFalse(t *testing.T) {
	m, _ := newTestManager(t)
	id1, await1, err := m.Create(context.Background(), CreateParams{SessionID: "sess-1", TTL: time.Minute})
	require.NoError(t, err)
	id2, await2, err := m.Create(context.Background(), CreateParams{SessionID: "sess-1", TTL: time.Minute})
	require.NoError(t, err)

	done1 := make(chan bool, 1)
	done2 := make(chan bool, 1)
	go func() { done1 <- await1(context.Background()) }()
	go func() { done2 <- await2(context.Background()) }()

	require.NoError(t, m.RejectForSession("sess-1"))
	require.False(t, <-done1)
	require.False(t, <-done2)

	t1, err := m.Get(id1)
	require.NoError(t, err)
	require.Equal(t, store.ApprovalRejected, t1.Status)
	t2, err := m.Get(id2)
	require.NoError(t, err)
	require.Equal(t, store.ApprovalRejected, t2.Status)
}

func TestRestoreTimersOnBootExpiresPastDueRows(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "intercessio.db"))
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.InsertApprovalTask(store.ApprovalTask{
		ID: "past-due", SessionID: "sess-1", Status: store.ApprovalPending,
		CreatedAt: 1, ExpiresAt: 2,
	}))

	m := NewManager(st, nil, nil)
	require.NoError(t, m.RestoreTimersOnBoot())

	task, err := m.Get("past-due")
	require.NoError(t, err)
	require.Equal(t, store.ApprovalExpired, task.Status)
}

func TestRestoreTimersOnBootArmsFutureRows(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "intercessio.db"))
	require.NoError(t, err)
	defer st.Close()

	future := time.Now().UnixMilli() + 50
	require.NoError(t, st.InsertApprovalTask(store.ApprovalTask{
		ID: "future", SessionID: "sess-1", Status: store.ApprovalPending,
		CreatedAt: 1, ExpiresAt: future,
	}))

	m := NewManager(st, nil, nil)
	require.NoError(t, m.RestoreTimersOnBoot())

	task, err := m.Get("future")
	require.NoError(t, err)
	require.Equal(t, store.ApprovalPending, task.Status)

	require.Eventually(t, func() bool {
		task, err := m.Get("future")
		return err == nil && task.Status == store.ApprovalExpired
	}, time.Second, 10*time.Millisecond)
}
