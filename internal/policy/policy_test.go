package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAutoSignAlwaysSigns(t *testing.T) {
	r := NewRegistry()
	p, ok := r.Get("auto_sign")
	require.True(t, ok)
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: 999}))
}

func TestOnlineLoginRejectsNonLogin(t *testing.T) {
	r := NewRegistry()
	p, ok := r.Get("online_login")
	require.True(t, ok)
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindLogin}))
	require.Equal(t, Reject, p.Evaluate(Context{EventKind: KindShortNote}))
}

func TestLoginAndPublish(t *testing.T) {
	r := NewRegistry()
	p, ok := r.Get("login_and_publish")
	require.True(t, ok)
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindLogin}))
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindShortNote}))
	require.Equal(t, Reject, p.Evaluate(Context{EventKind: KindProfileUpdate}))
	require.Equal(t, Refer, p.Evaluate(Context{EventKind: KindEncryptedDM}))
}

func TestLoginAutoOthersReview(t *testing.T) {
	r := NewRegistry()
	p, ok := r.Get("login_auto_others_review")
	require.True(t, ok)
	require.Equal(t, Sign, p.Evaluate(Context{EventKind: KindLogin}))
	require.Equal(t, Refer, p.Evaluate(Context{EventKind: KindShortNote}))
}

func TestLookupFallsBackToDefaultOnUnknownID(t *testing.T) {
	r := NewRegistry()
	p, ok := r.Lookup("does-not-exist")
	require.False(t, ok)
	require.Equal(t, r.DefaultID(), p.ID)
}

func TestGetRejectsUnknownID(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Get("does-not-exist")
	require.False(t, ok)
}

func TestListIsDeterministicallyOrdered(t *testing.T) {
	r := NewRegistry()
	ids := func(ps []Policy) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.ID
		}
		return out
	}
	a := r.List()
	b := r.List()
	require.Equal(t, ids(a), ids(b))
	require.Equal(t, []string{"auto_sign", "login_and_publish", "login_auto_others_review", "online_login"}, ids(a))
	require.Len(t, a, 4)
}
