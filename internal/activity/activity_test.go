package activity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordStampsIDAndTimestamp(t *testing.T) {
	l := NewLog()
	e := l.Record(Entry{Type: SignRequest, Summary: "kind 1"})
	require.NotEmpty(t, e.ID)
	require.NotZero(t, e.Timestamp)
}

func TestListIsNewestFirst(t *testing.T) {
	l := NewLog()
	l.Record(Entry{ID: "1", Timestamp: 100, Type: SessionStart})
	l.Record(Entry{ID: "2", Timestamp: 200, Type: SessionStop})

	list := l.List()
	require.Len(t, list, 2)
	require.Equal(t, "2", list[0].ID)
	require.Equal(t, "1", list[1].ID)
}

func TestRingBufferDropsOldest(t *testing.T) {
	l := NewLog()
	for i := 0; i < capacity+10; i++ {
		l.Record(Entry{Timestamp: int64(i), Type: SignRequest})
	}
	list := l.List()
	require.Len(t, list, capacity)
	require.Equal(t, int64(capacity+9), list[0].Timestamp)
}
