package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCancelledEntryNeverFires(t *testing.T) {
	q := New()
	now := time.Now()

	var fired []string
	idA := q.Schedule(now, 100*time.Millisecond, func() { fired = append(fired, "A") })
	idB := q.Schedule(now, 50*time.Millisecond, func() { fired = append(fired, "B") })
	q.Cancel(idB)

	_ = idA

	fn, ok := q.PopDue(now.Add(200 * time.Millisecond))
	require.True(t, ok)
	fn()

	require.Equal(t, []string{"A"}, fired)
	require.Equal(t, 0, q.Len())
}

func TestPopDueFalseWhenNothingDue(t *testing.T) {
	q := New()
	now := time.Now()
	q.Schedule(now, time.Second, func() {})

	_, ok := q.PopDue(now)
	require.False(t, ok)
}

func TestCancelUnknownIDIsNoop(t *testing.T) {
	q := New()
	q.Cancel(ID(999))
}

func TestCancelAlreadyFiredIsNoop(t *testing.T) {
	q := New()
	now := time.Now()
	id := q.Schedule(now, 0, func() {})

	_, ok := q.PopDue(now)
	require.True(t, ok)

	q.Cancel(id)
	require.Equal(t, 0, q.Len())
}
