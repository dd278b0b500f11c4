package syncutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"serva/internal/sched"
)

func newSchedWithThreads(t *testing.T, n int) (*sched.Scheduler, []sched.ThreadID) {
	t.Helper()
	s := sched.New()
	ids := make([]sched.ThreadID, n)
	for i := 0; i < n; i++ {
		ids[i] = s.AddThread(&sched.Thread{Name: "t"})
	}
	return s, ids
}

func TestMutexUncontendedLockUnlock(t *testing.T) {
	s, _ := newSchedWithThreads(t, 1)
	m := NewMutex(s)

	m.Lock()
	require.Equal(t, locked, m.state.Load())
	m.Unlock()
	require.Equal(t, unlocked, m.state.Load())
}

func TestMutexUnlockReleasesHeadOfChain(t *testing.T) {
	s, ids := newSchedWithThreads(t, 2)
	m := NewMutex(s)

	m.Lock()

	// Simulate what Lock's contended path does for a second thread: join
	// the chain and transition to Blocked, without driving the infinite
	// retry loop (that loop's suspend/resume semantics require a real
	// interrupt-driven context switch, out of scope for a host test; see
	// internal/arch's package doc).
	s.Park(ids[1], &m.chain)
	require.Equal(t, sched.Blocked, s.Thread(ids[1]).State)

	m.Unlock()

	require.Equal(t, unlocked, m.state.Load())
	require.Equal(t, sched.Waiting, s.Thread(ids[1]).State)
	require.True(t, m.chain.Empty())
}

func TestMutexUnlockOnEmptyChainIsNoop(t *testing.T) {
	s, _ := newSchedWithThreads(t, 1)
	m := NewMutex(s)

	m.Lock()
	require.NotPanics(t, func() { m.Unlock() })
}
