package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddThreadFirstThreadRunsImmediately(t *testing.T) {
	s := New()
	id := s.AddThread(&Thread{Name: "first"})

	require.Equal(t, Running, s.Thread(id).State)
	require.Equal(t, id, s.CurrentID())
}

func TestAddThreadSubsequentThreadsWait(t *testing.T) {
	s := New()
	s.AddThread(&Thread{Name: "first"})
	second := s.AddThread(&Thread{Name: "second"})

	require.Equal(t, Waiting, s.Thread(second).State)
}

func TestTickRoundRobinsInAdditionOrder(t *testing.T) {
	s := New()
	a := s.AddThread(&Thread{Name: "a"})
	b := s.AddThread(&Thread{Name: "b"})
	c := s.AddThread(&Thread{Name: "c"})

	next, _ := s.Tick(nil)
	require.Equal(t, b, next.ID)

	next, _ = s.Tick(nil)
	require.Equal(t, c, next.ID)

	next, _ = s.Tick(nil)
	require.Equal(t, a, next.ID)
}

func TestTickCallsSaveOnThePreviousThread(t *testing.T) {
	s := New()
	s.AddThread(&Thread{Name: "a"})
	s.AddThread(&Thread{Name: "b"})

	var saved *Thread
	s.Tick(func(cur *Thread) { saved = cur })
	require.Equal(t, "a", saved.Name)
}

func TestTickSkipsBlockedThreads(t *testing.T) {
	s := New()
	s.AddThread(&Thread{Name: "a"})
	b := s.AddThread(&Thread{Name: "b"})
	c := s.AddThread(&Thread{Name: "c"})

	s.Thread(b).State = Blocked

	next, _ := s.Tick(nil)
	require.Equal(t, c, next.ID)
}

func TestTickPanicsWithNoRunnableThread(t *testing.T) {
	s := New()
	a := s.AddThread(&Thread{Name: "a"})
	s.Thread(a).State = Blocked

	require.PanicsWithValue(t, ErrNoRunnableThread, func() { s.Tick(nil) })
}

func TestTickReportsServiceChangeOnlyWhenServiceActuallyChanges(t *testing.T) {
	s := New()
	s.AddThread(&Thread{Name: "a"})
	s.AddThread(&Thread{Name: "b"})

	_, changed := s.Tick(nil)
	require.False(t, changed, "neither thread has a service; nothing changed")
}

func TestTickReportsServiceChangeFromNoneToSome(t *testing.T) {
	s := New()
	s.AddThread(&Thread{Name: "a"})
	s.AddThread(&Thread{Name: "b", Service: 7, HasService: true})

	_, changed := s.Tick(nil)
	require.True(t, changed)
}

func TestTickReportsServiceChangeBetweenDistinctServices(t *testing.T) {
	s := New()
	s.AddThread(&Thread{Name: "a", Service: 1, HasService: true})
	s.AddThread(&Thread{Name: "b", Service: 2, HasService: true})

	_, changed := s.Tick(nil)
	require.True(t, changed)
}

func TestTickReportsNoServiceChangeBetweenThreadsOfSameService(t *testing.T) {
	s := New()
	s.AddThread(&Thread{Name: "a", Service: 1, HasService: true})
	s.AddThread(&Thread{Name: "b", Service: 1, HasService: true})

	_, changed := s.Tick(nil)
	require.False(t, changed)
}

func TestChainParkReleaseOneIsLIFO(t *testing.T) {
	s := New()
	first := s.AddThread(&Thread{Name: "first"})
	second := s.AddThread(&Thread{Name: "second"})
	third := s.AddThread(&Thread{Name: "third"})

	var chain Chain
	s.Park(first, &chain)
	s.Park(second, &chain)
	s.Park(third, &chain)

	require.True(t, s.ReleaseOne(&chain))
	require.Equal(t, Waiting, s.Thread(third).State)
	require.Equal(t, Blocked, s.Thread(second).State)
	require.Equal(t, Blocked, s.Thread(first).State)

	require.True(t, s.ReleaseOne(&chain))
	require.Equal(t, Waiting, s.Thread(second).State)

	require.True(t, s.ReleaseOne(&chain))
	require.Equal(t, Waiting, s.Thread(first).State)

	require.True(t, chain.Empty())
}

func TestChainReleaseOneOnEmptyChainReportsFalse(t *testing.T) {
	s := New()
	var chain Chain
	require.True(t, chain.Empty())
	require.False(t, s.ReleaseOne(&chain))
}

func TestChainEmptyAfterAllWaitersReleased(t *testing.T) {
	s := New()
	first := s.AddThread(&Thread{Name: "first"})

	var chain Chain
	s.Park(first, &chain)
	require.False(t, chain.Empty())

	s.ReleaseOne(&chain)
	require.True(t, chain.Empty())
}
