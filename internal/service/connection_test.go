package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"serva/internal/kerrors"
	"serva/internal/sched"
)

func newTestConnection(s *sched.Scheduler) *Connection {
	c := NewConnection(s, 0, 1)
	c.Current = &Request{Endpoint: 5}
	return c
}

func TestNewConnectionMutexIsUsable(t *testing.T) {
	s := sched.New()
	s.AddThread(&sched.Thread{Name: "t"})
	c := NewConnection(s, 0, 1)

	c.Mutex.Lock()
	c.Mutex.Unlock()
}

func TestTryCompleteRequestKeepsCurrentUntilBothSidesDrain(t *testing.T) {
	s := sched.New()
	s.AddThread(&sched.Thread{Name: "t"})
	c := newTestConnection(s)

	c.RequestPipe.CloseWrite(s)
	c.tryCompleteRequest(s)
	require.NotNil(t, c.Current, "response side hasn't closed yet")

	c.ResponsePipe.CloseWrite(s)
	c.tryCompleteRequest(s)
	require.Nil(t, c.Current)
}

func TestTryCompleteRequestReleasesStuckRequestWriterWhenCalleeFinishesFirst(t *testing.T) {
	s := sched.New()
	writerID := s.AddThread(&sched.Thread{Name: "writer"})
	c := newTestConnection(s)

	s.Park(writerID, &c.RequestPipe.writerChain)
	require.Equal(t, sched.Blocked, s.Thread(writerID).State)

	c.ResponsePipe.CloseWrite(s)
	c.tryCompleteRequest(s)

	require.Equal(t, sched.Waiting, s.Thread(writerID).State)
	require.True(t, c.RequestPipe.ReadClosed())

	_, err := c.RequestPipe.Write(s, []byte("more"))
	require.ErrorIs(t, err, kerrors.ErrRequestClosed)
}

func TestTryCompleteRequestReleasesCloseChainWaiterOnceBothSidesDrain(t *testing.T) {
	s := sched.New()
	waiterID := s.AddThread(&sched.Thread{Name: "waiter"})
	c := newTestConnection(s)

	s.Park(waiterID, &c.CloseChain)
	c.RequestPipe.CloseWrite(s)
	c.ResponsePipe.CloseWrite(s)
	c.tryCompleteRequest(s)

	require.Equal(t, sched.Waiting, s.Thread(waiterID).State)
	require.Nil(t, c.Current)
}
