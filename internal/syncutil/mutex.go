package syncutil

import (
	"sync/atomic"

	"serva/internal/sched"
)

// Mutex is the scheduler-aware mutex of spec §5 "Scheduler-aware mutex":
// Acquire loops on a compare-exchange of a lock byte; on failure the caller
// joins the mutex's blocking chain, transitions to Blocked and yields
// instead of busy-spinning, preventing the spin storm a bare SpinMutex would
// cause across cooperative threads sharing one CPU. Release stores
// unlocked, then releases at most one waiter from the head of the chain
// (spec §4.3 "Blocking chains").
//
// Each connection owns one of these (spec §5 "Each connection has its own
// mutex; distinct connections are independent").
type Mutex struct {
	state atomic.Uint32
	chain sched.Chain
	s     *sched.Scheduler
}

// NewMutex returns an unlocked mutex that parks contending threads on s.
func NewMutex(s *sched.Scheduler) *Mutex {
	return &Mutex{chain: sched.NewChain(), s: s}
}

// Lock acquires the mutex, parking the calling thread into the blocking
// chain and yielding on contention rather than spinning.
func (m *Mutex) Lock() {
	for {
		if m.state.CompareAndSwap(unlocked, locked) {
			return
		}
		m.s.Park(m.s.CurrentID(), &m.chain)
		m.s.YieldCurrent()
	}
}

// Unlock releases the mutex and wakes at most one parked waiter. The lock is
// not handed over: Unlock stores unlocked first, and the released waiter
// retries its compare-exchange once rescheduled, parking again if another
// thread took the lock in between.
func (m *Mutex) Unlock() {
	m.state.Store(unlocked)
	m.s.ReleaseOne(&m.chain)
}
