package sched

import (
	"serva/internal/arch"
	"serva/internal/kconfig"
)

// Scheduler is the one global round-robin scheduler singleton: a
// fixed-capacity table of threads and a "current thread id" slot (spec
// §4.3).
type Scheduler struct {
	threads [kconfig.MaxThreads]*Thread
	count   int
	current int // index into threads of the running thread, -1 if none yet
}

// New returns an empty scheduler. cmd/kernel constructs exactly one of
// these at boot.
func New() *Scheduler {
	return &Scheduler{current: -1}
}

// ErrNoRunnableThread is the panic payload used when Tick finds no
// Waiting thread. Design note §9 resolution 1 guarantees this is
// unreachable in normal operation: the boot sequence always spawns a
// resident idle thread that is Waiting whenever it isn't Running.
const ErrNoRunnableThread = "sched: no runnable thread (missing idle thread?)"

// AddThread appends t to the table; no reordering (spec §4.3).
func (s *Scheduler) AddThread(t *Thread) ThreadID {
	if s.count >= len(s.threads) {
		panic("sched: thread table full")
	}
	t.ID = ThreadID(s.count)
	s.threads[s.count] = t
	if s.current == -1 {
		s.current = s.count
		t.State = Running
	} else {
		t.State = Waiting
	}
	s.count++
	return t.ID
}

func (s *Scheduler) mustThread(id ThreadID) *Thread {
	if int(id) >= s.count {
		panic("sched: unknown thread id")
	}
	return s.threads[id]
}

// Thread returns the thread record for id, for callers (service table,
// syncutil) that need to inspect or mutate scheduling state directly.
func (s *Scheduler) Thread(id ThreadID) *Thread {
	return s.mustThread(id)
}

// CurrentID returns the id of the currently running thread.
func (s *Scheduler) CurrentID() ThreadID {
	if s.current == -1 {
		panic("sched: no thread is running yet")
	}
	return s.threads[s.current].ID
}

// Tick saves ctx into the current thread (if any), transitions it from
// Running to Waiting, then picks the next runnable thread in round-robin
// order starting one past the current index. Panics per ErrNoRunnableThread
// if nothing is Waiting (see design note §9 resolution 1: should not
// happen with a resident idle thread).
func (s *Scheduler) Tick(save func(cur *Thread)) (next *Thread, serviceChanged bool) {
	var prevService ServiceID
	var hadService bool
	if s.current != -1 {
		cur := s.threads[s.current]
		if save != nil {
			save(cur)
		}
		if cur.State == Running {
			cur.State = Waiting
		}
		prevService, hadService = cur.Service, cur.HasService
	}

	start := s.current
	if start == -1 {
		start = -1
	}
	n := s.count
	for i := 1; i <= n; i++ {
		idx := (start + i) % n
		if s.threads[idx].State == Waiting {
			s.current = idx
			s.threads[idx].State = Running
			next := s.threads[idx]
			changed := next.HasService != hadService ||
				(hadService && next.HasService && next.Service != prevService)
			return next, changed
		}
	}
	panic(ErrNoRunnableThread)
}

// YieldCurrent raises the breakpoint interrupt that re-enters the tick
// path (spec §4.3: "the ONLY cooperative yield mechanism").
func (s *Scheduler) YieldCurrent() {
	arch.Breakpoint()
}

// CurrentService looks up the running thread's service association, if
// any (spec §4.3 current_service).
func (s *Scheduler) CurrentService() (ServiceID, bool) {
	if s.current == -1 {
		return NoService, false
	}
	cur := s.threads[s.current]
	return cur.Service, cur.HasService
}

// SetCurrentState overrides the running thread's state directly. Used by
// syncutil/service parking code when the caller wants to Block or
// Waiting-revert the running thread itself without going through Tick.
func (s *Scheduler) SetCurrentState(state RunState) {
	if s.current == -1 {
		panic("sched: no thread is running yet")
	}
	s.threads[s.current].State = state
}

// CurrentThread returns the running thread's full record.
func (s *Scheduler) CurrentThread() *Thread {
	if s.current == -1 {
		panic("sched: no thread is running yet")
	}
	return s.threads[s.current]
}
