package sched

// Chain is a singly-linked blocking chain (spec §3 "Blocked{next}", §4.3
// "Blocking chains"): a thread in Blocked state forms a list through its
// BlockedNext field, and the resource holding the chain only ever needs to
// remember the head. Releasing one waiter is O(1) and allocation-free:
// the former BlockedNext becomes the new head.
//
// Ordering is LIFO of blocking operations (spec §4.3), since each Park
// pushes onto the head and ReleaseOne pops from the head.
type Chain struct {
	head ThreadID
	set  bool
}

// NewChain returns an empty chain.
func NewChain() Chain { return Chain{head: HasNoBlockedNext} }

// Empty reports whether any thread is currently parked on this chain.
func (c *Chain) Empty() bool {
	return !c.set || c.head == HasNoBlockedNext
}

// Park links th onto the head of chain and transitions it to Blocked. The
// caller is responsible for then yielding (spec §5 "join into a singly-
// linked blocking chain, transition to Blocked, call yield_current").
func (s *Scheduler) Park(id ThreadID, chain *Chain) {
	th := s.mustThread(id)
	prevHead := HasNoBlockedNext
	if chain.set {
		prevHead = chain.head
	}
	th.BlockedNext = prevHead
	th.State = Blocked
	chain.head = id
	chain.set = true
}

// ReleaseOne releases the thread at the head of chain (if any), moving it
// to Waiting and publishing its former BlockedNext as the new head.
// Reports whether a thread was released.
func (s *Scheduler) ReleaseOne(chain *Chain) bool {
	if chain.Empty() {
		return false
	}
	id := chain.head
	th := s.mustThread(id)
	chain.head = th.BlockedNext
	th.State = Waiting
	return true
}
