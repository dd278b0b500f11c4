// Package sched is the round-robin thread scheduler (spec §2 component E,
// §4.3): thread records, blocking/unblocking chains, the tick handler, and
// cooperative yield via software interrupt.
package sched

import "serva/internal/arch"

// ThreadID identifies a thread within the scheduler's fixed-capacity table.
type ThreadID uint32

// RunState is a thread's scheduling state (spec §3 Thread).
type RunState uint8

const (
	// Running is the currently executing thread (at most one at a time,
	// single CPU per spec §5).
	Running RunState = iota
	// Waiting is runnable: eligible to be picked by the next Tick.
	Waiting
	// Blocked means this thread is linked into some resource's blocking
	// chain and is not eligible for the dispatcher until released.
	Blocked
)

// ServiceID is an opaque handle into internal/service; sched only stores
// it, never interprets it (keeps sched free of an import on service, which
// itself imports sched for blocking-chain parking).
type ServiceID uint32

// NoService is the zero value meaning "no service association".
const NoService ServiceID = 0

// HasNoBlockedNext is the sentinel meaning a Blocked thread is the tail of
// its chain.
const HasNoBlockedNext ThreadID = ^ThreadID(0)

// Thread is one scheduler-visible execution context (spec §3).
type Thread struct {
	ID    ThreadID
	Ctx   arch.Context
	State RunState

	// BlockedNext is only meaningful when State == Blocked: the next
	// thread in this resource's singly-linked blocking chain, or
	// HasNoBlockedNext at the tail.
	BlockedNext ThreadID

	Service   ServiceID
	HasService bool

	Name string
}
