package service

import (
	"serva/internal/sched"
	"serva/internal/syncutil"
)

// ConnID indexes into a service's own Connections slice; it is only
// meaningful relative to that service (spec §4.4 "returning the caller's
// index as the handle").
type ConnID uint32

// Connection is a bidirectional channel shared by exactly two services,
// which may be the same service (spec §3 "Connection"). Both services hold
// a pointer to the same record; each has its own index into it.
type Connection struct {
	Caller ServiceID
	Target ServiceID

	Current      *Request
	RequestPipe  *Pipe
	ResponsePipe *Pipe

	// CloseChain parks threads waiting for a request to fully close (spec
	// §3 "optional blocking chain for request-close waiters").
	CloseChain sched.Chain

	// Mutex guards Current and both pipes' streaming cursors: spec §5
	// "Each connection has its own mutex; distinct connections are
	// independent."
	Mutex *syncutil.Mutex
}

// NewConnection builds a fresh connection between caller and target, with
// empty pipes streaming against no parameters until the first request sets
// them (spec §3).
func NewConnection(s *sched.Scheduler, caller, target ServiceID) *Connection {
	return &Connection{
		Caller:       caller,
		Target:       target,
		RequestPipe:  NewPipe(nil),
		ResponsePipe: NewPipe(nil),
		CloseChain:   sched.NewChain(),
		Mutex:        syncutil.NewMutex(s),
	}
}

// PipesFor returns (write, read) for self's point of view on this
// connection (spec §4.4 "Pipe I/O ... Selection of pipe direction follows a
// fixed rule"): the target writes on response and reads on request;
// everyone else (the caller) writes on request and reads on response.
func (c *Connection) PipesFor(self ServiceID) (write, read *Pipe) {
	if c.Target == self {
		return c.ResponsePipe, c.RequestPipe
	}
	return c.RequestPipe, c.ResponsePipe
}

// tryCompleteRequest runs after any operation that might have changed a
// pipe's closed/drained state. The caller must hold c.Mutex.
//
// Once the callee (target) has closed and fully drained its write side (the
// response pipe), it will never consume more of the request pipe either —
// so the request pipe's read side is closed too, the request having been
// "torn down from the callee side" (design note §9 resolution 2, "reader
// closes first"; the source's unused `reading_closed` made real). This
// unblocks a caller still parked on a full request pipe instead of leaving
// it stuck forever; closing the caller's own read side is not symmetric,
// since the caller is still expected to read the response after it
// finishes writing the request.
//
// Current itself is cleared once both directions have independently closed
// and drained (spec §8 invariant 8: "close_write on the last writer" — the
// second of the two write sides to finish is what actually completes the
// exchange).
func (c *Connection) tryCompleteRequest(s *sched.Scheduler) {
	if c.Current == nil {
		return
	}

	if c.ResponsePipe.Closed() && c.ResponsePipe.Empty() && !c.RequestPipe.ReadClosed() {
		c.RequestPipe.CloseRead(s)
	}

	requestDone := c.RequestPipe.Closed() && c.RequestPipe.Empty()
	responseDone := c.ResponsePipe.Closed() && c.ResponsePipe.Empty()
	if requestDone && responseDone {
		c.Current = nil
		s.ReleaseOne(&c.CloseChain)
	}
}
