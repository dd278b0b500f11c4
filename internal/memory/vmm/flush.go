package vmm

import "runtime"

// Flush is the "syntactically visible" TLB-coherence obligation every
// mutating mapper operation returns (spec §4.2 "Flush discipline"). It
// accumulates up to four touched addresses; the caller MUST call Flush()
// or Discard() exactly once. Go has no move-only types, so this cannot be
// enforced at compile time the way the source material's linear-typed
// handle does; a finalizer instead hands a dropped handle to
// onDroppedFlush, which is a no-op by default (it neither logs nor panics).
type Flush struct {
	addrs    [4]VirtAddr
	n        int
	consumed bool
}

const maxFlushEntries = 4

func newFlush() *Flush {
	f := &Flush{}
	runtime.SetFinalizer(f, func(f *Flush) {
		if !f.consumed {
			onDroppedFlush(f)
		}
	})
	return f
}

func (f *Flush) add(v VirtAddr) {
	if f.n < maxFlushEntries {
		f.addrs[f.n] = v
		f.n++
	}
}

// touched reports the addresses accumulated so far, for tests.
func (f *Flush) touched() []VirtAddr {
	return append([]VirtAddr(nil), f.addrs[:f.n]...)
}

// Flush invalidates each accumulated address from the TLB.
func (f *Flush) Flush(invalidate func(VirtAddr)) {
	if f.consumed {
		return
	}
	f.consumed = true
	runtime.SetFinalizer(f, nil)
	for _, a := range f.addrs[:f.n] {
		invalidate(a)
	}
}

// Discard acknowledges the obligation without invalidating anything, for
// the (rare) case the caller knows no translation was cached yet.
func (f *Flush) Discard() {
	f.consumed = true
	runtime.SetFinalizer(f, nil)
}

// onDroppedFlush is a var so tests can observe a dropped handle instead of
// depending on GC timing.
var onDroppedFlush = func(f *Flush) {
	// In a booted kernel this would go to klog.Warn; the default here is a
	// no-op so production code never panics from a GC finalizer.
}
