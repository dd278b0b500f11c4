package arch

import "unsafe"

// Context is the interrupted-context snapshot: saved general registers
// plus instruction pointer, stack pointer, code/data segments, and flags
// (spec §3 Thread). The ISR pushes all general registers onto the
// interrupted stack in this exact order before calling into the scheduler,
// and pops them in reverse order on the way back out via iretq (spec
// §4.3 "Tick ISR").
type Context struct {
	// General-purpose registers, pushed/popped by the ISR prologue/epilogue.
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64

	// Hardware-pushed interrupt frame (errorCode is 0 for vectors that
	// don't push one; the ISR stub normalizes this so Context always has
	// a uniform shape).
	ErrorCode uint64
	RIP       uint64
	CS        uint64
	RFlags    uint64
	RSP       uint64
	SS        uint64
}

// StackPointer returns the pointer at which this context is addressable on
// the interrupted stack, i.e. what the tick ISR assigns back to the
// hardware's resume stack pointer.
func (c *Context) StackPointer() uintptr {
	return uintptr(unsafe.Pointer(c))
}
