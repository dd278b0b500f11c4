// Package arch holds the x86_64 architecture primitives: descriptor
// tables, segment selectors, the interrupt stack frame, syscall MSR setup,
// and ring transitions (spec §2 component A).
//
// The actual register-level work (loading GDTR/IDTR, reading/writing MSRs,
// issuing port I/O, flushing TLB entries) lives in a small assembly support
// layer outside this module's scope, the same way the teacher links to
// lib.s via //go:linkname instead of writing MMIO twiddling in Go wherever
// the ISA has no safe Go-visible equivalent (see kernel.go's
// mmio_write/mmio_read/delay/bzero/dsb linknames). This file declares that
// boundary; everything above it is ordinary Go.
package arch

import "unsafe"

//go:linkname lgdt lgdt
//go:nosplit
func lgdt(ptr unsafe.Pointer)

//go:linkname lidt lidt
//go:nosplit
func lidt(ptr unsafe.Pointer)

//go:linkname ltr ltr
//go:nosplit
func ltr(selector uint16)

//go:linkname wrmsr wrmsr
//go:nosplit
func wrmsr(msr uint32, value uint64)

//go:linkname rdmsr rdmsr
//go:nosplit
func rdmsr(msr uint32) uint64

//go:linkname outb outb
//go:nosplit
func outb(port uint16, value uint8)

//go:linkname inb inb
//go:nosplit
func inb(port uint16) uint8

//go:linkname invlpg invlpg
//go:nosplit
func invlpg(addr uintptr)

//go:linkname loadCR3 load_cr3
//go:nosplit
func loadCR3(phys uintptr)

//go:linkname readCR2 read_cr2
//go:nosplit
func readCR2() uintptr

//go:linkname readCR3 read_cr3
//go:nosplit
func readCR3() uintptr

//go:linkname int3 int3
//go:nosplit
func int3()

//go:linkname hlt hlt
//go:nosplit
func hlt()

//go:linkname cli cli
//go:nosplit
func cli()

//go:linkname sti sti
//go:nosplit
func sti()

// InvalidatePage flushes a single virtual address from the TLB. Used by
// the mapper's Flush handle.
//
//go:nosplit
func InvalidatePage(v uintptr) { invlpg(v) }

// HaltAndWait parks the CPU until the next interrupt, the idle thread's
// entire body (design note §9 resolution 1: the scheduler always has a
// resident idle thread so Tick never finds nothing runnable).
//
//go:nosplit
func HaltAndWait() {
	for {
		hlt()
	}
}

// Breakpoint raises the software interrupt used for cooperative yield
// (spec §4.3 yield_current).
//
//go:nosplit
func Breakpoint() { int3() }

// OutB and InB expose port I/O to packages outside arch (the UART driver,
// the PIC, the QEMU debug-exit device): none of those devices are part of
// the architecture boundary itself, just consumers of it.
//
//go:nosplit
func OutB(port uint16, value uint8) { outb(port, value) }

//go:nosplit
func InB(port uint16) uint8 { return inb(port) }

// DisableInterrupts and EnableInterrupts bracket an atomic_block (spec
// §4.5: every syscall handler runs with interrupts disabled on entry).
//
//go:nosplit
func DisableInterrupts() { cli() }

//go:nosplit
func EnableInterrupts() { sti() }

// AtomicBlock runs fn with interrupts disabled and enables them again on
// return. The prior interrupt state is not saved: interrupts are enabled
// afterwards even if they were already disabled on entry. This is the
// Go-shaped equivalent of
// the source's atomic_block wrapper referenced throughout spec §4.5/§5.
func AtomicBlock(fn func()) {
	cli()
	defer sti()
	fn()
}
