// Package pmm is the frame allocator (spec §2 component B, §4.1): a bump
// allocator over the bootloader's memory map. Adapted from the teacher's
// src/go/mazarin/page.go pageInit/allocPage bookkeeping, generalized from a
// single-page free list to the spec's required semantics: monotonic bump
// allocation only, no free list, no deallocation.
package pmm

import "serva/internal/bootinfo"

// FrameSize4KiB is the only frame size this allocator hands out (huge
// pages, when mapped, are composed by the vmm layer out of contiguous runs
// or mapped directly by the architecture's huge-page PTE bit; the
// allocator itself only ever deals in 4 KiB units).
const FrameSize4KiB = 4096

// PhysFrame is a physical frame address, always a multiple of FrameSize4KiB.
type PhysFrame uintptr

// ErrOutOfFrames is returned when no usable region has any frame left to
// give out (spec §4.1).
var ErrOutOfFrames = errOutOfFrames{}

type errOutOfFrames struct{}

func (errOutOfFrames) Error() string { return "frame allocator exhausted" }

// Allocator is a bump allocator over bootinfo.MemoryMap. AllocateFrame
// returns the Nth 4 KiB frame (N monotonic) whose containing region is
// typed Usable, or fails with ErrOutOfFrames. The only observable side
// effect of a successful call is that the internal counter advances; there
// is no deallocation operation, per spec §4.1.
type Allocator struct {
	regions []bootinfo.Region
	// nextFrame is the frame number (not an offset within the region) of
	// the next frame to hand out from regions[cursor]; cursor tracks which
	// region we are currently walking.
	cursor    int
	nextFrame uint64

	totalBytes     uint64
	usableBytes    uint64
	kernelBytes    uint64
	allocatedBytes uint64
}

// NewAllocator builds a bump allocator over the given memory map.
func NewAllocator(mm bootinfo.MemoryMap) *Allocator {
	a := &Allocator{regions: mm.Regions}
	for _, r := range mm.Regions {
		bytes := r.FrameCount() * FrameSize4KiB
		a.totalBytes += bytes
		switch r.Kind {
		case bootinfo.Usable:
			a.usableBytes += bytes
		case bootinfo.Kernel:
			a.kernelBytes += bytes
		}
	}
	a.resetCursorToRegion(0)
	return a
}

func (a *Allocator) resetCursorToRegion(idx int) {
	a.cursor = idx
	if idx < len(a.regions) {
		a.nextFrame = a.regions[idx].StartFrame
	}
}

// AllocateFrame returns the next usable 4 KiB frame in ascending address
// order. Monotonic: N only ever increases.
func (a *Allocator) AllocateFrame() (PhysFrame, error) {
	for a.cursor < len(a.regions) {
		r := a.regions[a.cursor]
		if r.Kind != bootinfo.Usable || a.nextFrame >= r.EndFrame {
			a.cursor++
			if a.cursor < len(a.regions) {
				a.nextFrame = a.regions[a.cursor].StartFrame
			}
			continue
		}

		frame := PhysFrame(a.nextFrame * FrameSize4KiB)
		a.nextFrame++
		a.allocatedBytes += FrameSize4KiB
		return frame, nil
	}
	return 0, ErrOutOfFrames
}

// Info is a diagnostics snapshot of the allocator's state (spec §4.1).
type Info struct {
	TotalBytes     uint64
	UsableBytes    uint64
	KernelBytes    uint64
	AllocatedBytes uint64
}

// Info returns a snapshot of total/usable/kernel/allocated byte counts.
func (a *Allocator) Info() Info {
	return Info{
		TotalBytes:     a.totalBytes,
		UsableBytes:    a.usableBytes,
		KernelBytes:    a.kernelBytes,
		AllocatedBytes: a.allocatedBytes,
	}
}
