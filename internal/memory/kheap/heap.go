// Package kheap is the linked-list allocator backed by mapper-provided
// pages (spec §2 component D, a named collaborator of the memory
// mapper). Directly adapted from the teacher's src/go/mazarin/heap.go
// kmalloc/kfree (best-fit search over a doubly-linked segment list,
// header-adjacent splitting, bidirectional coalescing on free),
// generalized from the teacher's single fixed 1 MiB static region to a
// heap that grows by requesting additional pages through PageSource when
// the initial region is exhausted.
package kheap

import (
	"unsafe"

	"serva/internal/kconfig"
	"serva/internal/kerrors"
)

// segment is placed at the start of each allocated/free block, exactly
// mirroring the teacher's heapSegment layout.
type segment struct {
	next        *segment
	prev        *segment
	isAllocated bool
	segmentSize uint32
}

const segmentHeaderSize = unsafe.Sizeof(segment{})

// PageSource lets the heap grow past its initial static region by asking
// the mapper for more backing pages, the way spec §2 names the heap "a
// collaborator" of the mapper rather than an independent allocator.
type PageSource interface {
	// NextHeapPage returns the virtual address of a freshly mapped,
	// present+writable 4 KiB page suitable for extending the heap.
	NextHeapPage() (uintptr, error)
}

// Heap is a best-fit, header-per-segment linked-list allocator.
type Heap struct {
	head   *segment
	source PageSource
}

// Init initializes the heap starting at start, treating [start, start+size)
// as one free segment (teacher's heapInit).
func Init(start uintptr, size uint32, source PageSource) *Heap {
	h := &Heap{source: source}
	seg := (*segment)(unsafe.Pointer(start))
	*seg = segment{segmentSize: size}
	h.head = seg
	return h
}

// Alloc allocates size bytes, best-fit, splitting the chosen free segment
// when it is large enough to be worth splitting (teacher's kmalloc). When
// no free segment fits and a PageSource is configured, Alloc requests
// additional pages and retries once.
func (h *Heap) Alloc(size uint32) (unsafe.Pointer, error) {
	if ptr := h.allocOnce(size); ptr != nil {
		return ptr, nil
	}
	if h.source == nil {
		return nil, kerrors.ErrOutOfMemory
	}
	if err := h.grow(size); err != nil {
		return nil, err
	}
	if ptr := h.allocOnce(size); ptr != nil {
		return ptr, nil
	}
	return nil, kerrors.ErrOutOfMemory
}

func (h *Heap) allocOnce(size uint32) unsafe.Pointer {
	totalSize := size + uint32(segmentHeaderSize)
	if rem := totalSize % kconfig.HeapAlignment; rem != 0 {
		totalSize += kconfig.HeapAlignment - rem
	}

	var best *segment
	bestDiff := int64(-1)
	for cur := h.head; cur != nil; cur = cur.next {
		if cur.isAllocated {
			continue
		}
		diff := int64(cur.segmentSize) - int64(totalSize)
		if diff >= 0 && (bestDiff == -1 || diff < bestDiff) {
			best = cur
			bestDiff = diff
		}
	}
	if best == nil {
		return nil
	}

	minSplit := int64(2 * segmentHeaderSize)
	if bestDiff > minSplit {
		newSegAddr := uintptr(unsafe.Pointer(best)) + uintptr(totalSize)
		newSeg := (*segment)(unsafe.Pointer(newSegAddr))
		*newSeg = segment{
			next:        best.next,
			prev:        best,
			segmentSize: best.segmentSize - totalSize,
		}
		if newSeg.next != nil {
			newSeg.next.prev = newSeg
		}
		best.next = newSeg
		best.segmentSize = totalSize
	}

	best.isAllocated = true
	return unsafe.Pointer(uintptr(unsafe.Pointer(best)) + segmentHeaderSize)
}

// grow appends a fresh PageSource page (or enough of them) as one new free
// segment at the tail of the list.
func (h *Heap) grow(size uint32) error {
	need := size + uint32(segmentHeaderSize)
	pages := (need + kconfig.PageSize4KiB - 1) / kconfig.PageSize4KiB
	if pages == 0 {
		pages = 1
	}

	var firstPageAddr uintptr
	var gotPages uint32
	for gotPages < pages {
		addr, err := h.source.NextHeapPage()
		if err != nil {
			return kerrors.ErrOutOfMemory
		}
		if gotPages == 0 {
			firstPageAddr = addr
		} else if addr != firstPageAddr+uintptr(gotPages)*kconfig.PageSize4KiB {
			// Non-contiguous page from the source: treat what we already
			// got as its own segment and start a fresh run from here.
			h.appendFreeSegment(firstPageAddr, gotPages*kconfig.PageSize4KiB)
			firstPageAddr = addr
			gotPages = 0
		}
		gotPages++
	}
	h.appendFreeSegment(firstPageAddr, gotPages*kconfig.PageSize4KiB)
	return nil
}

func (h *Heap) appendFreeSegment(addr uintptr, size uint32) {
	seg := (*segment)(unsafe.Pointer(addr))
	*seg = segment{segmentSize: size}

	tail := h.head
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = seg
	seg.prev = tail
}

// Free releases a block previously returned by Alloc, coalescing with
// adjacent free neighbors (teacher's kfree).
func (h *Heap) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	seg := (*segment)(unsafe.Pointer(uintptr(ptr) - segmentHeaderSize))
	seg.isAllocated = false

	for seg.prev != nil && !seg.prev.isAllocated {
		prev := seg.prev
		prev.next = seg.next
		prev.segmentSize += seg.segmentSize
		if seg.next != nil {
			seg.next.prev = prev
		}
		seg = prev
	}
	for seg.next != nil && !seg.next.isAllocated {
		next := seg.next
		seg.segmentSize += next.segmentSize
		seg.next = next.next
		if next.next != nil {
			next.next.prev = seg
		}
	}
}
