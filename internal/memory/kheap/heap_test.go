package kheap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func newTestHeap(t *testing.T, size uint32, source PageSource) *Heap {
	t.Helper()
	buf := make([]byte, size)
	start := uintptr(unsafe.Pointer(&buf[0]))
	// Keep buf alive for the duration of the test; Go's allocator does not
	// move live heap memory, so treating its address as a stable backing
	// region is safe as long as buf itself stays reachable.
	t.Cleanup(func() { _ = buf })
	return Init(start, size, source)
}

func TestAllocReturnsDistinctNonOverlappingBlocks(t *testing.T) {
	h := newTestHeap(t, 4096, nil)

	a, err := h.Alloc(64)
	require.NoError(t, err)
	b, err := h.Alloc(128)
	require.NoError(t, err)

	require.NotEqual(t, a, b)
}

func TestAllocFailsWhenExhaustedAndNoPageSource(t *testing.T) {
	h := newTestHeap(t, 256, nil)

	_, err := h.Alloc(64)
	require.NoError(t, err)
	_, err = h.Alloc(4096)
	require.Error(t, err)
}

func TestFreeCoalescesAdjacentSegments(t *testing.T) {
	h := newTestHeap(t, 4096, nil)

	a, err := h.Alloc(64)
	require.NoError(t, err)
	b, err := h.Alloc(64)
	require.NoError(t, err)
	c, err := h.Alloc(64)
	require.NoError(t, err)

	h.Free(a)
	h.Free(c)
	h.Free(b)

	// All three having coalesced with the free remainder back into one
	// 4096-byte segment, an allocation that only fits in the whole region
	// (larger than the remainder that was free before the frees) succeeds.
	big, err := h.Alloc(4000)
	require.NoError(t, err)
	require.NotNil(t, big)
}

type fakePageSource struct {
	pages []uintptr
	i     int
}

func (f *fakePageSource) NextHeapPage() (uintptr, error) {
	if f.i >= len(f.pages) {
		return 0, errNoMorePages
	}
	p := f.pages[f.i]
	f.i++
	return p, nil
}

type noMorePagesErr struct{}

func (noMorePagesErr) Error() string { return "no more pages" }

var errNoMorePages = noMorePagesErr{}

func TestAllocGrowsViaPageSourceWhenExhausted(t *testing.T) {
	extra := make([]byte, 3*4096)
	base := uintptr(unsafe.Pointer(&extra[0]))
	source := &fakePageSource{pages: []uintptr{base, base + 4096, base + 2*4096}}

	h := newTestHeap(t, 64, source)

	_, err := h.Alloc(4000)
	require.NoError(t, err)
}

func TestAllocFailsWhenPageSourceExhaustedToo(t *testing.T) {
	source := &fakePageSource{}
	h := newTestHeap(t, 64, source)

	_, err := h.Alloc(4000)
	require.Error(t, err)
}
