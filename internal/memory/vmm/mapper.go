// Package vmm is the memory mapper (spec §2 component C, §4.2): a
// per-address-space page-table editor with ownership tagging and
// TLB-flush-batch discipline. Adapted from the teacher's src/go/mazarin
// page.go bookkeeping style (explicit frame/page metadata, no hidden
// global state beyond what a single CPU core needs) but walking a real
// x86_64 4-level table instead of the teacher's flat ARM32 page array.
package vmm

import (
	"unsafe"

	"serva/internal/kerrors"
)

// FrameAllocator is the subset of pmm.Allocator the mapper needs. Kept as
// a narrow interface (mirroring gopher-os's FrameAllocatorFn indirection
// in kernel/mem/vmm/vmm.go) so mapper logic is unit-testable against a
// fake allocator with no bootinfo plumbing.
type FrameAllocator interface {
	AllocateFrame() (PhysAddr, error)
}

// Mapper owns one address space's L4 table, a frame allocator, and the
// offset at which all physical memory is linearly mapped into the current
// address space (spec §3 "Memory mapper").
type Mapper struct {
	l4Frame       PhysAddr
	alloc         FrameAllocator
	physMemOffset VirtAddr
}

// NewMapper wraps an already-allocated, zeroed L4 frame.
func NewMapper(l4Frame PhysAddr, alloc FrameAllocator, physMemOffset VirtAddr) *Mapper {
	return &Mapper{l4Frame: l4Frame, alloc: alloc, physMemOffset: physMemOffset}
}

// L4Frame returns the physical frame backing this mapper's top-level table
// (used by SetActive and by the service table when recording a service's
// address space).
func (m *Mapper) L4Frame() PhysAddr { return m.l4Frame }

func (m *Mapper) tableAt(phys PhysAddr) *pageTable {
	return (*pageTable)(unsafe.Pointer(uintptr(m.physMemOffset) + uintptr(phys)))
}

func (m *Mapper) l4() *pageTable { return m.tableAt(m.l4Frame) }

// Translate walks the 4-level table and returns the physical address
// corresponding to v, honoring huge pages at L2/L3 (spec §4.2).
func (m *Mapper) Translate(v VirtAddr) (PhysAddr, error) {
	e4 := m.l4().entries[v.L4Index()]
	if !e4.Present() {
		return 0, kerrors.ErrNotMapped
	}

	l3 := m.tableAt(e4.Frame())
	e3 := l3.entries[v.L3Index()]
	if !e3.Present() {
		return 0, kerrors.ErrNotMapped
	}
	if e3.Huge() {
		return PhysAddr(uintptr(e3.Frame()) + v.OffsetIn1GiB()), nil
	}

	l2 := m.tableAt(e3.Frame())
	e2 := l2.entries[v.L2Index()]
	if !e2.Present() {
		return 0, kerrors.ErrNotMapped
	}
	if e2.Huge() {
		return PhysAddr(uintptr(e2.Frame()) + v.OffsetIn2MiB()), nil
	}

	l1 := m.tableAt(e2.Frame())
	e1 := l1.entries[v.L1Index()]
	if !e1.Present() {
		return 0, kerrors.ErrNotMapped
	}
	return PhysAddr(uintptr(e1.Frame()) + v.PageOffset()), nil
}

// SetFlags ORs the given flags into every entry along the walk to v,
// short-circuiting with ErrNotOwned if the L4 entry is borrowed (spec
// §4.2). Returns a Flush handle the caller must consume.
func (m *Mapper) SetFlags(v VirtAddr, flags Flags) (*Flush, error) {
	l4 := m.l4()
	i4 := v.L4Index()
	e4 := l4.entries[i4]
	if !e4.Present() {
		return nil, kerrors.ErrNotMapped
	}
	if e4.Borrowed() {
		return nil, kerrors.ErrNotOwned
	}
	l4.entries[i4] = e4.WithFlagsSet(flags)

	l3 := m.tableAt(e4.Frame())
	i3 := v.L3Index()
	e3 := l3.entries[i3]
	if !e3.Present() {
		return nil, kerrors.ErrNotMapped
	}
	l3.entries[i3] = e3.WithFlagsSet(flags)
	if e3.Huge() {
		f := newFlush()
		f.add(v)
		return f, nil
	}

	l2 := m.tableAt(e3.Frame())
	i2 := v.L2Index()
	e2 := l2.entries[i2]
	if !e2.Present() {
		return nil, kerrors.ErrNotMapped
	}
	l2.entries[i2] = e2.WithFlagsSet(flags)
	if e2.Huge() {
		f := newFlush()
		f.add(v)
		return f, nil
	}

	l1 := m.tableAt(e2.Frame())
	i1 := v.L1Index()
	e1 := l1.entries[i1]
	if !e1.Present() {
		return nil, kerrors.ErrNotMapped
	}
	l1.entries[i1] = e1.WithFlagsSet(flags)

	f := newFlush()
	f.add(v)
	return f, nil
}

// ensureTable returns the child table physical frame for parent's entry at
// index, allocating and zeroing a fresh table (installed with
// parentFlags|FlagPresent) if the entry is not yet present. Fails with
// ErrNotOwned if the existing entry is borrowed (a borrowed subtree's
// interior tables belong to another mapper and must not be extended here).
func (m *Mapper) ensureTable(parent *pageTable, index uint16, parentFlags Flags) (PhysAddr, error) {
	e := parent.entries[index]
	if e.Present() {
		if e.Borrowed() {
			return 0, kerrors.ErrNotOwned
		}
		return e.Frame(), nil
	}

	frame, err := m.alloc.AllocateFrame()
	if err != nil {
		return 0, kerrors.ErrOutOfFrames
	}
	zeroTable(m.tableAt(frame))
	parent.entries[index] = NewPTE(frame, parentFlags|FlagPresent)
	return frame, nil
}

func zeroTable(t *pageTable) {
	for i := range t.entries {
		t.entries[i] = 0
	}
}

// MapTo creates a mapping from page to frame, allocating intermediate
// tables as needed with parentFlags. Fails with ErrAlreadyMapped if a leaf
// mapping already exists at page.Addr, or ErrOutOfFrames if an
// intermediate table cannot be allocated (spec §4.2).
func (m *Mapper) MapTo(page Page, frame Frame, leafFlags, parentFlags Flags) (*Flush, error) {
	v := page.Addr

	l3Frame, err := m.ensureTable(m.l4(), v.L4Index(), parentFlags)
	if err != nil {
		return nil, err
	}
	if page.Size == Size1GiB {
		l3 := m.tableAt(l3Frame)
		i3 := v.L3Index()
		if l3.entries[i3].Present() {
			return nil, kerrors.ErrAlreadyMapped
		}
		l3.entries[i3] = NewPTE(frame.Addr, leafFlags|FlagPresent|FlagHuge)
		f := newFlush()
		f.add(v)
		return f, nil
	}

	l2Frame, err := m.ensureTable(m.tableAt(l3Frame), v.L3Index(), parentFlags)
	if err != nil {
		return nil, err
	}
	if page.Size == Size2MiB {
		l2 := m.tableAt(l2Frame)
		i2 := v.L2Index()
		if l2.entries[i2].Present() {
			return nil, kerrors.ErrAlreadyMapped
		}
		l2.entries[i2] = NewPTE(frame.Addr, leafFlags|FlagPresent|FlagHuge)
		f := newFlush()
		f.add(v)
		return f, nil
	}

	l1Frame, err := m.ensureTable(m.tableAt(l2Frame), v.L2Index(), parentFlags)
	if err != nil {
		return nil, err
	}
	l1 := m.tableAt(l1Frame)
	i1 := v.L1Index()
	if l1.entries[i1].Present() {
		return nil, kerrors.ErrAlreadyMapped
	}
	l1.entries[i1] = NewPTE(frame.Addr, leafFlags|FlagPresent)
	f := newFlush()
	f.add(v)
	return f, nil
}

// NewMap allocates a fresh frame and maps it to page (spec §4.2).
func (m *Mapper) NewMap(page Page, flags, parentFlags Flags) (*Flush, error) {
	phys, err := m.alloc.AllocateFrame()
	if err != nil {
		return nil, kerrors.ErrOutOfFrames
	}
	frame := Frame{Addr: phys, Size: page.Size}
	return m.MapTo(page, frame, flags, parentFlags)
}

// BorrowToNewMapper allocates a new L4 table. When inherit is true, every
// present non-borrowed L4 entry of the current mapper is first marked
// borrowed, then the entire L4 table is copied into the new mapper: both
// address spaces now share the same upper-level subtrees read-only (spec
// §4.2). When inherit is false, the new L4 is zeroed.
func (m *Mapper) BorrowToNewMapper(inherit bool) (*Mapper, error) {
	newFrame, err := m.alloc.AllocateFrame()
	if err != nil {
		return nil, kerrors.ErrOutOfFrames
	}
	newTable := m.tableAt(newFrame)
	zeroTable(newTable)

	if !inherit {
		return NewMapper(newFrame, m.alloc, m.physMemOffset), nil
	}

	cur := m.l4()
	for i := range cur.entries {
		e := cur.entries[i]
		if e.Present() && !e.Borrowed() {
			cur.entries[i] = e.WithFlagsSet(FlagBorrowed)
		}
	}
	*newTable = *cur

	return NewMapper(newFrame, m.alloc, m.physMemOffset), nil
}

// SetActive loads this mapper's L4 physical address into the CPU's
// page-table base register.
func (m *Mapper) SetActive(loadPageTableBase func(uintptr)) {
	loadPageTableBase(uintptr(m.l4Frame))
}
