package vmm

import (
	"unsafe"

	"serva/internal/kerrors"
)

// MapWritable, WriteFunctionPointer and MakeReadOnly implement the minimal
// surface internal/arch.Install needs to set up the ABI page (spec §4.6)
// without internal/arch importing internal/memory/vmm (that import would
// run the other way: arch.Context is a leaf type vmm itself has no need
// of, so the dependency points from vmm's caller down to arch, never
// arch -> vmm).

// MapWritable maps v's page present+writable+kernel-only if it is not yet
// mapped; if it is already mapped, it ORs present+writable into the
// existing walk via SetFlags instead.
func (m *Mapper) MapWritable(v uintptr) error {
	addr := VirtAddr(v).AlignDown4KiB()
	page := Page{Addr: addr, Size: Size4KiB}
	if _, err := m.Translate(addr); err == nil {
		flush, err := m.SetFlags(addr, FlagPresent|FlagWritable)
		if err != nil {
			return err
		}
		flush.Discard()
		return nil
	}
	flush, err := m.NewMap(page, FlagPresent|FlagWritable, FlagPresent|FlagWritable)
	if err != nil {
		return err
	}
	flush.Discard()
	return nil
}

// WriteFunctionPointer writes a 64-bit function pointer value into the
// first 8 bytes of the page mapped at v.
func (m *Mapper) WriteFunctionPointer(v uintptr, fn uintptr) error {
	phys, err := m.Translate(VirtAddr(v).AlignDown4KiB())
	if err != nil {
		return err
	}
	ptr := (*uintptr)(unsafe.Pointer(uintptr(m.physMemOffset) + uintptr(phys)))
	*ptr = fn
	return nil
}

// MakeReadOnly clears the writable bit on the page mapped at v. SetFlags
// only ORs bits in (spec §4.2), so clearing requires rebuilding the entry
// directly; this is the one legitimate use of that escape hatch, scoped to
// the ABI page's install sequence.
func (m *Mapper) MakeReadOnly(v uintptr) error {
	addr := VirtAddr(v).AlignDown4KiB()
	l4 := m.l4()
	e4 := l4.entries[addr.L4Index()]
	if !e4.Present() {
		return kerrors.ErrNotMapped
	}
	if e4.Borrowed() {
		return kerrors.ErrNotOwned
	}
	l3 := m.tableAt(e4.Frame())
	e3 := l3.entries[addr.L3Index()]
	if !e3.Present() {
		return kerrors.ErrNotMapped
	}
	l2 := m.tableAt(e3.Frame())
	e2 := l2.entries[addr.L2Index()]
	if !e2.Present() {
		return kerrors.ErrNotMapped
	}
	l1 := m.tableAt(e2.Frame())
	i1 := addr.L1Index()
	e1 := l1.entries[i1]
	if !e1.Present() {
		return kerrors.ErrNotMapped
	}
	l1.entries[i1] = NewPTE(e1.Frame(), e1.Flags()&^FlagWritable)
	return nil
}
