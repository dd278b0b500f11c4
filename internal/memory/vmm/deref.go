package vmm

import (
	"unsafe"

	"serva/internal/kconfig"
	"serva/internal/kerrors"
)

// FlagsAt walks to the leaf entry covering v, honoring huge pages at L2/L3,
// and returns its flags. Used for pointer-deref permission checks (spec
// §4.4) where Translate's physical address alone isn't enough.
func (m *Mapper) FlagsAt(v VirtAddr) (Flags, error) {
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
		return e3.Flags(), nil
	}

	l2 := m.tableAt(e3.Frame())
	e2 := l2.entries[v.L2Index()]
	if !e2.Present() {
		return 0, kerrors.ErrNotMapped
	}
	if e2.Huge() {
		return e2.Flags(), nil
	}

	l1 := m.tableAt(e2.Frame())
	e1 := l1.entries[v.L1Index()]
	if !e1.Present() {
		return 0, kerrors.ErrNotMapped
	}
	return e1.Flags(), nil
}

func (m *Mapper) bytesAtPhys(p PhysAddr, n int) []byte {
	base := uintptr(m.physMemOffset) + uintptr(p)
	return unsafe.Slice((*byte)(unsafe.Pointer(base)), n)
}

// DerefWindow resolves the pointer-deref window for a user-supplied virtual
// address v in this mapper's address space (spec §4.4 "Pointer deref"): v's
// page must be present and either kernelCaller is true or the page is
// user-accessible, else ErrInvalidPointerMappings. The window starts at v
// and runs to the end of that page, extended by a whole next page when it
// is present and equally safe.
//
// The result is always a freshly copied slice rather than an alias into
// physical memory: the two source pages are virtually contiguous but need
// not be physically contiguous, so a single unsafe.Slice spanning both
// would not be sound.
func (m *Mapper) DerefWindow(v VirtAddr, kernelCaller bool) ([]byte, error) {
	pageStart := v.AlignDown4KiB()
	flags, err := m.FlagsAt(pageStart)
	if err != nil {
		return nil, kerrors.ErrInvalidPointerMappings
	}
	if !kernelCaller && !flags.Has(FlagUserAccessible) {
		return nil, kerrors.ErrInvalidPointerMappings
	}
	phys, err := m.Translate(pageStart)
	if err != nil {
		return nil, kerrors.ErrInvalidPointerMappings
	}

	const pageBytes = kconfig.PageSize4KiB
	offsetInPage := int(uintptr(v) - uintptr(pageStart))

	out := make([]byte, 0, kconfig.PointerWindowBytes)
	out = append(out, m.bytesAtPhys(phys, pageBytes)[offsetInPage:]...)

	nextPage := pageStart + VirtAddr(pageBytes)
	nextFlags, err := m.FlagsAt(nextPage)
	if err == nil && (kernelCaller || nextFlags.Has(FlagUserAccessible)) {
		if nextPhys, err := m.Translate(nextPage); err == nil {
			out = append(out, m.bytesAtPhys(nextPhys, pageBytes)...)
		}
	}
	return out, nil
}

// CopyInto writes data into the same validated window DerefWindow reads
// from, used by syscall handlers that fill a user-supplied buffer (e.g.
// read()) rather than read one. Returns the number of bytes actually
// written, which is len(data) unless data overruns the safe window (the
// caller is expected to have sized data against the window length already).
func (m *Mapper) CopyInto(v VirtAddr, data []byte, kernelCaller bool) (int, error) {
	pageStart := v.AlignDown4KiB()
	flags, err := m.FlagsAt(pageStart)
	if err != nil {
		return 0, kerrors.ErrInvalidPointerMappings
	}
	if !kernelCaller && !flags.Has(FlagUserAccessible) {
		return 0, kerrors.ErrInvalidPointerMappings
	}
	phys, err := m.Translate(pageStart)
	if err != nil {
		return 0, kerrors.ErrInvalidPointerMappings
	}

	const pageBytes = kconfig.PageSize4KiB
	offsetInPage := int(uintptr(v) - uintptr(pageStart))

	dst := m.bytesAtPhys(phys, pageBytes)[offsetInPage:]
	n := copy(dst, data)
	if n == len(data) {
		return n, nil
	}

	nextPage := pageStart + VirtAddr(pageBytes)
	nextFlags, err := m.FlagsAt(nextPage)
	if err != nil || (!kernelCaller && !nextFlags.Has(FlagUserAccessible)) {
		return n, nil
	}
	nextPhys, err := m.Translate(nextPage)
	if err != nil {
		return n, nil
	}
	n += copy(m.bytesAtPhys(nextPhys, pageBytes), data[n:])
	return n, nil
}
