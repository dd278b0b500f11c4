package arch

import "unsafe"

// GDT is the kernel's single global descriptor table. Entries are laid out
// in the fixed order SegNull..SegTSSHigh (see selector.go); TSS occupies
// two slots because a 64-bit TSS descriptor is 16 bytes.
type GDT struct {
	entries [SegTSSHigh + 1]uint64
}

// gdtr is the pseudo-descriptor loaded by LGDT: a 16-bit limit followed by
// a 64-bit linear base address.
type gdtr struct {
	limit uint16
	base  uint64
}

var kernelGDT GDT

// NewGDT builds the fixed-layout GDT and installs tss's descriptor into
// the TSS slot.
func NewGDT(tss *TSS) *GDT {
	g := &kernelGDT
	g.entries[SegNull] = NullEntry.AsU64()
	g.entries[SegKernelCode64] = KernelCode64.AsU64()
	g.entries[SegKernelData] = KernelData.AsU64()
	g.entries[SegUserData] = UserData.AsU64()
	g.entries[SegUserCode64] = UserCode64.AsU64()
	low, high := tssDescriptor(tss)
	g.entries[SegTSSLow] = low
	g.entries[SegTSSHigh] = high
	return g
}

// Load installs this GDT via LGDT and reloads segment registers to point
// at the kernel code/data selectors (done in the assembly trampoline in a
// real boot path; Load here only issues the LGDT instruction itself, which
// is the part expressible without a far jump).
//
//go:nosplit
func (g *GDT) Load() {
	desc := gdtr{
		limit: uint16(len(g.entries)*8 - 1),
		base:  uint64(uintptr(unsafe.Pointer(&g.entries[0]))),
	}
	lgdt(unsafe.Pointer(&desc))
}

func tssDescriptor(tss *TSS) (low, high uint64) {
	base := uint64(uintptr(unsafe.Pointer(tss)))
	limit := uint64(unsafe.Sizeof(TSS{}) - 1)

	low = limit & 0xffff
	low |= (base & 0xffffff) << 16
	low |= 0x89 << 40 // present, type=0x9 (64-bit TSS, available)
	low |= ((limit >> 16) & 0xf) << 48
	low |= ((base >> 24) & 0xff) << 56

	high = (base >> 32) & 0xffffffff
	return low, high
}
