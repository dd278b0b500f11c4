package vmm

import "serva/internal/bitfield"

// Flags is the small set of mutable PTE bits callers pass to SetFlags/MapTo
// (spec §3 "Page-table entry"). The physical-address bits (12..51) are
// managed separately by NewPTE/Frame.
type Flags uint16

const (
	FlagPresent Flags = 1 << iota
	FlagWritable
	FlagUserAccessible
	FlagDirty
	FlagHuge
	FlagGlobal
	FlagBorrowed // kernel-reserved bit 9: shared, read-only from the owner's perspective
	FlagNoExecute
)

// Has reports whether every bit in bit is set in f.
func (f Flags) Has(bit Flags) bool { return f&bit == bit }

// toPTEFlags/fromPTEFlags translate between the kernel's Flags bitmask and
// bitfield.PTEFlags, so the raw entry layout (spec §3: bit 0 present, 1
// writable, 2 user, 6 dirty, 7 huge, 8 global, 9 borrowed, 63 no-execute)
// is packed/unpacked by internal/bitfield's reflect-driven Pack/Unpack
// rather than a second, hand-rolled bit-shift table.
func toPTEFlags(f Flags) bitfield.PTEFlags {
	return bitfield.PTEFlags{
		Present:        f.Has(FlagPresent),
		Writable:       f.Has(FlagWritable),
		UserAccessible: f.Has(FlagUserAccessible),
		Dirty:          f.Has(FlagDirty),
		Huge:           f.Has(FlagHuge),
		Global:         f.Has(FlagGlobal),
		Borrowed:       f.Has(FlagBorrowed),
		NoExecute:      f.Has(FlagNoExecute),
	}
}

func fromPTEFlags(p bitfield.PTEFlags) Flags {
	var f Flags
	if p.Present {
		f |= FlagPresent
	}
	if p.Writable {
		f |= FlagWritable
	}
	if p.UserAccessible {
		f |= FlagUserAccessible
	}
	if p.Dirty {
		f |= FlagDirty
	}
	if p.Huge {
		f |= FlagHuge
	}
	if p.Global {
		f |= FlagGlobal
	}
	if p.Borrowed {
		f |= FlagBorrowed
	}
	if p.NoExecute {
		f |= FlagNoExecute
	}
	return f
}

const frameAddrMask = uint64(0x000f_ffff_ffff_f000) // bits 12..51

// PageTableEntry is the raw 64-bit entry (spec §3). Invariant: entries with
// Present()==false carry no meaningful address.
type PageTableEntry uint64

// Present reports whether this entry is mapped at all.
func (e PageTableEntry) Present() bool { return e.Flags().Has(FlagPresent) }

// Writable, UserAccessible, Dirty, Huge, Global, Borrowed, NoExecute mirror
// Present for their respective bit.
func (e PageTableEntry) Writable() bool       { return e.Flags().Has(FlagWritable) }
func (e PageTableEntry) UserAccessible() bool { return e.Flags().Has(FlagUserAccessible) }
func (e PageTableEntry) Dirty() bool          { return e.Flags().Has(FlagDirty) }
func (e PageTableEntry) Huge() bool           { return e.Flags().Has(FlagHuge) }
func (e PageTableEntry) Global() bool         { return e.Flags().Has(FlagGlobal) }
func (e PageTableEntry) Borrowed() bool       { return e.Flags().Has(FlagBorrowed) }
func (e PageTableEntry) NoExecute() bool      { return e.Flags().Has(FlagNoExecute) }

// Flags returns the full set of flag bits currently set on this entry,
// unpacked via bitfield.UnpackPTEFlags; the top no-execute bit (63) and low
// flag bits are both just tagged struct fields to the packer, so no
// separate address-masking logic is needed here.
func (e PageTableEntry) Flags() Flags {
	return fromPTEFlags(bitfield.UnpackPTEFlags(uint64(e)))
}

// Frame returns the physical frame this entry points at. Only meaningful
// when Present() is true.
func (e PageTableEntry) Frame() PhysAddr {
	return PhysAddr(uint64(e) & frameAddrMask)
}

// NewPTE builds an entry pointing at frame with the given flags OR'd in.
func NewPTE(frame PhysAddr, flags Flags) PageTableEntry {
	packed, err := bitfield.PackPTEFlags(toPTEFlags(flags))
	if err != nil {
		panic("vmm: " + err.Error())
	}
	return PageTableEntry(packed | (uint64(frame) & frameAddrMask))
}

// WithFlagsSet returns e with the given flags OR'd in (SetFlags never
// clears a bit, per spec §4.2 "OR the given flags into every entry").
func (e PageTableEntry) WithFlagsSet(flags Flags) PageTableEntry {
	packed, err := bitfield.PackPTEFlags(toPTEFlags(flags))
	if err != nil {
		panic("vmm: " + err.Error())
	}
	return PageTableEntry(uint64(e) | packed)
}

// pageTable is one 4 KiB table of 512 entries.
type pageTable struct {
	entries [512]PageTableEntry
}

const entriesPerTable = 512
