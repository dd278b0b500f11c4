package bitfield

// PTEFlags mirrors the teacher's PageFlags pattern (bobbydeveaux... none;
// this is the teacher's own src/bitfield/page_flags.go shape) but for an
// x86_64 page-table entry as laid out in spec §3: bit 0 present, 1
// writable, 2 user-accessible, 6 dirty, 7 huge, 8 global, 9 borrowed
// (kernel-defined), 63 no-execute. Reserved gaps are modeled as explicit
// padding fields so the sequential bit-packer in Pack/Unpack lands each
// flag on its hardware-mandated bit.
type PTEFlags struct {
	Present        bool   `bitfield:",1"`
	Writable       bool   `bitfield:",1"`
	UserAccessible bool   `bitfield:",1"`
	reservedLow    uint8  `bitfield:",3"`
	Dirty          bool   `bitfield:",1"`
	Huge           bool   `bitfield:",1"`
	Global         bool   `bitfield:",1"`
	Borrowed       bool   `bitfield:",1"`
	reservedMid    uint64 `bitfield:",53"`
	NoExecute      bool   `bitfield:",1"`
}

// PackPTEFlags packs a PTEFlags struct into the low bits of a page-table
// entry. The address bits (12..51) are ORed in separately by the caller.
func PackPTEFlags(f PTEFlags) (uint64, error) {
	return Pack(&f, &Config{NumBits: 64})
}

// UnpackPTEFlags is the inverse of PackPTEFlags. Address and reserved bits
// are ignored by callers; they read them directly off the raw uint64.
func UnpackPTEFlags(packed uint64) PTEFlags {
	var f PTEFlags
	_ = Unpack(packed, &f)
	return f
}
