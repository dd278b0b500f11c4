// Package syscallabi is the syscall dispatch layer (spec §2 component H,
// §4.5/§8): argument decoding, the user/kernel id tables, and the sign-
// encoded result convention shared with the caller across the SYSCALL/
// SYSRET boundary.
package syscallabi

import (
	"math"

	"serva/internal/kerrors"
)

// EncodeOk wraps a successful return value unchanged (spec §8:
// "encode(Ok(v)) == v").
func EncodeOk(v uint64) uint64 { return v }

// EncodeErr sign-encodes a surfaced error as -(code) in two's complement,
// so a caller can distinguish success from failure by testing the sign bit
// (spec §8: "encode(Err(e)) == -(code) as u64"). CodeUnknownSyscall is 1,
// so EncodeErr(ErrUnknownSyscall) == math.MaxUint64.
func EncodeErr(err error) uint64 {
	code := kerrors.CodeOf(err)
	return uint64(-int64(code))
}

// Decode is the inverse of Encode{Ok,Err} for test harnesses and userspace
// stubs: it cannot distinguish Ok(math.MaxUint64) from an encoded error,
// which is why the real ABI never returns that value as a successful
// result (spec §8 note).
func Decode(v uint64) (uint64, error) {
	if v <= math.MaxInt64 {
		return v, nil
	}
	return 0, kerrors.FromCode(kerrors.Code(-int64(v)))
}

// accept() packs (has-connection, conn id, endpoint id) into one word: the
// connection id fills the low byte, a presence sentinel sits at bit 8, and
// the endpoint id occupies the bits above that (spec §4.5: "a sentinel bit
// one byte above the connection-id field").
const (
	acceptConnMask   = 0xff
	acceptPresentBit = 1 << 8
	acceptEndpointShift = 16
)

// EncodeAcceptNone reports "no pending connection request".
func EncodeAcceptNone() uint64 { return 0 }

// EncodeAcceptSome packs a connection id and endpoint id as accept()'s
// successful return value. conn is truncated to its low byte; nothing
// bounds a service's connection count, so connection ids of 256 and above
// alias lower ones.
func EncodeAcceptSome(conn uint32, endpoint uint32) uint64 {
	return uint64(conn&acceptConnMask) | acceptPresentBit | uint64(endpoint)<<acceptEndpointShift
}

// DecodeAccept is the inverse of EncodeAccept{None,Some}.
func DecodeAccept(v uint64) (conn uint32, endpoint uint32, ok bool) {
	if v&acceptPresentBit == 0 {
		return 0, 0, false
	}
	return uint32(v & acceptConnMask), uint32(v >> acceptEndpointShift), true
}

// WriteEndOfStream is write()'s flags bit (args.A3): a close_write with
// end=true is consumed in the same syscall as the final write (spec §4.4:
// "Every I/O syscall takes a (conn, buffer, start-offset, optional
// end-flag) tuple" / "A close_write with end=true flag is consumed in the
// same syscall as the final write").
const WriteEndOfStream uint64 = 1 << 0
