// Package debug holds the kernel's outside-the-spec peripheral drivers: the
// serial console, the legacy PIC's end-of-interrupt handshake, and the QEMU
// debug-exit device. These aren't named components in the spec, but every
// freestanding kernel needs a way to get text and an exit code out of the
// machine, and the teacher carries exactly this kind of code in its
// uart_qemu.go/gic_qemu.go (adapted here from MMIO PL011/GICv2 register
// pokes to 16550 UART/8259 PIC port I/O, x86_64's equivalents).
package debug

import "serva/internal/arch"

// 16550 UART port offsets from the COM1 base (spec-external convention:
// QEMU's -serial stdio maps COM1 to port 0x3F8, the same boot console the
// original Rust kernel used).
const (
	comBase        = 0x3f8
	regData        = comBase + 0
	regIntEnable   = comBase + 1
	regFIFOCtrl    = comBase + 2
	regLineCtrl    = comBase + 3
	regModemCtrl   = comBase + 4
	regLineStatus  = comBase + 5
	lineStatusTHRE = 1 << 5 // transmit holding register empty
)

// UART is the klog.Sink backing the serial console. It has no state of its
// own: it is a thin adapter over the 16550's port-mapped registers.
type UART struct{}

// InitUART programs the 16550 the way the teacher's uart_init_pl011
// programs the PL011: disable interrupts, set line control (8N1), enable
// and clear the FIFOs, then raise DTR/RTS/OUT2.
//
//go:nosplit
func InitUART() UART {
	arch.OutB(regIntEnable, 0x00)
	arch.OutB(regLineCtrl, 0x80) // enable divisor-latch access
	arch.OutB(regData, 0x01)     // divisor low byte: 115200 baud
	arch.OutB(regIntEnable, 0x00)
	arch.OutB(regLineCtrl, 0x03) // 8 bits, no parity, one stop bit
	arch.OutB(regFIFOCtrl, 0xc7) // enable FIFO, clear, 14-byte threshold
	arch.OutB(regModemCtrl, 0x0b)
	return UART{}
}

//go:nosplit
func txReady() bool {
	return arch.InB(regLineStatus)&lineStatusTHRE != 0
}

// PutByte blocks until the transmit holding register is empty, then writes
// one byte.
//
//go:nosplit
func (UART) PutByte(b byte) {
	for !txReady() {
	}
	arch.OutB(regData, b)
}

// WriteString implements klog.Sink.
func (u UART) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		u.PutByte(s[i])
	}
}

// GetByte blocks until a byte is available and returns it (used by a
// future interactive console; unused by the kernel's own boot path today).
//
//go:nosplit
func (UART) GetByte() byte {
	const dataReady = 1 << 0
	for arch.InB(regLineStatus)&dataReady == 0 {
	}
	return arch.InB(regData)
}
