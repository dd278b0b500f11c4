package debug

import "serva/internal/arch"

// 8259 PIC ports and the OCW2 end-of-interrupt command, x86_64's equivalent
// of the teacher's GICC_EOIR write in gicEndOfInterrupt. No code in this
// module remaps the PIC's vectors; this package only acknowledges
// interrupts.
const (
	picMasterCommand = 0x20
	picSlaveCommand  = 0xa0
	picEOI           = 0x20
)

// SendEOI acknowledges an interrupt so the PIC will deliver further ones on
// the same line. irq is the PIC-relative line number (0..15); lines 8..15
// also need the slave PIC acknowledged, same as the master.
//
//go:nosplit
func SendEOI(irq uint8) {
	if irq >= 8 {
		arch.OutB(picSlaveCommand, picEOI)
	}
	arch.OutB(picMasterCommand, picEOI)
}
