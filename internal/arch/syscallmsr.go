package arch

// MSR addresses used to configure the SYSCALL/SYSRET fast path.
const (
	msrEFER  = 0xC0000080
	msrSTAR  = 0xC0000081
	msrLSTAR = 0xC0000082
	msrFMASK = 0xC0000084

	eferSCE = 1 << 0 // SYSCALL Enable
)

// ConfigureSyscallMSRs points the SYSCALL instruction at entryAddr and sets
// the selector pairs SYSRET/SYSCALL derive by adjacency (design note §9
// resolution 4): STAR's high 32 bits pack the kernel CS (SYSCALL loads
// CS=sel, SS=sel+8) and, in the upper word, a selector such that SYSRET
// loads CS=sel+16, SS=sel+8 -- which is exactly the KernelCode64,
// KernelData, UserData, UserCode64 adjacency this GDT uses.
//
// FMASK is configured to clear the interrupt flag in RFLAGS on entry (spec
// §4.5: "every handler runs with interrupts disabled on entry").
func ConfigureSyscallMSRs(entryAddr uintptr) {
	efer := rdmsr(msrEFER)
	wrmsr(msrEFER, efer|eferSCE)

	kernelSel := uint64(SegKernelCode64.Selector(Ring0))
	userSel := uint64(SegUserData.Selector(Ring3) - 8) // SYSRET adds back the +8/+16 offsets
	star := (userSel << 48) | (kernelSel << 32)
	wrmsr(msrSTAR, star)

	wrmsr(msrLSTAR, uint64(entryAddr))

	const rflagsIF = 1 << 9
	wrmsr(msrFMASK, rflagsIF)
}
