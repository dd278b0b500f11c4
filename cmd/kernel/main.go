// Command kernel is the bootable entry point: it wires every core
// component together in the fixed order spec §9 prescribes (architecture
// primitives → frame allocator → root mapper → scheduler main thread →
// heap map → service table population → syscall MSRs → ABI page), the same shape as
// the teacher's KernelMain in src/go/mazarin/kernel.go, generalized from a
// Raspberry Pi/QEMU-ARM boot sequence to this x86_64 core.
package main

import (
	"serva/internal/arch"
	"serva/internal/bootinfo"
	"serva/internal/debug"
	"serva/internal/kconfig"
	"serva/internal/klog"
	"serva/internal/memory/kheap"
	"serva/internal/memory/pmm"
	"serva/internal/memory/vmm"
	"serva/internal/sched"
	"serva/internal/service"
	"serva/internal/syscallabi"
)

// frameAllocatorAdapter satisfies vmm.FrameAllocator over a pmm.Allocator:
// kept here rather than in internal/memory/pmm so the frame allocator
// package has no compile-time knowledge of vmm's address types (spec §2's
// component boundary between B and C).
type frameAllocatorAdapter struct{ a *pmm.Allocator }

func (f frameAllocatorAdapter) AllocateFrame() (vmm.PhysAddr, error) {
	frame, err := f.a.AllocateFrame()
	return vmm.PhysAddr(frame), err
}

// kernel is the set of singletons boot assembles once; cmd/kernel never
// constructs a second one, matching the teacher's own "one running kernel"
// package-level-state shape, generalized here to an explicit struct instead
// of package globals so the pieces can be unit-tested in isolation in their
// own packages.
type kernel struct {
	uart       debug.UART
	frames     *pmm.Allocator
	rootMapper *vmm.Mapper
	scheduler  *sched.Scheduler
	heap       *kheap.Heap
	table      *service.Table
	dispatcher *syscallabi.Dispatcher
}

// heapPageSource adapts the root mapper into kheap.PageSource, mapping one
// fresh page just past the kernel's static heap region each time the heap
// needs to grow.
type heapPageSource struct {
	mapper *vmm.Mapper
	next   vmm.VirtAddr
}

func (s *heapPageSource) NextHeapPage() (uintptr, error) {
	page, err := vmm.NewPage(s.next, vmm.Size4KiB)
	if err != nil {
		return 0, err
	}
	flush, err := s.mapper.NewMap(page, vmm.FlagPresent|vmm.FlagWritable, vmm.FlagPresent|vmm.FlagWritable)
	if err != nil {
		return 0, err
	}
	flush.Discard()
	addr := uintptr(s.next)
	s.next += vmm.VirtAddr(kconfig.PageSize4KiB)
	return addr, nil
}

// heapRegionStart is the fixed kernel-virtual address the static heap
// region begins at; chosen well clear of the ABI page and any service
// address range this core reserves.
const heapRegionStart = 0x0000_0000_4000_0000

// tickISRStub and breakpointISRStub are the fixed addresses the IDT points
// the tick and breakpoint vectors at. In a real boot image these are tiny
// naked assembly stubs that save registers into a Context and call back
// into Go (the same indirection internal/arch.abipage.go documents for its
// own trampoline); left zero here since no assembly layer exists in this
// module, so the IDT gates installed by boot point at address 0.
var (
	tickISRStub       uintptr
	breakpointISRStub uintptr
	pageFaultISRStub  uintptr
	gpfISRStub        uintptr
	doubleFaultISRStub uintptr
)

// boot runs the fixed initialization sequence and returns the assembled
// kernel. Exported as KernelMain below for the real entry point's call
// convention; split out so tests can call it directly against a synthetic
// bootinfo.Info.
func boot(info bootinfo.Info) *kernel {
	k := &kernel{}

	// 1. Architecture primitives.
	k.uart = debug.InitUART()
	klog.SetSink(k.uart)
	klog.SetMinLevel(klog.LevelDebug)
	klog.Info("boot", "serva kernel starting")

	tss := &arch.TSS{}
	tss.SetISTStack(arch.ISTDoubleFault, doubleFaultStackTop())
	gdt := arch.NewGDT(tss)
	gdt.Load()

	idt := arch.NewIDT()
	kernelCS := arch.SegKernelCode64.Selector(arch.Ring0)
	idt.SetHandler(arch.VectorBreakpoint, breakpointISRStub, kernelCS, 0, arch.GateTrap)
	idt.SetHandler(arch.VectorDoubleFault, doubleFaultISRStub, kernelCS, arch.ISTDoubleFault, arch.GateInterrupt)
	idt.SetHandler(arch.VectorGeneralProtectionFault, gpfISRStub, kernelCS, 0, arch.GateInterrupt)
	idt.SetHandler(arch.VectorPageFault, pageFaultISRStub, kernelCS, 0, arch.GateInterrupt)
	idt.SetHandler(kconfig.TickVector, tickISRStub, kernelCS, 0, arch.GateInterrupt)
	idt.Load()
	klog.Info("boot", "GDT/IDT/TSS installed")

	// 2. Frame allocator.
	k.frames = pmm.NewAllocator(info.MemoryMap)
	klog.Info("boot", "frame allocator ready")

	// 3. Root mapper.
	l4, err := k.frames.AllocateFrame()
	if err != nil {
		panic("boot: cannot allocate root page table: " + err.Error())
	}
	k.rootMapper = vmm.NewMapper(vmm.PhysAddr(l4), frameAllocatorAdapter{k.frames}, vmm.VirtAddr(info.PhysicalMemoryOffset))
	klog.Info("boot", "root mapper ready")

	// 4. Scheduler main thread.
	k.scheduler = sched.New()
	k.scheduler.AddThread(&sched.Thread{Name: "kernel-idle"})
	klog.Info("boot", "scheduler ready")

	// 5. On first schedule: heap map. The heap's backing pages are mapped
	// lazily by heapPageSource as the allocator grows, so only the initial
	// static region needs mapping up front.
	source := &heapPageSource{mapper: k.rootMapper, next: vmm.VirtAddr(heapRegionStart)}
	initialPages := (kconfig.KernelHeapSize + kconfig.PageSize4KiB - 1) / kconfig.PageSize4KiB
	var heapStart uintptr
	for i := 0; i < initialPages; i++ {
		addr, err := source.NextHeapPage()
		if err != nil {
			panic("boot: cannot map initial heap region: " + err.Error())
		}
		if i == 0 {
			heapStart = addr
		}
	}
	k.heap = kheap.Init(heapStart, kconfig.KernelHeapSize, source)
	klog.Info("boot", "kernel heap ready")

	// 6. Service table population.
	k.table = service.NewTable(k.rootMapper, k.scheduler)
	klog.Info("boot", "service table ready")

	// 7. Syscall MSRs.
	k.dispatcher = syscallabi.NewDispatcher(k.scheduler, k.table)
	arch.ConfigureSyscallMSRs(syscallEntryStub())
	klog.Info("boot", "syscall MSRs configured")

	// 8. ABI page.
	if err := arch.Install(k.rootMapper, func(id, a1, a2, a3, a4 uint64) uint64 {
		return k.dispatcher.DispatchKernel(syscallabi.Args{ID: id, A0: a1, A1: a2, A2: a3, A3: a4})
	}); err != nil {
		panic("boot: cannot install ABI page: " + err.Error())
	}
	klog.Info("boot", "ABI page installed")

	return k
}

// syscallEntryStub stands in for the asm SYSCALL entry trampoline's
// address (saves registers into a Context, calls DispatchUser, SYSRETs);
// see the tickISRStub family's doc comment for why this module stops at
// the Go-expressible boundary.
func syscallEntryStub() uintptr { return uintptr(0) }

func doubleFaultStackTop() uintptr { return 0 }

// KernelMain is the real entry point, called from the (out-of-scope) boot
// assembly with the bootloader's handoff record already decoded into a
// bootinfo.Info. It never returns: once the scheduler has a runnable
// thread, control passes to arch.HaltAndWait on the idle path.
//
//go:nosplit
//go:noinline
func KernelMain(info bootinfo.Info) {
	k := boot(info)
	klog.Info("boot", "entering idle loop")
	_ = k
	arch.HaltAndWait()
}

// main exists only so this package builds as a Go program; boot assembly
// calls KernelMain directly and main is never reached on real hardware.
func main() {
	KernelMain(bootinfo.Info{})
	for {
		debug.Exit(debug.ExitFailure)
	}
}
