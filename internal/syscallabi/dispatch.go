package syscallabi

import (
	"serva/internal/arch"
	"serva/internal/kerrors"
	"serva/internal/sched"
	"serva/internal/service"
)

// Args carries the four general-purpose argument registers a syscall stub
// hands off after the SYSCALL entry trampoline has parked them (spec §4.5:
// "up to four register-width arguments besides the syscall id").
type Args struct {
	ID             uint64
	A0, A1, A2, A3 uint64
}

// Handler implements one syscall id. caller is the calling thread's service,
// already resolved from the scheduler's current-service association.
type Handler func(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error)

// Dispatcher routes a decoded syscall to its handler under an atomic block
// (spec §4.5: "every syscall handler runs with interrupts disabled on
// entry"), then sign-encodes the result for the SYSRET return path.
type Dispatcher struct {
	scheduler *sched.Scheduler
	table     *service.Table

	userTable   map[UserSyscall]Handler
	kernelTable map[KernelSyscall]Handler
}

// NewDispatcher wires the fixed id-to-handler tables (spec §4.5 "Syscall
// table"). Both tables are built once at construction; dispatch itself only
// ever reads them, so no locking is needed around the maps.
func NewDispatcher(s *sched.Scheduler, t *service.Table) *Dispatcher {
	d := &Dispatcher{scheduler: s, table: t}
	d.userTable = map[UserSyscall]Handler{
		SysHello:        handleHello,
		SysConnect:      handleConnect,
		SysRequest:      handleRequest,
		SysWrite:        handleWrite,
		SysRead:         handleRead,
		SysAccept:       handleAccept,
		SysStatEndpoint: handleStatEndpoint,
	}
	d.kernelTable = map[KernelSyscall]Handler{
		SysBlockUntilNextRequest: handleBlockUntilNextRequest,
	}
	return d
}

// currentCaller resolves the running thread's service association. Panics
// if the current thread has none: every thread that can reach a syscall
// trap is either a service thread or the kernel's own idle/boot thread,
// which never issues syscalls.
func (d *Dispatcher) currentCaller() service.ServiceID {
	svcID, ok := d.scheduler.CurrentService()
	if !ok {
		panic("syscallabi: syscall from a thread with no service association")
	}
	return service.ServiceID(svcID)
}

func (d *Dispatcher) dispatch(h Handler, args Args) uint64 {
	var result uint64
	arch.AtomicBlock(func() {
		caller := d.currentCaller()
		v, err := h(d, caller, args)
		if err != nil {
			result = EncodeErr(err)
			return
		}
		result = EncodeOk(v)
	})
	return result
}

// DispatchUser handles a SYSCALL trap from user mode (spec §4.5): ids at or
// above FirstKernelSyscall are rejected outright, since no user-mode code
// should ever be able to reach a kernel-only handler.
func (d *Dispatcher) DispatchUser(args Args) uint64 {
	if args.ID >= FirstKernelSyscall {
		return EncodeErr(kerrors.ErrOperationNotPermitted)
	}
	h, ok := d.userTable[UserSyscall(args.ID)]
	if !ok {
		return EncodeErr(kerrors.ErrUnknownSyscall)
	}
	return d.dispatch(h, args)
}

// DispatchKernel handles a syscall issued by the kernel's own service-
// hosting code (ids >= FirstKernelSyscall only).
func (d *Dispatcher) DispatchKernel(args Args) uint64 {
	h, ok := d.kernelTable[KernelSyscall(args.ID)]
	if !ok {
		return EncodeErr(kerrors.ErrUnknownSyscall)
	}
	return d.dispatch(h, args)
}
