package service

import (
	"strings"

	"serva/internal/arch"
	"serva/internal/kconfig"
	"serva/internal/kerrors"
	"serva/internal/memory/vmm"
	"serva/internal/sched"
	"serva/internal/syncutil"
)

// EndpointDecl is the registration-time declaration of one endpoint a spec
// exposes, before dense global ids are assigned (spec §4.4 "Spec
// registration" step 3).
type EndpointDecl struct {
	Name         string
	MinPrivilege Privilege
	Request      []Param
	Response     []Param
}

// Table is the global service table singleton (spec §4.4): specs, intents,
// endpoints, services, and the root (kernel) memory mapper. The table's own
// slices (specs/intents/endpoints/services) are guarded by one
// coarse-grained lock (spec §5 "Global tables ... are guarded by
// coarse-grained spin mutexes; they are only contended inside atomic blocks
// so contention is effectively nil"); once a connection has been resolved
// from that lock, its own Connection.Mutex guards its Current request and
// pipe state, so I/O on distinct connections never serializes against each
// other (spec §5 "Each connection has its own mutex; distinct connections
// are independent").
type Table struct {
	lock syncutil.SpinMutex

	specs     []ServiceSpec
	intents   []Intent
	endpoints []Endpoint
	services  []*Service

	rootMapper *vmm.Mapper
	scheduler  *sched.Scheduler

	once syncutil.PanicOnce
}

// NewTable constructs an empty table over rootMapper and scheduler s.
// Init offers a PanicOnce wrapper for boot-time population (design note §9
// "A PanicOnce wrapper enforces single-initialization"); cmd/kernel
// constructs the table but neither calls Init nor registers any spec.
func NewTable(rootMapper *vmm.Mapper, s *sched.Scheduler) *Table {
	return &Table{rootMapper: rootMapper, scheduler: s}
}

// Init runs fn exactly once; a second call panics (spec §9). Intended for
// the boot-time population of specs via RegisterSpec.
func (t *Table) Init(fn func()) { t.once.Do(fn) }

// findEndpointLocked looks up endpointName on the already-registered spec
// named targetSpecName, honoring the minimum-privilege gate (spec §4.4
// step 2). Caller must hold t.lock.
func (t *Table) findEndpointLocked(targetSpecName, endpointName string, callerPriv Privilege) (EndpointID, bool) {
	for i := range t.specs {
		if t.specs[i].Name != targetSpecName {
			continue
		}
		r := t.specs[i].endpoints
		for id := r.Start; id < r.End; id++ {
			ep := t.endpoints[id]
			if ep.Name == endpointName && callerPriv.Meets(ep.MinPrivilege) {
				return EndpointID(id), true
			}
		}
		return 0, false
	}
	return 0, false
}

// RegisterSpec registers a new spec (spec §4.4 "Spec registration").
func (t *Table) RegisterSpec(name string, priv Privilege, discovery bool, entry uintptr, intents []IntentRequest, endpoints []EndpointDecl) (SpecID, error) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for i := range t.specs {
		if t.specs[i].Name == name {
			return 0, kerrors.ErrNameTaken
		}
	}
	newSpecID := SpecID(len(t.specs))

	resolved := make([]Intent, 0, len(intents))
	for _, req := range intents {
		epID, ok := t.findEndpointLocked(req.TargetSpecName, req.EndpointName, priv)
		if !ok {
			if req.Required {
				return 0, kerrors.ErrRequirementsNotMet
			}
			continue
		}
		resolved = append(resolved, Intent{Source: newSpecID, Endpoint: epID})
	}

	endpointsStart := uint32(len(t.endpoints))
	for _, decl := range endpoints {
		t.endpoints = append(t.endpoints, Endpoint{
			ID:           EndpointID(len(t.endpoints)),
			Spec:         newSpecID,
			Name:         decl.Name,
			MinPrivilege: decl.MinPrivilege,
			Request:      decl.Request,
			Response:     decl.Response,
		})
	}
	endpointsEnd := uint32(len(t.endpoints))

	intentsStart := uint32(len(t.intents))
	for _, in := range resolved {
		in.ID = IntentID(len(t.intents))
		t.intents = append(t.intents, in)
	}
	intentsEnd := uint32(len(t.intents))

	t.specs = append(t.specs, ServiceSpec{
		ID:         newSpecID,
		Name:       name,
		Privilege:  priv,
		Entrypoint: entry,
		Discovery:  discovery,
		intents:    idRange{intentsStart, intentsEnd},
		endpoints:  idRange{endpointsStart, endpointsEnd},
	})
	return newSpecID, nil
}

// stackFlagsFor returns the leaf mapping flags for a service's stack pages,
// derived from its privilege (spec §4.4 "Service start" step 2).
func stackFlagsFor(priv Privilege) vmm.Flags {
	flags := vmm.FlagPresent | vmm.FlagWritable
	if priv != PrivilegeKernel {
		flags |= vmm.FlagUserAccessible
	}
	return flags
}

func segmentsFor(priv Privilege) (cs, ss uint16) {
	if priv == PrivilegeKernel {
		return arch.SegKernelCode64.Selector(arch.Ring0), arch.SegKernelData.Selector(arch.Ring0)
	}
	return arch.SegUserCode64.Selector(arch.Ring3), arch.SegUserData.Selector(arch.Ring3)
}

// StartService instantiates specID (spec §4.4 "Service start"): borrows a
// new address space inheriting the root mapper's mappings read-only, maps a
// fresh stack, allocates a service id, and spawns the entry thread.
func (t *Table) StartService(specID SpecID) (ServiceID, error) {
	t.lock.Lock()
	spec := t.specs[specID]
	t.lock.Unlock()

	mapper, err := t.rootMapper.BorrowToNewMapper(true)
	if err != nil {
		return 0, err
	}

	stackTop := uintptr(kconfig.ServiceStackTopSentinel) - kconfig.PageSize4KiB
	flags := stackFlagsFor(spec.Privilege)
	for i := 0; i < kconfig.ServiceStackPages; i++ {
		addr := vmm.VirtAddr(stackTop - uintptr(i)*kconfig.PageSize4KiB)
		page, err := vmm.NewPage(addr, vmm.Size4KiB)
		if err != nil {
			return 0, err
		}
		flush, err := mapper.NewMap(page, flags, flags)
		if err != nil {
			return 0, err
		}
		flush.Discard()
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	newID := ServiceID(len(t.services))
	svc := &Service{ID: newID, Spec: specID, Mapper: mapper, AcceptChain: sched.NewChain()}
	t.services = append(t.services, svc)
	t.specs[specID].ServiceID = newID
	t.specs[specID].HasService = true

	cs, ss := segmentsFor(spec.Privilege)
	th := &sched.Thread{
		Name:       spec.Name,
		Service:    sched.ServiceID(newID),
		HasService: true,
	}
	th.Ctx.RIP = uint64(spec.Entrypoint)
	th.Ctx.RSP = uint64(kconfig.ServiceStackTopSentinel)
	th.Ctx.CS = uint64(cs)
	th.Ctx.SS = uint64(ss)
	t.scheduler.AddThread(th)

	return newID, nil
}

// ConnectTo opens a connection from caller to the service backing
// targetSpec, lazily starting it if it has no running instance (spec §4.4
// "connect_to"). Returns the caller's own connection index.
func (t *Table) ConnectTo(caller ServiceID, targetSpec SpecID) (ConnID, error) {
	t.lock.Lock()
	spec := t.specs[targetSpec]
	t.lock.Unlock()

	targetID := spec.ServiceID
	if !spec.HasService {
		var err error
		targetID, err = t.StartService(targetSpec)
		if err != nil {
			return 0, err
		}
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	callerSvc := t.services[caller]
	targetSvc := t.services[targetID]

	conn := NewConnection(t.scheduler, caller, targetID)
	callerIdx := ConnID(len(callerSvc.Connections))
	callerSvc.Connections = append(callerSvc.Connections, conn)
	if targetSvc != callerSvc {
		targetSvc.Connections = append(targetSvc.Connections, conn)
	}
	return callerIdx, nil
}

func (t *Table) specOfService(id ServiceID) *ServiceSpec {
	return &t.specs[t.services[id].Spec]
}

func (t *Table) hasIntent(specID SpecID, endpoint EndpointID) bool {
	r := t.specs[specID].intents
	for i := r.Start; i < r.End; i++ {
		if t.intents[i].Endpoint == endpoint {
			return true
		}
	}
	return false
}

// CreateRequest opens a request on conn against endpoint (spec §4.4
// "create_request"): the caller spec must hold a matching intent, and the
// connection must not already have a request in flight. Only the lookup of
// conn and the intent check read table-wide state; the request itself is
// guarded by the connection's own mutex, so distinct connections never
// serialize against each other here (spec §5 "distinct connections are
// independent").
func (t *Table) CreateRequest(caller ServiceID, conn ConnID, endpoint EndpointID) error {
	t.lock.Lock()
	c := t.services[caller].Connections[conn]
	target := t.services[c.Target]
	hasIntent := t.hasIntent(t.services[caller].Spec, endpoint)
	ep := t.endpoints[endpoint]
	t.lock.Unlock()

	if !hasIntent {
		return kerrors.ErrOperationNotPermitted
	}

	c.Mutex.Lock()
	defer c.Mutex.Unlock()

	if c.Current != nil {
		return kerrors.ErrConnectionBusy
	}
	c.Current = &Request{Endpoint: endpoint}
	c.RequestPipe.Reset(ep.Request)
	c.ResponsePipe.Reset(ep.Response)

	t.scheduler.ReleaseOne(&target.AcceptChain)
	return nil
}

// AcceptNextConnectionRequest scans svc's connections for a pending,
// unaccepted request and marks it accepted (spec §4.4
// "accept_next_connection_request"). Each connection is locked only for the
// instant its own Current is inspected.
func (t *Table) AcceptNextConnectionRequest(svc ServiceID) (ConnID, EndpointID, bool) {
	t.lock.Lock()
	conns := t.services[svc].Connections
	t.lock.Unlock()

	for i, c := range conns {
		c.Mutex.Lock()
		if c.Current != nil && !c.Current.Accepted {
			c.Current.Accepted = true
			endpoint := c.Current.Endpoint
			c.Mutex.Unlock()
			return ConnID(i), endpoint, true
		}
		c.Mutex.Unlock()
	}
	return 0, 0, false
}

// BlockUntilNextRequest parks the calling thread on svc's accept chain
// (spec §4.4 "block_until_next_request").
func (t *Table) BlockUntilNextRequest(svc ServiceID) {
	t.lock.Lock()
	s := t.scheduler
	s.Park(s.CurrentID(), &t.services[svc].AcceptChain)
	t.lock.Unlock()
	s.YieldCurrent()
}

// connectionFor resolves caller's connection handle under the table lock;
// the returned *Connection is then operated on through its own Mutex, not
// t.lock, so I/O on one connection never blocks I/O on another.
func (t *Table) connectionFor(self ServiceID, conn ConnID) *Connection {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.services[self].Connections[conn]
}

// CloseWrite closes self's write side of conn (spec §4.4 "close_write"),
// then tears down the request if both directions have now closed and
// drained (see Connection.tryCompleteRequest).
func (t *Table) CloseWrite(self ServiceID, conn ConnID) {
	c := t.connectionFor(self, conn)

	c.Mutex.Lock()
	defer c.Mutex.Unlock()

	write, _ := c.PipesFor(self)
	write.CloseWrite(t.scheduler)
	c.tryCompleteRequest(t.scheduler)
}

// Write queues data onto self's write-side pipe of conn, parking on a full
// buffer until room frees up (spec §4.4 "Pipe I/O").
func (t *Table) Write(self ServiceID, conn ConnID, data []byte) (int, error) {
	c := t.connectionFor(self, conn)

	total := 0
	for total < len(data) {
		c.Mutex.Lock()
		write, _ := c.PipesFor(self)
		n, err := write.Write(t.scheduler, data[total:])
		c.Mutex.Unlock()
		if err != nil {
			return total, err
		}
		total += n
		if n == 0 {
			write.ParkWriter(t.scheduler)
		}
	}
	return total, nil
}

// Read dequeues up to len(out) bytes from self's read-side pipe of conn,
// parking on an empty, still-open pipe until data or closure arrives (spec
// §4.4 "Pipe I/O"). A read that drains the pipe also tears the request down
// once both directions have closed and drained (spec §8 invariant 8).
func (t *Table) Read(self ServiceID, conn ConnID, out []byte) (int, error) {
	c := t.connectionFor(self, conn)

	for {
		c.Mutex.Lock()
		_, read := c.PipesFor(self)
		n, err := read.Read(t.scheduler, out)
		if err == nil {
			c.tryCompleteRequest(t.scheduler)
		}
		c.Mutex.Unlock()

		if err == ErrWouldBlock {
			read.ParkReader(t.scheduler)
			continue
		}
		return n, err
	}
}

// SpecIDByName looks up a registered spec by name, for the connect(name_ptr)
// syscall (spec §4.5).
func (t *Table) SpecIDByName(name string) (SpecID, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	for i := range t.specs {
		if t.specs[i].Name == name {
			return t.specs[i].ID, true
		}
	}
	return 0, false
}

// EndpointByNameForConn resolves an endpoint name against the target spec
// of conn (as seen from caller), for the request(conn, endpoint_name_ptr)
// syscall: the caller already knows which service it is talking to, so the
// endpoint name is bare, not spec-qualified.
func (t *Table) EndpointByNameForConn(caller ServiceID, conn ConnID, name string) (EndpointID, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()

	c := t.services[caller].Connections[conn]
	targetSpec := t.services[c.Target].Spec
	r := t.specs[targetSpec].endpoints
	for id := r.Start; id < r.End; id++ {
		if t.endpoints[id].Name == name {
			return EndpointID(id), true
		}
	}
	return 0, false
}

// FindEndpointByQualifiedName resolves a "specname.endpointname" string for
// the stat_endpoint(name_ptr) syscall, which (unlike request) has no
// connection in hand to disambiguate the target spec.
func (t *Table) FindEndpointByQualifiedName(qualified string) (EndpointID, bool) {
	dot := strings.IndexByte(qualified, '.')
	if dot < 0 {
		return 0, false
	}
	specName, epName := qualified[:dot], qualified[dot+1:]

	t.lock.Lock()
	defer t.lock.Unlock()

	for si := range t.specs {
		if t.specs[si].Name != specName {
			continue
		}
		r := t.specs[si].endpoints
		for id := r.Start; id < r.End; id++ {
			if t.endpoints[id].Name == epName {
				return EndpointID(id), true
			}
		}
		return 0, false
	}
	return 0, false
}

// DerefPointer resolves a user-supplied pointer argument in caller's
// address space (spec §4.4 "Pointer deref").
func (t *Table) DerefPointer(caller ServiceID, v uintptr) ([]byte, error) {
	t.lock.Lock()
	svc := t.services[caller]
	kernelCaller := t.specs[svc.Spec].Privilege == PrivilegeKernel
	t.lock.Unlock()

	return svc.Mapper.DerefWindow(vmm.VirtAddr(v), kernelCaller)
}

// CopyToPointer writes data into caller's address space at v, validated the
// same way DerefPointer validates a read (spec §4.4 "Pointer deref"); used
// by the read() syscall to fill a user-supplied buffer.
func (t *Table) CopyToPointer(caller ServiceID, v uintptr, data []byte) (int, error) {
	t.lock.Lock()
	svc := t.services[caller]
	kernelCaller := t.specs[svc.Spec].Privilege == PrivilegeKernel
	t.lock.Unlock()

	return svc.Mapper.CopyInto(vmm.VirtAddr(v), data, kernelCaller)
}
