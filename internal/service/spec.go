// Package service is the service table (spec §2 component G, §4.4): the
// global registry of specs, intents, endpoints and running services, plus
// the connection/pipe/request machinery that makes up the kernel's IPC
// surface. Grounded on the teacher's single-file-singleton style (global
// mutable state guarded by one lock, the way src/go/mazarin/kernel.go holds
// package-level state for the one running kernel instance) generalized from
// a device/runtime registry to a service/endpoint registry.
package service

// Privilege orders caller trust the way spec §3 "Service spec" describes it:
// "Kernel ⊃ System ⊃ User". Numerically higher means strictly more
// capable, so "caller.Privilege >= endpoint.MinPrivilege" is the whole
// authorization check.
type Privilege uint8

const (
	PrivilegeUser Privilege = iota
	PrivilegeSystem
	PrivilegeKernel
)

// Meets reports whether this privilege satisfies a minimum requirement.
func (p Privilege) Meets(min Privilege) bool { return p >= min }

// SpecID identifies a registered ServiceSpec.
type SpecID uint32

// EndpointID identifies a registered Endpoint, dense and contiguous across
// all specs (spec §4.4 "Append endpoints with dense contiguous ids").
type EndpointID uint32

// IntentID identifies a resolved Intent.
type IntentID uint32

// idRange is a half-open [Start, End) range into a global table (spec §3:
// "half-open [start,end) ranges into the global intents and endpoints
// tables").
type idRange struct {
	Start, End uint32
}

func (r idRange) contains(id uint32) bool { return id >= r.Start && id < r.End }

// ServiceSpec is immutable once registered (spec §3 "Service spec").
type ServiceSpec struct {
	ID         SpecID
	Name       string
	Privilege  Privilege
	Entrypoint uintptr
	Discovery  bool

	intents   idRange
	endpoints idRange

	// ServiceID is set once the spec has been instantiated by StartService;
	// HasService distinguishes "never started" from service id 0.
	ServiceID  ServiceID
	HasService bool
}
