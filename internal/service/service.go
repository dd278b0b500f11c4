package service

import (
	"serva/internal/memory/vmm"
	"serva/internal/sched"
)

// ServiceID identifies a running service instance. Distinct from
// sched.ServiceID (which sched uses to avoid importing this package); the
// two are kept numerically identical by convention and converted at the
// boundary (see Table.StartService).
type ServiceID uint32

// NoService mirrors sched.NoService for code that only has a service
// package-local ServiceID in hand.
const NoService ServiceID = 0

// Service is a running instance of a spec (spec §3 "Service"): id, owning
// memory mapper (inherits kernel mappings read-only from the root mapper),
// its connections, and an accept blocking chain.
type Service struct {
	ID   ServiceID
	Spec SpecID

	Mapper *vmm.Mapper

	Connections []*Connection

	// AcceptChain parks threads calling block_until_next_request (spec
	// §4.4).
	AcceptChain sched.Chain
}
