package service

// Request is the open call state on a connection (spec §3 "Request"):
// created by the caller's create_request, consumed by the callee's accept,
// destroyed when both sides have closed and all bytes are drained.
type Request struct {
	Endpoint EndpointID
	Accepted bool
}
