package service

// Intent is a resolved link source_spec -> endpoint (spec §3 "Intent"): a
// service may only open a request to an endpoint for which its spec holds
// a matching intent.
type Intent struct {
	ID       IntentID
	Source   SpecID
	Endpoint EndpointID
}

// IntentRequest is the registration-time declaration of one intent a spec
// wants to hold: a named endpoint on a named target spec, required or
// optional (spec §4.4 "Spec registration" step 2).
type IntentRequest struct {
	TargetSpecName string
	EndpointName   string
	Required       bool
}
