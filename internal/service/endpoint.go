package service

import "serva/internal/kerrors"

// ParamKind is the shape of one request/response parameter (spec §3
// "Endpoint"): a caller-sized buffer, a buffer whose size the protocol
// itself delimits, or a stream handle to a separately-addressed pipe.
type ParamKind uint8

const (
	ParamSizedBuffer ParamKind = iota
	ParamUnsizedBuffer
	ParamStreamHandle
)

// Param describes one request or response parameter. Type is a free-form
// protocol-level tag (e.g. "utf8", "bytes"); the kernel never interprets it,
// only enforces MaxBytes for ParamSizedBuffer.
type Param struct {
	Kind     ParamKind
	MaxBytes uint32
	Type     string
}

// NewSizedBufferParam validates the spec §3 invariant "a sized buffer's max
// is strictly positive".
func NewSizedBufferParam(maxBytes uint32, typ string) (Param, error) {
	if maxBytes == 0 {
		return Param{}, kerrors.ErrInvalidStringArgument
	}
	return Param{Kind: ParamSizedBuffer, MaxBytes: maxBytes, Type: typ}, nil
}

// Endpoint belongs to exactly one spec (spec §3 "Endpoint").
type Endpoint struct {
	ID           EndpointID
	Spec         SpecID
	Name         string
	MinPrivilege Privilege
	Request      []Param
	Response     []Param
}
