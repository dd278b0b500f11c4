package syscallabi

import (
	"bytes"

	"serva/internal/kconfig"
	"serva/internal/kerrors"
	"serva/internal/service"
)

// cStringFromWindow derefs ptr in caller's address space and scans the
// returned window for a NUL terminator, bounded by
// kconfig.NullTerminatedStringWindow (spec §4.4: "strings must therefore be
// null-terminated within the first 256 bytes of that window").
func cStringFromWindow(d *Dispatcher, caller service.ServiceID, ptr uintptr) (string, error) {
	window, err := d.table.DerefPointer(caller, ptr)
	if err != nil {
		return "", err
	}
	if len(window) > kconfig.NullTerminatedStringWindow {
		window = window[:kconfig.NullTerminatedStringWindow]
	}
	end := bytes.IndexByte(window, 0)
	if end < 0 {
		return "", kerrors.ErrInvalidStringArgument
	}
	return string(window[:end]), nil
}

// handleHello is the liveness/handshake syscall (spec §4.5): it takes no
// arguments and always succeeds.
func handleHello(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error) {
	return 0, nil
}

// handleConnect implements connect(name_ptr) (spec §4.4 "connect_to").
func handleConnect(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error) {
	name, err := cStringFromWindow(d, caller, uintptr(args.A0))
	if err != nil {
		return 0, err
	}
	targetSpec, ok := d.table.SpecIDByName(name)
	if !ok {
		return 0, kerrors.ErrResourceNotFound
	}
	conn, err := d.table.ConnectTo(caller, targetSpec)
	if err != nil {
		return 0, err
	}
	return uint64(conn), nil
}

// handleRequest implements request(conn, endpoint_name_ptr) (spec §4.4
// "create_request").
func handleRequest(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error) {
	conn := service.ConnID(args.A0)
	name, err := cStringFromWindow(d, caller, uintptr(args.A1))
	if err != nil {
		return 0, err
	}
	endpoint, ok := d.table.EndpointByNameForConn(caller, conn, name)
	if !ok {
		return 0, kerrors.ErrResourceNotFound
	}
	if err := d.table.CreateRequest(caller, conn, endpoint); err != nil {
		return 0, err
	}
	return 0, nil
}

// handleWrite implements write(conn, ptr, len, flags) (spec §4.4 "Pipe
// I/O"). flags carries WriteEndOfStream, consumed in this same syscall as
// the final write (spec §4.4: "A close_write with end=true flag is
// consumed in the same syscall as the final write") — this is the only way
// a service ever closes its write side, since close_write has no syscall of
// its own in the canonical id table.
func handleWrite(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error) {
	conn := service.ConnID(args.A0)
	window, err := d.table.DerefPointer(caller, uintptr(args.A1))
	if err != nil {
		return 0, err
	}
	n := int(args.A2)
	if n > len(window) {
		return 0, kerrors.ErrInvalidPointerMappings
	}
	written, err := d.table.Write(caller, conn, window[:n])
	if err != nil {
		return 0, err
	}
	if args.A3&WriteEndOfStream != 0 {
		d.table.CloseWrite(caller, conn)
	}
	return uint64(written), nil
}

// handleRead implements read(conn, ptr, len) (spec §4.4 "Pipe I/O").
func handleRead(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error) {
	conn := service.ConnID(args.A0)
	window, err := d.table.DerefPointer(caller, uintptr(args.A1))
	if err != nil {
		return 0, err
	}
	n := int(args.A2)
	if n > len(window) {
		n = len(window)
	}
	buf := make([]byte, n)
	got, err := d.table.Read(caller, conn, buf)
	if err != nil {
		return 0, err
	}
	if _, err := d.table.CopyToPointer(caller, uintptr(args.A1), buf[:got]); err != nil {
		return 0, err
	}
	return uint64(got), nil
}

// handleAccept implements accept() (spec §4.4 "accept_next_connection_
// request", §4.5 accept return encoding).
func handleAccept(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error) {
	conn, endpoint, ok := d.table.AcceptNextConnectionRequest(caller)
	if !ok {
		return EncodeAcceptNone(), nil
	}
	return EncodeAcceptSome(uint32(conn), uint32(endpoint)), nil
}

// handleStatEndpoint implements stat_endpoint(name_ptr) (spec §4.5): name
// is a spec-qualified "specname.endpointname" string, resolved without
// reference to any existing connection.
func handleStatEndpoint(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error) {
	name, err := cStringFromWindow(d, caller, uintptr(args.A0))
	if err != nil {
		return 0, err
	}
	endpoint, ok := d.table.FindEndpointByQualifiedName(name)
	if !ok {
		return 0, kerrors.ErrResourceNotFound
	}
	return uint64(endpoint), nil
}

// handleBlockUntilNextRequest implements the kernel-only
// block_until_next_request() syscall (spec §4.4).
func handleBlockUntilNextRequest(d *Dispatcher, caller service.ServiceID, args Args) (uint64, error) {
	d.table.BlockUntilNextRequest(caller)
	return 0, nil
}
