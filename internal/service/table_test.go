package service

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"serva/internal/kerrors"
	"serva/internal/memory/vmm"
	"serva/internal/sched"
)

// fakeFrames backs a vmm.Mapper with host memory, mirroring vmm's own test
// helper: frame N is simply a byte range within a host-allocated buffer, and
// physMemOffset is the buffer's own base address.
type fakeFrames struct {
	buf  []byte
	next uintptr
}

func newFakeFrames(frames int) *fakeFrames {
	return &fakeFrames{buf: make([]byte, frames*4096)}
}

func (f *fakeFrames) offset() vmm.VirtAddr {
	return vmm.VirtAddr(uintptr(unsafe.Pointer(&f.buf[0])))
}

func (f *fakeFrames) AllocateFrame() (vmm.PhysAddr, error) {
	addr := f.next
	f.next += 4096
	return vmm.PhysAddr(addr), nil
}

func newTestTable(t *testing.T) *Table {
	t.Helper()
	mem := newFakeFrames(256)
	l4, err := mem.AllocateFrame()
	require.NoError(t, err)
	root := vmm.NewMapper(l4, mem, mem.offset())

	s := sched.New()
	s.AddThread(&sched.Thread{Name: "main"})

	return NewTable(root, s)
}

func echoEndpoint() EndpointDecl {
	return EndpointDecl{
		Name:         "echo",
		MinPrivilege: PrivilegeUser,
		Request:      []Param{{Kind: ParamUnsizedBuffer}},
		Response:     []Param{{Kind: ParamUnsizedBuffer}},
	}
}

func TestRegisterSpecRejectsDuplicateName(t *testing.T) {
	table := newTestTable(t)
	_, err := table.RegisterSpec("server", PrivilegeUser, false, 0x1000, nil, []EndpointDecl{echoEndpoint()})
	require.NoError(t, err)

	_, err = table.RegisterSpec("server", PrivilegeUser, false, 0x2000, nil, nil)
	require.Error(t, err)
}

func TestRegisterSpecResolvesRequiredIntent(t *testing.T) {
	table := newTestTable(t)
	_, err := table.RegisterSpec("server", PrivilegeUser, false, 0x1000, nil, []EndpointDecl{echoEndpoint()})
	require.NoError(t, err)

	_, err = table.RegisterSpec("client", PrivilegeUser, false, 0x2000,
		[]IntentRequest{{TargetSpecName: "server", EndpointName: "echo", Required: true}}, nil)
	require.NoError(t, err)
}

func TestRegisterSpecAbortsOnUnresolvedRequiredIntent(t *testing.T) {
	table := newTestTable(t)
	_, err := table.RegisterSpec("client", PrivilegeUser, false, 0x2000,
		[]IntentRequest{{TargetSpecName: "nobody", EndpointName: "echo", Required: true}}, nil)
	require.Error(t, err)
}

func TestRegisterSpecDropsUnresolvedOptionalIntent(t *testing.T) {
	table := newTestTable(t)
	_, err := table.RegisterSpec("client", PrivilegeUser, false, 0x2000,
		[]IntentRequest{{TargetSpecName: "nobody", EndpointName: "echo", Required: false}}, nil)
	require.NoError(t, err)
}

func TestStartServiceSpawnsRunnableThread(t *testing.T) {
	table := newTestTable(t)
	specID, err := table.RegisterSpec("server", PrivilegeUser, false, 0x1000, nil, []EndpointDecl{echoEndpoint()})
	require.NoError(t, err)

	_, err = table.StartService(specID)
	require.NoError(t, err)

	next, _ := table.scheduler.Tick(nil)
	require.Equal(t, "server", next.Name)
}

func TestConnectCreateAcceptRequestFlow(t *testing.T) {
	table := newTestTable(t)
	serverSpec, err := table.RegisterSpec("server", PrivilegeUser, false, 0x1000, nil, []EndpointDecl{echoEndpoint()})
	require.NoError(t, err)
	clientSpec, err := table.RegisterSpec("client", PrivilegeUser, false, 0x2000,
		[]IntentRequest{{TargetSpecName: "server", EndpointName: "echo", Required: true}}, nil)
	require.NoError(t, err)

	clientSvc, err := table.StartService(clientSpec)
	require.NoError(t, err)
	serverSvc, err := table.StartService(serverSpec)
	require.NoError(t, err)

	conn, err := table.ConnectTo(clientSvc, serverSpec)
	require.NoError(t, err)

	echoID := table.endpoints[table.specs[serverSpec].endpoints.Start].ID
	err = table.CreateRequest(clientSvc, conn, echoID)
	require.NoError(t, err)

	_, _, ok := table.AcceptNextConnectionRequest(serverSvc)
	require.True(t, ok)

	n, err := table.Write(clientSvc, conn, []byte("ping"))
	require.NoError(t, err)
	require.Equal(t, 4, n)

	// server's connection index for the same shared record is 0 too, since
	// it is the only connection either side has so far.
	out := make([]byte, 4)
	n, err = table.Read(serverSvc, 0, out)
	require.NoError(t, err)
	require.Equal(t, "ping", string(out[:n]))
}

func TestCreateRequestSucceedsAgainAfterPriorRequestFullyDrains(t *testing.T) {
	table := newTestTable(t)
	serverSpec, err := table.RegisterSpec("server", PrivilegeUser, false, 0x1000, nil, []EndpointDecl{echoEndpoint()})
	require.NoError(t, err)
	clientSpec, err := table.RegisterSpec("client", PrivilegeUser, false, 0x2000,
		[]IntentRequest{{TargetSpecName: "server", EndpointName: "echo", Required: true}}, nil)
	require.NoError(t, err)

	clientSvc, err := table.StartService(clientSpec)
	require.NoError(t, err)
	serverSvc, err := table.StartService(serverSpec)
	require.NoError(t, err)

	conn, err := table.ConnectTo(clientSvc, serverSpec)
	require.NoError(t, err)
	echoID := table.endpoints[table.specs[serverSpec].endpoints.Start].ID

	runRequestResponse := func() {
		require.NoError(t, table.CreateRequest(clientSvc, conn, echoID))
		_, _, ok := table.AcceptNextConnectionRequest(serverSvc)
		require.True(t, ok)

		_, err := table.Write(clientSvc, conn, []byte("ping"))
		require.NoError(t, err)
		table.CloseWrite(clientSvc, conn)

		buf := make([]byte, 4)
		n, err := table.Read(serverSvc, 0, buf)
		require.NoError(t, err)
		require.Equal(t, "ping", string(buf[:n]))

		_, err = table.Write(serverSvc, 0, []byte("pong"))
		require.NoError(t, err)
		table.CloseWrite(serverSvc, 0)

		n, err = table.Read(clientSvc, conn, buf)
		require.NoError(t, err)
		require.Equal(t, "pong", string(buf[:n]))
	}

	runRequestResponse()

	// Before the fix, Current was never cleared and this second call always
	// returned ErrConnectionBusy.
	runRequestResponse()
}

func TestCreateRequestFailsWhilePriorRequestStillOpen(t *testing.T) {
	table := newTestTable(t)
	serverSpec, err := table.RegisterSpec("server", PrivilegeUser, false, 0x1000, nil, []EndpointDecl{echoEndpoint()})
	require.NoError(t, err)
	clientSpec, err := table.RegisterSpec("client", PrivilegeUser, false, 0x2000,
		[]IntentRequest{{TargetSpecName: "server", EndpointName: "echo", Required: true}}, nil)
	require.NoError(t, err)

	clientSvc, err := table.StartService(clientSpec)
	require.NoError(t, err)
	_, err = table.StartService(serverSpec)
	require.NoError(t, err)

	conn, err := table.ConnectTo(clientSvc, serverSpec)
	require.NoError(t, err)
	echoID := table.endpoints[table.specs[serverSpec].endpoints.Start].ID

	require.NoError(t, table.CreateRequest(clientSvc, conn, echoID))

	err = table.CreateRequest(clientSvc, conn, echoID)
	require.ErrorIs(t, err, kerrors.ErrConnectionBusy)
}

func TestCreateRequestFailsWithoutIntent(t *testing.T) {
	table := newTestTable(t)
	serverSpec, err := table.RegisterSpec("server", PrivilegeUser, false, 0x1000, nil, []EndpointDecl{echoEndpoint()})
	require.NoError(t, err)
	clientSpec, err := table.RegisterSpec("client", PrivilegeUser, false, 0x2000, nil, nil)
	require.NoError(t, err)

	clientSvc, err := table.StartService(clientSpec)
	require.NoError(t, err)
	_, err = table.StartService(serverSpec)
	require.NoError(t, err)

	conn, err := table.ConnectTo(clientSvc, serverSpec)
	require.NoError(t, err)

	echoID := table.endpoints[table.specs[serverSpec].endpoints.Start].ID
	err = table.CreateRequest(clientSvc, conn, echoID)
	require.ErrorIs(t, err, kerrors.ErrOperationNotPermitted)
}
