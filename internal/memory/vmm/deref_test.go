package vmm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"serva/internal/kerrors"
)

func TestDerefWindowRejectsUnmappedPointer(t *testing.T) {
	m, _ := newTestMapper(t, 8)
	_, err := m.DerefWindow(VirtAddr(0x9000), true)
	require.ErrorIs(t, err, kerrors.ErrInvalidPointerMappings)
}

func TestDerefWindowRejectsNonUserPageForNonKernelCaller(t *testing.T) {
	m, _ := newTestMapper(t, 8)
	v := VirtAddr(0x1000)
	page, _ := NewPage(v, Size4KiB)
	flush, err := m.NewMap(page, FlagPresent|FlagWritable, FlagPresent|FlagWritable)
	require.NoError(t, err)
	flush.Discard()

	_, err = m.DerefWindow(v, false)
	require.ErrorIs(t, err, kerrors.ErrInvalidPointerMappings)
}

func TestDerefWindowAllowsKernelCallerOnNonUserPage(t *testing.T) {
	m, _ := newTestMapper(t, 8)
	v := VirtAddr(0x1000)
	page, _ := NewPage(v, Size4KiB)
	flush, err := m.NewMap(page, FlagPresent|FlagWritable, FlagPresent|FlagWritable)
	require.NoError(t, err)
	flush.Discard()

	got, err := m.DerefWindow(v, true)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestDerefWindowExtendsIntoSafeNextPage(t *testing.T) {
	m, _ := newTestMapper(t, 8)
	v := VirtAddr(0x4000_0000_0000) // leaves room for two pages below a sentinel elsewhere
	page1, _ := NewPage(v, Size4KiB)
	flush, err := m.NewMap(page1, FlagPresent|FlagWritable|FlagUserAccessible, FlagPresent|FlagWritable|FlagUserAccessible)
	require.NoError(t, err)
	flush.Discard()

	page2, _ := NewPage(v+VirtAddr(0x1000), Size4KiB)
	flush, err = m.NewMap(page2, FlagPresent|FlagWritable|FlagUserAccessible, FlagPresent|FlagWritable|FlagUserAccessible)
	require.NoError(t, err)
	flush.Discard()

	got, err := m.DerefWindow(v, false)
	require.NoError(t, err)
	require.Len(t, got, 2*4096)
}

func TestDerefWindowOmitsUnsafeOrUnmappedNextPage(t *testing.T) {
	m, _ := newTestMapper(t, 8)
	v := VirtAddr(0x5000_0000_0000)
	page1, _ := NewPage(v, Size4KiB)
	flush, err := m.NewMap(page1, FlagPresent|FlagWritable|FlagUserAccessible, FlagPresent|FlagWritable|FlagUserAccessible)
	require.NoError(t, err)
	flush.Discard()

	got, err := m.DerefWindow(v, false)
	require.NoError(t, err)
	require.Len(t, got, 4096)

	// A present next page that is not user-accessible is omitted too.
	page2, _ := NewPage(v+VirtAddr(0x1000), Size4KiB)
	flush, err = m.NewMap(page2, FlagPresent|FlagWritable, FlagPresent|FlagWritable)
	require.NoError(t, err)
	flush.Discard()

	got, err = m.DerefWindow(v, false)
	require.NoError(t, err)
	require.Len(t, got, 4096)
}
