package pmm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"serva/internal/bootinfo"
)

func mapWith(regions ...bootinfo.Region) bootinfo.MemoryMap {
	return bootinfo.MemoryMap{Regions: regions}
}

func TestAllocateFrameMonotonic(t *testing.T) {
	mm := mapWith(bootinfo.Region{StartFrame: 0, EndFrame: 4, Kind: bootinfo.Usable})
	a := NewAllocator(mm)

	var got []PhysFrame
	for i := 0; i < 4; i++ {
		f, err := a.AllocateFrame()
		require.NoError(t, err)
		got = append(got, f)
	}
	require.Equal(t, []PhysFrame{0, FrameSize4KiB, 2 * FrameSize4KiB, 3 * FrameSize4KiB}, got)

	_, err := a.AllocateFrame()
	require.ErrorIs(t, err, ErrOutOfFrames)
}

func TestAllocateFrameSkipsNonUsableRegions(t *testing.T) {
	mm := mapWith(
		bootinfo.Region{StartFrame: 0, EndFrame: 2, Kind: bootinfo.Kernel},
		bootinfo.Region{StartFrame: 2, EndFrame: 3, Kind: bootinfo.Reserved},
		bootinfo.Region{StartFrame: 3, EndFrame: 5, Kind: bootinfo.Usable},
	)
	a := NewAllocator(mm)

	f1, err := a.AllocateFrame()
	require.NoError(t, err)
	require.Equal(t, PhysFrame(3*FrameSize4KiB), f1)

	f2, err := a.AllocateFrame()
	require.NoError(t, err)
	require.Equal(t, PhysFrame(4*FrameSize4KiB), f2)

	_, err = a.AllocateFrame()
	require.ErrorIs(t, err, ErrOutOfFrames)
}

func TestInfoSnapshotAdvancesOnAllocation(t *testing.T) {
	mm := mapWith(
		bootinfo.Region{StartFrame: 0, EndFrame: 10, Kind: bootinfo.Kernel},
		bootinfo.Region{StartFrame: 10, EndFrame: 20, Kind: bootinfo.Usable},
	)
	a := NewAllocator(mm)

	before := a.Info()
	require.Equal(t, uint64(10*FrameSize4KiB), before.KernelBytes)
	require.Equal(t, uint64(10*FrameSize4KiB), before.UsableBytes)
	require.Equal(t, uint64(0), before.AllocatedBytes)

	_, err := a.AllocateFrame()
	require.NoError(t, err)

	after := a.Info()
	require.Equal(t, uint64(FrameSize4KiB), after.AllocatedBytes)
	// Allocation never mutates the static region accounting.
	require.Equal(t, before.KernelBytes, after.KernelBytes)
	require.Equal(t, before.UsableBytes, after.UsableBytes)
}

func TestAllocateFrameNoUsableRegionsFailsImmediately(t *testing.T) {
	mm := mapWith(bootinfo.Region{StartFrame: 0, EndFrame: 4, Kind: bootinfo.Reserved})
	a := NewAllocator(mm)

	_, err := a.AllocateFrame()
	require.ErrorIs(t, err, ErrOutOfFrames)
}
