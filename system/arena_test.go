package system_test

import (
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/osmem/system"
)

func TestArenaHeapGrowth(t *testing.T) {
	arena := system.NewArena(system.ArenaOptions{HeapLimit: 4096})
	require.Equal(t, system.DefaultArenaPageSize, arena.PageSize())

	heap, err := arena.GrowHeap(1024)
	require.NoError(t, err)
	require.Len(t, heap, 1024)
	base := unsafe.SliceData(heap)

	heap, err = arena.GrowHeap(2048)
	require.NoError(t, err)
	require.Len(t, heap, 3072)
	require.Equal(t, base, unsafe.SliceData(heap))

	heap, err = arena.GrowHeap(0)
	require.NoError(t, err)
	require.Len(t, heap, 3072)

	_, err = arena.GrowHeap(2048)
	require.Error(t, err)
	require.True(t, errors.Is(err, system.ErrOutOfMemory))

	_, err = arena.GrowHeap(-8)
	require.Error(t, err)
	require.False(t, errors.Is(err, system.ErrOutOfMemory))
}

func TestArenaMappings(t *testing.T) {
	arena := system.NewArena(system.ArenaOptions{MappingLimit: 8192})

	first, err := arena.MapAnonymous(4096)
	require.NoError(t, err)
	require.Len(t, first, 4096)
	for _, b := range first {
		require.Zero(t, b)
	}

	second, err := arena.MapAnonymous(4096)
	require.NoError(t, err)
	require.Equal(t, 2, arena.LiveMappings())
	require.Equal(t, 8192, arena.MappedBytes())

	_, err = arena.MapAnonymous(1)
	require.True(t, errors.Is(err, system.ErrOutOfMemory))

	require.NoError(t, arena.Unmap(first))
	require.Equal(t, 1, arena.LiveMappings())
	require.Error(t, arena.Unmap(first))
	require.Error(t, arena.Unmap(second[:100]))
	require.Error(t, arena.Unmap(make([]byte, 16)))

	require.NoError(t, arena.Unmap(second))
	require.Equal(t, 0, arena.MappedBytes())

	_, err = arena.MapAnonymous(0)
	require.Error(t, err)
}

func TestArenaClose(t *testing.T) {
	arena := system.NewArena(system.ArenaOptions{HeapLimit: 4096})
	_, err := arena.MapAnonymous(64)
	require.NoError(t, err)

	require.NoError(t, arena.Close())
	require.Equal(t, 0, arena.LiveMappings())

	_, err = arena.GrowHeap(8)
	require.Error(t, err)
}
