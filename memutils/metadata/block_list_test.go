package metadata_test

import (
	"math"
	"testing"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/osmem/memutils"
	"github.com/vkngwrapper/osmem/memutils/metadata"
)

const (
	heapBase     uintptr = 0x100000
	preallocSize int     = 128 * 1024
)

func preallocatedList(t *testing.T) (*metadata.BlockList, metadata.BlockHandle) {
	list := metadata.NewBlockList()
	handle, err := list.Insert(heapBase, preallocSize-metadata.HeaderSize, metadata.StatusFree, nil)
	require.NoError(t, err)
	require.NoError(t, list.Validate())

	return list, handle
}

func carve(t *testing.T, list *metadata.BlockList, size int) metadata.BlockHandle {
	handle := list.FindBestFit(memutils.AlignUp(size, memutils.Alignment))
	require.NotEqual(t, metadata.NoBlock, handle)

	_, err := list.Split(handle, size)
	require.NoError(t, err)
	require.NoError(t, list.Validate())

	return handle
}

func mustGet(t *testing.T, list *metadata.BlockList, handle metadata.BlockHandle) *metadata.Block {
	block, err := list.Get(handle)
	require.NoError(t, err)
	return block
}

func mappedRegion(size int) ([]byte, uintptr) {
	region := make([]byte, metadata.HeaderSize+size)
	return region, uintptr(unsafe.Pointer(unsafe.SliceData(region)))
}

func TestHeaderTranslation(t *testing.T) {
	require.Equal(t, 24, metadata.HeaderSize)
	require.Equal(t, heapBase+24, metadata.PayloadAddress(heapBase))
	require.Equal(t, heapBase, metadata.HeaderAddress(metadata.PayloadAddress(heapBase)))
}

func TestPreallocatedBlock(t *testing.T) {
	list, handle := preallocatedList(t)

	require.Equal(t, 1, list.Len())
	require.Equal(t, handle, list.Head())
	require.Equal(t, handle, list.Tail())
	require.True(t, list.Contains(heapBase))
	require.False(t, list.Contains(heapBase+8))

	block := mustGet(t, list, handle)
	require.Equal(t, preallocSize-24, block.Size)
	require.Equal(t, metadata.StatusFree, block.Status)
	require.Equal(t, heapBase+uintptr(preallocSize), block.End())

	var heap, mapped memutils.DetailedStatistics
	heap.Clear()
	mapped.Clear()
	list.AddDetailedStatistics(&heap, &mapped)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      preallocSize,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		UnusedBytes:        preallocSize - 24,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: preallocSize - 24,
		UnusedRangeSizeMax: preallocSize - 24,
	}, heap)
	require.Equal(t, 0, mapped.BlockCount)
}

func TestSplit(t *testing.T) {
	list, handle := preallocatedList(t)

	remainderHandle, err := list.Split(handle, 100)
	require.NoError(t, err)
	require.NotEqual(t, metadata.NoBlock, remainderHandle)
	require.NoError(t, list.Validate())

	block := mustGet(t, list, handle)
	require.Equal(t, 104, block.Size)
	require.Equal(t, metadata.StatusAllocated, block.Status)

	remainder := mustGet(t, list, remainderHandle)
	require.Equal(t, heapBase+24+104, remainder.Address)
	require.Equal(t, preallocSize-24-104-24, remainder.Size)
	require.Equal(t, metadata.StatusFree, remainder.Status)

	require.Equal(t, remainderHandle, list.Next(handle))
	require.Equal(t, remainderHandle, list.Tail())
	require.Equal(t, 2, list.Len())
}

func TestSplitLeavesSmallSlack(t *testing.T) {
	list, _ := preallocatedList(t)

	handle := carve(t, list, 128)
	carve(t, list, 8)
	mustGet(t, list, handle).Status = metadata.StatusFree

	// 128 bytes of payload cannot hold 104 bytes plus a header and one alignment unit
	remainder, err := list.Split(handle, 100)
	require.NoError(t, err)
	require.Equal(t, metadata.NoBlock, remainder)
	require.Equal(t, 128, mustGet(t, list, handle).Size)
	require.Equal(t, metadata.StatusAllocated, mustGet(t, list, handle).Status)

	mustGet(t, list, handle).Status = metadata.StatusFree

	// 128 >= 96 + 24 + 8, so this one produces an 8 byte remainder
	remainder, err = list.Split(handle, 96)
	require.NoError(t, err)
	require.NotEqual(t, metadata.NoBlock, remainder)
	require.Equal(t, 96, mustGet(t, list, handle).Size)
	require.Equal(t, 8, mustGet(t, list, remainder).Size)
	require.Equal(t, heapBase+24+96, mustGet(t, list, remainder).Address)
	require.NoError(t, list.Validate())
}

func TestBestFitReusesExactMatch(t *testing.T) {
	list, _ := preallocatedList(t)

	first := carve(t, list, 100)
	second := carve(t, list, 200)
	require.NotEqual(t, first, second)

	mustGet(t, list, first).Status = metadata.StatusFree
	require.NoError(t, list.Validate())

	reused := list.FindBestFit(104)
	require.Equal(t, first, reused)
	require.Equal(t, heapBase, mustGet(t, list, reused).Address)
}

func TestBestFitPrefersSmallest(t *testing.T) {
	list, _ := preallocatedList(t)

	a := carve(t, list, 400)
	carve(t, list, 8)
	b := carve(t, list, 200)
	carve(t, list, 8)
	c := carve(t, list, 200)
	carve(t, list, 8)

	mustGet(t, list, a).Status = metadata.StatusFree
	mustGet(t, list, b).Status = metadata.StatusFree
	mustGet(t, list, c).Status = metadata.StatusFree

	require.Equal(t, b, list.FindBestFit(150))
	require.Equal(t, a, list.FindBestFit(300))
	require.Equal(t, metadata.NoBlock, list.FindBestFit(preallocSize))
}

func TestCoalesceAdjacentFreeBlocks(t *testing.T) {
	list, _ := preallocatedList(t)

	a := carve(t, list, 100)
	b := carve(t, list, 200)
	carve(t, list, 300)
	require.Equal(t, 4, list.Len())

	mustGet(t, list, a).Status = metadata.StatusFree
	mustGet(t, list, b).Status = metadata.StatusFree
	require.Error(t, list.Validate())

	require.Equal(t, 1, list.Coalesce())
	require.NoError(t, list.Validate())
	require.Equal(t, 3, list.Len())

	merged := mustGet(t, list, a)
	require.Equal(t, 104+200+24, merged.Size)
	require.Equal(t, metadata.StatusFree, merged.Status)

	_, err := list.Get(b)
	require.Error(t, err)
	require.False(t, list.Contains(heapBase+128))

	require.Equal(t, 0, list.Coalesce())
	require.Equal(t, a, list.FindBestFit(104+200+24))
}

func TestCoalesceRuns(t *testing.T) {
	list, _ := preallocatedList(t)

	a := carve(t, list, 8)
	b := carve(t, list, 8)
	c := carve(t, list, 8)
	for _, handle := range []metadata.BlockHandle{a, b, c} {
		mustGet(t, list, handle).Status = metadata.StatusFree
	}

	// a, b, c and the free remainder of the heap all collapse into one block
	require.Equal(t, 3, list.Coalesce())
	require.Equal(t, 1, list.Len())
	require.Equal(t, preallocSize-24, mustGet(t, list, a).Size)
	require.Equal(t, a, list.Tail())
	require.NoError(t, list.Validate())
}

func TestMappedBlocksAtHead(t *testing.T) {
	list, heapHandle := preallocatedList(t)

	region, header := mappedRegion(4096)
	mapped, err := list.Insert(header, 4096, metadata.StatusMapped, region)
	require.NoError(t, err)
	require.NoError(t, list.Validate())

	require.Equal(t, mapped, list.Head())
	require.Equal(t, heapHandle, list.Next(mapped))
	require.Equal(t, heapHandle, list.Tail())
	require.Equal(t, 2, list.Len())
	require.Equal(t, 1, list.MappedCount())

	region2, header2 := mappedRegion(8192)
	mapped2, err := list.Insert(header2, 8192, metadata.StatusMapped, region2)
	require.NoError(t, err)
	require.Equal(t, mapped2, list.Head())

	require.NoError(t, list.Remove(mapped))
	require.NoError(t, list.Validate())
	require.Equal(t, 2, list.Len())
	require.Equal(t, mapped2, list.Head())
	require.Equal(t, heapHandle, list.Next(mapped2))
	require.False(t, list.Contains(header))

	require.Error(t, list.Remove(mapped))
}

func TestMappedOnlyList(t *testing.T) {
	list := metadata.NewBlockList()

	region, header := mappedRegion(4096)
	mapped, err := list.Insert(header, 4096, metadata.StatusMapped, region)
	require.NoError(t, err)
	require.Equal(t, mapped, list.Tail())
	require.Equal(t, metadata.NoBlock, list.TailFreeBlock())

	require.NoError(t, list.Remove(mapped))
	require.Equal(t, metadata.NoBlock, list.Head())
	require.Equal(t, metadata.NoBlock, list.Tail())
	require.Equal(t, 0, list.Len())
	require.NoError(t, list.Validate())
}

func TestInsertRules(t *testing.T) {
	list, handle := preallocatedList(t)

	_, err := list.Insert(mustGet(t, list, handle).End(), 64, metadata.StatusFree, nil)
	require.Error(t, err)

	_, err = list.Insert(mustGet(t, list, handle).End()+8, 64, metadata.StatusAllocated, nil)
	require.Error(t, err)

	_, err = list.Insert(heapBase, 64, metadata.StatusAllocated, nil)
	require.Error(t, err)

	_, err = list.Insert(mustGet(t, list, handle).End(), 63, metadata.StatusAllocated, nil)
	require.Error(t, err)

	grown, err := list.Insert(mustGet(t, list, handle).End(), 64, metadata.StatusAllocated, nil)
	require.NoError(t, err)
	require.Equal(t, grown, list.Tail())
	require.NoError(t, list.Validate())

	region, header := mappedRegion(64)
	_, err = list.Insert(header, 128, metadata.StatusMapped, region)
	require.Error(t, err)
}

func TestTailExtension(t *testing.T) {
	list, _ := preallocatedList(t)

	carve(t, list, 1000)
	tail := list.TailFreeBlock()
	require.NotEqual(t, metadata.NoBlock, tail)

	before := mustGet(t, list, tail).Size
	require.NoError(t, list.Extend(tail, 4096))
	require.Equal(t, before+4096, mustGet(t, list, tail).Size)

	mustGet(t, list, tail).Status = metadata.StatusAllocated
	require.Equal(t, metadata.NoBlock, list.TailFreeBlock())

	require.Error(t, list.Extend(list.Head(), 8))
	require.Error(t, list.Extend(tail, 7))
	require.NoError(t, list.Validate())
}

func TestStaleHandles(t *testing.T) {
	list, _ := preallocatedList(t)

	a := carve(t, list, 64)
	b := carve(t, list, 64)
	carve(t, list, 64)

	mustGet(t, list, a).Status = metadata.StatusFree
	mustGet(t, list, b).Status = metadata.StatusFree
	list.Coalesce()

	// b's slot is reused by the next split, but the old handle stays dead
	c := carve(t, list, 8)
	require.Equal(t, a, c)
	_, err := list.Get(b)
	require.Error(t, err)
	require.Equal(t, metadata.NoBlock, list.Next(b))
}

func TestVisitOrder(t *testing.T) {
	list, _ := preallocatedList(t)
	carve(t, list, 8)
	carve(t, list, 16)

	region, header := mappedRegion(4096)
	_, err := list.Insert(header, 4096, metadata.StatusMapped, region)
	require.NoError(t, err)

	var statuses []metadata.BlockStatus
	err = list.Visit(func(handle metadata.BlockHandle, block *metadata.Block) error {
		statuses = append(statuses, block.Status)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []metadata.BlockStatus{
		metadata.StatusMapped,
		metadata.StatusAllocated,
		metadata.StatusAllocated,
		metadata.StatusFree,
	}, statuses)
}

func TestBlockJsonData(t *testing.T) {
	list, _ := preallocatedList(t)
	carve(t, list, 100)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	list.BlockJsonData(&obj)
	arr := obj.Name("DetailedMap").Array()
	list.PrintDetailedMap(&arr)
	arr.End()
	obj.End()

	require.NoError(t, writer.Error())
	out := string(writer.Bytes())
	require.Contains(t, out, `"TotalBytes":131072`)
	require.Contains(t, out, `"Type":"Allocated"`)
	require.Contains(t, out, `"Size":104`)
}
