package memutils_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/osmem/memutils"
)

func TestAlignUp(t *testing.T) {
	require.Equal(t, 0, memutils.AlignUp(0, memutils.Alignment))
	require.Equal(t, 8, memutils.AlignUp(1, memutils.Alignment))
	require.Equal(t, 8, memutils.AlignUp(8, memutils.Alignment))
	require.Equal(t, 16, memutils.AlignUp(9, memutils.Alignment))
	require.Equal(t, 104, memutils.AlignUp(100, memutils.Alignment))
	require.Equal(t, 4096, memutils.AlignUp(4000, 4096))
}

func TestAlignDown(t *testing.T) {
	require.Equal(t, 0, memutils.AlignDown(7, memutils.Alignment))
	require.Equal(t, 96, memutils.AlignDown(100, memutils.Alignment))
	require.Equal(t, 4096, memutils.AlignDown(8191, 4096))
}

func TestIsAligned(t *testing.T) {
	require.True(t, memutils.IsAligned(0, memutils.Alignment))
	require.True(t, memutils.IsAligned(24, memutils.Alignment))
	require.False(t, memutils.IsAligned(20, memutils.Alignment))
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, memutils.CheckPow2(4096, "pageSize"))
	require.NoError(t, memutils.CheckPow2(uint(8), "alignment"))

	err := memutils.CheckPow2(4000, "pageSize")
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))
	require.Contains(t, err.Error(), "pageSize is 4000")

	require.Error(t, memutils.CheckPow2(0, "pageSize"))
}

func TestDetailedStatistics(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	require.Equal(t, math.MaxInt, stats.AllocationSizeMin)
	require.Equal(t, math.MaxInt, stats.UnusedRangeSizeMin)

	stats.AddBlock(128)
	stats.AddAllocation(104)
	stats.AddBlock(64)
	stats.AddUnusedRange(40)

	var other memutils.DetailedStatistics
	other.Clear()
	other.AddBlock(4120)
	other.AddAllocation(4096)

	stats.AddDetailedStatistics(&other)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      3,
			BlockBytes:      4312,
			AllocationCount: 2,
			AllocationBytes: 4200,
		},
		UnusedRangeCount:   1,
		UnusedBytes:        40,
		AllocationSizeMin:  104,
		AllocationSizeMax:  4096,
		UnusedRangeSizeMin: 40,
		UnusedRangeSizeMax: 40,
	}, stats)
}
