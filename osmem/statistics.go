package osmem

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/osmem/memutils"
)

// TotalStatistics breaks an allocator's blocks down by where their memory came from
type TotalStatistics struct {
	Heap   memutils.DetailedStatistics
	Mapped memutils.DetailedStatistics
	Total  memutils.DetailedStatistics
}

// CalculateStatistics walks every block the allocator knows about and fills stats
func (a *Allocator) CalculateStatistics(stats *TotalStatistics) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.calculateStatistics(stats)
}

func (a *Allocator) calculateStatistics(stats *TotalStatistics) {
	stats.Heap.Clear()
	stats.Mapped.Clear()
	stats.Total.Clear()

	a.blocks.AddDetailedStatistics(&stats.Heap, &stats.Mapped)
	stats.Total.AddDetailedStatistics(&stats.Heap)
	stats.Total.AddDetailedStatistics(&stats.Mapped)
}

func printDetailedStatistics(json *jwriter.ObjectState, stats *memutils.DetailedStatistics) {
	json.Name("BlockCount").Int(stats.BlockCount)
	json.Name("BlockBytes").Int(stats.BlockBytes)
	json.Name("AllocationCount").Int(stats.AllocationCount)
	json.Name("AllocationBytes").Int(stats.AllocationBytes)
	json.Name("UnusedRangeCount").Int(stats.UnusedRangeCount)
	json.Name("UnusedBytes").Int(stats.UnusedBytes)

	if stats.AllocationCount > 0 {
		json.Name("AllocationSizeMin").Int(stats.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(stats.AllocationSizeMax)
	}

	if stats.UnusedRangeCount > 0 {
		json.Name("UnusedRangeSizeMin").Int(stats.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(stats.UnusedRangeSizeMax)
	}
}

// BuildStatsString returns a json document describing the allocator's configuration and
// statistics. If detailedMap is true, it also lists every block in list order.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats TotalStatistics
	a.calculateStatistics(&stats)

	writer := jwriter.NewWriter()
	root := writer.Object()

	general := root.Name("General").Object()
	general.Name("PageSize").Int(a.pageSize)
	general.Name("MapThreshold").Int(a.mapThreshold)
	general.Name("HeapPreallocSize").Int(a.heapPreallocSize)
	general.Name("HeapPreallocated").Bool(a.heapPreallocated)
	general.Name("HeapBytes").Int(len(a.heap))
	general.Name("Flags").String(a.createFlags.String())
	general.End()

	total := root.Name("Total").Object()
	printDetailedStatistics(&total, &stats.Total)
	total.End()

	heap := root.Name("Heap").Object()
	printDetailedStatistics(&heap, &stats.Heap)
	heap.End()

	mapped := root.Name("Mapped").Object()
	printDetailedStatistics(&mapped, &stats.Mapped)
	mapped.End()

	if detailedMap {
		list := root.Name("BlockList").Object()
		a.blocks.BlockJsonData(&list)

		blocks := list.Name("DetailedMap").Array()
		a.blocks.PrintDetailedMap(&blocks)
		blocks.End()

		list.End()
	}

	root.End()
	return string(writer.Bytes())
}
