package metadata

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/osmem/memutils"
)

// AddStatistics adds the cheap summary of the heap blocks to heap and of the mapped blocks
// to mapped
func (l *BlockList) AddStatistics(heap, mapped *memutils.Statistics) {
	_ = l.Visit(func(handle BlockHandle, b *Block) error {
		stats := heap
		if b.Status == StatusMapped {
			stats = mapped
		}

		stats.AddBlock(b.TotalSize())
		if b.Status != StatusFree {
			stats.AllocationCount++
			stats.AllocationBytes += b.Size
		}
		return nil
	})
}

// AddDetailedStatistics adds the detailed statistics of the heap blocks to heap and of the
// mapped blocks to mapped
func (l *BlockList) AddDetailedStatistics(heap, mapped *memutils.DetailedStatistics) {
	_ = l.Visit(func(handle BlockHandle, b *Block) error {
		stats := heap
		if b.Status == StatusMapped {
			stats = mapped
		}

		stats.AddBlock(b.TotalSize())
		if b.Status == StatusFree {
			stats.AddUnusedRange(b.Size)
		} else {
			stats.AddAllocation(b.Size)
		}
		return nil
	})
}

// BlockJsonData populates a json object with summary information about this list
func (l *BlockList) BlockJsonData(json *jwriter.ObjectState) {
	freeBlocks := 0
	freeBytes := 0
	totalBytes := 0
	_ = l.Visit(func(handle BlockHandle, b *Block) error {
		totalBytes += b.TotalSize()
		if b.Status == StatusFree {
			freeBlocks++
			freeBytes += b.Size
		}
		return nil
	})

	json.Name("TotalBytes").Int(totalBytes)
	json.Name("UnusedBytes").Int(freeBytes)
	json.Name("Blocks").Int(l.count)
	json.Name("MappedBlocks").Int(l.mappedCount)
	json.Name("UnusedRanges").Int(freeBlocks)
}

// PrintDetailedMap writes one json object per block, in list order
func (l *BlockList) PrintDetailedMap(json *jwriter.ArrayState) {
	_ = l.Visit(func(handle BlockHandle, b *Block) error {
		obj := json.Object()
		defer obj.End()

		obj.Name("Address").String(fmt.Sprintf("%#x", b.Address))
		obj.Name("Type").String(b.Status.String())
		obj.Name("Size").Int(b.Size)
		return nil
	})
}
