package system

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
)

const (
	// DefaultArenaHeapLimit is the heap size limit used by NewArena when none is provided
	DefaultArenaHeapLimit int = 64 * 1024 * 1024
	// DefaultArenaPageSize is the page size reported by an Arena when none is provided
	DefaultArenaPageSize int = 4096
)

// ArenaOptions contains optional settings for an Arena
type ArenaOptions struct {
	// HeapLimit is the largest size in bytes the heap may grow to
	HeapLimit int
	// MappingLimit is the largest number of bytes that may be mapped at the same time. 0
	// indicates no limit.
	MappingLimit int
	// PageSize is the page size the arena reports
	PageSize int
}

// Arena is a MemorySource backed by ordinary Go memory. It is portable and deterministic,
// and its limits make resource exhaustion easy to reproduce.
type Arena struct {
	pageSize     int
	heap         []byte
	brk          int
	mappingLimit int
	mappedBytes  int
	mappings     *swiss.Map[uintptr, []byte]
}

var _ MemorySource = &Arena{}

func NewArena(options ArenaOptions) *Arena {
	heapLimit := options.HeapLimit
	if heapLimit <= 0 {
		heapLimit = DefaultArenaHeapLimit
	}

	pageSize := options.PageSize
	if pageSize == 0 {
		pageSize = DefaultArenaPageSize
	}

	return &Arena{
		pageSize:     pageSize,
		heap:         make([]byte, heapLimit),
		mappingLimit: options.MappingLimit,
		mappings:     swiss.NewMap[uintptr, []byte](42),
	}
}

func (a *Arena) PageSize() int {
	return a.pageSize
}

func (a *Arena) GrowHeap(delta int) ([]byte, error) {
	if a.heap == nil {
		return nil, errors.New("memory source has been closed")
	}
	if delta < 0 {
		return nil, errors.Newf("the heap cannot shrink, but received a delta of %d", delta)
	}

	if a.brk+delta > len(a.heap) {
		return nil, errors.Wrapf(ErrOutOfMemory, "growing the heap by %d bytes would exceed the %d byte limit", delta, len(a.heap))
	}

	a.brk += delta
	return a.heap[:a.brk:a.brk], nil
}

func (a *Arena) MapAnonymous(length int) ([]byte, error) {
	if length <= 0 {
		return nil, errors.Newf("cannot map a region of %d bytes", length)
	}
	if a.mappingLimit > 0 && a.mappedBytes+length > a.mappingLimit {
		return nil, errors.Wrapf(ErrOutOfMemory, "mapping %d bytes would exceed the %d byte mapping limit", length, a.mappingLimit)
	}

	region := make([]byte, length)
	a.mappings.Put(sliceAddress(region), region)
	a.mappedBytes += length

	return region, nil
}

func (a *Arena) Unmap(region []byte) error {
	address := sliceAddress(region)
	mapped, ok := a.mappings.Get(address)
	if !ok {
		return errors.Newf("region at %#x is not a live mapping", address)
	}
	if len(mapped) != len(region) {
		return errors.Newf("region at %#x is %d bytes, but %d bytes were unmapped", address, len(mapped), len(region))
	}

	a.mappings.Delete(address)
	a.mappedBytes -= len(mapped)
	return nil
}

// LiveMappings returns the number of regions that have been mapped but not unmapped
func (a *Arena) LiveMappings() int {
	return a.mappings.Count()
}

// MappedBytes returns the number of bytes in regions that have been mapped but not unmapped
func (a *Arena) MappedBytes() int {
	return a.mappedBytes
}

func (a *Arena) Close() error {
	a.heap = nil
	a.brk = 0
	a.mappedBytes = 0
	a.mappings = swiss.NewMap[uintptr, []byte](42)
	return nil
}
