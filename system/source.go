package system

import (
	"unsafe"

	"github.com/cockroachdb/errors"
)

// ErrOutOfMemory is returned when a MemorySource cannot supply the requested address space
var ErrOutOfMemory = errors.New("memory source is out of memory")

//go:generate mockgen -source source.go -destination ./mocks/mock_memory_source.go -package mock_system

// MemorySource supplies raw memory to an allocator. Implementations are not expected to be
// safe for concurrent use: an allocator serializes every call it makes.
type MemorySource interface {
	// PageSize returns the size in bytes of a page of memory. It must be a power of two.
	PageSize() int
	// GrowHeap extends the heap by delta bytes and returns the entire heap, from its first
	// byte to the new break. The first byte of the heap must never move. Shrinking the heap
	// is not supported and a negative delta returns an error.
	GrowHeap(delta int) ([]byte, error)
	// MapAnonymous returns a new zero-filled region of exactly length bytes that is
	// independent of the heap
	MapAnonymous(length int) ([]byte, error)
	// Unmap releases a region previously returned from MapAnonymous. The slice must be the
	// one MapAnonymous returned.
	Unmap(region []byte) error
	// Close releases the heap and any resources held by the source itself
	Close() error
}

func sliceAddress(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
