package osmem

import "github.com/cockroachdb/errors"

var (
	// ErrResourceExhausted is returned when the memory source cannot supply the heap growth or
	// mapping needed to satisfy a request
	ErrResourceExhausted = errors.New("memory source could not supply the requested memory")
	// ErrCollaboratorFailed is returned when the memory source fails to release a mapping or
	// returns memory the allocator cannot use
	ErrCollaboratorFailed = errors.New("memory source failed")
	// ErrSizeOverflow is returned when the requested size cannot be represented. The non-Try
	// methods treat it like a zero-size request and return nil.
	ErrSizeOverflow = errors.New("requested size is too large")
	// ErrAllocatorDestroyed is returned by every operation on an allocator after Destroy
	ErrAllocatorDestroyed = errors.New("allocator has been destroyed")
	// ErrUnreleasedMemory is returned by Destroy when blocks were still in use
	ErrUnreleasedMemory = errors.New("allocations were not released before the allocator was destroyed")
)
