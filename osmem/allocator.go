package osmem

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osmem/memutils"
	"github.com/vkngwrapper/osmem/memutils/metadata"
	"github.com/vkngwrapper/osmem/osmem/internal/utils"
	"github.com/vkngwrapper/osmem/system"
	"golang.org/x/exp/slog"
)

// maxRequestSize is the largest payload the allocator will attempt to satisfy. Anything
// larger is rejected with ErrSizeOverflow before any size arithmetic can wrap.
const maxRequestSize = math.MaxInt / 2

// Allocator is a general purpose allocator that serves small requests from a single growable
// heap and large requests from dedicated anonymous mappings. Every block it hands out is
// tracked in one metadata.BlockList.
//
// Returned slices always have a length equal to the requested size and a capacity equal to
// the usable size of the block behind them. The first byte of the slice identifies the block:
// passing a slice that does not start on a payload returned by this allocator to Release or
// Resize is treated as a foreign pointer and ignored.
type Allocator struct {
	logger      *slog.Logger
	mutex       utils.OptionalRWMutex
	createFlags CreateFlags
	fatal       FatalHandler
	callbacks   regionCallbacks

	source           system.MemorySource
	ownsSource       bool
	pageSize         int
	mapThreshold     int
	heapPreallocSize int

	heap             []byte
	heapBase         uintptr
	heapPreallocated bool
	blocks           *metadata.BlockList
	destroyed        bool
}

var _ memutils.Validatable = &Allocator{}

func sliceAddress(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// PageSize returns the page size reported by the allocator's memory source
func (a *Allocator) PageSize() int {
	return a.pageSize
}

// MapThreshold returns the request size, header included, at which requests are served by
// a dedicated mapping
func (a *Allocator) MapThreshold() int {
	return a.mapThreshold
}

// Allocate returns a slice of size bytes, or nil if size is not positive. The contents of the
// slice are undefined. Unrecoverable failures are passed to the allocator's FatalHandler.
func (a *Allocator) Allocate(size int) []byte {
	b, err := a.TryAllocate(size)
	a.handleFailure("Allocate", err)
	return b
}

// AllocateZeroed returns a zero-filled slice of count*size bytes, or nil if the product is
// not positive or cannot be represented. Unrecoverable failures are passed to the allocator's
// FatalHandler.
func (a *Allocator) AllocateZeroed(count, size int) []byte {
	b, err := a.TryAllocateZeroed(count, size)
	a.handleFailure("AllocateZeroed", err)
	return b
}

// Release returns a slice obtained from this allocator. Heap blocks become free for reuse and
// mapped blocks are unmapped immediately. Releasing nil, a slice that did not come from this
// allocator, or a slice that has already been released does nothing.
func (a *Allocator) Release(b []byte) {
	err := a.TryRelease(b)
	a.handleFailure("Release", err)
}

// Resize changes the size of a slice obtained from this allocator, preserving its contents up
// to the smaller of the old and new sizes. The returned slice may or may not share memory with
// b; b must not be used after Resize returns.
//
// A nil b behaves like Allocate, and a size of 0 behaves like Release and returns nil. Resizing
// a released or foreign slice returns nil.
func (a *Allocator) Resize(b []byte, size int) []byte {
	resized, err := a.TryResize(b, size)
	a.handleFailure("Resize", err)
	return resized
}

// TryAllocate is Allocate, but failures are returned to the caller instead of being passed
// to the FatalHandler
func (a *Allocator) TryAllocate(size int) ([]byte, error) {
	a.logger.Debug("Allocator::Allocate")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return nil, ErrAllocatorDestroyed
	}

	b, err := a.allocate(size, a.mapThreshold)
	return b, a.afterOperation(err)
}

// TryAllocateZeroed is AllocateZeroed, but failures are returned to the caller instead of being
// passed to the FatalHandler
func (a *Allocator) TryAllocateZeroed(count, size int) ([]byte, error) {
	a.logger.Debug("Allocator::AllocateZeroed")

	if count <= 0 || size <= 0 {
		return nil, nil
	}

	high, total := bits.Mul64(uint64(count), uint64(size))
	if high != 0 || total > maxRequestSize {
		return nil, errors.Wrapf(ErrSizeOverflow, "%d elements of %d bytes", count, size)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return nil, ErrAllocatorDestroyed
	}

	// zeroed requests switch to mappings at page granularity
	b, err := a.allocate(int(total), a.pageSize)
	if err != nil {
		return nil, a.afterOperation(err)
	}

	full := b[:cap(b)]
	for i := range full {
		full[i] = 0
	}

	return b, a.afterOperation(nil)
}

// TryRelease is Release, but failures are returned to the caller instead of being passed to
// the FatalHandler
func (a *Allocator) TryRelease(b []byte) error {
	a.logger.Debug("Allocator::Release")

	if cap(b) == 0 {
		return nil
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return ErrAllocatorDestroyed
	}

	return a.afterOperation(a.release(b))
}

// TryResize is Resize, but failures are returned to the caller instead of being passed to
// the FatalHandler
func (a *Allocator) TryResize(b []byte, size int) ([]byte, error) {
	a.logger.Debug("Allocator::Resize")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return nil, ErrAllocatorDestroyed
	}

	resized, err := a.resize(b, size)
	if err != nil {
		return nil, a.afterOperation(err)
	}

	return resized, a.afterOperation(nil)
}

// UsableSize returns the number of bytes the block behind b can hold, which is always at least
// the size it was requested with. It returns 0 for nil, released or foreign slices.
func (a *Allocator) UsableSize(b []byte) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	block, ok := a.lookup(b)
	if !ok || block.Status == metadata.StatusFree {
		return 0
	}

	return block.Size
}

// Validate performs a full consistency check of the allocator's block list and heap
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.validate()
}

func (a *Allocator) validate() error {
	err := a.blocks.Validate()
	if err != nil {
		return err
	}

	// heap blocks must tile the heap exactly
	heapBytes := 0
	var firstHeapBlock *metadata.Block
	err = a.blocks.Visit(func(handle metadata.BlockHandle, block *metadata.Block) error {
		if block.Status == metadata.StatusMapped {
			return nil
		}

		if firstHeapBlock == nil {
			firstHeapBlock = block
		}
		heapBytes += block.TotalSize()
		return nil
	})
	if err != nil {
		return err
	}

	if heapBytes != len(a.heap) {
		return errors.Newf("heap blocks cover %d bytes, but the heap is %d bytes", heapBytes, len(a.heap))
	}
	if firstHeapBlock != nil && firstHeapBlock.Address != a.heapBase {
		return errors.Newf("the first heap block is at %#x, but the heap begins at %#x", firstHeapBlock.Address, a.heapBase)
	}
	if a.heapPreallocated != (len(a.heap) > 0) {
		return errors.New("the heap preallocation flag does not match the heap")
	}

	return nil
}

func (a *Allocator) afterOperation(err error) error {
	memutils.DebugValidate(a)

	if err != nil || a.createFlags&AllocatorCreateValidateOperations == 0 {
		return err
	}

	validateErr := a.validate()
	if validateErr != nil {
		return errors.NewAssertionErrorWithWrappedErrf(validateErr, "allocator failed validation")
	}

	return nil
}

// Destroy unmaps every live mapping and releases the memory source if the allocator created
// it. Blocks that were never released are logged, and ErrUnreleasedMemory is returned if there
// were any. The allocator cannot be used afterwards.
func (a *Allocator) Destroy() error {
	a.logger.Debug("Allocator::Destroy")

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		return nil
	}

	unreleased := 0
	var mapped []*metadata.Block
	_ = a.blocks.Visit(func(handle metadata.BlockHandle, block *metadata.Block) error {
		if block.Status == metadata.StatusFree {
			return nil
		}

		unreleased++
		a.logUnreleasedMemory(block)
		if block.Status == metadata.StatusMapped {
			mapped = append(mapped, block)
		}
		return nil
	})

	var err error
	for _, block := range mapped {
		err = errors.CombineErrors(err, a.unmapBlock(block))
	}

	if a.ownsSource {
		closeErr := a.source.Close()
		if closeErr != nil {
			err = errors.CombineErrors(err, errors.Mark(errors.Wrap(closeErr, "failed to close the memory source"), ErrCollaboratorFailed))
		}
	}

	a.destroyed = true
	a.heap = nil
	a.heapBase = 0
	a.blocks = metadata.NewBlockList()

	if unreleased > 0 {
		err = errors.CombineErrors(errors.Wrapf(ErrUnreleasedMemory, "%d blocks were still in use", unreleased), err)
	}

	return err
}

func (a *Allocator) logUnreleasedMemory(block *metadata.Block) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unreleased block",
		slog.String("address", fmt.Sprintf("%#x", block.PayloadAddress())),
		slog.Int("size", block.Size),
		slog.String("status", block.Status.String()),
	)
}

// lookup resolves the block whose payload begins at the first byte of b
func (a *Allocator) lookup(b []byte) (*metadata.Block, bool) {
	if cap(b) == 0 {
		return nil, false
	}

	handle, ok := a.blocks.Lookup(metadata.HeaderAddress(sliceAddress(b)))
	if !ok {
		return nil, false
	}

	block, err := a.blocks.Get(handle)
	if err != nil {
		return nil, false
	}

	return block, true
}

// payload builds the caller-facing slice for a block: size bytes long, with the block's full
// usable size as its capacity
func (a *Allocator) payload(handle metadata.BlockHandle, size int) ([]byte, error) {
	block, err := a.blocks.Get(handle)
	if err != nil {
		return nil, errors.NewAssertionErrorWithWrappedErrf(err, "allocated block disappeared")
	}

	if block.Status == metadata.StatusMapped {
		return block.Region[metadata.HeaderSize : metadata.HeaderSize+size : metadata.HeaderSize+block.Size], nil
	}

	offset := int(block.Address-a.heapBase) + metadata.HeaderSize
	return a.heap[offset : offset+size : offset+block.Size], nil
}

func (a *Allocator) allocate(size int, threshold int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	if size > maxRequestSize {
		return nil, errors.Wrapf(ErrSizeOverflow, "allocation of %d bytes", size)
	}

	aligned := memutils.AlignUp(size, memutils.Alignment)
	if aligned+metadata.HeaderSize >= threshold {
		handle, err := a.acquire(size, threshold)
		if err != nil {
			return nil, err
		}
		return a.payload(handle, size)
	}

	if !a.heapPreallocated {
		err := a.preallocateHeap()
		if err != nil {
			return nil, err
		}
	}

	handle := a.blocks.FindBestFit(aligned)
	if handle != metadata.NoBlock {
		_, err := a.blocks.Split(handle, size)
		if err != nil {
			return nil, errors.NewAssertionErrorWithWrappedErrf(err, "failed to split a reused block")
		}

		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Reused free block", slog.Int("size", aligned))
		return a.payload(handle, size)
	}

	tail := a.blocks.TailFreeBlock()
	if tail != metadata.NoBlock {
		err := a.extendTail(tail, size)
		if err != nil {
			return nil, err
		}

		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Extended tail block", slog.Int("size", aligned))
		return a.payload(tail, size)
	}

	handle, err := a.acquire(size, threshold)
	if err != nil {
		return nil, err
	}
	return a.payload(handle, size)
}

func (a *Allocator) release(b []byte) error {
	block, ok := a.lookup(b)
	if !ok {
		return nil
	}

	return a.releaseBlock(block)
}

func (a *Allocator) releaseBlock(block *metadata.Block) error {
	switch block.Status {
	case metadata.StatusAllocated:
		block.Status = metadata.StatusFree
		a.blocks.Coalesce()
	case metadata.StatusMapped:
		return a.unmapBlock(block)
	}

	// releasing a free block is a double release and does nothing
	return nil
}
