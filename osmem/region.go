package osmem

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osmem/memutils"
	"github.com/vkngwrapper/osmem/memutils/metadata"
	"golang.org/x/exp/slog"
)

// growHeap extends the heap by delta bytes and returns the address of the first new byte
func (a *Allocator) growHeap(delta int) (uintptr, error) {
	heap, err := a.source.GrowHeap(delta)
	if err != nil {
		return 0, errors.Mark(errors.Wrapf(err, "failed to grow the heap by %d bytes", delta), ErrResourceExhausted)
	}

	if len(heap) != len(a.heap)+delta {
		return 0, errors.Mark(
			errors.Newf("heap grew from %d to %d bytes, but %d bytes were requested", len(a.heap), len(heap), delta),
			ErrCollaboratorFailed)
	}

	base := sliceAddress(heap)
	if a.heap == nil {
		if !memutils.IsAligned(int(base), memutils.Alignment) {
			return 0, errors.Mark(errors.Newf("heap at %#x is not aligned", base), ErrCollaboratorFailed)
		}
		a.heapBase = base
	} else if base != a.heapBase {
		return 0, errors.Mark(errors.Newf("heap moved from %#x to %#x", a.heapBase, base), ErrCollaboratorFailed)
	}

	start := a.heapBase + uintptr(len(a.heap))
	a.heap = heap
	a.callbacks.HeapGrown(heap, delta)

	return start, nil
}

// preallocateHeap grows the heap by the preallocation size and covers it with a single free
// block. It runs once, on the first request small enough to be served from the heap.
func (a *Allocator) preallocateHeap() error {
	header, err := a.growHeap(a.heapPreallocSize)
	if err != nil {
		return errors.Wrap(err, "failed to preallocate the heap")
	}

	_, err = a.blocks.Insert(header, a.heapPreallocSize-metadata.HeaderSize, metadata.StatusFree, nil)
	if err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "failed to insert the preallocated heap block")
	}

	a.heapPreallocated = true
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Preallocated heap", slog.Int("size", a.heapPreallocSize))
	return nil
}

// acquire obtains brand new memory for a request: requests whose aligned size plus header
// stays below threshold grow the heap and are appended to the list as allocated blocks, and
// everything else receives its own mapping at the head of the list
func (a *Allocator) acquire(size int, threshold int) (metadata.BlockHandle, error) {
	aligned := memutils.AlignUp(size, memutils.Alignment)
	total := aligned + metadata.HeaderSize

	if total < threshold {
		header, err := a.growHeap(total)
		if err != nil {
			return metadata.NoBlock, err
		}

		handle, err := a.blocks.Insert(header, aligned, metadata.StatusAllocated, nil)
		if err != nil {
			return metadata.NoBlock, errors.NewAssertionErrorWithWrappedErrf(err, "failed to insert a new heap block")
		}

		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Acquired heap block", slog.Int("size", aligned))
		return handle, nil
	}

	region, err := a.source.MapAnonymous(total)
	if err != nil {
		return metadata.NoBlock, errors.Mark(errors.Wrapf(err, "failed to map %d bytes", total), ErrResourceExhausted)
	}
	if len(region) != total {
		return metadata.NoBlock, errors.Mark(
			errors.Newf("requested a mapping of %d bytes but received %d", total, len(region)),
			ErrCollaboratorFailed)
	}

	handle, err := a.blocks.Insert(sliceAddress(region), aligned, metadata.StatusMapped, region)
	if err != nil {
		err = errors.NewAssertionErrorWithWrappedErrf(err, "failed to insert a new mapped block")
		return metadata.NoBlock, errors.CombineErrors(err, a.source.Unmap(region))
	}

	a.callbacks.Mapped(region)
	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Mapped block", slog.Int("size", aligned))
	return handle, nil
}

// extendTail grows the heap by exactly the amount the free block at the end of the list is
// missing and hands that block out. The block is only chosen when no free block fits, so the
// growth is always positive.
func (a *Allocator) extendTail(tail metadata.BlockHandle, size int) error {
	block, err := a.blocks.Get(tail)
	if err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "tail block disappeared")
	}

	aligned := memutils.AlignUp(size, memutils.Alignment)
	delta := aligned - block.Size
	if delta <= 0 {
		return errors.AssertionFailedf("tail block of %d bytes already fits a request of %d bytes", block.Size, aligned)
	}

	start, err := a.growHeap(delta)
	if err != nil {
		return err
	}
	if start != block.End() {
		return errors.AssertionFailedf("heap grew at %#x, but the tail block ends at %#x", start, block.End())
	}

	err = a.blocks.Extend(tail, delta)
	if err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "failed to extend the tail block")
	}

	block.Status = metadata.StatusAllocated
	return nil
}

// unmapBlock removes a mapped block from the list and returns its region to the source
func (a *Allocator) unmapBlock(block *metadata.Block) error {
	region := block.Region

	err := a.blocks.Remove(block.Handle())
	if err != nil {
		return errors.NewAssertionErrorWithWrappedErrf(err, "failed to remove a mapped block")
	}

	err = a.source.Unmap(region)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to unmap %d bytes", len(region)), ErrCollaboratorFailed)
	}

	a.callbacks.Unmapped(region)
	return nil
}
