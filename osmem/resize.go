package osmem

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osmem/memutils"
	"github.com/vkngwrapper/osmem/memutils/metadata"
	"golang.org/x/exp/slog"
)

func (a *Allocator) resize(b []byte, size int) ([]byte, error) {
	if cap(b) == 0 {
		return a.allocate(size, a.mapThreshold)
	}

	if size <= 0 {
		return nil, a.release(b)
	}

	block, ok := a.lookup(b)
	if !ok || block.Status == metadata.StatusFree {
		return nil, nil
	}

	if size > maxRequestSize {
		return nil, errors.Wrapf(ErrSizeOverflow, "resize to %d bytes", size)
	}

	handle := block.Handle()
	aligned := memutils.AlignUp(size, memutils.Alignment)
	if block.Size == aligned {
		return a.payload(handle, size)
	}

	// mappings are never resized in place
	if block.Status == metadata.StatusMapped {
		return a.relocate(block, size)
	}

	if block.Size > aligned {
		_, err := a.blocks.Split(handle, size)
		if err != nil {
			return nil, errors.NewAssertionErrorWithWrappedErrf(err, "failed to shrink block")
		}
		a.blocks.Coalesce()

		return a.payload(handle, size)
	}

	a.blocks.Coalesce()

	next := a.blocks.Next(handle)
	if next == metadata.NoBlock {
		return a.relocateTail(block, size)
	}

	nextBlock, err := a.blocks.Get(next)
	if err != nil {
		return nil, errors.NewAssertionErrorWithWrappedErrf(err, "next block disappeared")
	}

	if nextBlock.Status == metadata.StatusFree && block.Size+nextBlock.Size+metadata.HeaderSize >= aligned {
		err = a.blocks.MergeNext(handle)
		if err != nil {
			return nil, errors.NewAssertionErrorWithWrappedErrf(err, "failed to merge the next block")
		}

		_, err = a.blocks.Split(handle, size)
		if err != nil {
			return nil, errors.NewAssertionErrorWithWrappedErrf(err, "failed to split a grown block")
		}

		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Grew block in place", slog.Int("size", aligned))
		return a.payload(handle, size)
	}

	return a.relocate(block, size)
}

// relocate moves an allocation into a freshly allocated block and releases the old one
func (a *Allocator) relocate(block *metadata.Block, size int) ([]byte, error) {
	old, err := a.payload(block.Handle(), block.Size)
	if err != nil {
		return nil, err
	}

	moved, err := a.allocate(size, a.mapThreshold)
	if err != nil {
		return nil, err
	}
	copy(moved, old)

	err = a.releaseBlock(block)
	if err != nil {
		return nil, err
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Relocated block",
		slog.Int("from", len(old)),
		slog.Int("to", cap(moved)))
	return moved, nil
}

// relocateTail grows the last block in the heap by releasing it first, so that the new
// allocation can merge it with a free neighbor or extend it in place. The new block may
// overlap the old one; block headers are never written into the heap, so the old contents
// are intact until they are moved.
func (a *Allocator) relocateTail(block *metadata.Block, size int) ([]byte, error) {
	old, err := a.payload(block.Handle(), block.Size)
	if err != nil {
		return nil, err
	}

	err = a.releaseBlock(block)
	if err != nil {
		return nil, err
	}

	moved, err := a.allocate(size, a.mapThreshold)
	if err != nil {
		return nil, err
	}
	copy(moved, old)

	return moved, nil
}
