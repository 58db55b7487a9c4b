package metadata

import (
	"github.com/pkg/errors"
	"github.com/vkngwrapper/osmem/memutils"
)

// mergeNext absorbs next into b. The merged block is always free: callers that are growing an
// allocation in place re-mark it themselves.
func (l *BlockList) mergeNext(b, next *Block) {
	b.Size += next.Size + HeaderSize
	b.next = next.next
	b.Status = StatusFree

	if l.tail == next.handle {
		l.tail = b.handle
	}

	l.freeBlock(next)
}

// Coalesce walks the list once and merges every run of adjacent free heap blocks into the
// first block of the run. It returns the number of blocks that were merged away. After it
// returns, no two free blocks are adjacent, so running it again changes nothing.
func (l *BlockList) Coalesce() int {
	merged := 0

	for handle := l.head; handle != NoBlock; {
		b := l.block(handle)
		if b.Status == StatusFree {
			next := l.block(b.next)
			if next != nil && next.Status == StatusFree {
				l.mergeNext(b, next)
				merged++
				// the merged block may now sit in front of another free block
				continue
			}
		}

		handle = b.next
	}

	return merged
}

// MergeNext absorbs the block following the provided heap block into it. The following block
// must be free. The merged block is marked free.
func (l *BlockList) MergeNext(handle BlockHandle) error {
	b, err := l.Get(handle)
	if err != nil {
		return err
	}
	if !b.Status.IsHeap() {
		return errors.Errorf("cannot merge into %s block at %#x", b.Status, b.Address)
	}

	next := l.block(b.next)
	if next == nil {
		return errors.Errorf("block at %#x has no following block to merge", b.Address)
	}
	if next.Status != StatusFree {
		return errors.Errorf("block at %#x is followed by a %s block, which cannot be merged", b.Address, next.Status)
	}

	l.mergeNext(b, next)
	return nil
}

// Split marks a heap block allocated and trims it to the aligned requested size if the
// leftover can hold a header plus at least one alignment unit of payload. The leftover becomes
// a new free block directly after the trimmed block, and its handle is returned. If the block
// is too small to split, it is left at its current size and NoBlock is returned.
func (l *BlockList) Split(handle BlockHandle, size int) (BlockHandle, error) {
	b, err := l.Get(handle)
	if err != nil {
		return NoBlock, err
	}
	if !b.Status.IsHeap() {
		return NoBlock, errors.Errorf("cannot split %s block at %#x", b.Status, b.Address)
	}

	aligned := memutils.AlignUp(size, memutils.Alignment)
	if b.Size < aligned+HeaderSize+int(memutils.Alignment) {
		b.Status = StatusAllocated
		return NoBlock, nil
	}

	remainder := l.allocateBlock()
	remainder.Address = b.Address + uintptr(HeaderSize+aligned)
	remainder.Size = b.Size - aligned - HeaderSize
	remainder.Status = StatusFree
	remainder.next = b.next
	l.byAddress.Put(remainder.Address, remainder.handle)

	b.Size = aligned
	b.Status = StatusAllocated
	b.next = remainder.handle

	if l.tail == handle {
		l.tail = remainder.handle
	}

	return remainder.handle, nil
}

// FindBestFit coalesces the list and then returns the smallest free block with a payload of
// at least size bytes. Ties go to the block closest to the head of the list, which is the one
// with the lowest heap address. NoBlock is returned if no free block is large enough.
func (l *BlockList) FindBestFit(size int) BlockHandle {
	l.Coalesce()

	best := NoBlock
	bestSize := 0
	for handle := l.head; handle != NoBlock; {
		b := l.block(handle)
		if b.Status == StatusFree && b.Size >= size {
			if best == NoBlock || b.Size < bestSize {
				best = handle
				bestSize = b.Size
			}
		}

		handle = b.next
	}

	return best
}

// TailFreeBlock returns the last block in the list if it is free, and NoBlock otherwise
func (l *BlockList) TailFreeBlock() BlockHandle {
	tail := l.block(l.tail)
	if tail == nil || tail.Status != StatusFree {
		return NoBlock
	}

	return l.tail
}

// Extend grows the last block in the list by the provided number of bytes. The caller is
// responsible for having grown the heap beneath it first.
func (l *BlockList) Extend(handle BlockHandle, bytes int) error {
	b, err := l.Get(handle)
	if err != nil {
		return err
	}
	if handle != l.tail || !b.Status.IsHeap() {
		return errors.Errorf("only the last heap block can be extended, but block at %#x is not", b.Address)
	}
	if bytes <= 0 || !memutils.IsAligned(bytes, memutils.Alignment) {
		return errors.Wrapf(memutils.AlignmentError, "extension of %d bytes", bytes)
	}

	b.Size += bytes
	return nil
}
