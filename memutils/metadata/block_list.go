package metadata

import (
	"math"
	"sync"
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/osmem/memutils"
)

var blockAllocator = sync.Pool{
	New: func() any {
		return &Block{}
	},
}

// BlockList is the single list of every block known to an allocator. Mapped blocks are
// pushed onto the head of the list and heap blocks are appended to the tail, so heap blocks
// appear in increasing address order after all of the mapped blocks.
//
// Descriptors are kept in a slot arena and addressed through generation-checked
// BlockHandle values. Walking the list is O(n), while resolving a header address to a
// block goes through a hash index.
type BlockList struct {
	slots       []*Block
	generations []uint32
	freeSlots   []uint32
	byAddress   *swiss.Map[uintptr, BlockHandle]

	head        BlockHandle
	tail        BlockHandle
	count       int
	mappedCount int
}

var _ memutils.Validatable = &BlockList{}

// NewBlockList creates an empty BlockList
func NewBlockList() *BlockList {
	return &BlockList{
		byAddress: swiss.NewMap[uintptr, BlockHandle](42),
		head:      NoBlock,
		tail:      NoBlock,
	}
}

func (l *BlockList) allocateBlock() *Block {
	var index uint32
	if len(l.freeSlots) > 0 {
		index = l.freeSlots[len(l.freeSlots)-1]
		l.freeSlots = l.freeSlots[:len(l.freeSlots)-1]
	} else {
		index = uint32(len(l.slots))
		l.slots = append(l.slots, nil)
		l.generations = append(l.generations, 1)
	}

	b := blockAllocator.Get().(*Block)
	b.Address = 0
	b.Size = 0
	b.Status = StatusFree
	b.Region = nil
	b.next = NoBlock
	b.handle = newBlockHandle(index, l.generations[index])

	l.slots[index] = b
	l.count++
	return b
}

func (l *BlockList) freeBlock(b *Block) {
	index := b.handle.index()
	l.byAddress.Delete(b.Address)

	l.slots[index] = nil
	l.generations[index]++
	if l.generations[index] == math.MaxUint32 {
		l.generations[index] = 1
	}
	l.freeSlots = append(l.freeSlots, index)
	l.count--

	b.Region = nil
	blockAllocator.Put(b)
}

func (l *BlockList) block(handle BlockHandle) *Block {
	if handle == NoBlock {
		return nil
	}

	index := handle.index()
	if int(index) >= len(l.slots) || l.generations[index] != handle.generation() {
		return nil
	}

	return l.slots[index]
}

// Get resolves a handle to its block descriptor. The returned pointer stays valid until the
// block is removed or merged into its predecessor.
func (l *BlockList) Get(handle BlockHandle) (*Block, error) {
	b := l.block(handle)
	if b == nil {
		return nil, errors.Errorf("block handle %#x does not refer to a live block", uint64(handle))
	}

	return b, nil
}

// Len returns the number of blocks in the list
func (l *BlockList) Len() int {
	return l.count
}

// MappedCount returns the number of StatusMapped blocks in the list
func (l *BlockList) MappedCount() int {
	return l.mappedCount
}

// HeapCount returns the number of heap blocks in the list
func (l *BlockList) HeapCount() int {
	return l.count - l.mappedCount
}

// Head returns the first block in the list, or NoBlock if the list is empty
func (l *BlockList) Head() BlockHandle {
	return l.head
}

// Tail returns the last block in the list, or NoBlock if the list is empty
func (l *BlockList) Tail() BlockHandle {
	return l.tail
}

// Next returns the block that follows the provided block, or NoBlock if it is the last block
// or the handle is no longer live
func (l *BlockList) Next(handle BlockHandle) BlockHandle {
	b := l.block(handle)
	if b == nil {
		return NoBlock
	}
	return b.next
}

// Lookup finds the block whose header begins at the provided address
func (l *BlockList) Lookup(header uintptr) (BlockHandle, bool) {
	return l.byAddress.Get(header)
}

// Contains returns true if a block whose header begins at the provided address is in the list
func (l *BlockList) Contains(header uintptr) bool {
	return l.byAddress.Has(header)
}

// Visit calls the provided callback once for each block, in list order. The callback must not
// insert or remove blocks. Iteration stops at the first error, which is returned.
func (l *BlockList) Visit(visit func(handle BlockHandle, block *Block) error) error {
	for handle := l.head; handle != NoBlock; {
		b := l.block(handle)
		if b == nil {
			return errors.Errorf("block list is broken at handle %#x", uint64(handle))
		}

		err := visit(handle, b)
		if err != nil {
			return err
		}

		handle = b.next
	}

	return nil
}

// Insert adds a new block to the list. Mapped blocks are pushed onto the head of the list.
// Allocated heap blocks are appended to the tail and must begin exactly where the last heap
// block ends. A free block may only be inserted as the very first heap block, which is how the
// preallocated heap is introduced.
func (l *BlockList) Insert(header uintptr, size int, status BlockStatus, region []byte) (BlockHandle, error) {
	if size < 0 || !memutils.IsAligned(size, memutils.Alignment) {
		return NoBlock, errors.Wrapf(memutils.AlignmentError, "block size %d", size)
	}
	if !memutils.IsAligned(int(header), memutils.Alignment) {
		return NoBlock, errors.Wrapf(memutils.AlignmentError, "block address %#x", header)
	}
	if l.byAddress.Has(header) {
		return NoBlock, errors.Errorf("a block at address %#x is already in the list", header)
	}

	switch status {
	case StatusMapped:
		if len(region) < HeaderSize+size {
			return NoBlock, errors.Errorf("mapped block of size %d needs a region of at least %d bytes, but received %d", size, HeaderSize+size, len(region))
		}
		if uintptr(unsafe.Pointer(unsafe.SliceData(region))) != header {
			return NoBlock, errors.New("mapped block header must sit at the start of its region")
		}
	case StatusAllocated, StatusFree:
		if status == StatusFree && l.HeapCount() > 0 {
			return NoBlock, errors.New("a free block can only be inserted as the first heap block")
		}
		if region != nil {
			return NoBlock, errors.New("heap blocks cannot carry a mapped region")
		}

		last := l.block(l.tail)
		if last != nil && last.Status.IsHeap() && last.End() != header {
			return NoBlock, errors.Errorf("heap block at %#x does not begin where the last heap block ends (%#x)", header, last.End())
		}
	default:
		return NoBlock, errors.Errorf("unknown block status %d", status)
	}

	b := l.allocateBlock()
	b.Address = header
	b.Size = size
	b.Status = status
	b.Region = region
	l.byAddress.Put(header, b.handle)

	if status == StatusMapped {
		l.mappedCount++
		b.next = l.head
		l.head = b.handle
		if l.tail == NoBlock {
			l.tail = b.handle
		}

		return b.handle, nil
	}

	if tail := l.block(l.tail); tail != nil {
		tail.next = b.handle
	} else {
		l.head = b.handle
	}
	l.tail = b.handle

	return b.handle, nil
}

// Remove unlinks a block from the list and retires its handle
func (l *BlockList) Remove(handle BlockHandle) error {
	var prev *Block
	for current := l.head; current != NoBlock; {
		b := l.block(current)
		if b == nil {
			return errors.Errorf("block list is broken at handle %#x", uint64(current))
		}

		if current != handle {
			prev = b
			current = b.next
			continue
		}

		if prev == nil {
			l.head = b.next
		} else {
			prev.next = b.next
		}

		if l.tail == handle {
			if prev == nil {
				l.tail = NoBlock
			} else {
				l.tail = prev.handle
			}
		}

		if b.Status == StatusMapped {
			l.mappedCount--
		}
		l.freeBlock(b)
		return nil
	}

	return errors.Errorf("block handle %#x is not in the list", uint64(handle))
}

// Validate performs a full consistency check of the list and returns the first problem found
func (l *BlockList) Validate() error {
	actualCount := 0
	mappedCount := 0
	seenHeap := false
	var prev *Block
	var lastHandle BlockHandle = NoBlock

	err := l.Visit(func(handle BlockHandle, b *Block) error {
		actualCount++
		lastHandle = handle

		if b.handle != handle {
			return errors.Errorf("block at %#x is stored under handle %#x but believes it is %#x", b.Address, uint64(handle), uint64(b.handle))
		}
		if b.Size < 0 || !memutils.IsAligned(b.Size, memutils.Alignment) {
			return errors.Errorf("block at %#x has invalid size %d", b.Address, b.Size)
		}
		indexed, ok := l.byAddress.Get(b.Address)
		if !ok || indexed != handle {
			return errors.Errorf("block at %#x is missing from the address index", b.Address)
		}

		switch b.Status {
		case StatusMapped:
			mappedCount++
			if seenHeap {
				return errors.Errorf("mapped block at %#x follows a heap block", b.Address)
			}
			if len(b.Region) < b.TotalSize() {
				return errors.Errorf("mapped block at %#x is larger than its region", b.Address)
			}
		case StatusFree, StatusAllocated:
			if b.Region != nil {
				return errors.Errorf("heap block at %#x carries a mapped region", b.Address)
			}
			if seenHeap && prev != nil {
				if prev.End() != b.Address {
					return errors.Errorf("heap block at %#x does not begin where the previous block ends (%#x)", b.Address, prev.End())
				}
				if prev.Status == StatusFree && b.Status == StatusFree {
					return errors.Errorf("free blocks at %#x and %#x were never coalesced", prev.Address, b.Address)
				}
			}
			seenHeap = true
		default:
			return errors.Errorf("block at %#x has unknown status %d", b.Address, b.Status)
		}

		prev = b
		return nil
	})
	if err != nil {
		return err
	}

	if actualCount != l.count {
		return errors.Errorf("the listed number of blocks (%d) does not match the actual number of blocks (%d)", l.count, actualCount)
	}
	if mappedCount != l.mappedCount {
		return errors.Errorf("the listed number of mapped blocks (%d) does not match the actual number of mapped blocks (%d)", l.mappedCount, mappedCount)
	}
	if l.byAddress.Count() != actualCount {
		return errors.Errorf("the address index holds %d entries, but the list holds %d blocks", l.byAddress.Count(), actualCount)
	}
	if lastHandle != l.tail {
		return errors.New("the tail of the list is not the last block in the list")
	}

	return nil
}
