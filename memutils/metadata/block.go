package metadata

import (
	"math"

	"github.com/vkngwrapper/osmem/memutils"
)

// BlockStatus indicates what a block's memory is currently used for
type BlockStatus uint8

const (
	// StatusFree indicates a heap block that is available for reuse
	StatusFree BlockStatus = iota
	// StatusAllocated indicates a heap block whose payload belongs to a caller
	StatusAllocated
	// StatusMapped indicates a block backed by its own anonymous mapping. Mapped blocks
	// are always in use: they are unmapped as soon as they are released.
	StatusMapped
)

var blockStatusMapping = map[BlockStatus]string{
	StatusFree:      "Free",
	StatusAllocated: "Allocated",
	StatusMapped:    "Mapped",
}

func (s BlockStatus) String() string {
	return blockStatusMapping[s]
}

// IsHeap returns true for the statuses that heap-backed blocks move between
func (s BlockStatus) IsHeap() bool {
	return s == StatusFree || s == StatusAllocated
}

// blockHeaderFootprint is the size of a size/next/status record on a 64-bit machine.
const blockHeaderFootprint = 24

// HeaderSize is the number of bytes reserved in front of every payload. Header bytes are never
// written, but reserving them keeps block offsets, merged sizes and growth deltas consistent
// no matter where the descriptors are actually stored.
var HeaderSize = memutils.AlignUp(blockHeaderFootprint, memutils.Alignment)

// BlockHandle identifies a block descriptor within a BlockList. Handles carry a generation, so
// a handle to a block that has been merged away or removed will never resolve to a newer block
// that happens to reuse the same slot.
type BlockHandle uint64

// NoBlock is the BlockHandle value that does not refer to any block
const NoBlock BlockHandle = math.MaxUint64

func newBlockHandle(index, generation uint32) BlockHandle {
	return BlockHandle(uint64(generation)<<32 | uint64(index))
}

func (h BlockHandle) index() uint32 {
	return uint32(h)
}

func (h BlockHandle) generation() uint32 {
	return uint32(h >> 32)
}

// Block describes a single managed region of memory: a header of HeaderSize bytes
// followed by a payload of Size bytes
type Block struct {
	// Address is the address of the block's header. The payload begins HeaderSize bytes later.
	Address uintptr
	// Size is the usable payload size in bytes. It is always a multiple of memutils.Alignment.
	Size   int
	Status BlockStatus
	// Region is the full anonymous mapping backing a StatusMapped block. It is nil for heap blocks.
	Region []byte

	handle BlockHandle
	next   BlockHandle
}

// Handle returns the handle that currently identifies this block
func (b *Block) Handle() BlockHandle {
	return b.handle
}

// PayloadAddress returns the address of the first byte handed to callers
func (b *Block) PayloadAddress() uintptr {
	return PayloadAddress(b.Address)
}

// End returns the address one past the last byte of the block's payload
func (b *Block) End() uintptr {
	return b.Address + uintptr(HeaderSize+b.Size)
}

// TotalSize returns the number of bytes the block occupies, header included
func (b *Block) TotalSize() int {
	return HeaderSize + b.Size
}

// PayloadAddress translates a header address to the address of the payload that follows it
func PayloadAddress(header uintptr) uintptr {
	return header + uintptr(HeaderSize)
}

// HeaderAddress translates a payload address to the address of the header preceding it
func HeaderAddress(payload uintptr) uintptr {
	return payload - uintptr(HeaderSize)
}
