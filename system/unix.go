//go:build linux

package system

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osmem/memutils"
	"golang.org/x/sys/unix"
)

// DefaultHeapReservation is the amount of address space reserved for the heap by a UnixSource
// when no reservation is provided. Reserved space costs nothing until the heap grows into it.
const DefaultHeapReservation int = 1 << 30

// UnixSource is a MemorySource backed directly by the kernel. The heap is one large
// PROT_NONE reservation whose pages are committed with mprotect as the break moves forward,
// so the heap never moves. Anonymous mappings come straight from mmap.
type UnixSource struct {
	pageSize  int
	reserved  []byte
	committed int
	brk       int
}

var _ MemorySource = &UnixSource{}

// NewUnixSource reserves reservation bytes of address space for the heap. A reservation of 0
// uses DefaultHeapReservation.
func NewUnixSource(reservation int) (*UnixSource, error) {
	pageSize := unix.Getpagesize()
	if reservation <= 0 {
		reservation = DefaultHeapReservation
	}
	reservation = memutils.AlignUp(reservation, uint(pageSize))

	reserved, err := unix.Mmap(-1, 0, reservation, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_NORESERVE)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to reserve %d bytes for the heap", reservation), ErrOutOfMemory)
	}

	return &UnixSource{
		pageSize: pageSize,
		reserved: reserved,
	}, nil
}

func (s *UnixSource) PageSize() int {
	return s.pageSize
}

// Reservation returns the maximum size the heap can grow to
func (s *UnixSource) Reservation() int {
	return len(s.reserved)
}

func (s *UnixSource) GrowHeap(delta int) ([]byte, error) {
	if s.reserved == nil {
		return nil, errors.New("memory source has been closed")
	}
	if delta < 0 {
		return nil, errors.Newf("the heap cannot shrink, but received a delta of %d", delta)
	}

	newBreak := s.brk + delta
	if newBreak > len(s.reserved) {
		return nil, errors.Wrapf(ErrOutOfMemory, "growing the heap by %d bytes would exceed its %d byte reservation", delta, len(s.reserved))
	}

	if newBreak > s.committed {
		newCommitted := memutils.AlignUp(newBreak, uint(s.pageSize))
		err := unix.Mprotect(s.reserved[s.committed:newCommitted], unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return nil, errors.Mark(errors.Wrapf(err, "failed to commit %d heap bytes", newCommitted-s.committed), ErrOutOfMemory)
		}
		s.committed = newCommitted
	}

	s.brk = newBreak
	return s.reserved[:s.brk:s.brk], nil
}

func (s *UnixSource) MapAnonymous(length int) ([]byte, error) {
	if length <= 0 {
		return nil, errors.Newf("cannot map a region of %d bytes", length)
	}

	region, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "failed to map %d bytes", length), ErrOutOfMemory)
	}

	return region, nil
}

func (s *UnixSource) Unmap(region []byte) error {
	err := unix.Munmap(region)
	if err != nil {
		return errors.Wrapf(err, "failed to unmap region at %#x", sliceAddress(region))
	}

	return nil
}

func (s *UnixSource) Close() error {
	if s.reserved == nil {
		return nil
	}

	err := unix.Munmap(s.reserved)
	s.reserved = nil
	s.committed = 0
	s.brk = 0
	if err != nil {
		return errors.Wrap(err, "failed to release the heap reservation")
	}

	return nil
}
