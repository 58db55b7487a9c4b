//go:build linux

package system

// Default creates the MemorySource allocators use when none is provided
func Default() (MemorySource, error) {
	return NewUnixSource(DefaultHeapReservation)
}
