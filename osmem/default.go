package osmem

import (
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

var (
	defaultOnce      sync.Once
	defaultAllocator *Allocator
	defaultErr       error
)

// Default returns the process-wide allocator used by the package-level functions. It is
// created on first use with default options and is always internally synchronized.
func Default() *Allocator {
	defaultOnce.Do(func() {
		defaultAllocator, defaultErr = New(slog.Default(), CreateOptions{})
	})

	if defaultErr != nil {
		slog.Default().Error("[FATAL] failed to create the default allocator", slog.Any("error", defaultErr))
		exitProcess(errors.Wrap(defaultErr, "failed to create the default allocator"))
	}

	return defaultAllocator
}

// Allocate calls Allocate on the default allocator
func Allocate(size int) []byte {
	return Default().Allocate(size)
}

// AllocateZeroed calls AllocateZeroed on the default allocator
func AllocateZeroed(count, size int) []byte {
	return Default().AllocateZeroed(count, size)
}

// Release calls Release on the default allocator
func Release(b []byte) {
	Default().Release(b)
}

// Resize calls Resize on the default allocator
func Resize(b []byte, size int) []byte {
	return Default().Resize(b, size)
}
