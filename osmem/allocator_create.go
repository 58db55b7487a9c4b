package osmem

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/osmem/memutils"
	"github.com/vkngwrapper/osmem/memutils/metadata"
	"github.com/vkngwrapper/osmem/osmem/internal/utils"
	"github.com/vkngwrapper/osmem/system"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = map[CreateFlags]string{}

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping[f] = str
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for bit := CreateFlags(1); bit > 0 && bit <= f; bit <<= 1 {
		if f&bit == 0 {
			continue
		}

		name, ok := allocatorCreateFlagsMapping[bit]
		if !ok {
			name = fmt.Sprintf("Unknown(%#x)", int32(bit))
		}
		names = append(names, name)
	}

	return strings.Join(names, "|")
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee it is used from only one goroutine at a time or
	// is synchronized by some other mechanism, but performance may improve because internal
	// mutexes are not used.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
	// AllocatorCreateValidateOperations runs a full consistency check of the block list after
	// every operation that changes it. This is very slow and meant for diagnosing issues.
	AllocatorCreateValidateOperations
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
	AllocatorCreateValidateOperations.Register("AllocatorCreateValidateOperations")
}

const (
	// DefaultMapThreshold is the value that is used as the MapThreshold when none is provided
	// via CreateOptions. It is equal to 128Kb.
	DefaultMapThreshold int = 128 * 1024
	// DefaultHeapPreallocSize is the value that is used as the HeapPreallocSize when none is
	// provided via CreateOptions. It is equal to 128Kb.
	DefaultHeapPreallocSize int = 128 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags

	// MapThreshold is the request size, header included, at which requests stop being served
	// from the heap and receive their own anonymous mapping instead
	MapThreshold int
	// HeapPreallocSize is the number of bytes the heap grows by when the first heap-eligible
	// request arrives. The whole preallocation, minus one header, becomes a single free block.
	// It must be a multiple of 8.
	HeapPreallocSize int

	// MemorySource supplies the heap and the anonymous mappings. If it is nil, the allocator
	// creates one with system.Default and closes it when the allocator is destroyed. A
	// provided source is never closed by the allocator.
	MemorySource system.MemorySource

	// FatalHandler is called when a non-Try operation fails unrecoverably. If it is nil, the
	// process exits with status 1.
	FatalHandler FatalHandler

	// RegionCallbacks is an optional set of callbacks that will be executed when the heap
	// grows or regions are mapped and unmapped
	RegionCallbacks *RegionCallbackOptions
}

// New creates a new Allocator
//
// logger - Receives debug tracing of allocator operations and error reports. If it is nil,
// slog.Default() is used.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		logger:      logger,
		mutex:       utils.OptionalRWMutex{UseMutex: useMutex},
		createFlags: options.Flags,
		fatal:       options.FatalHandler,
		blocks:      metadata.NewBlockList(),
	}
	allocator.callbacks = regionCallbacks{
		Callbacks: options.RegionCallbacks,
		Allocator: allocator,
	}

	if allocator.fatal == nil {
		allocator.fatal = exitProcess
	}

	if options.MapThreshold == 0 {
		allocator.mapThreshold = DefaultMapThreshold
	} else if options.MapThreshold < 0 {
		return nil, errors.Newf("MapThreshold cannot be negative, but was %d", options.MapThreshold)
	} else {
		allocator.mapThreshold = options.MapThreshold
	}

	if options.HeapPreallocSize == 0 {
		allocator.heapPreallocSize = DefaultHeapPreallocSize
	} else {
		allocator.heapPreallocSize = options.HeapPreallocSize
	}
	if !memutils.IsAligned(allocator.heapPreallocSize, memutils.Alignment) ||
		allocator.heapPreallocSize < metadata.HeaderSize+int(memutils.Alignment) {
		return nil, errors.Wrapf(memutils.AlignmentError,
			"HeapPreallocSize must be a multiple of %d of at least %d bytes, but was %d",
			memutils.Alignment, metadata.HeaderSize+int(memutils.Alignment), allocator.heapPreallocSize)
	}

	allocator.source = options.MemorySource
	if allocator.source == nil {
		source, err := system.Default()
		if err != nil {
			return nil, errors.Wrap(err, "failed to create the default memory source")
		}

		allocator.source = source
		allocator.ownsSource = true
	}

	allocator.pageSize = allocator.source.PageSize()
	err := memutils.CheckPow2(allocator.pageSize, "memory source page size")
	if err != nil {
		if allocator.ownsSource {
			_ = allocator.source.Close()
		}
		return nil, err
	}

	return allocator, nil
}
