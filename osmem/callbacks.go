package osmem

type HeapGrownCallback func(
	allocator *Allocator,
	heap []byte,
	delta int,
	userData interface{},
)

type RegionMappedCallback func(
	allocator *Allocator,
	region []byte,
	userData interface{},
)

type RegionUnmappedCallback func(
	allocator *Allocator,
	region []byte,
	userData interface{},
)

// RegionCallbackOptions is an optional set of callbacks that are executed when the allocator
// obtains memory from or returns memory to its MemorySource. Callbacks run while the allocator
// is locked and must not call back into it.
type RegionCallbackOptions struct {
	HeapGrown HeapGrownCallback
	Mapped    RegionMappedCallback
	Unmapped  RegionUnmappedCallback
	UserData  interface{}
}

type regionCallbacks struct {
	Callbacks *RegionCallbackOptions
	Allocator *Allocator
}

func (c *regionCallbacks) HeapGrown(heap []byte, delta int) {
	if c.Callbacks != nil && c.Callbacks.HeapGrown != nil {
		c.Callbacks.HeapGrown(c.Allocator, heap, delta, c.Callbacks.UserData)
	}
}

func (c *regionCallbacks) Mapped(region []byte) {
	if c.Callbacks != nil && c.Callbacks.Mapped != nil {
		c.Callbacks.Mapped(c.Allocator, region, c.Callbacks.UserData)
	}
}

func (c *regionCallbacks) Unmapped(region []byte) {
	if c.Callbacks != nil && c.Callbacks.Unmapped != nil {
		c.Callbacks.Unmapped(c.Allocator, region, c.Callbacks.UserData)
	}
}
