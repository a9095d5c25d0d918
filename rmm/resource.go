package rmm

// MemoryResource is the contract every device memory allocator satisfies.
//
// A pointer returned by Allocate on resource R may only be passed to
// Deallocate on a resource R2 for which R.IsEqual(R2) holds. Deallocating
// the same pointer twice, or through a non-equivalent resource, is undefined
// behavior and is not detected. A resource must outlive every allocation it
// issued that has not been deallocated.
//
// Implementations document their own locking discipline. The resources in
// this package hold no mutable state of their own except the decorators,
// which guard their bookkeeping with a mutex.
type MemoryResource interface {
	// Allocate returns a pointer to at least bytes of device memory aligned to
	// AllocationAlignment. If the resource supports streams, the memory is
	// usable only by work ordered after stream. A failure is reported as an
	// error matching ErrBadAlloc; no partial result is returned.
	Allocate(bytes int, stream Stream) (DevicePtr, error)

	// Deallocate releases memory returned by Allocate. bytes must equal the
	// size passed to Allocate. Deallocate does not report errors: a failure in
	// the backing runtime is fatal.
	Deallocate(ptr DevicePtr, bytes int, stream Stream)

	// SupportsStreams reports whether stream arguments are honored. When false,
	// all work happens on an implicit default context and stream is advisory.
	SupportsStreams() bool

	// SupportsGetMemInfo reports whether GetMemInfo returns meaningful data.
	SupportsGetMemInfo() bool

	// GetMemInfo returns a best-effort snapshot of free and total memory.
	GetMemInfo(stream Stream) (MemInfo, error)

	// IsEqual reports whether memory allocated by r can be deallocated by
	// other and vice versa. It compares capability, not internal state.
	IsEqual(other MemoryResource) bool
}

// Equal reports whether a and b are equivalent resources. Identical
// resources are always equal; otherwise a.IsEqual(b) decides.
func Equal(a, b MemoryResource) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if sameResource(a, b) {
		return true
	}
	return a.IsEqual(b)
}

// NotEqual is the negation of Equal.
func NotEqual(a, b MemoryResource) bool {
	return !Equal(a, b)
}

// sameResource reports identity without panicking on uncomparable dynamic types.
func sameResource(a, b MemoryResource) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

// upstreamer is implemented by decorators that forward to another resource.
type upstreamer interface {
	Upstream() MemoryResource
}

// Innermost unwraps decorators until it reaches a resource that does not
// forward to another one.
func Innermost(mr MemoryResource) MemoryResource {
	for {
		u, ok := mr.(upstreamer)
		if !ok {
			return mr
		}
		mr = u.Upstream()
	}
}
