package rmm

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// ManagedResource allocates managed (unified) memory with cudaMallocManaged
// and frees it with cudaFree. The memory is addressable from host and
// device. Like CUDAResource it ignores streams and holds no mutable state.
type ManagedResource struct {
	runtime ManagedRuntime
	logger  *slog.Logger
	fatal   FatalFunc
}

var _ MemoryResource = (*ManagedResource)(nil)

// NewManagedResource creates a resource that allocates managed memory from rt.
func NewManagedResource(rt ManagedRuntime, config *CUDAResourceConfig) *ManagedResource {
	logger := config.logger()
	return &ManagedResource{
		runtime: rt,
		logger:  logger,
		fatal:   config.fatal(logger),
	}
}

// SupportsStreams returns false: stream arguments are ignored.
func (r *ManagedResource) SupportsStreams() bool { return false }

// SupportsGetMemInfo returns true.
func (r *ManagedResource) SupportsGetMemInfo() bool { return true }

// Allocate forwards to cudaMallocManaged. Zero-byte requests succeed with
// NullPtr without reaching the runtime.
func (r *ManagedResource) Allocate(bytes int, _ Stream) (DevicePtr, error) {
	if bytes == 0 {
		return NullPtr, nil
	}
	if bytes < 0 {
		return NullPtr, &AllocationError{Bytes: bytes, Err: fmt.Errorf("negative allocation size")}
	}

	ptr, err := r.runtime.MallocManaged(bytes)
	if err != nil {
		return NullPtr, &AllocationError{Bytes: bytes, Err: err}
	}
	if ptr == NullPtr {
		return NullPtr, &AllocationError{Bytes: bytes, Err: fmt.Errorf("runtime returned a null pointer")}
	}

	r.logger.Debug("managed allocation",
		slog.String("size", humanize.IBytes(uint64(bytes))),
		slog.String("ptr", fmt.Sprintf("%#x", uintptr(ptr))),
	)
	return ptr, nil
}

// Deallocate forwards to cudaFree. A runtime failure is fatal.
func (r *ManagedResource) Deallocate(ptr DevicePtr, bytes int, _ Stream) {
	if ptr == NullPtr {
		return
	}
	if err := r.runtime.Free(ptr); err != nil {
		r.fatal(fmt.Sprintf("cudaFree(%#x) of %d managed bytes failed", uintptr(ptr), bytes), err)
	}
}

// GetMemInfo forwards to cudaMemGetInfo. The stream is unused.
func (r *ManagedResource) GetMemInfo(_ Stream) (MemInfo, error) {
	free, total, err := r.runtime.MemGetInfo()
	if err != nil {
		return MemInfo{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	return MemInfo{Free: free, Total: total}, nil
}

// IsEqual returns true for any other *ManagedResource. Managed and device
// allocations are not interchangeable, so a CUDAResource is never equal.
func (r *ManagedResource) IsEqual(other MemoryResource) bool {
	_, ok := other.(*ManagedResource)
	return ok
}
