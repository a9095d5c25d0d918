package rmm

import "github.com/benedoc-inc/gormm/rmm/internal/api"

// AllocationAlignment is the minimum alignment, in bytes, of every pointer
// returned by the resources in this package.
const AllocationAlignment = 256

// DevicePtr is an opaque address into device-addressable memory.
type DevicePtr = api.DevicePtr

// NullPtr is the null device address.
const NullPtr DevicePtr = 0

// Stream identifies an ordered execution context on the device.
// Streams are compared by value.
type Stream = api.CudaStream

// DefaultStream is the default (null) stream.
const DefaultStream Stream = 0

// MemInfo is a point-in-time snapshot of device memory.
type MemInfo struct {
	Free  int
	Total int
}

// Used returns the number of bytes in use at snapshot time.
func (m MemInfo) Used() int {
	return m.Total - m.Free
}

// ErrorCode represents cudaError_t codes returned by the CUDA runtime.
type ErrorCode = api.CudaError

// Error codes returned by the CUDA runtime that this package inspects.
const (
	// ErrorCodeSuccess indicates success (no error).
	ErrorCodeSuccess ErrorCode = 0
	// ErrorCodeInvalidValue indicates an invalid argument was provided.
	ErrorCodeInvalidValue ErrorCode = 1
	// ErrorCodeMemoryAllocation indicates the device is out of memory.
	ErrorCodeMemoryAllocation ErrorCode = 2
	// ErrorCodeInitializationError indicates the runtime failed to initialize.
	ErrorCodeInitializationError ErrorCode = 3
	// ErrorCodeCudartUnloading indicates the runtime is shutting down.
	ErrorCodeCudartUnloading ErrorCode = 4
	// ErrorCodeInvalidDevicePointer indicates a pointer is not a device pointer.
	ErrorCodeInvalidDevicePointer ErrorCode = 17
	// ErrorCodeStubLibrary indicates a stub libcudart was loaded.
	ErrorCodeStubLibrary ErrorCode = 34
	// ErrorCodeInsufficientDriver indicates the driver is older than the runtime.
	ErrorCodeInsufficientDriver ErrorCode = 35
	// ErrorCodeNoDevice indicates no CUDA-capable device is present.
	ErrorCodeNoDevice ErrorCode = 100
	// ErrorCodeInvalidDevice indicates an invalid device ordinal.
	ErrorCodeInvalidDevice ErrorCode = 101
	// ErrorCodeInvalidResourceHandle indicates an invalid stream or event handle.
	ErrorCodeInvalidResourceHandle ErrorCode = 400
	// ErrorCodeIllegalAddress indicates a kernel touched an illegal address.
	ErrorCodeIllegalAddress ErrorCode = 700
	// ErrorCodeLaunchFailure indicates an exception occurred on the device.
	ErrorCodeLaunchFailure ErrorCode = 719
	// ErrorCodeNotSupported indicates the operation is not supported.
	ErrorCodeNotSupported ErrorCode = 801
	// ErrorCodeUnknown indicates an unknown internal error.
	ErrorCodeUnknown ErrorCode = 999
)

// IsAligned reports whether ptr is a multiple of alignment.
// alignment must be a power of two.
func IsAligned(ptr DevicePtr, alignment int) bool {
	return uintptr(ptr)&uintptr(alignment-1) == 0
}

// AlignUp rounds n up to the next multiple of alignment.
// alignment must be a power of two.
func AlignUp(n, alignment int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}
