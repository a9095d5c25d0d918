package api

// CudaError is a cudaError_t status code returned by the CUDA runtime C API.
type CudaError int32

// CudaStream is an opaque cudaStream_t handle.
type CudaStream uintptr

// DevicePtr is an opaque pointer into device-addressable memory.
type DevicePtr uintptr

// MemAttachGlobal makes managed memory accessible from any stream on any
// device (cudaMemAttachGlobal).
const MemAttachGlobal uint32 = 0x01

// APIFuncs is an interface for the CUDA runtime C API functions used by the
// memory resources.
type APIFuncs interface {
	// Error handling
	GetErrorName(CudaError) *byte
	GetErrorString(CudaError) *byte
	GetLastError() CudaError

	// Memory
	Malloc(*DevicePtr, uintptr) CudaError
	MallocManaged(*DevicePtr, uintptr, uint32) CudaError
	Free(DevicePtr) CudaError
	MemGetInfo(*uintptr, *uintptr) CudaError

	// Device management
	GetDeviceCount(*int32) CudaError
	GetDevice(*int32) CudaError
	SetDevice(int32) CudaError
	DeviceSynchronize() CudaError

	// Streams
	StreamSynchronize(CudaStream) CudaError

	// Version info
	RuntimeGetVersion(*int32) CudaError
	DriverGetVersion(*int32) CudaError
}
