package cudart

import (
	"fmt"

	"github.com/benedoc-inc/gormm/rmm/internal/api"
	"github.com/ebitengine/purego"
)

// Funcs contains cached function pointers to CUDA runtime C API functions.
type Funcs struct {
	// Error handling
	getErrorName   func(api.CudaError) *byte
	getErrorString func(api.CudaError) *byte
	getLastError   func() api.CudaError

	// Memory
	malloc        func(*api.DevicePtr, uintptr) api.CudaError
	mallocManaged func(*api.DevicePtr, uintptr, uint32) api.CudaError
	free          func(api.DevicePtr) api.CudaError
	memGetInfo    func(*uintptr, *uintptr) api.CudaError

	// Device management
	getDeviceCount    func(*int32) api.CudaError
	getDevice         func(*int32) api.CudaError
	setDevice         func(int32) api.CudaError
	deviceSynchronize func() api.CudaError

	// Streams
	streamSynchronize func(api.CudaStream) api.CudaError

	// Version info
	runtimeGetVersion func(*int32) api.CudaError
	driverGetVersion  func(*int32) api.CudaError
}

// symbols maps exported libcudart symbol names to the fields they populate.
func (f *Funcs) symbols() map[string]any {
	return map[string]any{
		"cudaGetErrorName":      &f.getErrorName,
		"cudaGetErrorString":    &f.getErrorString,
		"cudaGetLastError":      &f.getLastError,
		"cudaMalloc":            &f.malloc,
		"cudaMallocManaged":     &f.mallocManaged,
		"cudaFree":              &f.free,
		"cudaMemGetInfo":        &f.memGetInfo,
		"cudaGetDeviceCount":    &f.getDeviceCount,
		"cudaGetDevice":         &f.getDevice,
		"cudaSetDevice":         &f.setDevice,
		"cudaDeviceSynchronize": &f.deviceSynchronize,
		"cudaStreamSynchronize": &f.streamSynchronize,
		"cudaRuntimeGetVersion": &f.runtimeGetVersion,
		"cudaDriverGetVersion":  &f.driverGetVersion,
	}
}

// InitializeFuncs resolves the CUDA runtime entry points from the library handle.
// This is called once during initialization to avoid repeated symbol lookups.
func InitializeFuncs(libraryHandle uintptr) (*Funcs, error) {
	funcs := &Funcs{}

	for name, fptr := range funcs.symbols() {
		sym, err := lookupSymbol(libraryHandle, name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", name, err)
		}
		purego.RegisterFunc(fptr, sym)
	}

	return funcs, nil
}

// Error handling methods

func (f *Funcs) GetErrorName(code api.CudaError) *byte {
	return f.getErrorName(code)
}

func (f *Funcs) GetErrorString(code api.CudaError) *byte {
	return f.getErrorString(code)
}

func (f *Funcs) GetLastError() api.CudaError {
	return f.getLastError()
}

// Memory methods

func (f *Funcs) Malloc(ptr *api.DevicePtr, size uintptr) api.CudaError {
	return f.malloc(ptr, size)
}

func (f *Funcs) MallocManaged(ptr *api.DevicePtr, size uintptr, flags uint32) api.CudaError {
	return f.mallocManaged(ptr, size, flags)
}

func (f *Funcs) Free(ptr api.DevicePtr) api.CudaError {
	return f.free(ptr)
}

func (f *Funcs) MemGetInfo(free, total *uintptr) api.CudaError {
	return f.memGetInfo(free, total)
}

// Device management methods

func (f *Funcs) GetDeviceCount(count *int32) api.CudaError {
	return f.getDeviceCount(count)
}

func (f *Funcs) GetDevice(device *int32) api.CudaError {
	return f.getDevice(device)
}

func (f *Funcs) SetDevice(device int32) api.CudaError {
	return f.setDevice(device)
}

func (f *Funcs) DeviceSynchronize() api.CudaError {
	return f.deviceSynchronize()
}

// Stream methods

func (f *Funcs) StreamSynchronize(stream api.CudaStream) api.CudaError {
	return f.streamSynchronize(stream)
}

// Version info methods

func (f *Funcs) RuntimeGetVersion(version *int32) api.CudaError {
	return f.runtimeGetVersion(version)
}

func (f *Funcs) DriverGetVersion(version *int32) api.CudaError {
	return f.driverGetVersion(version)
}
