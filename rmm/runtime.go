package rmm

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/benedoc-inc/gormm/rmm/internal/api"
	"github.com/benedoc-inc/gormm/rmm/internal/api/cudart"
)

// DeviceRuntime is the accelerator runtime boundary consumed by CUDAResource.
// Implementations must be safe for concurrent use to the extent that the
// resources built on them are shared between goroutines.
type DeviceRuntime interface {
	// Malloc allocates at least bytes of device memory.
	Malloc(bytes int) (DevicePtr, error)
	// Free releases memory returned by Malloc.
	Free(ptr DevicePtr) error
	// MemGetInfo reports free and total device memory in bytes.
	MemGetInfo() (free, total int, err error)
}

// ManagedRuntime is a DeviceRuntime that can also allocate managed memory,
// accessible from both host and device.
type ManagedRuntime interface {
	DeviceRuntime
	// MallocManaged allocates at least bytes of managed memory.
	MallocManaged(bytes int) (DevicePtr, error)
}

// defaultLibraryNames are tried in order when no library path is given.
var defaultLibraryNames = []string{
	"libcudart.so",
	"libcudart.so.12",
	"libcudart.so.11.0",
}

// Runtime is a handle to a dynamically loaded CUDA runtime library.
// It implements ManagedRuntime.
//
// Once SetDevice has been called, every call made through the Runtime runs
// on a locked OS thread with that device current, whichever goroutine makes
// it.
//
// Example:
//
//	rt, err := rmm.NewRuntime("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	mr := rmm.NewCUDAResource(rt, nil)
type Runtime struct {
	libraryHandle uintptr
	apiFuncs      api.APIFuncs

	// selected holds the device chosen by SetDevice plus one; zero means
	// the thread's current device is used.
	selected atomic.Int32
}

// NewRuntime loads libcudart from libraryPath. If libraryPath is empty, the
// standard library names are searched through the system loader.
func NewRuntime(libraryPath string) (*Runtime, error) {
	candidates := defaultLibraryNames
	if libraryPath != "" {
		candidates = []string{libraryPath}
	}

	var errs []error
	for _, name := range candidates {
		handle, err := openLibrary(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		funcs, err := cudart.InitializeFuncs(handle)
		if err != nil {
			closeLibrary(handle)
			return nil, fmt.Errorf("failed to initialize CUDA runtime functions: %w", err)
		}

		return &Runtime{
			libraryHandle: handle,
			apiFuncs:      funcs,
		}, nil
	}

	return nil, fmt.Errorf("failed to load CUDA runtime library: %w", errors.Join(errs...))
}

// newRuntimeWithFuncs wraps already resolved API functions.
func newRuntimeWithFuncs(funcs api.APIFuncs) *Runtime {
	return &Runtime{apiFuncs: funcs}
}

// Close unloads the library. Memory allocated through the runtime must be
// released before Close, and Close must not be called concurrently with any
// other method. It is safe to call Close multiple times.
func (r *Runtime) Close() error {
	if r.apiFuncs == nil {
		return nil
	}
	r.apiFuncs = nil
	if r.libraryHandle != 0 {
		handle := r.libraryHandle
		r.libraryHandle = 0
		return closeLibrary(handle)
	}
	return nil
}

// cudaError converts a cudaError_t into a Go error.
func (r *Runtime) cudaError(code api.CudaError) error {
	if code == ErrorCodeSuccess {
		return nil
	}
	return &RuntimeError{
		Code:    code,
		Name:    goString(r.apiFuncs.GetErrorName(code)),
		Message: goString(r.apiFuncs.GetErrorString(code)),
	}
}

// onDevice runs fn on a locked OS thread with the selected device current.
// Device selection and errors recorded by the runtime are per thread, so fn
// must make all of its runtime calls before returning.
func (r *Runtime) onDevice(fn func() api.CudaError) api.CudaError {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if d := r.selected.Load(); d > 0 {
		if code := r.apiFuncs.SetDevice(d - 1); code != ErrorCodeSuccess {
			return code
		}
	}
	return fn()
}

func (r *Runtime) malloc(bytes int, managed bool) (DevicePtr, error) {
	if r.apiFuncs == nil {
		return NullPtr, ErrRuntimeClosed
	}
	if bytes < 0 {
		return NullPtr, &RuntimeError{Code: ErrorCodeInvalidValue, Message: fmt.Sprintf("negative size %d", bytes)}
	}

	var ptr api.DevicePtr
	code := r.onDevice(func() api.CudaError {
		var code api.CudaError
		if managed {
			code = r.apiFuncs.MallocManaged(&ptr, uintptr(bytes), api.MemAttachGlobal)
		} else {
			code = r.apiFuncs.Malloc(&ptr, uintptr(bytes))
		}
		if code != ErrorCodeSuccess {
			// Allocation failures are not sticky, but they are recorded as
			// the last error and would surface from the next unrelated call.
			r.apiFuncs.GetLastError()
		}
		return code
	})
	if err := r.cudaError(code); err != nil {
		return NullPtr, err
	}
	return ptr, nil
}

// Malloc calls cudaMalloc.
func (r *Runtime) Malloc(bytes int) (DevicePtr, error) {
	return r.malloc(bytes, false)
}

// MallocManaged calls cudaMallocManaged with cudaMemAttachGlobal.
func (r *Runtime) MallocManaged(bytes int) (DevicePtr, error) {
	return r.malloc(bytes, true)
}

// Free calls cudaFree.
func (r *Runtime) Free(ptr DevicePtr) error {
	if r.apiFuncs == nil {
		return ErrRuntimeClosed
	}
	return r.cudaError(r.onDevice(func() api.CudaError {
		return r.apiFuncs.Free(ptr)
	}))
}

// MemGetInfo calls cudaMemGetInfo for the selected device.
func (r *Runtime) MemGetInfo() (free, total int, err error) {
	if r.apiFuncs == nil {
		return 0, 0, ErrRuntimeClosed
	}
	var f, t uintptr
	if err := r.cudaError(r.onDevice(func() api.CudaError {
		return r.apiFuncs.MemGetInfo(&f, &t)
	})); err != nil {
		return 0, 0, err
	}
	return int(f), int(t), nil
}

// DeviceCount returns the number of CUDA-capable devices.
func (r *Runtime) DeviceCount() (int, error) {
	if r.apiFuncs == nil {
		return 0, ErrRuntimeClosed
	}
	var n int32
	if err := r.cudaError(r.apiFuncs.GetDeviceCount(&n)); err != nil {
		return 0, fmt.Errorf("failed to get device count: %w", err)
	}
	return int(n), nil
}

// Device returns the device used by calls through the Runtime.
func (r *Runtime) Device() (int, error) {
	if r.apiFuncs == nil {
		return 0, ErrRuntimeClosed
	}
	var d int32
	if err := r.cudaError(r.onDevice(func() api.CudaError {
		return r.apiFuncs.GetDevice(&d)
	})); err != nil {
		return 0, fmt.Errorf("failed to get current device: %w", err)
	}
	return int(d), nil
}

// SetDevice selects the device used by every subsequent call through the
// Runtime. An invalid device leaves the previous selection in place.
func (r *Runtime) SetDevice(device int) error {
	if r.apiFuncs == nil {
		return ErrRuntimeClosed
	}
	runtime.LockOSThread()
	code := r.apiFuncs.SetDevice(int32(device))
	runtime.UnlockOSThread()
	if err := r.cudaError(code); err != nil {
		return fmt.Errorf("failed to set device %d: %w", device, err)
	}
	r.selected.Store(int32(device) + 1)
	return nil
}

// Synchronize blocks until all work on the selected device has completed.
func (r *Runtime) Synchronize() error {
	if r.apiFuncs == nil {
		return ErrRuntimeClosed
	}
	if err := r.cudaError(r.onDevice(r.apiFuncs.DeviceSynchronize)); err != nil {
		return fmt.Errorf("failed to synchronize device: %w", err)
	}
	return nil
}

// SynchronizeStream blocks until all work submitted to stream has completed.
func (r *Runtime) SynchronizeStream(stream Stream) error {
	if r.apiFuncs == nil {
		return ErrRuntimeClosed
	}
	if err := r.cudaError(r.onDevice(func() api.CudaError {
		return r.apiFuncs.StreamSynchronize(stream)
	})); err != nil {
		return fmt.Errorf("failed to synchronize stream %#x: %w", uintptr(stream), err)
	}
	return nil
}

// RuntimeVersion returns the CUDA runtime version as 1000*major + 10*minor.
func (r *Runtime) RuntimeVersion() (int, error) {
	if r.apiFuncs == nil {
		return 0, ErrRuntimeClosed
	}
	var v int32
	if err := r.cudaError(r.apiFuncs.RuntimeGetVersion(&v)); err != nil {
		return 0, fmt.Errorf("failed to get runtime version: %w", err)
	}
	return int(v), nil
}

// DriverVersion returns the latest CUDA version supported by the driver.
func (r *Runtime) DriverVersion() (int, error) {
	if r.apiFuncs == nil {
		return 0, ErrRuntimeClosed
	}
	var v int32
	if err := r.cudaError(r.apiFuncs.DriverGetVersion(&v)); err != nil {
		return 0, fmt.Errorf("failed to get driver version: %w", err)
	}
	return int(v), nil
}

// FormatVersion renders a CUDA version number such as 12040 as "12.4".
func FormatVersion(v int) string {
	return fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)
}

// goString copies a NUL-terminated C string owned by the runtime.
func goString(p *byte) string {
	if p == nil {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Add(unsafe.Pointer(p), n)) != 0 {
		n++
	}
	return string(unsafe.Slice(p, n))
}
