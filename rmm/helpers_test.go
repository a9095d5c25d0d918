package rmm

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/benedoc-inc/gormm/rmm/internal/api"
)

// fakeRuntime is an in-process DeviceRuntime that hands out aligned,
// never-reused addresses and records every call.
type fakeRuntime struct {
	mu sync.Mutex

	next  DevicePtr
	live  map[DevicePtr]int
	free  int
	total int

	mallocCalls  []int
	managedCalls []int
	freeCalls    []int // sizes of the blocks passed to Free

	mallocErr  error
	freeErr    error
	memInfoErr error
}

func newFakeRuntime(total int) *fakeRuntime {
	return &fakeRuntime{
		next:  0x7f0000000000,
		live:  make(map[DevicePtr]int),
		free:  total,
		total: total,
	}
}

func (f *fakeRuntime) Malloc(bytes int) (DevicePtr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.mallocCalls = append(f.mallocCalls, bytes)
	if f.mallocErr != nil {
		return NullPtr, f.mallocErr
	}
	if bytes > f.free {
		return NullPtr, &RuntimeError{
			Code:    ErrorCodeMemoryAllocation,
			Name:    "cudaErrorMemoryAllocation",
			Message: "out of memory",
		}
	}

	ptr := f.next
	f.next += DevicePtr(AlignUp(max(bytes, 1), AllocationAlignment))
	f.live[ptr] = bytes
	f.free -= bytes
	return ptr, nil
}

func (f *fakeRuntime) MallocManaged(bytes int) (DevicePtr, error) {
	f.mu.Lock()
	f.managedCalls = append(f.managedCalls, bytes)
	f.mu.Unlock()
	return f.Malloc(bytes)
}

func (f *fakeRuntime) Free(ptr DevicePtr) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	bytes, ok := f.live[ptr]
	f.freeCalls = append(f.freeCalls, bytes)
	if f.freeErr != nil {
		return f.freeErr
	}
	if !ok {
		return &RuntimeError{Code: ErrorCodeInvalidDevicePointer, Message: "invalid device pointer"}
	}
	delete(f.live, ptr)
	f.free += bytes
	return nil
}

func (f *fakeRuntime) MemGetInfo() (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.memInfoErr != nil {
		return 0, 0, f.memInfoErr
	}
	return f.free, f.total, nil
}

func (f *fakeRuntime) liveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}

// otherResource is a MemoryResource of a different concrete type.
type otherResource struct{}

func (otherResource) Allocate(int, Stream) (DevicePtr, error) {
	return NullPtr, errors.New("not implemented")
}
func (otherResource) Deallocate(DevicePtr, int, Stream)  {}
func (otherResource) SupportsStreams() bool              { return true }
func (otherResource) SupportsGetMemInfo() bool           { return false }
func (otherResource) GetMemInfo(Stream) (MemInfo, error) { return MemInfo{}, nil }
func (otherResource) IsEqual(other MemoryResource) bool  { _, ok := other.(otherResource); return ok }

// fatalRecorder collects runtime-fatal reports instead of exiting.
type fatalRecorder struct {
	mu    sync.Mutex
	calls []error
}

func (f *fatalRecorder) handle(_ string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, err)
}

func (f *fatalRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestResource(t *testing.T, rt *fakeRuntime) (*CUDAResource, *fatalRecorder) {
	t.Helper()
	rec := &fatalRecorder{}
	mr := NewCUDAResource(rt, &CUDAResourceConfig{
		Logger: discardLogger(),
		Fatal:  rec.handle,
	})
	t.Cleanup(func() {
		if n := rec.count(); n != 0 {
			t.Errorf("Expected no fatal errors, got %d", n)
		}
	})
	return mr, rec
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// fakeFuncs implements api.APIFuncs over a fakeRuntime.
type fakeFuncs struct {
	rt *fakeRuntime

	mu             sync.Mutex
	calls          []string
	lastErrorCalls int
	device         int32
	deviceCount    int32
	managedFlags   uint32
	syncCode       api.CudaError
	names          map[api.CudaError][]byte
}

func (f *fakeFuncs) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

// takeCalls returns the recorded calls and clears the record.
func (f *fakeFuncs) takeCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := f.calls
	f.calls = nil
	return calls
}

func newFakeFuncs(rt *fakeRuntime) *fakeFuncs {
	return &fakeFuncs{
		rt:          rt,
		deviceCount: 2,
		names: map[api.CudaError][]byte{
			ErrorCodeMemoryAllocation: []byte("cudaErrorMemoryAllocation\x00"),
			ErrorCodeInvalidDevice:    []byte("cudaErrorInvalidDevice\x00"),
		},
	}
}

func (f *fakeFuncs) code(err error) api.CudaError {
	if err == nil {
		return ErrorCodeSuccess
	}
	var rerr *RuntimeError
	if errors.As(err, &rerr) {
		return rerr.Code
	}
	return ErrorCodeUnknown
}

func (f *fakeFuncs) GetErrorName(code api.CudaError) *byte {
	if name, ok := f.names[code]; ok {
		return &name[0]
	}
	return nil
}

func (f *fakeFuncs) GetErrorString(code api.CudaError) *byte {
	if code == ErrorCodeMemoryAllocation {
		msg := []byte("out of memory\x00")
		return &msg[0]
	}
	return nil
}

func (f *fakeFuncs) GetLastError() api.CudaError {
	f.lastErrorCalls++
	return ErrorCodeSuccess
}

func (f *fakeFuncs) Malloc(ptr *api.DevicePtr, size uintptr) api.CudaError {
	f.record("Malloc")
	p, err := f.rt.Malloc(int(size))
	*ptr = p
	return f.code(err)
}

func (f *fakeFuncs) MallocManaged(ptr *api.DevicePtr, size uintptr, flags uint32) api.CudaError {
	f.record("MallocManaged")
	f.managedFlags = flags
	p, err := f.rt.MallocManaged(int(size))
	*ptr = p
	return f.code(err)
}

func (f *fakeFuncs) Free(ptr api.DevicePtr) api.CudaError {
	f.record("Free")
	return f.code(f.rt.Free(ptr))
}

func (f *fakeFuncs) MemGetInfo(free, total *uintptr) api.CudaError {
	f.record("MemGetInfo")
	fr, tot, err := f.rt.MemGetInfo()
	*free, *total = uintptr(fr), uintptr(tot)
	return f.code(err)
}

func (f *fakeFuncs) GetDeviceCount(count *int32) api.CudaError {
	*count = f.deviceCount
	return ErrorCodeSuccess
}

func (f *fakeFuncs) GetDevice(device *int32) api.CudaError {
	*device = f.device
	return ErrorCodeSuccess
}

func (f *fakeFuncs) SetDevice(device int32) api.CudaError {
	f.record(fmt.Sprintf("SetDevice(%d)", device))
	if device < 0 || device >= f.deviceCount {
		return ErrorCodeInvalidDevice
	}
	f.device = device
	return ErrorCodeSuccess
}

func (f *fakeFuncs) DeviceSynchronize() api.CudaError { return f.syncCode }

func (f *fakeFuncs) StreamSynchronize(api.CudaStream) api.CudaError { return f.syncCode }

func (f *fakeFuncs) RuntimeGetVersion(version *int32) api.CudaError {
	*version = 12040
	return ErrorCodeSuccess
}

func (f *fakeFuncs) DriverGetVersion(version *int32) api.CudaError {
	*version = 12080
	return ErrorCodeSuccess
}
