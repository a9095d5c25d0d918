package rmm

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// bufferState is what the cleanup needs to free a buffer. It must not refer
// back to the DeviceBuffer.
type bufferState struct {
	mr     MemoryResource
	ptr    DevicePtr
	size   int
	stream Stream
	freed  *atomic.Bool
}

func (s bufferState) release() {
	if s.freed.CompareAndSwap(false, true) {
		s.mr.Deallocate(s.ptr, s.size, s.stream)
	}
}

// DeviceBuffer owns one allocation of device memory. Close releases it; a
// buffer that becomes unreachable without Close is released by the garbage
// collector.
type DeviceBuffer struct {
	state   bufferState
	cleanup runtime.Cleanup
}

// NewDeviceBuffer allocates size bytes from mr on stream.
// If mr is nil, the current process resource is used.
func NewDeviceBuffer(mr MemoryResource, size int, stream Stream) (*DeviceBuffer, error) {
	if mr == nil {
		mr = CurrentResource()
		if mr == nil {
			return nil, ErrNotInitialized
		}
	}

	ptr, err := mr.Allocate(size, stream)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate device buffer: %w", err)
	}

	b := &DeviceBuffer{
		state: bufferState{
			mr:     mr,
			ptr:    ptr,
			size:   size,
			stream: stream,
			freed:  new(atomic.Bool),
		},
	}
	b.cleanup = runtime.AddCleanup(b, func(s bufferState) { s.release() }, b.state)
	return b, nil
}

// Ptr returns the device address of the buffer.
func (b *DeviceBuffer) Ptr() DevicePtr { return b.state.ptr }

// Size returns the size of the buffer in bytes.
func (b *DeviceBuffer) Size() int { return b.state.size }

// Stream returns the stream the buffer was allocated on.
func (b *DeviceBuffer) Stream() Stream { return b.state.stream }

// Resource returns the resource that owns the allocation.
func (b *DeviceBuffer) Resource() MemoryResource { return b.state.mr }

// Closed reports whether the buffer has been released.
func (b *DeviceBuffer) Closed() bool { return b.state.freed.Load() }

// Close releases the buffer. It is safe to call Close multiple times.
func (b *DeviceBuffer) Close() {
	b.cleanup.Stop()
	b.state.release()
}
