package rmm

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/dustin/go-humanize"
)

// FatalFunc is called when the backing runtime fails in a way that leaves
// the allocator state unusable. The default handler logs and terminates the
// process; a FatalFunc that returns lets the failing call return normally.
type FatalFunc func(msg string, err error)

// exit is replaced in tests.
var exit = os.Exit

// CUDAResourceConfig configures a CUDAResource.
type CUDAResourceConfig struct {
	// Logger receives debug records for every allocation and the fatal
	// diagnostic. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Fatal overrides the runtime-fatal handler.
	Fatal FatalFunc
}

func (c *CUDAResourceConfig) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *CUDAResourceConfig) fatal(logger *slog.Logger) FatalFunc {
	if c != nil && c.Fatal != nil {
		return c.Fatal
	}
	return func(msg string, err error) {
		logger.Error(msg,
			slog.String("error", err.Error()),
			slog.String("stack", string(debug.Stack())),
		)
		exit(2)
	}
}

// CUDAResource allocates device memory with cudaMalloc and frees it with
// cudaFree. It ignores streams and holds no mutable state; concurrent use is
// as safe as the underlying runtime.
type CUDAResource struct {
	runtime DeviceRuntime
	logger  *slog.Logger
	fatal   FatalFunc
}

var _ MemoryResource = (*CUDAResource)(nil)

// NewCUDAResource creates a resource that forwards to rt.
func NewCUDAResource(rt DeviceRuntime, config *CUDAResourceConfig) *CUDAResource {
	logger := config.logger()
	return &CUDAResource{
		runtime: rt,
		logger:  logger,
		fatal:   config.fatal(logger),
	}
}

// SupportsStreams returns false: stream arguments are ignored.
func (r *CUDAResource) SupportsStreams() bool { return false }

// SupportsGetMemInfo returns true.
func (r *CUDAResource) SupportsGetMemInfo() bool { return true }

// Allocate forwards to cudaMalloc. Zero-byte requests succeed with NullPtr
// without reaching the runtime.
func (r *CUDAResource) Allocate(bytes int, _ Stream) (DevicePtr, error) {
	if bytes == 0 {
		return NullPtr, nil
	}
	if bytes < 0 {
		return NullPtr, &AllocationError{Bytes: bytes, Err: fmt.Errorf("negative allocation size")}
	}

	ptr, err := r.runtime.Malloc(bytes)
	if err != nil {
		return NullPtr, &AllocationError{Bytes: bytes, Err: err}
	}
	if ptr == NullPtr {
		return NullPtr, &AllocationError{Bytes: bytes, Err: fmt.Errorf("runtime returned a null pointer")}
	}

	r.logger.Debug("device allocation",
		slog.String("size", humanize.IBytes(uint64(bytes))),
		slog.String("ptr", fmt.Sprintf("%#x", uintptr(ptr))),
	)
	return ptr, nil
}

// Deallocate forwards to cudaFree. A runtime failure is fatal.
func (r *CUDAResource) Deallocate(ptr DevicePtr, bytes int, _ Stream) {
	if ptr == NullPtr {
		return
	}
	if err := r.runtime.Free(ptr); err != nil {
		r.fatal(fmt.Sprintf("cudaFree(%#x) of %d bytes failed", uintptr(ptr), bytes), err)
	}
}

// GetMemInfo forwards to cudaMemGetInfo. The stream is unused.
func (r *CUDAResource) GetMemInfo(_ Stream) (MemInfo, error) {
	free, total, err := r.runtime.MemGetInfo()
	if err != nil {
		return MemInfo{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	return MemInfo{Free: free, Total: total}, nil
}

// IsEqual returns true for any other *CUDAResource: both forward to the same
// process-wide runtime allocator and can free each other's memory.
func (r *CUDAResource) IsEqual(other MemoryResource) bool {
	_, ok := other.(*CUDAResource)
	return ok
}
