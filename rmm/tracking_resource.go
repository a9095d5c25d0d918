package rmm

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/benedoc-inc/gormm/rmm/stacktrace"
)

// TrackingConfig configures a TrackingResource.
type TrackingConfig struct {
	// CaptureStacks records the allocating call stack with every allocation.
	CaptureStacks bool

	// Trace configures stack capture when CaptureStacks is set.
	Trace *stacktrace.Options

	// Logger receives warnings about deallocations of unknown pointers or
	// with mismatched sizes. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Allocation is an outstanding allocation recorded by a TrackingResource.
type Allocation struct {
	Ptr    DevicePtr
	Bytes  int
	Stream Stream
	Time   time.Time
	Stack  []string
}

// TrackingResource wraps a resource and records every outstanding
// allocation, for leak reports in tests and debugging sessions.
// All bookkeeping is guarded by an internal mutex; the upstream call is made
// outside it.
type TrackingResource struct {
	upstream MemoryResource
	capture  bool
	trace    *stacktrace.Options
	logger   *slog.Logger

	mu          sync.Mutex
	allocations map[DevicePtr]Allocation
	bytes       int
}

var _ MemoryResource = (*TrackingResource)(nil)

// NewTrackingResource wraps upstream.
func NewTrackingResource(upstream MemoryResource, config *TrackingConfig) *TrackingResource {
	r := &TrackingResource{
		upstream:    upstream,
		logger:      slog.Default(),
		allocations: make(map[DevicePtr]Allocation),
	}
	if config != nil {
		r.capture = config.CaptureStacks
		r.trace = config.Trace
		if config.Logger != nil {
			r.logger = config.Logger
		}
	}
	return r
}

// Upstream returns the wrapped resource.
func (r *TrackingResource) Upstream() MemoryResource { return r.upstream }

func (r *TrackingResource) SupportsStreams() bool { return r.upstream.SupportsStreams() }

func (r *TrackingResource) SupportsGetMemInfo() bool { return r.upstream.SupportsGetMemInfo() }

func (r *TrackingResource) GetMemInfo(stream Stream) (MemInfo, error) {
	return r.upstream.GetMemInfo(stream)
}

func (r *TrackingResource) Allocate(bytes int, stream Stream) (DevicePtr, error) {
	ptr, err := r.upstream.Allocate(bytes, stream)
	if err != nil || ptr == NullPtr {
		return ptr, err
	}

	a := Allocation{Ptr: ptr, Bytes: bytes, Stream: stream, Time: time.Now()}
	if r.capture {
		a.Stack = stacktrace.Capture(r.trace)
	}

	r.mu.Lock()
	r.allocations[ptr] = a
	r.bytes += bytes
	r.mu.Unlock()

	return ptr, nil
}

func (r *TrackingResource) Deallocate(ptr DevicePtr, bytes int, stream Stream) {
	if ptr != NullPtr {
		r.mu.Lock()
		a, ok := r.allocations[ptr]
		if ok {
			delete(r.allocations, ptr)
			r.bytes -= a.Bytes
		}
		r.mu.Unlock()

		switch {
		case !ok:
			r.logger.Warn("deallocating untracked pointer",
				slog.String("ptr", fmt.Sprintf("%#x", uintptr(ptr))),
				slog.Int("bytes", bytes))
		case a.Bytes != bytes:
			r.logger.Warn("deallocation size mismatch",
				slog.String("ptr", fmt.Sprintf("%#x", uintptr(ptr))),
				slog.Int("allocated", a.Bytes),
				slog.Int("deallocated", bytes))
		}
	}

	r.upstream.Deallocate(ptr, bytes, stream)
}

// IsEqual reports equivalence with another TrackingResource over an equal
// upstream, or with anything the upstream itself is equal to.
func (r *TrackingResource) IsEqual(other MemoryResource) bool {
	if o, ok := other.(*TrackingResource); ok {
		return Equal(r.upstream, o.upstream)
	}
	return r.upstream.IsEqual(other)
}

// AllocatedBytes returns the total size of outstanding allocations.
func (r *TrackingResource) AllocatedBytes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bytes
}

// Outstanding returns the outstanding allocations ordered by time.
func (r *TrackingResource) Outstanding() []Allocation {
	r.mu.Lock()
	out := make([]Allocation, 0, len(r.allocations))
	for _, a := range r.allocations {
		out = append(out, a)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Time.Equal(out[j].Time) {
			return out[i].Ptr < out[j].Ptr
		}
		return out[i].Time.Before(out[j].Time)
	})
	return out
}

// WriteReport writes a human-readable leak report of outstanding allocations.
func (r *TrackingResource) WriteReport(w io.Writer) error {
	outstanding := r.Outstanding()
	total := 0
	for _, a := range outstanding {
		total += a.Bytes
	}

	if _, err := fmt.Fprintf(w, "%d outstanding allocations, %s\n", len(outstanding), humanize.IBytes(uint64(total))); err != nil {
		return err
	}
	for _, a := range outstanding {
		if _, err := fmt.Fprintf(w, "%#x: %s on stream %#x at %s\n",
			uintptr(a.Ptr), humanize.IBytes(uint64(a.Bytes)), uintptr(a.Stream), a.Time.Format(time.RFC3339Nano)); err != nil {
			return err
		}
		for _, frame := range a.Stack {
			if _, err := fmt.Fprintf(w, "  %s\n", frame); err != nil {
				return err
			}
		}
	}
	return nil
}
