package rmm

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/benedoc-inc/gormm/rmm/stacktrace"
)

// DefaultStackTraceThreshold is the largest allocation, in bytes, traced by
// default.
const DefaultStackTraceThreshold = 512

// StackTraceConfig configures a StackTraceResource.
type StackTraceConfig struct {
	// Threshold traces allocations of at most this many bytes.
	// Deallocations are traced regardless of size.
	// Zero means DefaultStackTraceThreshold. Ignored when Predicate is set.
	Threshold int

	// Predicate decides per allocation whether to print a trace.
	Predicate func(bytes int) bool

	// Writer receives the traces. If nil, os.Stderr is used.
	Writer io.Writer

	// Logger receives one debug record per allocation and deallocation.
	// If nil, slog.Default() is used.
	Logger *slog.Logger

	// SkipDeallocations disables tracing on Deallocate.
	SkipDeallocations bool

	// Trace configures stack capture.
	Trace *stacktrace.Options
}

func (c *StackTraceConfig) predicate() func(int) bool {
	if c != nil && c.Predicate != nil {
		return c.Predicate
	}
	threshold := DefaultStackTraceThreshold
	if c != nil && c.Threshold > 0 {
		threshold = c.Threshold
	}
	return func(bytes int) bool { return bytes <= threshold }
}

func (c *StackTraceConfig) writer() io.Writer {
	if c != nil && c.Writer != nil {
		return c.Writer
	}
	return os.Stderr
}

func (c *StackTraceConfig) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// StackTraceResource wraps a resource and prints the call stack of selected
// allocations and deallocations. It never changes the outcome of the
// forwarded call; failures while capturing or writing a trace are dropped.
//
// Example:
//
//	mr := rmm.NewStackTraceResource(rmm.NewCUDAResource(rt, nil), &rmm.StackTraceConfig{
//	    Threshold: 512,
//	})
type StackTraceResource struct {
	upstream          MemoryResource
	predicate         func(int) bool
	skipDeallocations bool
	trace             *stacktrace.Options
	logger            *slog.Logger

	mu  sync.Mutex // serializes writes to out
	out io.Writer
}

var _ MemoryResource = (*StackTraceResource)(nil)

// NewStackTraceResource wraps upstream.
func NewStackTraceResource(upstream MemoryResource, config *StackTraceConfig) *StackTraceResource {
	var trace *stacktrace.Options
	if config != nil {
		trace = config.Trace
	}
	return &StackTraceResource{
		upstream:          upstream,
		predicate:         config.predicate(),
		skipDeallocations: config != nil && config.SkipDeallocations,
		trace:             trace,
		logger:            config.logger(),
		out:               config.writer(),
	}
}

// Upstream returns the wrapped resource.
func (r *StackTraceResource) Upstream() MemoryResource { return r.upstream }

func (r *StackTraceResource) SupportsStreams() bool { return r.upstream.SupportsStreams() }

func (r *StackTraceResource) SupportsGetMemInfo() bool { return r.upstream.SupportsGetMemInfo() }

func (r *StackTraceResource) GetMemInfo(stream Stream) (MemInfo, error) {
	return r.upstream.GetMemInfo(stream)
}

// Allocate forwards to the upstream resource and traces the request when
// the predicate matches, whether or not it succeeded.
func (r *StackTraceResource) Allocate(bytes int, stream Stream) (DevicePtr, error) {
	ptr, err := r.upstream.Allocate(bytes, stream)

	if err != nil {
		r.logger.Debug("do_allocate failed", slog.Int("bytes", bytes), slog.String("error", err.Error()))
	} else {
		r.logger.Debug(fmt.Sprintf("do_allocate:%d @ %#x", bytes, uintptr(ptr)))
	}
	if r.matches(bytes) {
		r.print(fmt.Sprintf("do_allocate:%d @ %#x", bytes, uintptr(ptr)))
	}
	return ptr, err
}

// Deallocate traces every request unless SkipDeallocations is set, then
// forwards it. The size predicate applies to allocations only.
func (r *StackTraceResource) Deallocate(ptr DevicePtr, bytes int, stream Stream) {
	r.logger.Debug(fmt.Sprintf("do_deallocate:%d @ %#x", bytes, uintptr(ptr)))
	if !r.skipDeallocations {
		r.print(fmt.Sprintf("do_deallocate:%d @ %#x", bytes, uintptr(ptr)))
	}
	r.upstream.Deallocate(ptr, bytes, stream)
}

// IsEqual reports equivalence with another StackTraceResource over an equal
// upstream, or with anything the upstream itself is equal to.
func (r *StackTraceResource) IsEqual(other MemoryResource) bool {
	if o, ok := other.(*StackTraceResource); ok {
		return Equal(r.upstream, o.upstream)
	}
	return r.upstream.IsEqual(other)
}

func (r *StackTraceResource) matches(bytes int) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	return r.predicate(bytes)
}

func (r *StackTraceResource) print(event string) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Debug("stack trace capture failed", slog.Any("panic", p))
		}
	}()

	var buf bytes.Buffer
	buf.WriteString(event)
	buf.WriteByte('\n')
	buf.WriteString(stacktrace.String(r.trace))

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.out.Write(buf.Bytes()); err != nil {
		r.logger.Debug("stack trace write failed", slog.String("error", err.Error()))
	}
}
