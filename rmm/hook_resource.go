package rmm

import (
	"log/slog"
	"time"
)

// HookResource wraps a resource and runs hooks around every Allocate and
// Deallocate. Hooks run synchronously on the calling goroutine; a panicking
// hook is logged and skipped.
type HookResource struct {
	upstream MemoryResource
	hooks    []Hook
	logger   *slog.Logger
}

var _ MemoryResource = (*HookResource)(nil)

// NewHookResource wraps upstream with hooks.
func NewHookResource(upstream MemoryResource, hooks ...Hook) *HookResource {
	return &HookResource{
		upstream: upstream,
		hooks:    hooks,
		logger:   slog.Default(),
	}
}

// Upstream returns the wrapped resource.
func (r *HookResource) Upstream() MemoryResource { return r.upstream }

func (r *HookResource) SupportsStreams() bool { return r.upstream.SupportsStreams() }

func (r *HookResource) SupportsGetMemInfo() bool { return r.upstream.SupportsGetMemInfo() }

func (r *HookResource) GetMemInfo(stream Stream) (MemInfo, error) {
	return r.upstream.GetMemInfo(stream)
}

func (r *HookResource) Allocate(bytes int, stream Stream) (DevicePtr, error) {
	event := &Event{
		Action: ActionAllocate,
		Bytes:  bytes,
		Stream: stream,
		Time:   time.Now(),
	}
	r.before(event)

	ptr, err := r.upstream.Allocate(bytes, stream)

	event.Duration = time.Since(event.Time)
	event.Ptr = ptr
	event.Err = err
	r.after(event)

	return ptr, err
}

func (r *HookResource) Deallocate(ptr DevicePtr, bytes int, stream Stream) {
	event := &Event{
		Action: ActionDeallocate,
		Bytes:  bytes,
		Ptr:    ptr,
		Stream: stream,
		Time:   time.Now(),
	}
	r.before(event)

	r.upstream.Deallocate(ptr, bytes, stream)

	event.Duration = time.Since(event.Time)
	r.after(event)
}

// IsEqual reports equivalence with another HookResource over an equal
// upstream, or with anything the upstream itself is equal to.
func (r *HookResource) IsEqual(other MemoryResource) bool {
	if o, ok := other.(*HookResource); ok {
		return Equal(r.upstream, o.upstream)
	}
	return r.upstream.IsEqual(other)
}

func (r *HookResource) before(event *Event) {
	for _, h := range r.hooks {
		r.safely(func() { h.BeforeEvent(event) })
	}
}

func (r *HookResource) after(event *Event) {
	for _, h := range r.hooks {
		r.safely(func() { h.AfterEvent(event) })
	}
}

func (r *HookResource) safely(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Warn("memory hook panicked", slog.Any("panic", p))
		}
	}()
	fn()
}
