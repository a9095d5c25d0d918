package rmm

import (
	"time"
)

// Action identifies the kind of memory event.
type Action int

const (
	// ActionAllocate is an Allocate call.
	ActionAllocate Action = iota
	// ActionDeallocate is a Deallocate call.
	ActionDeallocate
)

func (a Action) String() string {
	switch a {
	case ActionAllocate:
		return "allocate"
	case ActionDeallocate:
		return "free"
	default:
		return "unknown"
	}
}

// Hook provides callbacks around allocations for observability.
// Implement this interface to add metrics, logging, or tracing.
// Hooks observe events; they cannot change the result of the call.
//
// Example:
//
//	type largeAllocHook struct{}
//
//	func (largeAllocHook) BeforeEvent(*rmm.Event) {}
//	func (largeAllocHook) AfterEvent(e *rmm.Event) {
//	    if e.Action == rmm.ActionAllocate && e.Bytes > 1<<30 {
//	        log.Printf("large allocation: %d bytes at %#x", e.Bytes, e.Ptr)
//	    }
//	}
type Hook interface {
	// BeforeEvent is called before the call is forwarded.
	BeforeEvent(event *Event)

	// AfterEvent is called after the call returns.
	// Ptr (for allocations), Duration and Err are populated.
	AfterEvent(event *Event)
}

// Event describes one allocation or deallocation.
// Fields are progressively populated: Action, Bytes, Stream and Time are set
// before the call; Ptr, Duration and Err after it.
type Event struct {
	Action   Action
	Bytes    int
	Ptr      DevicePtr
	Stream   Stream
	Time     time.Time
	Duration time.Duration
	Err      error
}

type hookFunc struct {
	fn func(*Event)
}

func (h *hookFunc) BeforeEvent(_ *Event)    {}
func (h *hookFunc) AfterEvent(event *Event) { h.fn(event) }

// AfterEventHook creates a Hook that calls fn after every event.
func AfterEventHook(fn func(*Event)) Hook {
	return &hookFunc{fn: fn}
}
