package rmm

import (
	"fmt"
	"log/slog"

	"github.com/dustin/go-humanize"
)

// SlogHook is a Hook that logs memory events via log/slog.
// Successful events are logged at Debug level and failed allocations at
// Error level.
//
// Example:
//
//	mr := rmm.NewHookResource(upstream, rmm.NewSlogHook(slog.Default()))
type SlogHook struct {
	logger *slog.Logger
}

// NewSlogHook creates a Hook that logs to the given slog.Logger.
// If logger is nil, slog.Default() is used.
func NewSlogHook(logger *slog.Logger) *SlogHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogHook{logger: logger}
}

func (h *SlogHook) BeforeEvent(_ *Event) {}

func (h *SlogHook) AfterEvent(event *Event) {
	attrs := []any{
		slog.String("action", event.Action.String()),
		slog.String("size", humanize.IBytes(uint64(max(event.Bytes, 0)))),
		slog.String("ptr", fmt.Sprintf("%#x", uintptr(event.Ptr))),
		slog.String("stream", fmt.Sprintf("%#x", uintptr(event.Stream))),
		slog.Duration("duration", event.Duration),
	}
	if event.Err != nil {
		h.logger.Error("device memory event failed", append(attrs, slog.String("error", event.Err.Error()))...)
		return
	}
	h.logger.Debug("device memory event", attrs...)
}
