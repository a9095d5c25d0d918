package rmm

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultEventLogCapacity bounds the number of events an EventLog retains.
const DefaultEventLogCapacity = 10000

var csvHeader = []string{"Time", "Action", "Pointer", "Size", "Stream", "Duration", "Error"}

// EventLog is a Hook that records memory events in memory so they can be
// exported as CSV. When full, the oldest events are dropped.
type EventLog struct {
	mu       sync.Mutex
	events   []Event
	next     int
	full     bool
	dropped  int
	capacity int
}

// NewEventLog creates an EventLog retaining up to capacity events.
// A capacity <= 0 means DefaultEventLogCapacity.
func NewEventLog(capacity int) *EventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &EventLog{
		events:   make([]Event, capacity),
		capacity: capacity,
	}
}

func (l *EventLog) BeforeEvent(_ *Event) {}

func (l *EventLog) AfterEvent(event *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.full {
		l.dropped++
	}
	l.events[l.next] = *event
	l.next++
	if l.next == l.capacity {
		l.next = 0
		l.full = true
	}
}

// Events returns the retained events, oldest first.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.full {
		return append([]Event(nil), l.events[:l.next]...)
	}
	out := make([]Event, 0, l.capacity)
	out = append(out, l.events[l.next:]...)
	return append(out, l.events[:l.next]...)
}

// Dropped returns how many events were evicted because the log was full.
func (l *EventLog) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Reset discards all retained events.
func (l *EventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next, l.full, l.dropped = 0, false, 0
	clear(l.events)
}

// WriteCSV writes the retained events as CSV with a header row.
func (l *EventLog) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range l.Events() {
		errText := ""
		if e.Err != nil {
			errText = e.Err.Error()
		}
		record := []string{
			e.Time.UTC().Format(time.RFC3339Nano),
			e.Action.String(),
			fmt.Sprintf("%#x", uintptr(e.Ptr)),
			strconv.Itoa(e.Bytes),
			fmt.Sprintf("%#x", uintptr(e.Stream)),
			strconv.FormatInt(e.Duration.Nanoseconds(), 10),
			errText,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV returns the output of WriteCSV as a string.
func (l *EventLog) CSV() string {
	var sb strings.Builder
	// strings.Builder never returns a write error.
	_ = l.WriteCSV(&sb)
	return sb.String()
}
