package rmm

import (
	"bytes"
	"encoding/csv"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type recordingHook struct {
	mu     sync.Mutex
	before []Event
	after  []Event
}

func (h *recordingHook) BeforeEvent(e *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.before = append(h.before, *e)
}

func (h *recordingHook) AfterEvent(e *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.after = append(h.after, *e)
}

func TestHookResourceEvents(t *testing.T) {
	rt := newFakeRuntime(1 << 20)
	cuda, _ := newTestResource(t, rt)
	hook := &recordingHook{}
	mr := NewHookResource(cuda, hook)

	ptr, err := mr.Allocate(1024, Stream(0x42))
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	mr.Deallocate(ptr, 1024, Stream(0x42))

	if len(hook.before) != 2 || len(hook.after) != 2 {
		t.Fatalf("Expected 2 before and 2 after events, got %d and %d", len(hook.before), len(hook.after))
	}

	before := hook.before[0]
	if before.Action != ActionAllocate || before.Bytes != 1024 || before.Stream != Stream(0x42) || before.Ptr != NullPtr {
		t.Errorf("Unexpected before event: %+v", before)
	}
	after := hook.after[0]
	if after.Ptr != ptr || after.Err != nil || after.Time.IsZero() {
		t.Errorf("Unexpected after event: %+v", after)
	}
	if free := hook.after[1]; free.Action != ActionDeallocate || free.Ptr != ptr || free.Bytes != 1024 {
		t.Errorf("Unexpected deallocation event: %+v", free)
	}
}

func TestHookResourceFailedAllocation(t *testing.T) {
	rt := newFakeRuntime(64)
	cuda, _ := newTestResource(t, rt)

	var got *Event
	mr := NewHookResource(cuda, AfterEventHook(func(e *Event) { got = e }))

	_, err := mr.Allocate(128, DefaultStream)
	if !errors.Is(err, ErrBadAlloc) {
		t.Fatalf("Expected ErrBadAlloc, got %v", err)
	}
	if got == nil || !errors.Is(got.Err, ErrOutOfMemory) {
		t.Errorf("Expected hook to observe the out-of-memory error, got %+v", got)
	}
}

func TestHookResourcePanickingHook(t *testing.T) {
	rt := newFakeRuntime(1 << 20)
	cuda, _ := newTestResource(t, rt)
	hook := &recordingHook{}
	mr := NewHookResource(cuda, AfterEventHook(func(*Event) { panic("boom") }), hook)
	mr.logger = discardLogger()

	ptr, err := mr.Allocate(64, DefaultStream)
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	mr.Deallocate(ptr, 64, DefaultStream)

	if len(hook.after) != 2 {
		t.Errorf("Expected later hooks to still run, got %d events", len(hook.after))
	}
	if n := rt.liveCount(); n != 0 {
		t.Errorf("Expected no live allocations, got %d", n)
	}
}

func TestEventLogCSV(t *testing.T) {
	rt := newFakeRuntime(1 << 20)
	cuda, _ := newTestResource(t, rt)
	log := NewEventLog(0)
	mr := NewHookResource(cuda, log)

	ptr, err := mr.Allocate(512, DefaultStream)
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	mr.Deallocate(ptr, 512, DefaultStream)
	_, _ = mr.Allocate(1<<30, DefaultStream)

	records, err := csv.NewReader(strings.NewReader(log.CSV())).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("Expected header and 3 records, got %d", len(records))
	}
	if strings.Join(records[0], ",") != "Time,Action,Pointer,Size,Stream,Duration,Error" {
		t.Errorf("Unexpected header: %v", records[0])
	}
	if records[1][1] != "allocate" || records[1][3] != "512" {
		t.Errorf("Unexpected allocation record: %v", records[1])
	}
	if records[2][1] != "free" || records[2][2] != records[1][2] {
		t.Errorf("Unexpected free record: %v", records[2])
	}
	if records[3][6] == "" {
		t.Errorf("Expected failed allocation to carry an error: %v", records[3])
	}
}

func TestEventLogCapacity(t *testing.T) {
	log := NewEventLog(3)
	for i := range 5 {
		log.AfterEvent(&Event{Action: ActionAllocate, Bytes: i})
	}

	events := log.Events()
	if len(events) != 3 {
		t.Fatalf("Expected 3 retained events, got %d", len(events))
	}
	for i, e := range events {
		if e.Bytes != i+2 {
			t.Errorf("Event %d: expected Bytes %d, got %d", i, i+2, e.Bytes)
		}
	}
	if log.Dropped() != 2 {
		t.Errorf("Expected 2 dropped events, got %d", log.Dropped())
	}

	log.Reset()
	if len(log.Events()) != 0 || log.Dropped() != 0 {
		t.Error("Expected Reset to clear the log")
	}
}

func TestSlogHook(t *testing.T) {
	var buf bytes.Buffer
	hook := NewSlogHook(bufferLogger(&buf))

	hook.AfterEvent(&Event{Action: ActionAllocate, Bytes: 2048, Ptr: 0x7f0000000000})
	if !strings.Contains(buf.String(), "level=DEBUG") || !strings.Contains(buf.String(), "size=\"2.0 KiB\"") {
		t.Errorf("Unexpected success log: %q", buf.String())
	}

	buf.Reset()
	hook.AfterEvent(&Event{Action: ActionAllocate, Bytes: 2048, Err: ErrBadAlloc})
	if !strings.Contains(buf.String(), "level=ERROR") || !strings.Contains(buf.String(), "bad allocation") {
		t.Errorf("Unexpected failure log: %q", buf.String())
	}
}

func TestPrometheusHook(t *testing.T) {
	reg := prometheus.NewRegistry()
	hook := NewPrometheusHook(reg, "test")

	rt := newFakeRuntime(1 << 20)
	cuda, _ := newTestResource(t, rt)
	mr := NewHookResource(cuda, hook)

	p1, err := mr.Allocate(1000, DefaultStream)
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	p2, err := mr.Allocate(24, DefaultStream)
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	mr.Deallocate(p1, 1000, DefaultStream)
	_, _ = mr.Allocate(1<<30, DefaultStream)

	if got := testutil.ToFloat64(hook.allocations); got != 2 {
		t.Errorf("Expected 2 allocations, got %v", got)
	}
	if got := testutil.ToFloat64(hook.failures); got != 1 {
		t.Errorf("Expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(hook.deallocations); got != 1 {
		t.Errorf("Expected 1 deallocation, got %v", got)
	}
	if got := testutil.ToFloat64(hook.outstandingBytes); got != 24 {
		t.Errorf("Expected 24 outstanding bytes, got %v", got)
	}
	if got := testutil.ToFloat64(hook.allocatedBytes); got != 1024 {
		t.Errorf("Expected 1024 allocated bytes, got %v", got)
	}

	count, err := testutil.GatherAndCount(reg, "test_device_memory_operation_duration_seconds")
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected latency series for 2 actions, got %d", count)
	}

	mr.Deallocate(p2, 24, DefaultStream)
}
