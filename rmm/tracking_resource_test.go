package rmm

import (
	"bytes"
	"strings"
	"testing"
)

func TestTrackingResourceOutstanding(t *testing.T) {
	rt := newFakeRuntime(1 << 20)
	cuda, _ := newTestResource(t, rt)
	mr := NewTrackingResource(cuda, &TrackingConfig{Logger: discardLogger()})

	p1, err := mr.Allocate(100, DefaultStream)
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	p2, err := mr.Allocate(200, Stream(0x9))
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}

	if mr.AllocatedBytes() != 300 {
		t.Errorf("Expected 300 allocated bytes, got %d", mr.AllocatedBytes())
	}
	outstanding := mr.Outstanding()
	if len(outstanding) != 2 || outstanding[0].Ptr != p1 || outstanding[1].Stream != Stream(0x9) {
		t.Errorf("Unexpected outstanding allocations: %+v", outstanding)
	}

	mr.Deallocate(p1, 100, DefaultStream)
	mr.Deallocate(p2, 200, Stream(0x9))

	if mr.AllocatedBytes() != 0 || len(mr.Outstanding()) != 0 {
		t.Error("Expected no outstanding allocations")
	}
}

func TestTrackingResourceIgnoresNullAndFailures(t *testing.T) {
	rt := newFakeRuntime(64)
	cuda, _ := newTestResource(t, rt)
	mr := NewTrackingResource(cuda, &TrackingConfig{Logger: discardLogger()})

	if _, err := mr.Allocate(0, DefaultStream); err != nil {
		t.Fatalf("Failed zero-byte allocation: %v", err)
	}
	if _, err := mr.Allocate(128, DefaultStream); err == nil {
		t.Fatal("Expected allocation failure")
	}
	if len(mr.Outstanding()) != 0 {
		t.Errorf("Expected nothing tracked, got %+v", mr.Outstanding())
	}
}

func TestTrackingResourceWarnings(t *testing.T) {
	rt := newFakeRuntime(1 << 20)
	cuda, _ := newTestResource(t, rt)
	var logs bytes.Buffer
	mr := NewTrackingResource(cuda, &TrackingConfig{Logger: bufferLogger(&logs)})

	ptr, err := mr.Allocate(512, DefaultStream)
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	mr.Deallocate(ptr, 256, DefaultStream)

	if !strings.Contains(logs.String(), "deallocation size mismatch") {
		t.Errorf("Expected size mismatch warning, got %q", logs.String())
	}
}

func TestTrackingResourceReport(t *testing.T) {
	rt := newFakeRuntime(1 << 20)
	cuda, _ := newTestResource(t, rt)
	mr := NewTrackingResource(cuda, &TrackingConfig{
		CaptureStacks: true,
		Trace:         fixedFrames("./app(capture+0x1) [0x1]", "./app(leaky+0x2) [0x2]"),
		Logger:        discardLogger(),
	})

	ptr, err := mr.Allocate(2048, DefaultStream)
	if err != nil {
		t.Fatalf("Failed to allocate: %v", err)
	}
	defer mr.Deallocate(ptr, 2048, DefaultStream)

	var report bytes.Buffer
	if err := mr.WriteReport(&report); err != nil {
		t.Fatalf("Failed to write report: %v", err)
	}

	got := report.String()
	if !strings.HasPrefix(got, "1 outstanding allocations, 2.0 KiB\n") {
		t.Errorf("Unexpected report header: %q", got)
	}
	if !strings.Contains(got, "  ./app : leaky()+0x2\n") {
		t.Errorf("Expected allocation stack in report: %q", got)
	}
}
