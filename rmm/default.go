package rmm

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

type resourceHolder struct {
	mr MemoryResource
}

var current atomic.Pointer[resourceHolder]

// CurrentResource returns the process default resource, or nil if none has
// been set.
func CurrentResource() MemoryResource {
	if h := current.Load(); h != nil {
		return h.mr
	}
	return nil
}

// SetCurrentResource replaces the process default resource and returns the
// previous one. Passing nil clears it. Allocations made through the previous
// resource must still be freed through an equivalent resource.
func SetCurrentResource(mr MemoryResource) MemoryResource {
	var next *resourceHolder
	if mr != nil {
		next = &resourceHolder{mr: mr}
	}
	if prev := current.Swap(next); prev != nil {
		return prev.mr
	}
	return nil
}

// lifecycle holds what Initialize created so Finalize can tear it down.
var lifecycle struct {
	mu         sync.Mutex
	runtime    io.Closer
	eventLog   *EventLog
	metrics    *PrometheusHook
	registerer prometheus.Registerer
	resource   MemoryResource
}

// deviceSelector is implemented by runtimes that can pin a device.
type deviceSelector interface {
	SetDevice(device int) error
}

// Initialize loads the CUDA runtime, builds the resource stack described by
// config and installs it as the process default resource.
//
// The stack is, from the inside out: CUDAResource (or ManagedResource when
// ManagedMemory is set), StackTraceResource when StackTraceThreshold > 0,
// and HookResource when logging or metrics are on.
func Initialize(config *Config) error {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()

	if lifecycle.resource != nil {
		return ErrAlreadyInitialized
	}

	logger := config.logger()

	rt := config.runtime()
	var closer io.Closer
	if rt == nil {
		cudaRuntime, err := NewRuntime(config.libraryPath())
		if err != nil {
			return fmt.Errorf("failed to create runtime: %w", err)
		}
		rt, closer = cudaRuntime, cudaRuntime
	}
	fail := func(err error) error {
		if closer != nil {
			closer.Close()
		}
		return err
	}

	if ds, ok := rt.(deviceSelector); ok {
		if err := ds.SetDevice(config.device()); err != nil {
			return fail(fmt.Errorf("failed to select device %d: %w", config.device(), err))
		}
	}

	resourceConfig := &CUDAResourceConfig{Logger: logger}
	var mr MemoryResource
	if config.managedMemory() {
		managed, ok := rt.(ManagedRuntime)
		if !ok {
			return fail(fmt.Errorf("failed to create managed resource: %w", ErrManagedUnsupported))
		}
		mr = NewManagedResource(managed, resourceConfig)
	} else {
		mr = NewCUDAResource(rt, resourceConfig)
	}

	if threshold := config.stackTraceThreshold(); threshold > 0 {
		mr = NewStackTraceResource(mr, &StackTraceConfig{
			Threshold: threshold,
			Logger:    logger,
		})
	}

	var hooks []Hook
	var eventLog *EventLog
	if config.logging() {
		eventLog = NewEventLog(config.eventLogCapacity())
		hooks = append(hooks, eventLog, NewSlogHook(logger))
	}
	var metrics *PrometheusHook
	reg := config.registerer()
	if reg != nil {
		metrics = NewPrometheusHook(reg, config.metricsNamespace())
		hooks = append(hooks, metrics)
	}
	if len(hooks) > 0 {
		mr = NewHookResource(mr, hooks...)
	}

	lifecycle.runtime = closer
	lifecycle.eventLog = eventLog
	lifecycle.metrics = metrics
	lifecycle.registerer = reg
	lifecycle.resource = mr
	SetCurrentResource(mr)
	return nil
}

// Finalize uninstalls the resource created by Initialize, unregisters its
// metrics and unloads the runtime. Using memory allocated before Finalize
// afterwards is undefined. Finalize without Initialize is a no-op.
func Finalize() error {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()

	if lifecycle.resource == nil {
		return nil
	}

	// Only clear the default if it is still ours.
	if h := current.Load(); h != nil && sameResource(h.mr, lifecycle.resource) {
		current.CompareAndSwap(h, nil)
	}

	if lifecycle.metrics != nil {
		lifecycle.metrics.Unregister(lifecycle.registerer)
	}

	var err error
	if lifecycle.runtime != nil {
		err = lifecycle.runtime.Close()
	}
	lifecycle.runtime = nil
	lifecycle.eventLog = nil
	lifecycle.metrics = nil
	lifecycle.registerer = nil
	lifecycle.resource = nil
	return err
}

// Reinitialize calls Finalize followed by Initialize.
func Reinitialize(config *Config) error {
	if err := Finalize(); err != nil {
		return fmt.Errorf("failed to finalize: %w", err)
	}
	return Initialize(config)
}

// IsInitialized reports whether Initialize has been called without a
// matching Finalize.
func IsInitialized() bool {
	lifecycle.mu.Lock()
	defer lifecycle.mu.Unlock()
	return lifecycle.resource != nil
}

// GetInfo returns free and total memory as reported by the current resource.
func GetInfo(stream Stream) (MemInfo, error) {
	mr := CurrentResource()
	if mr == nil {
		return MemInfo{}, ErrNotInitialized
	}
	if !mr.SupportsGetMemInfo() {
		return MemInfo{}, ErrMemInfoUnsupported
	}
	return mr.GetMemInfo(stream)
}

// CSVLog returns the events recorded since Initialize as CSV.
func CSVLog() (string, error) {
	lifecycle.mu.Lock()
	log, initialized := lifecycle.eventLog, lifecycle.resource != nil
	lifecycle.mu.Unlock()

	if !initialized {
		return "", ErrNotInitialized
	}
	if log == nil {
		return "", ErrLoggingDisabled
	}
	return log.CSV(), nil
}
