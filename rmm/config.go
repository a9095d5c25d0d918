package rmm

import (
	"fmt"
	"log/slog"

	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
)

// EnvPrefix is the prefix of the environment variables read by ConfigFromEnv.
const EnvPrefix = "RMM"

// Config configures the process default resource built by Initialize.
type Config struct {
	// LibraryPath overrides the CUDA runtime shared library path.
	// If empty, searches standard system paths.
	LibraryPath string `envconfig:"LIBRARY_PATH"`

	// Device selects the CUDA device used by every runtime call, from any
	// goroutine. It also applies to an injected Runtime that supports device
	// selection.
	Device int `envconfig:"DEVICE" default:"0"`

	// ManagedMemory allocates with cudaMallocManaged instead of cudaMalloc.
	ManagedMemory bool `envconfig:"MANAGED_MEMORY"`

	// Logging records every memory event in an EventLog, readable with CSVLog.
	Logging bool `envconfig:"LOGGING"`

	// EventLogCapacity bounds the EventLog. Zero means DefaultEventLogCapacity.
	EventLogCapacity int `envconfig:"EVENT_LOG_CAPACITY"`

	// StackTraceThreshold prints call stacks of allocations up to this many
	// bytes. Zero disables stack tracing.
	StackTraceThreshold int `envconfig:"STACKTRACE_THRESHOLD"`

	// Logger is used by every resource. If nil, slog.Default() is used.
	Logger *slog.Logger `ignored:"true"`

	// Registerer, if set, receives allocation metrics.
	Registerer prometheus.Registerer `ignored:"true"`

	// MetricsNamespace prefixes metric names. Defaults to "rmm".
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"rmm"`

	// Runtime replaces the dynamically loaded CUDA runtime. LibraryPath is
	// ignored when it is set.
	Runtime DeviceRuntime `ignored:"true"`
}

// ConfigFromEnv reads a Config from RMM_* environment variables.
func ConfigFromEnv() (*Config, error) {
	var c Config
	if err := envconfig.Process(EnvPrefix, &c); err != nil {
		return nil, fmt.Errorf("failed to read configuration from environment: %w", err)
	}
	return &c, nil
}

func (c *Config) libraryPath() string {
	if c != nil {
		return c.LibraryPath
	}
	return ""
}

func (c *Config) device() int {
	if c != nil {
		return c.Device
	}
	return 0
}

func (c *Config) managedMemory() bool {
	return c != nil && c.ManagedMemory
}

func (c *Config) logging() bool {
	return c != nil && c.Logging
}

func (c *Config) eventLogCapacity() int {
	if c != nil {
		return c.EventLogCapacity
	}
	return 0
}

func (c *Config) stackTraceThreshold() int {
	if c != nil {
		return c.StackTraceThreshold
	}
	return 0
}

func (c *Config) logger() *slog.Logger {
	if c != nil && c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Config) registerer() prometheus.Registerer {
	if c != nil {
		return c.Registerer
	}
	return nil
}

func (c *Config) metricsNamespace() string {
	if c != nil && c.MetricsNamespace != "" {
		return c.MetricsNamespace
	}
	return "rmm"
}

func (c *Config) runtime() DeviceRuntime {
	if c != nil {
		return c.Runtime
	}
	return nil
}
