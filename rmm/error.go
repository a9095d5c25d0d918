package rmm

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

var (
	// ErrBadAlloc matches every allocation failure.
	ErrBadAlloc = errors.New("bad allocation")

	// ErrOutOfMemory matches allocation failures caused by the device running
	// out of memory. Every error matching ErrOutOfMemory also matches ErrBadAlloc.
	ErrOutOfMemory = errors.New("out of device memory")

	// ErrRuntimeClosed is returned when an operation is attempted on a closed runtime.
	ErrRuntimeClosed = errors.New("cuda runtime is closed")

	// ErrNotInitialized is returned when the process default resource is used
	// before Initialize.
	ErrNotInitialized = errors.New("rmm is not initialized")

	// ErrAlreadyInitialized is returned by Initialize when called twice
	// without Finalize.
	ErrAlreadyInitialized = errors.New("rmm is already initialized")

	// ErrMemInfoUnsupported is returned by GetInfo when the current resource
	// cannot report memory info.
	ErrMemInfoUnsupported = errors.New("resource does not support memory info")

	// ErrManagedUnsupported is returned by Initialize when managed memory is
	// requested from a runtime that cannot allocate it.
	ErrManagedUnsupported = errors.New("runtime does not support managed memory")

	// ErrLoggingDisabled is returned by CSVLog when event logging is off.
	ErrLoggingDisabled = errors.New("event logging is not enabled")
)

// RuntimeError represents an error returned from the CUDA runtime C API.
type RuntimeError struct {
	Code    ErrorCode
	Name    string
	Message string
}

func (e *RuntimeError) Error() string {
	name := e.Name
	if name == "" {
		name = errorCodeName(e.Code)
	}
	return fmt.Sprintf("cuda error %s (%d): %s", name, e.Code, e.Message)
}

// AllocationError reports a failed allocation. It always matches ErrBadAlloc
// with errors.Is, and ErrOutOfMemory when the device ran out of memory.
type AllocationError struct {
	Bytes int
	Err   error
}

func (e *AllocationError) Error() string {
	if e.Bytes < 0 {
		return fmt.Sprintf("failed to allocate %d bytes: %v", e.Bytes, e.Err)
	}
	return fmt.Sprintf("failed to allocate %s of device memory: %v", humanize.IBytes(uint64(e.Bytes)), e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrBadAlloc, or ErrOutOfMemory for
// out-of-memory failures.
func (e *AllocationError) Is(target error) bool {
	switch target {
	case ErrBadAlloc:
		return true
	case ErrOutOfMemory:
		var rerr *RuntimeError
		return errors.As(e.Err, &rerr) && rerr.Code == ErrorCodeMemoryAllocation
	}
	return false
}

// errorCodeName returns a human-readable name for an error code.
func errorCodeName(code ErrorCode) string {
	switch code {
	case ErrorCodeSuccess:
		return "cudaSuccess"
	case ErrorCodeInvalidValue:
		return "cudaErrorInvalidValue"
	case ErrorCodeMemoryAllocation:
		return "cudaErrorMemoryAllocation"
	case ErrorCodeInitializationError:
		return "cudaErrorInitializationError"
	case ErrorCodeCudartUnloading:
		return "cudaErrorCudartUnloading"
	case ErrorCodeInvalidDevicePointer:
		return "cudaErrorInvalidDevicePointer"
	case ErrorCodeStubLibrary:
		return "cudaErrorStubLibrary"
	case ErrorCodeInsufficientDriver:
		return "cudaErrorInsufficientDriver"
	case ErrorCodeNoDevice:
		return "cudaErrorNoDevice"
	case ErrorCodeInvalidDevice:
		return "cudaErrorInvalidDevice"
	case ErrorCodeInvalidResourceHandle:
		return "cudaErrorInvalidResourceHandle"
	case ErrorCodeIllegalAddress:
		return "cudaErrorIllegalAddress"
	case ErrorCodeLaunchFailure:
		return "cudaErrorLaunchFailure"
	case ErrorCodeNotSupported:
		return "cudaErrorNotSupported"
	case ErrorCodeUnknown:
		return "cudaErrorUnknown"
	default:
		return fmt.Sprintf("cudaError(%d)", code)
	}
}
