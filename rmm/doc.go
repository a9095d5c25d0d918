// Package rmm provides a pluggable device memory allocator abstraction for
// CUDA accelerators.
//
// Every allocator backend satisfies MemoryResource, so pooling, arena,
// logging and direct runtime allocators can be swapped and stacked freely.
// CUDAResource is the simplest backend: a passthrough to cudaMalloc and
// cudaFree, loaded at run time from libcudart via purego so no cgo is
// required. Decorators such as StackTraceResource, HookResource and
// TrackingResource wrap any resource and observe allocations without
// changing their outcome.
package rmm
