package cl

import "sync/atomic"

var (
	contextsAlive      atomic.Int64
	kernelsAlive       atomic.Int64
	memoryObjectsAlive atomic.Int64
)

// ContextsAlive returns the number of contexts created and not yet terminated. Useful for testing for leaks.
func ContextsAlive() int64 {
	return contextsAlive.Load()
}

// KernelsAlive returns the number of kernels created and not yet destroyed, by Kernel.Destroy or Context.Terminate.
func KernelsAlive() int64 {
	return kernelsAlive.Load()
}

// MemoryObjectsAlive returns the number of buffers and images created and not yet destroyed.
func MemoryObjectsAlive() int64 {
	return memoryObjectsAlive.Load()
}
