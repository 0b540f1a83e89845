// File: affinity/affinity.go
// License: Apache-2.0
//
// Platform-neutral API for thread pinning. Platform-specific
// implementations live in separate files (affinity_linux.go,
// affinity_stub.go) guarded by build tags.

package affinity

import "runtime"

// Pin locks the calling goroutine to its OS thread and binds that thread
// to the given logical CPU. On unsupported platforms the thread is still
// locked but no OS-level binding happens and an error is returned.
func Pin(cpuID int) error {
	runtime.LockOSThread()
	return setAffinityPlatform(cpuID)
}

// CurrentCPU returns the logical CPU the calling thread last ran on, or
// 0 when the platform cannot tell.
func CurrentCPU() int {
	return currentCPUPlatform()
}
