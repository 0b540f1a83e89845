//go:build linux

// File: affinity/affinity_linux.go
// License: Apache-2.0
//
// Linux implementation of thread CPU affinity via sched_setaffinity,
// pure Go through golang.org/x/sys.

package affinity

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// setAffinityPlatform binds the calling thread to the given CPU.
func setAffinityPlatform(cpuID int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	// Pid 0 means the calling thread.
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return errors.Wrapf(err, "affinity: sched_setaffinity cpu %d", cpuID)
	}
	return nil
}

// currentCPUPlatform queries the CPU the calling thread runs on.
func currentCPUPlatform() int {
	var cpu, node int
	// x/sys/unix has no Getcpu wrapper; issue getcpu(2) directly.
	_, _, errno := unix.Syscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	_ = node
	if errno != 0 || cpu < 0 {
		return 0
	}
	return cpu
}
