//go:build !linux

// File: affinity/affinity_stub.go
// License: Apache-2.0
//
// Fallback for platforms without sched_setaffinity support.

package affinity

import "github.com/pkg/errors"

var errUnsupported = errors.New("affinity: not supported on this platform")

func setAffinityPlatform(cpuID int) error {
	return errUnsupported
}

func currentCPUPlatform() int { return 0 }
