// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"unsafe"

	"github.com/aclements/go-brbe/perfbranch"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// probeHost opens a branch-sampling cycles event with filter bst on
// each of ncpu CPUs and returns how many the kernel accepted. The
// events are closed again immediately.
func probeHost(bst perfbranch.BranchSampleType, ncpu int) (int, error) {
	var errs error
	ok := 0
	for cpu := 0; cpu < ncpu; cpu++ {
		fd, err := openBranchEvent(bst, cpu)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cpu %d: %w", cpu, err))
			continue
		}
		ok++
		errs = multierr.Append(errs, unix.Close(fd))
	}
	return ok, errs
}

func openBranchEvent(bst perfbranch.BranchSampleType, cpu int) (int, error) {
	var attr unix.PerfEventAttr
	attr.Size = uint32(unsafe.Sizeof(attr))
	attr.Type = unix.PERF_TYPE_HARDWARE
	attr.Config = unix.PERF_COUNT_HW_CPU_CYCLES
	attr.Sample = 4000
	attr.Bits |= unix.PerfBitFreq | unix.PerfBitDisabled
	attr.Sample_type = unix.PERF_SAMPLE_BRANCH_STACK
	attr.Branch_sample_type = uint64(bst)

	return unix.PerfEventOpen(&attr, -1, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
}
