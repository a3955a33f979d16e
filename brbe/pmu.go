// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/phuslu/log"
)

var (
	// ErrNoMemory is returned when a task context cannot be
	// allocated.
	ErrNoMemory = errors.New("brbe: out of task context memory")

	// ErrNotSupported is returned when the PMU has no usable
	// branch stack.
	ErrNotSupported = errors.New("brbe: branch stack not supported")

	// ErrInvalidFilter is returned by event-open paths when an
	// event's branch sample type fails AttrValid.
	ErrInvalidFilter = errors.New("brbe: unsupported branch filter")
)

// An ArmPMU is the per-PMU state of the branch stack driver. It
// corresponds to the branch-stack fields of struct arm_pmu.
//
// An ArmPMU must not be copied after first use.
type ArmPMU struct {
	// HasBranchStack is set by Probe when BRBE is present and
	// its attributes are supported.
	HasBranchStack bool

	// RegBRBIDR is the cached BRBIDR0_EL1 value, set by Probe.
	RegBRBIDR uint64

	// KernelInHypMode reports whether the kernel runs at EL2
	// (VHE). It must not change after Probe.
	KernelInHypMode bool

	// TaskCtxLimit bounds the number of live task contexts. Zero
	// means unbounded.
	TaskCtxLimit int

	// Logger receives diagnostics. If nil, log.DefaultLogger is
	// used.
	Logger *log.Logger

	taskCtxCache *taskCtxCache

	// diags latches one-shot diagnostics.
	diags atomic.Uint32
}

type diag uint32

const (
	diagUnknownType diag = 1 << iota
	diagUnknownEL
	diagTxState
	diagPrivHV
	diagNoUsers
	diagFilterUnsupported
	diagHVNoHyp
	diagCtxDoubleFree
)

func (pmu *ArmPMU) logger() *log.Logger {
	if pmu.Logger != nil {
		return pmu.Logger
	}
	return &log.DefaultLogger
}

// once reports whether d has not fired before, and latches it.
func (pmu *ArmPMU) once(d diag) bool {
	for {
		old := pmu.diags.Load()
		if old&uint32(d) != 0 {
			return false
		}
		if pmu.diags.CompareAndSwap(old, old|uint32(d)) {
			return true
		}
	}
}

// NumRecords returns the number of hardware branch records, or 0 if
// the PMU has not been probed.
func (pmu *ArmPMU) NumRecords() int {
	return NumRecords(pmu.RegBRBIDR)
}

// Probe detects BRBE using rf and, if its attributes are supported,
// sets pmu.HasBranchStack.
func (pmu *ArmPMU) Probe(rf RegisterFile) {
	dfr0 := rf.ReadSysreg(SysIDAA64DFR0)
	version := FieldGet(DFR0BRBEMask, dfr0)
	if version == DFR0BRBENI {
		return
	}

	brbidr := rf.ReadSysreg(SysBRBIDR0)
	pmu.RegBRBIDR = brbidr
	if err := checkAttributes(version, brbidr); err != nil {
		pmu.logger().Debug().Err(err).Str("brbidr", fmt.Sprintf("%#x", brbidr)).Msg("brbe probe failed")
		return
	}
	pmu.HasBranchStack = true
}

func checkAttributes(version, brbidr uint64) error {
	switch version {
	case DFR0BRBEImp, DFR0BRBEV1P1:
	default:
		return fmt.Errorf("%w: version %d", ErrNotSupported, version)
	}
	if f := FieldGet(BRBIDRFormatMask, brbidr); f != BRBIDRFormat0 {
		return fmt.Errorf("%w: format %d", ErrNotSupported, f)
	}
	if cc := FieldGet(BRBIDRCCMask, brbidr); cc != BRBIDRCC20Bit {
		return fmt.Errorf("%w: cycle count width %d", ErrNotSupported, cc)
	}
	switch nr := NumRecords(brbidr); nr {
	case BRBIDRNumRec8, BRBIDRNumRec16, BRBIDRNumRec32, BRBIDRNumRec64:
	default:
		return fmt.Errorf("%w: %d records", ErrNotSupported, nr)
	}
	return nil
}
