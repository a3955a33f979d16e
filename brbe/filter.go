// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import (
	"fmt"

	"github.com/aclements/go-brbe/perfbranch"
)

// Branch filters BRBE can honor, either in hardware or by
// post-filtering. BranchSampleHV is only honored when the kernel is
// in hyp mode; elsewhere it is accepted and ignored.
const allowedFilters = perfbranch.BranchSampleUser |
	perfbranch.BranchSampleKernel |
	perfbranch.BranchSampleHV |
	perfbranch.BranchSampleAny |
	perfbranch.BranchSampleAnyCall |
	perfbranch.BranchSampleAnyReturn |
	perfbranch.BranchSampleIndCall |
	perfbranch.BranchSampleCond |
	perfbranch.BranchSampleIndJump |
	perfbranch.BranchSampleCall |
	perfbranch.BranchSampleNoFlags |
	perfbranch.BranchSampleNoCycles |
	perfbranch.BranchSampleTypeSave |
	perfbranch.BranchSampleHWIndex |
	perfbranch.BranchSamplePrivSave

// Branch filters BRBE rejects.
const excludedFilters = perfbranch.BranchSampleAbortTX |
	perfbranch.BranchSampleInTX |
	perfbranch.BranchSampleNoTX |
	perfbranch.BranchSampleCallStack |
	perfbranch.BranchSampleCounters

// Every perf branch filter must be either allowed or excluded. This
// fails to compile if perfbranch grows a filter that is in neither
// set.
var _ [0]struct{} = [uint64(perfbranch.BranchSampleMax-1) ^ uint64(allowedFilters|excludedFilters)]struct{}{}

// AttrValid reports whether an event with branch sample type t can be
// served by BRBE.
func (pmu *ArmPMU) AttrValid(t perfbranch.BranchSampleType) bool {
	if t&^allowedFilters != 0 {
		if pmu.once(diagFilterUnsupported) {
			pmu.logger().Debug().Str("filter", t.String()).Msg("requested branch filter not supported")
		}
		return false
	}

	// The framework may have added HV itself from the event's
	// exclude bits, so this cannot be rejected.
	if t&perfbranch.BranchSampleHV != 0 && !pmu.KernelInHypMode {
		if pmu.once(diagHVNoHyp) {
			pmu.logger().Debug().Str("filter", t.String()).Msg("hypervisor privilege filter not supported")
		}
	}
	return true
}

// BranchTypeToBRBFCR returns the BRBFCR_EL1 configuration selecting
// the branch classes requested by t.
func BranchTypeToBRBFCR(t perfbranch.BranchSampleType) uint32 {
	var brbfcr uint64

	if t&perfbranch.BranchSampleAny != 0 {
		return BRBFCRBranchFilters
	}
	if t&perfbranch.BranchSampleAnyCall != 0 {
		brbfcr |= BRBFCRIndCall | BRBFCRDirCall
	}
	if t&perfbranch.BranchSampleAnyReturn != 0 {
		brbfcr |= BRBFCRRtn
	}
	if t&perfbranch.BranchSampleIndCall != 0 {
		brbfcr |= BRBFCRIndCall
	}
	if t&perfbranch.BranchSampleCond != 0 {
		brbfcr |= BRBFCRCondDir
	}
	if t&perfbranch.BranchSampleIndJump != 0 {
		brbfcr |= BRBFCRIndirect
	}
	if t&perfbranch.BranchSampleCall != 0 {
		brbfcr |= BRBFCRDirCall
	}
	return uint32(brbfcr & brbfcrConfigMask)
}

// BranchTypeToBRBCR returns the BRBCR_ELx configuration for t:
// privilege enables, cycle and mispredict reporting, exception
// capture, freeze on PMU interrupt and the timestamp source.
// hyp reports whether the kernel runs in hyp mode.
func BranchTypeToBRBCR(t perfbranch.BranchSampleType, hyp bool) uint32 {
	brbcr := uint64(brbcrDefaultTS)

	// Pause on PMU interrupt even for user-only traces: the
	// interrupt may be taken long after the overflow, by which
	// time the buffer would have been overwritten.
	brbcr |= BRBCRFZP

	if t&perfbranch.BranchSampleUser != 0 {
		brbcr |= BRBCRE0BRE
	}
	// In hyp mode BRBCR_EL1 accesses are redirected to BRBCR_EL2,
	// whose E2BRE is at ExBRE's position.
	if t&perfbranch.BranchSampleKernel != 0 {
		brbcr |= BRBCRExBRE
	}
	if t&perfbranch.BranchSampleHV != 0 && hyp {
		brbcr |= BRBCRExBRE
	}
	if t&perfbranch.BranchSampleNoCycles == 0 {
		brbcr |= BRBCRCC
	}
	if t&perfbranch.BranchSampleNoFlags == 0 {
		brbcr |= BRBCRMPred
	}

	// Exceptions and exception returns are captured regardless of
	// privilege. Addresses at levels the event may not see are
	// reported as zero, giving source-only or target-only records.
	if t&perfbranch.BranchSampleAny != 0 {
		brbcr |= BRBCRException | BRBCRERTN
	}
	if t&perfbranch.BranchSampleAnyCall != 0 {
		brbcr |= BRBCRException
	}
	if t&perfbranch.BranchSampleAnyReturn != 0 {
		brbcr |= BRBCRERTN
	}
	return uint32(brbcr & brbcrConfigMask)
}

// TranslateFilters returns both BRBE control words for t on this PMU.
func (pmu *ArmPMU) TranslateFilters(t perfbranch.BranchSampleType) (brbfcr, brbcr uint32) {
	return BranchTypeToBRBFCR(t), BranchTypeToBRBCR(t, pmu.KernelInHypMode)
}

// A TypeMask is a set of perf branch types. Bits [0, 16) are the
// portable BranchTypes; bits [16, 24) are the BranchNewTypes.
type TypeMask uint32

const newTypeShift = uint(perfbranch.NumBranchTypes)

func typeBit(t perfbranch.BranchType) TypeMask {
	return 1 << uint(t)
}

func newTypeBit(t perfbranch.BranchNewType) TypeMask {
	return 1 << (newTypeShift + uint(t))
}

const (
	// portableTypeMask is every portable type other than
	// BranchTypeExtendABI.
	portableTypeMask TypeMask = 1<<perfbranch.BranchTypeExtendABI - 1

	// extendedTypeMask is every extended type.
	extendedTypeMask TypeMask = (1<<perfbranch.NumBranchNewTypes - 1) << newTypeShift

	allTypeMask = portableTypeMask | extendedTypeMask

	// archTypeMask is the set of platform types that BRBE cannot be
	// told to suppress; they are always admitted.
	archTypeMask TypeMask = 1<<(newTypeShift+uint(perfbranch.BranchNewFaultAlgn)) |
		1<<(newTypeShift+uint(perfbranch.BranchNewFaultData)) |
		1<<(newTypeShift+uint(perfbranch.BranchNewFaultInst)) |
		1<<(newTypeShift+uint(perfbranch.BranchNewARM64FIQ)) |
		1<<(newTypeShift+uint(perfbranch.BranchNewARM64DebugHalt)) |
		1<<(newTypeShift+uint(perfbranch.BranchNewARM64DebugExit)) |
		1<<(newTypeShift+uint(perfbranch.BranchNewARM64DebugInst)) |
		1<<(newTypeShift+uint(perfbranch.BranchNewARM64DebugData))
)

// EventTypeMask returns the set of entry types an event with branch
// sample type t accepts.
func EventTypeMask(t perfbranch.BranchSampleType) TypeMask {
	m := archTypeMask

	if t&perfbranch.BranchSampleAny != 0 {
		return m | allTypeMask
	}

	if t&perfbranch.BranchSampleIndJump != 0 {
		m |= typeBit(perfbranch.BranchTypeInd)
	}
	cond := t&perfbranch.BranchSampleCond != 0
	if cond {
		m |= typeBit(perfbranch.BranchTypeCond)
	} else {
		m |= typeBit(perfbranch.BranchTypeUncond)
	}
	if t&perfbranch.BranchSampleCall != 0 {
		m |= typeBit(perfbranch.BranchTypeCall)
	}
	if t&perfbranch.BranchSampleIndCall != 0 {
		m |= typeBit(perfbranch.BranchTypeIndCall)
	}
	if t&perfbranch.BranchSampleAnyCall != 0 {
		m |= typeBit(perfbranch.BranchTypeCall) |
			typeBit(perfbranch.BranchTypeIrq) |
			typeBit(perfbranch.BranchTypeSyscall) |
			typeBit(perfbranch.BranchTypeSerror)
		if cond {
			m |= typeBit(perfbranch.BranchTypeCondCall)
		}
	}
	if t&perfbranch.BranchSampleAnyReturn != 0 {
		m |= typeBit(perfbranch.BranchTypeRet) |
			typeBit(perfbranch.BranchTypeEret) |
			typeBit(perfbranch.BranchTypeSysret)
		if cond {
			m |= typeBit(perfbranch.BranchTypeCondRet)
		}
	}
	return m
}

// EntryTypeMask returns the single-bit mask of e's type, or 0 if e's
// type is outside the mask's range.
func EntryTypeMask(e *perfbranch.BranchEntry) TypeMask {
	switch {
	case e.Type < perfbranch.BranchTypeExtendABI:
		return typeBit(e.Type)
	case e.Type == perfbranch.BranchTypeExtendABI && e.NewType < perfbranch.NumBranchNewTypes:
		return newTypeBit(e.NewType)
	}
	return 0
}

// Subset reports whether every type in m is also in o.
func (m TypeMask) Subset(o TypeMask) bool {
	return m&^o == 0
}

func (m TypeMask) String() string {
	s := ""
	for i := uint(0); i < 32; i++ {
		if m&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		if i < newTypeShift {
			s += perfbranch.BranchType(i).String()
		} else if i-newTypeShift < uint(perfbranch.NumBranchNewTypes) {
			s += perfbranch.BranchNewType(i - newTypeShift).String()
		} else {
			s += fmt.Sprintf("bit%d", i)
		}
	}
	if s == "" {
		return "0"
	}
	return s
}
