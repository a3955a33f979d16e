// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import "github.com/aclements/go-brbe/perfbranch"

// Decode converts a raw record into a perf branch entry as seen by an
// event with branch sample type t. It returns false if r is invalid.
//
// Absent addresses are 0. Mispredict and transaction flags are only
// reported for records with a source component, and privilege only
// for records with a target component.
func (pmu *ArmPMU) Decode(r Regset, t perfbranch.BranchSampleType) (perfbranch.BranchEntry, bool) {
	var e perfbranch.BranchEntry
	if r.Inf.Valid() == ValidNone {
		return e, false
	}
	pmu.decodeEntry(&e, &r, t)
	return e, true
}

func (pmu *ArmPMU) decodeEntry(e *perfbranch.BranchEntry, r *Regset, t perfbranch.BranchSampleType) {
	*e = perfbranch.BranchEntry{}
	inf := r.Inf
	v := inf.Valid()
	if v.HasSource() {
		e.From = r.Src
	}
	if v.HasTarget() {
		e.To = r.Tgt
	}

	pmu.setEntryType(e, inf.Type())

	if t&perfbranch.BranchSampleNoCycles == 0 && !inf.CyclesUnknown() {
		e.Cycles = uint16(inf.Cycles())
	}

	if t&perfbranch.BranchSampleNoFlags == 0 && v.HasSource() {
		e.Mispred = inf.Mispredicted()
		e.Predicted = !e.Mispred
		e.InTx = inf.InTx()
		e.Abort = inf.LastFailed()

		// Transactional memory is not implemented by any BRBE
		// hardware.
		if (e.Abort || e.InTx) && pmu.once(diagTxState) {
			pmu.logger().Warn().Bool("abort", e.Abort).Bool("in_tx", e.InTx).Msg("unknown transaction state")
		}
	}

	if v.HasTarget() {
		e.Priv = pmu.priv(inf.EL())
	}
}

func (pmu *ArmPMU) setEntryType(e *perfbranch.BranchEntry, t HWType) {
	ext := func(nt perfbranch.BranchNewType) {
		e.Type = perfbranch.BranchTypeExtendABI
		e.NewType = nt
	}
	switch t {
	case TypeDirectUncond:
		e.Type = perfbranch.BranchTypeUncond
	case TypeIndirect:
		e.Type = perfbranch.BranchTypeInd
	case TypeDirectLink:
		e.Type = perfbranch.BranchTypeCall
	case TypeIndirectLink:
		e.Type = perfbranch.BranchTypeIndCall
	case TypeRet:
		e.Type = perfbranch.BranchTypeRet
	case TypeDirectCond:
		e.Type = perfbranch.BranchTypeCond
	case TypeCall:
		e.Type = perfbranch.BranchTypeCall
	case TypeTrap:
		e.Type = perfbranch.BranchTypeSyscall
	case TypeEret:
		e.Type = perfbranch.BranchTypeEret
	case TypeIRQ:
		e.Type = perfbranch.BranchTypeIrq
	case TypeSError:
		e.Type = perfbranch.BranchTypeSerror
	case TypeDebugHalt:
		ext(perfbranch.BranchNewARM64DebugHalt)
	case TypeInsnDebug:
		ext(perfbranch.BranchNewARM64DebugInst)
	case TypeDataDebug:
		ext(perfbranch.BranchNewARM64DebugData)
	case TypeAlignFault:
		ext(perfbranch.BranchNewFaultAlgn)
	case TypeInsnFault:
		ext(perfbranch.BranchNewFaultInst)
	case TypeDataFault:
		ext(perfbranch.BranchNewFaultData)
	case TypeFIQ:
		ext(perfbranch.BranchNewARM64FIQ)
	case TypeDebugExit:
		ext(perfbranch.BranchNewARM64DebugExit)
	default:
		if pmu.once(diagUnknownType) {
			pmu.logger().Warn().Int("type", int(t)).Msg("unknown branch type captured")
		}
		e.Type = perfbranch.BranchTypeUnknown
	}
}

func (pmu *ArmPMU) priv(el EL) perfbranch.BranchPriv {
	switch el {
	case EL0:
		return perfbranch.BranchPrivUser
	case EL1:
		return perfbranch.BranchPrivKernel
	case EL2:
		if pmu.KernelInHypMode {
			return perfbranch.BranchPrivKernel
		}
		return perfbranch.BranchPrivHV
	}
	if pmu.once(diagUnknownEL) {
		pmu.logger().Warn().Int("el", int(el)).Msg("unknown branch privilege captured")
	}
	return perfbranch.BranchPrivUnknown
}
