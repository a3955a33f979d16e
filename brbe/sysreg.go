// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import "math/bits"

// Field layouts of the BRBE system registers, from the Arm
// Architecture Reference Manual (and arch/arm64/tools/sysreg).

// ID_AA64DFR0_EL1.BRBE
const (
	DFR0BRBEMask = 0xf << 52

	DFR0BRBENI   = 0 // not implemented
	DFR0BRBEImp  = 1 // FEAT_BRBE
	DFR0BRBEV1P1 = 2 // FEAT_BRBEv1p1
)

// BRBIDR0_EL1
const (
	BRBIDRNumRecMask = 0xff << 0
	BRBIDRFormatMask = 0xf << 8
	BRBIDRCCMask     = 0xf << 12

	BRBIDRNumRec8  = 0x08
	BRBIDRNumRec16 = 0x10
	BRBIDRNumRec32 = 0x20
	BRBIDRNumRec64 = 0x40

	BRBIDRFormat0 = 0x0

	BRBIDRCC20Bit = 0x5
)

// BRBCR_EL1 (and BRBCR_EL2 when the kernel runs in hyp mode; the
// fields are at the same positions).
const (
	BRBCRE0BRE     = 1 << 0 // record EL0 branches
	BRBCRExBRE     = 1 << 1 // record EL1 (or EL2) branches
	BRBCRCC        = 1 << 3 // report cycle counts
	BRBCRMPred     = 1 << 4 // report mispredicts
	BRBCRTSMask    = 0x3 << 5
	BRBCRFZP       = 1 << 8  // freeze on PMU overflow
	BRBCRERTN      = 1 << 22 // record exception returns
	BRBCRException = 1 << 23 // record exceptions

	BRBCRTSVirtual       = 0x1
	BRBCRTSGuestPhysical = 0x2
	BRBCRTSPhysical      = 0x3
)

// BRBFCR_EL1
const (
	BRBFCRLastFailed = 1 << 6
	BRBFCRPaused     = 1 << 7
	BRBFCREnI        = 1 << 16 // class bits exclude rather than include
	BRBFCRDirect     = 1 << 17 // direct branches
	BRBFCRIndirect   = 1 << 18 // indirect branches
	BRBFCRRtn        = 1 << 19 // subroutine returns
	BRBFCRIndCall    = 1 << 20 // indirect calls
	BRBFCRDirCall    = 1 << 21 // direct calls
	BRBFCRCondDir    = 1 << 22 // conditional direct branches
	BRBFCRBankMask   = 0x3 << 28

	BRBFCRBankFirst  = 0x0
	BRBFCRBankSecond = 0x1
)

// BRBINF<n>_EL1
const (
	BRBINFValidMask  = 0x3 << 0
	BRBINFMPred      = 1 << 5
	BRBINFELMask     = 0x3 << 6
	BRBINFTypeMask   = 0x3f << 8
	BRBINFT          = 1 << 16 // in transaction
	BRBINFLastFailed = 1 << 17
	BRBINFCCMask     = 0x3fff << 32
	BRBINFCCU        = 1 << 46 // cycle count unknown
)

const (
	// BRBFCRBranchFilters is the set of branch class filter bits.
	BRBFCRBranchFilters = BRBFCRDirect | BRBFCRIndirect | BRBFCRRtn |
		BRBFCRIndCall | BRBFCRDirCall | BRBFCRCondDir

	// brbfcrConfigMask is the part of BRBFCR owned by the filter
	// translator.
	brbfcrConfigMask = BRBFCRBankMask | BRBFCRPaused | BRBFCREnI | BRBFCRBranchFilters

	// brbcrConfigMask is the part of BRBCR owned by the filter
	// translator.
	brbcrConfigMask = BRBCRException | BRBCRERTN | BRBCRCC | BRBCRMPred |
		BRBCRExBRE | BRBCRE0BRE | BRBCRFZP | BRBCRTSMask

	// BRBTS_EL1 is not used for branch stacks, but BRBCR.TS must
	// hold one of its legal values.
	brbcrDefaultTS = BRBCRTSVirtual << 5
)

// FieldGet extracts the field selected by mask from v.
func FieldGet(mask, v uint64) uint64 {
	return (v & mask) >> bits.TrailingZeros64(mask)
}

// FieldPrep shifts v into the field selected by mask.
func FieldPrep(mask, v uint64) uint64 {
	return (v << bits.TrailingZeros64(mask)) & mask
}

// NumRecords returns the number of branch records reported by a
// BRBIDR0_EL1 value.
func NumRecords(brbidr uint64) int {
	return int(FieldGet(BRBIDRNumRecMask, brbidr))
}
