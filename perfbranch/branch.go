// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfbranch

import (
	"fmt"
	"strings"
)

// BranchSampleType is a bit-field of the types of branches to record
// in the branch stack.
//
// This can include privilege levels to record, which can be different
// from the privilege levels of the event being sampled. If none of
// the privilege level bits are set, it defaults to the privilege
// levels of the event.
//
// This corresponds to the perf_branch_sample_type enum from
// include/uapi/linux/perf_event.h
type BranchSampleType uint64

const (
	BranchSampleUser   BranchSampleType = 1 << iota // User branches
	BranchSampleKernel                              // Kernel branches
	BranchSampleHV                                  // Hypervisor branches

	BranchSampleAny       // Any branch types
	BranchSampleAnyCall   // Any call branch
	BranchSampleAnyReturn // Any return branch
	BranchSampleIndCall   // Indirect calls
	BranchSampleAbortTX   // Transaction aborts
	BranchSampleInTX      // In transaction
	BranchSampleNoTX      // Not in transaction
	BranchSampleCond      // Conditional branches

	BranchSampleCallStack // Call/ret stack
	BranchSampleIndJump   // Indirect jumps
	BranchSampleCall      // Direct call

	BranchSampleNoFlags  // Don't set BranchEntry flags
	BranchSampleNoCycles // Don't set BranchEntry.Cycles
	BranchSampleTypeSave // Do set BranchEntry.Type
	BranchSampleHWIndex  // Do set BranchStack.HWIdx
	BranchSamplePrivSave // Do set BranchEntry.Priv
	BranchSampleCounters // Save occurrences of events

	// BranchSampleMax is one past the highest defined filter bit.
	BranchSampleMax
)

// BranchSamplePrivAll is the set of privilege level filter bits.
const BranchSamplePrivAll = BranchSampleUser | BranchSampleKernel | BranchSampleHV

// WithPriv returns t with the privilege levels of plm added if t
// sets none of its own. plm is normally the set of privilege levels
// the sampled event is not excluded from.
func (t BranchSampleType) WithPriv(plm BranchSampleType) BranchSampleType {
	if t&BranchSamplePrivAll != 0 {
		return t
	}
	return t | plm&BranchSamplePrivAll
}

var branchSampleNames = []string{
	"User", "Kernel", "HV", "Any", "AnyCall", "AnyReturn", "IndCall",
	"AbortTX", "InTX", "NoTX", "Cond", "CallStack", "IndJump", "Call",
	"NoFlags", "NoCycles", "TypeSave", "HWIndex", "PrivSave", "Counters",
}

func (t BranchSampleType) String() string {
	if t == 0 {
		return "0"
	}
	var parts []string
	for i, name := range branchSampleNames {
		if t&(1<<uint(i)) != 0 {
			parts = append(parts, name)
			t &^= 1 << uint(i)
		}
	}
	if t != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint64(t)))
	}
	return strings.Join(parts, "|")
}

// A BranchType is the portable class of a captured branch.
//
// This corresponds to PERF_BR_* from include/uapi/linux/perf_event.h.
type BranchType uint8

const (
	BranchTypeUnknown   BranchType = iota // unknown
	BranchTypeCond                        // conditional
	BranchTypeUncond                      // unconditional
	BranchTypeInd                         // indirect
	BranchTypeCall                        // function call
	BranchTypeIndCall                     // indirect function call
	BranchTypeRet                         // function return
	BranchTypeSyscall                     // syscall
	BranchTypeSysret                      // syscall return
	BranchTypeCondCall                    // conditional function call
	BranchTypeCondRet                     // conditional function return
	BranchTypeEret                        // exception return
	BranchTypeIrq                         // interrupt
	BranchTypeSerror                      // system error
	BranchTypeNoTx                        // not in transaction
	BranchTypeExtendABI                   // see BranchEntry.NewType

	// NumBranchTypes is the number of portable branch types.
	NumBranchTypes
)

var branchTypeNames = [...]string{
	"Unknown", "Cond", "Uncond", "Ind", "Call", "IndCall", "Ret",
	"Syscall", "Sysret", "CondCall", "CondRet", "Eret", "Irq", "Serror",
	"NoTx", "ExtendABI",
}

func (t BranchType) String() string {
	if int(t) < len(branchTypeNames) {
		return branchTypeNames[t]
	}
	return fmt.Sprintf("BranchType(%d)", t)
}

// A BranchNewType is an extended branch class, meaningful when
// BranchEntry.Type is BranchTypeExtendABI.
//
// This corresponds to PERF_BR_NEW_* from
// include/uapi/linux/perf_event.h. The architecture specific slots
// are named by their arm64 meaning.
type BranchNewType uint8

const (
	BranchNewFaultAlgn BranchNewType = iota // alignment fault
	BranchNewFaultData                      // data fault
	BranchNewFaultInst                      // instruction fault
	BranchNewArch1
	BranchNewArch2
	BranchNewArch3
	BranchNewArch4
	BranchNewArch5

	// NumBranchNewTypes is the number of extended branch types.
	NumBranchNewTypes
)

// arm64 names for the architecture specific extended types.
const (
	BranchNewARM64FIQ       = BranchNewArch1 // fast interrupt
	BranchNewARM64DebugHalt = BranchNewArch2 // debug halt
	BranchNewARM64DebugExit = BranchNewArch3 // debug exit
	BranchNewARM64DebugInst = BranchNewArch4 // debug instruction
	BranchNewARM64DebugData = BranchNewArch5 // debug data
)

var branchNewTypeNames = [...]string{
	"FaultAlgn", "FaultData", "FaultInst", "FIQ", "DebugHalt",
	"DebugExit", "DebugInst", "DebugData",
}

func (t BranchNewType) String() string {
	if int(t) < len(branchNewTypeNames) {
		return branchNewTypeNames[t]
	}
	return fmt.Sprintf("BranchNewType(%d)", t)
}

// A BranchPriv is the privilege level of a branch target.
//
// This corresponds to PERF_BR_PRIV_* from
// include/uapi/linux/perf_event.h.
type BranchPriv uint8

const (
	BranchPrivUnknown BranchPriv = iota
	BranchPrivUser
	BranchPrivKernel
	BranchPrivHV
)

func (p BranchPriv) String() string {
	switch p {
	case BranchPrivUnknown:
		return "Unknown"
	case BranchPrivUser:
		return "User"
	case BranchPrivKernel:
		return "Kernel"
	case BranchPrivHV:
		return "HV"
	}
	return fmt.Sprintf("BranchPriv(%d)", p)
}

// A BranchEntry records a single branch in a branch stack.
//
// From or To is 0 when the hardware did not capture that side of
// the branch.
type BranchEntry struct {
	From, To uint64

	Mispred   bool // branch target was mispredicted
	Predicted bool // branch target was predicted
	InTx      bool // branch occurred in a transaction
	Abort     bool // branch is a transaction abort

	Cycles uint16 // cycle count to last branch (or 0)

	Type    BranchType
	Spec    uint8 // speculation outcome; not reported by every PMU
	NewType BranchNewType
	Priv    BranchPriv
}

// Bit layout of the perf_branch_entry flags word.
const (
	flagMispred   = 1 << 0
	flagPredicted = 1 << 1
	flagInTx      = 1 << 2
	flagAbort     = 1 << 3

	flagCyclesShift  = 4
	flagCyclesMask   = 0xffff
	flagTypeShift    = 20
	flagTypeMask     = 0xf
	flagSpecShift    = 24
	flagSpecMask     = 0x3
	flagNewTypeShift = 26
	flagNewTypeMask  = 0xf
	flagPrivShift    = 30
	flagPrivMask     = 0x7
)

// Flags returns the bit-fields of e packed into the third word of an
// on-the-wire perf_branch_entry.
func (e *BranchEntry) Flags() uint64 {
	var f uint64
	if e.Mispred {
		f |= flagMispred
	}
	if e.Predicted {
		f |= flagPredicted
	}
	if e.InTx {
		f |= flagInTx
	}
	if e.Abort {
		f |= flagAbort
	}
	f |= uint64(e.Cycles) << flagCyclesShift
	f |= uint64(e.Type&flagTypeMask) << flagTypeShift
	f |= uint64(e.Spec&flagSpecMask) << flagSpecShift
	f |= uint64(e.NewType&flagNewTypeMask) << flagNewTypeShift
	f |= uint64(e.Priv&flagPrivMask) << flagPrivShift
	return f
}

// DecodeBranchEntry unpacks an on-the-wire perf_branch_entry.
func DecodeBranchEntry(from, to, flags uint64) BranchEntry {
	return BranchEntry{
		From:      from,
		To:        to,
		Mispred:   flags&flagMispred != 0,
		Predicted: flags&flagPredicted != 0,
		InTx:      flags&flagInTx != 0,
		Abort:     flags&flagAbort != 0,
		Cycles:    uint16(flags >> flagCyclesShift & flagCyclesMask),
		Type:      BranchType(flags >> flagTypeShift & flagTypeMask),
		Spec:      uint8(flags >> flagSpecShift & flagSpecMask),
		NewType:   BranchNewType(flags >> flagNewTypeShift & flagNewTypeMask),
		Priv:      BranchPriv(flags >> flagPrivShift & flagPrivMask),
	}
}

// TypeString returns the most specific name for e's branch type.
func (e *BranchEntry) TypeString() string {
	if e.Type == BranchTypeExtendABI {
		return e.NewType.String()
	}
	return e.Type.String()
}

func (e BranchEntry) String() string {
	s := fmt.Sprintf("{From:%#x To:%#x Type:%s Priv:%v Cycles:%d", e.From, e.To, e.TypeString(), e.Priv, e.Cycles)
	if e.Mispred {
		s += " M"
	}
	if e.Predicted {
		s += " P"
	}
	if e.InTx {
		s += " X"
	}
	if e.Abort {
		s += " A"
	}
	return s + "}"
}

// MaxBranchRecords is the largest branch stack any supported PMU can
// deliver.
const MaxBranchRecords = 64

// NoHWIndex is the BranchStack.HWIdx value of PMUs that cannot report
// the raw hardware index of the newest entry.
const NoHWIndex = ^uint64(0)

// A BranchStack is the set of branch entries delivered with a sample,
// newest first.
//
// This corresponds to struct perf_branch_stack followed by its
// entries.
type BranchStack struct {
	Nr      int
	HWIdx   uint64
	Entries [MaxBranchRecords]BranchEntry
}

// Records returns the valid entries of s.
func (s *BranchStack) Records() []BranchEntry {
	return s.Entries[:s.Nr]
}

// Reset empties s.
func (s *BranchStack) Reset() {
	*s = BranchStack{}
}
