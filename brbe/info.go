// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import "fmt"

// Info is a raw BRBINF<n>_EL1 value.
type Info uint64

// Valid is the validity class of a branch record.
type Valid uint8

const (
	ValidNone   Valid = 0 // invalid record; ends a bank walk
	ValidTarget Valid = 1 // only the target is valid
	ValidSource Valid = 2 // only the source is valid
	ValidFull   Valid = 3 // both source and target are valid
)

// HasSource reports whether v includes a source component.
func (v Valid) HasSource() bool {
	return v == ValidSource || v == ValidFull
}

// HasTarget reports whether v includes a target component.
func (v Valid) HasTarget() bool {
	return v == ValidTarget || v == ValidFull
}

func (v Valid) String() string {
	switch v {
	case ValidNone:
		return "none"
	case ValidTarget:
		return "target"
	case ValidSource:
		return "source"
	case ValidFull:
		return "full"
	}
	return fmt.Sprintf("Valid(%d)", uint8(v))
}

// HWType is the BRBINF.TYPE field.
type HWType uint8

const (
	TypeDirectUncond HWType = 0
	TypeIndirect     HWType = 1
	TypeDirectLink   HWType = 2
	TypeIndirectLink HWType = 3
	TypeRet          HWType = 5
	TypeEret         HWType = 7
	TypeDirectCond   HWType = 8
	TypeDebugHalt    HWType = 33
	TypeCall         HWType = 34
	TypeTrap         HWType = 35
	TypeSError       HWType = 36
	TypeInsnDebug    HWType = 38
	TypeDataDebug    HWType = 39
	TypeAlignFault   HWType = 42
	TypeInsnFault    HWType = 43
	TypeDataFault    HWType = 44
	TypeIRQ          HWType = 46
	TypeFIQ          HWType = 47
	TypeDebugExit    HWType = 57
)

var hwTypeNames = map[HWType]string{
	TypeDirectUncond: "DIRECT_UNCOND",
	TypeIndirect:     "INDIRECT",
	TypeDirectLink:   "DIRECT_LINK",
	TypeIndirectLink: "INDIRECT_LINK",
	TypeRet:          "RET",
	TypeEret:         "ERET",
	TypeDirectCond:   "DIRECT_COND",
	TypeDebugHalt:    "DEBUG_HALT",
	TypeCall:         "CALL",
	TypeTrap:         "TRAP",
	TypeSError:       "SERROR",
	TypeInsnDebug:    "INSN_DEBUG",
	TypeDataDebug:    "DATA_DEBUG",
	TypeAlignFault:   "ALIGN_FAULT",
	TypeInsnFault:    "INSN_FAULT",
	TypeDataFault:    "DATA_FAULT",
	TypeIRQ:          "IRQ",
	TypeFIQ:          "FIQ",
	TypeDebugExit:    "DEBUG_EXIT",
}

func (t HWType) String() string {
	if s, ok := hwTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("HWType(%d)", uint8(t))
}

// EL is an exception level recorded in BRBINF.EL.
type EL uint8

const (
	EL0 EL = iota
	EL1
	EL2
	EL3
)

func (e EL) String() string {
	return fmt.Sprintf("EL%d", uint8(e))
}

func (i Info) Valid() Valid {
	return Valid(FieldGet(BRBINFValidMask, uint64(i)))
}

func (i Info) Type() HWType {
	return HWType(FieldGet(BRBINFTypeMask, uint64(i)))
}

func (i Info) EL() EL {
	return EL(FieldGet(BRBINFELMask, uint64(i)))
}

func (i Info) Mispredicted() bool {
	return i&BRBINFMPred != 0
}

// InTx reports whether the branch was executed in a transaction.
func (i Info) InTx() bool {
	return i&BRBINFT != 0
}

// LastFailed reports whether the branch follows a failed transaction.
func (i Info) LastFailed() bool {
	return i&BRBINFLastFailed != 0
}

// CyclesUnknown reports whether the cycle count field is not valid.
func (i Info) CyclesUnknown() bool {
	return i&BRBINFCCU != 0
}

// Cycles returns the raw cycle count field, regardless of
// CyclesUnknown.
func (i Info) Cycles() uint64 {
	return FieldGet(BRBINFCCMask, uint64(i))
}

func (i Info) String() string {
	s := fmt.Sprintf("{%v %v %v", i.Valid(), i.Type(), i.EL())
	if i.CyclesUnknown() {
		s += " cc=?"
	} else {
		s += fmt.Sprintf(" cc=%d", i.Cycles())
	}
	if i.Mispredicted() {
		s += " M"
	}
	if i.InTx() {
		s += " T"
	}
	if i.LastFailed() {
		s += " LF"
	}
	return s + "}"
}

// InfoFields are the decoded fields of an Info word, for building
// records.
type InfoFields struct {
	Valid         Valid
	Type          HWType
	EL            EL
	Mispredicted  bool
	InTx          bool
	LastFailed    bool
	Cycles        uint64
	CyclesUnknown bool
}

// EncodeInfo packs f into an Info word. Cycles wider than the field
// are truncated.
func EncodeInfo(f InfoFields) Info {
	v := FieldPrep(BRBINFValidMask, uint64(f.Valid)) |
		FieldPrep(BRBINFTypeMask, uint64(f.Type)) |
		FieldPrep(BRBINFELMask, uint64(f.EL)) |
		FieldPrep(BRBINFCCMask, f.Cycles)
	if f.Mispredicted {
		v |= BRBINFMPred
	}
	if f.InTx {
		v |= BRBINFT
	}
	if f.LastFailed {
		v |= BRBINFLastFailed
	}
	if f.CyclesUnknown {
		v |= BRBINFCCU
	}
	return Info(v)
}

// Fields unpacks i.
func (i Info) Fields() InfoFields {
	return InfoFields{
		Valid:         i.Valid(),
		Type:          i.Type(),
		EL:            i.EL(),
		Mispredicted:  i.Mispredicted(),
		InTx:          i.InTx(),
		LastFailed:    i.LastFailed(),
		Cycles:        i.Cycles(),
		CyclesUnknown: i.CyclesUnknown(),
	}
}
