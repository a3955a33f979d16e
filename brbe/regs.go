// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import "fmt"

// A Sysreg names one of the unbanked system registers this package
// accesses.
type Sysreg int

const (
	SysIDAA64DFR0 Sysreg = iota // ID_AA64DFR0_EL1
	SysBRBIDR0                  // BRBIDR0_EL1
	SysBRBFCR                   // BRBFCR_EL1
	SysBRBCR                    // BRBCR_EL1
	SysBRBTS                    // BRBTS_EL1
)

func (r Sysreg) String() string {
	switch r {
	case SysIDAA64DFR0:
		return "ID_AA64DFR0_EL1"
	case SysBRBIDR0:
		return "BRBIDR0_EL1"
	case SysBRBFCR:
		return "BRBFCR_EL1"
	case SysBRBCR:
		return "BRBCR_EL1"
	case SysBRBTS:
		return "BRBTS_EL1"
	}
	return fmt.Sprintf("Sysreg(%d)", int(r))
}

// A RecordReg names one register of a banked record triple.
type RecordReg int

const (
	RegBRBSRC RecordReg = iota // BRBSRC<n>_EL1
	RegBRBTGT                  // BRBTGT<n>_EL1
	RegBRBINF                  // BRBINF<n>_EL1
)

// A RegisterFile is the per-CPU BRBE system-register surface.
//
// Writes to SysBRBFCR (in particular its BANK field) and
// InvalidateAll take effect only after the next ISB. Record reads
// index the currently selected bank, 0 <= idx < BankEntries.
type RegisterFile interface {
	ReadSysreg(r Sysreg) uint64
	WriteSysreg(r Sysreg, v uint64)
	ReadRecord(r RecordReg, idx int) uint64

	// ISB is an instruction synchronization barrier.
	ISB()

	// InvalidateAll executes BRB IALL.
	InvalidateAll()
}

// BRBE buffer organization.
//
// The buffer is arranged as banks of 32 records. Record n is reached
// by selecting bank n/32 in BRBFCR_EL1.BANK and reading the triple
// [BRBSRC, BRBTGT, BRBINF] at index n%32.
//
//	bank 0: records  0..31 at indices 0..31
//	bank 1: records 32..63 at indices 0..31
const (
	BankEntries = 32
	MaxBanks    = 2
	MaxEntries  = BankEntries * MaxBanks
)

// A Regset is one raw branch record triple.
type Regset struct {
	Src uint64
	Tgt uint64
	Inf Info
}

// selectBank switches the record registers to bank and waits for the
// switch to take effect.
func selectBank(rf RegisterFile, bank int) {
	if bank >= MaxBanks {
		panic(fmt.Sprintf("brbe: bank %d out of range", bank))
	}
	brbfcr := rf.ReadSysreg(SysBRBFCR)
	brbfcr &^= BRBFCRBankMask
	brbfcr |= FieldPrep(BRBFCRBankMask, uint64(bank))
	rf.WriteSysreg(SysBRBFCR, brbfcr)
	rf.ISB()
}

// readRegset reads record idx of the selected bank into r. It reports
// false, leaving Src and Tgt untouched, if the record is invalid.
//
// The caller must have selected the bank holding idx.
func readRegset(rf RegisterFile, r *Regset, idx int) bool {
	n := idx % BankEntries
	r.Inf = Info(rf.ReadRecord(RegBRBINF, n))
	if r.Inf.Valid() == ValidNone {
		return false
	}
	r.Src = rf.ReadRecord(RegBRBSRC, n)
	r.Tgt = rf.ReadRecord(RegBRBTGT, n)
	return true
}
