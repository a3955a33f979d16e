// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package brbesim simulates a single CPU's Branch Record Buffer
// Extension.
//
// A BRBE implements brbe.RegisterFile, so the driver core can run
// unmodified against it. Branches are fed in with Branch and are
// recorded according to the current BRBFCR_EL1 and BRBCR_EL1
// configuration.
package brbesim // import "github.com/aclements/go-brbe/brbesim"

import (
	"fmt"

	"github.com/aclements/go-brbe/brbe"
)

// BRBE is a simulated branch record buffer. The zero value is not
// usable; use New or NewWithID.
type BRBE struct {
	dfr0   uint64
	brbidr uint64
	brbfcr uint64
	brbcr  uint64
	brbts  uint64

	// HypMode selects whether BRBCR.ExBRE enables EL2 (true) or
	// EL1 (false) recording.
	HypMode bool

	// records holds the buffer, newest first.
	records [brbe.MaxEntries]brbe.Regset

	bank         int // bank latched at the last ISB
	pendingInval bool
}

// New returns a BRBE implementing nr records with a supported
// version, format and cycle counter width.
func New(nr int) *BRBE {
	brbidr := brbe.FieldPrep(brbe.BRBIDRCCMask, brbe.BRBIDRCC20Bit) |
		brbe.FieldPrep(brbe.BRBIDRFormatMask, brbe.BRBIDRFormat0) |
		brbe.FieldPrep(brbe.BRBIDRNumRecMask, uint64(nr))
	return NewWithID(brbe.FieldPrep(brbe.DFR0BRBEMask, brbe.DFR0BRBEImp), brbidr)
}

// NewWithID returns a BRBE with the given ID_AA64DFR0_EL1 and
// BRBIDR0_EL1 values. The record count is capped at brbe.MaxEntries.
func NewWithID(dfr0, brbidr uint64) *BRBE {
	return &BRBE{dfr0: dfr0, brbidr: brbidr}
}

// NumRecords returns the number of implemented records.
func (s *BRBE) NumRecords() int {
	return min(brbe.NumRecords(s.brbidr), brbe.MaxEntries)
}

func (s *BRBE) ReadSysreg(r brbe.Sysreg) uint64 {
	switch r {
	case brbe.SysIDAA64DFR0:
		return s.dfr0
	case brbe.SysBRBIDR0:
		return s.brbidr
	case brbe.SysBRBFCR:
		return s.brbfcr
	case brbe.SysBRBCR:
		return s.brbcr
	case brbe.SysBRBTS:
		return s.brbts
	}
	panic(fmt.Sprintf("brbesim: read of unknown register %v", r))
}

func (s *BRBE) WriteSysreg(r brbe.Sysreg, v uint64) {
	switch r {
	case brbe.SysIDAA64DFR0, brbe.SysBRBIDR0:
		// Read-only; writes are ignored.
	case brbe.SysBRBFCR:
		s.brbfcr = v
	case brbe.SysBRBCR:
		s.brbcr = v
	case brbe.SysBRBTS:
		s.brbts = v
	default:
		panic(fmt.Sprintf("brbesim: write of unknown register %v", r))
	}
}

func (s *BRBE) ReadRecord(r brbe.RecordReg, idx int) uint64 {
	if idx < 0 || idx >= brbe.BankEntries {
		panic(fmt.Sprintf("brbesim: record index %d out of range", idx))
	}
	n := s.bank*brbe.BankEntries + idx
	if n >= s.NumRecords() {
		return 0
	}
	rec := &s.records[n]
	switch r {
	case brbe.RegBRBSRC:
		return rec.Src
	case brbe.RegBRBTGT:
		return rec.Tgt
	case brbe.RegBRBINF:
		return uint64(rec.Inf)
	}
	panic(fmt.Sprintf("brbesim: unknown record register %d", r))
}

// ISB makes prior bank selection and invalidation visible.
func (s *BRBE) ISB() {
	s.bank = int(brbe.FieldGet(brbe.BRBFCRBankMask, s.brbfcr))
	if s.bank >= brbe.MaxBanks {
		panic(fmt.Sprintf("brbesim: reserved bank %d selected", s.bank))
	}
	if s.pendingInval {
		s.records = [brbe.MaxEntries]brbe.Regset{}
		s.pendingInval = false
	}
}

func (s *BRBE) InvalidateAll() {
	s.pendingInval = true
}

// Paused reports whether recording is paused.
func (s *BRBE) Paused() bool {
	return s.brbfcr&brbe.BRBFCRPaused != 0
}

// PMI signals a PMU overflow interrupt. If freeze on PMI is enabled,
// recording pauses.
func (s *BRBE) PMI() {
	if s.brbcr&brbe.BRBCRFZP != 0 {
		s.brbfcr |= brbe.BRBFCRPaused
	}
}

// Records returns a copy of the implemented records, newest first,
// including invalid ones.
func (s *BRBE) Records() []brbe.Regset {
	return append([]brbe.Regset(nil), s.records[:s.NumRecords()]...)
}

// Load replaces the buffer with recs, newest first. Records beyond
// the implemented count are dropped.
func (s *BRBE) Load(recs []brbe.Regset) {
	s.records = [brbe.MaxEntries]brbe.Regset{}
	copy(s.records[:s.NumRecords()], recs)
}
