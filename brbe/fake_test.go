// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import (
	"bytes"

	"github.com/phuslu/log"
)

// fakeRF is a minimal BRBE register file. Record n of the buffer is
// recs[n]; records at or beyond the implemented count read as
// invalid.
type fakeRF struct {
	sys  map[Sysreg]uint64
	recs [MaxEntries]Regset

	bank         int  // latched at ISB
	pendingInval bool // BRB IALL waiting for ISB

	reads       []int // logical record numbers read from BRBINF
	pausedReads int   // BRBINF reads made while BRBFCR.PAUSED was set
	isbs        int
}

func testBRBIDR(nr int) uint64 {
	return FieldPrep(BRBIDRCCMask, BRBIDRCC20Bit) |
		FieldPrep(BRBIDRFormatMask, BRBIDRFormat0) |
		FieldPrep(BRBIDRNumRecMask, uint64(nr))
}

func newFakeRF(nr int, recs ...Regset) *fakeRF {
	f := &fakeRF{sys: map[Sysreg]uint64{
		SysIDAA64DFR0: FieldPrep(DFR0BRBEMask, DFR0BRBEImp),
		SysBRBIDR0:    testBRBIDR(nr),
	}}
	f.load(recs...)
	return f
}

// load replaces the buffer contents with recs, newest first.
func (f *fakeRF) load(recs ...Regset) {
	f.recs = [MaxEntries]Regset{}
	copy(f.recs[:], recs)
}

func (f *fakeRF) numRec() int {
	return NumRecords(f.sys[SysBRBIDR0])
}

func (f *fakeRF) ReadSysreg(r Sysreg) uint64 { return f.sys[r] }

func (f *fakeRF) WriteSysreg(r Sysreg, v uint64) { f.sys[r] = v }

func (f *fakeRF) ReadRecord(r RecordReg, idx int) uint64 {
	if idx < 0 || idx >= BankEntries {
		panic("record index out of range")
	}
	n := f.bank*BankEntries + idx
	if n >= f.numRec() {
		return 0
	}
	rec := f.recs[n]
	switch r {
	case RegBRBSRC:
		return rec.Src
	case RegBRBTGT:
		return rec.Tgt
	}
	f.reads = append(f.reads, n)
	if f.sys[SysBRBFCR]&BRBFCRPaused != 0 {
		f.pausedReads++
	}
	return uint64(rec.Inf)
}

func (f *fakeRF) ISB() {
	f.isbs++
	f.bank = int(FieldGet(BRBFCRBankMask, f.sys[SysBRBFCR]))
	if f.pendingInval {
		f.recs = [MaxEntries]Regset{}
		f.pendingInval = false
	}
}

func (f *fakeRF) InvalidateAll() { f.pendingInval = true }

func fullRec(src, tgt uint64, t HWType, el EL) Regset {
	return Regset{src, tgt, EncodeInfo(InfoFields{Valid: ValidFull, Type: t, EL: el, Cycles: 1})}
}

// seqRecs returns n distinct complete EL0 records.
func seqRecs(n int, base uint64) []Regset {
	rs := make([]Regset, 0, n)
	for i := 0; i < n; i++ {
		a := base + uint64(i)*0x10
		rs = append(rs, fullRec(a, a+4, TypeDirectUncond, EL0))
	}
	return rs
}

// testPMU returns a probed ArmPMU whose log output goes to buf.
func testPMU(rf RegisterFile, buf *bytes.Buffer) *ArmPMU {
	pmu := &ArmPMU{Logger: &log.Logger{
		Level:  log.DebugLevel,
		Writer: &log.IOWriter{Writer: buf},
	}}
	pmu.Probe(rf)
	return pmu
}

func testCPU(nr int, recs ...Regset) (*HWEvents, *fakeRF, *bytes.Buffer) {
	rf := newFakeRF(nr, recs...)
	var buf bytes.Buffer
	pmu := testPMU(rf, &buf)
	return &HWEvents{PercpuPMU: pmu, Regs: rf}, rf, &buf
}
