// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

// LiveCapture reads up to max records, newest first, from rf into buf
// and returns the number read. It stops at the first invalid record.
//
// The caller must ensure the hardware is not concurrently recording,
// for example because it is frozen by a PMU interrupt.
func LiveCapture(rf RegisterFile, buf []Regset, max int) int {
	if max > len(buf) {
		max = len(buf)
	}
	if max > MaxEntries {
		max = MaxEntries
	}

	idx := 0
	selectBank(rf, 0)
	for idx < max && idx < BankEntries {
		if !readRegset(rf, &buf[idx], idx) {
			return idx
		}
		idx++
	}
	if idx == max {
		return idx
	}

	selectBank(rf, 1)
	for idx < max && idx < MaxEntries {
		if !readRegset(rf, &buf[idx], idx) {
			return idx
		}
		idx++
	}
	return idx
}

// LiveCapturePaused is like LiveCapture, but pauses recording for the
// duration of the capture. BRBFCR_EL1 is restored to its prior value
// afterwards.
func LiveCapturePaused(rf RegisterFile, buf []Regset, max int) int {
	brbfcr := rf.ReadSysreg(SysBRBFCR)
	rf.WriteSysreg(SysBRBFCR, brbfcr|BRBFCRPaused)
	rf.ISB()

	n := LiveCapture(rf, buf, max)

	// LiveCapture may have changed the bank, so write back the
	// whole register.
	rf.WriteSysreg(SysBRBFCR, brbfcr)
	rf.ISB()
	return n
}

// StackReset invalidates every branch record on rf.
func StackReset(rf RegisterFile) {
	rf.InvalidateAll()
	rf.ISB()
}
