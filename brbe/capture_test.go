// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLiveCapture(t *testing.T) {
	for _, tc := range []struct {
		nr      int // implemented records
		valid   int // leading valid records
		max     int
		want    int
		maxBank int
	}{
		{nr: 8, valid: 8, max: 8, want: 8, maxBank: 0},
		{nr: 8, valid: 3, max: 8, want: 3, maxBank: 0},
		{nr: 8, valid: 0, max: 8, want: 0, maxBank: 0},
		{nr: 32, valid: 32, max: 32, want: 32, maxBank: 0},
		{nr: 64, valid: 31, max: 64, want: 31, maxBank: 0},
		{nr: 64, valid: 32, max: 64, want: 32, maxBank: 1},
		{nr: 64, valid: 40, max: 64, want: 40, maxBank: 1},
		{nr: 64, valid: 64, max: 64, want: 64, maxBank: 1},
		{nr: 64, valid: 64, max: 16, want: 16, maxBank: 0},
	} {
		recs := seqRecs(tc.valid, 0x1000)
		rf := newFakeRF(tc.nr, recs...)
		var buf [MaxEntries]Regset
		got := LiveCapture(rf, buf[:], tc.max)
		if got != tc.want {
			t.Errorf("nr=%d valid=%d max=%d: LiveCapture = %d, want %d", tc.nr, tc.valid, tc.max, got, tc.want)
			continue
		}
		if diff := cmp.Diff(recs[:got], buf[:got]); diff != "" {
			t.Errorf("nr=%d valid=%d: records mismatch (-want +got):\n%s", tc.nr, tc.valid, diff)
		}
		for i, n := range rf.reads {
			if i > 0 && n <= rf.reads[i-1] {
				t.Errorf("nr=%d valid=%d: records read out of order: %v", tc.nr, tc.valid, rf.reads)
				break
			}
		}
		if rf.bank != tc.maxBank {
			t.Errorf("nr=%d valid=%d: ended on bank %d, want %d", tc.nr, tc.valid, rf.bank, tc.maxBank)
		}
	}
}

func TestLiveCaptureStopsAtInvalid(t *testing.T) {
	// An invalid record at k ends the capture even if later
	// records are valid.
	for _, k := range []int{0, 1, 17, 31, 32, 33, 63} {
		recs := seqRecs(64, 0x1000)
		recs[k].Inf = 0
		rf := newFakeRF(64, recs...)
		var buf [MaxEntries]Regset
		if got := LiveCapture(rf, buf[:], 64); got != k {
			t.Errorf("invalid at %d: LiveCapture = %d", k, got)
		}
	}
}

func TestLiveCapturePaused(t *testing.T) {
	rf := newFakeRF(64, seqRecs(40, 0x1000)...)
	const brbfcr = BRBFCRBranchFilters | BRBFCRLastFailed
	rf.sys[SysBRBFCR] = brbfcr
	var buf [MaxEntries]Regset
	if got := LiveCapturePaused(rf, buf[:], 64); got != 40 {
		t.Fatalf("LiveCapturePaused = %d, want 40", got)
	}
	if rf.pausedReads != len(rf.reads) {
		t.Errorf("%d of %d reads were not paused", len(rf.reads)-rf.pausedReads, len(rf.reads))
	}
	if got := rf.sys[SysBRBFCR]; got != brbfcr {
		t.Errorf("BRBFCR after capture = %#x, want %#x", got, uint64(brbfcr))
	}
	if rf.bank != 0 {
		t.Errorf("bank after capture = %d, want 0", rf.bank)
	}
}

func TestStackResetThenCapture(t *testing.T) {
	for _, nr := range []int{8, 64} {
		rf := newFakeRF(nr, seqRecs(nr, 0x1000)...)
		StackReset(rf)
		var buf [MaxEntries]Regset
		if got := LiveCapture(rf, buf[:], nr); got != 0 {
			t.Errorf("nr=%d: LiveCapture after reset = %d, want 0", nr, got)
		}
	}
}
