// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import (
	"bytes"
	"errors"
	"testing"
)

func TestProbe(t *testing.T) {
	good := testBRBIDR(32)
	for _, tc := range []struct {
		name    string
		version uint64
		brbidr  uint64
		want    bool
	}{
		{"8 records", DFR0BRBEImp, testBRBIDR(8), true},
		{"16 records", DFR0BRBEImp, testBRBIDR(16), true},
		{"64 records v1p1", DFR0BRBEV1P1, testBRBIDR(64), true},
		{"absent", DFR0BRBENI, good, false},
		{"reserved version", 3, good, false},
		{"reserved record count", DFR0BRBEImp, testBRBIDR(12), false},
		{"format", DFR0BRBEImp, good | FieldPrep(BRBIDRFormatMask, 1), false},
		{"cycle count width", DFR0BRBEImp, good&^BRBIDRCCMask | FieldPrep(BRBIDRCCMask, 4), false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rf := newFakeRF(0)
			rf.sys[SysIDAA64DFR0] = FieldPrep(DFR0BRBEMask, tc.version)
			rf.sys[SysBRBIDR0] = tc.brbidr
			var buf bytes.Buffer
			pmu := testPMU(rf, &buf)
			if pmu.HasBranchStack != tc.want {
				t.Errorf("HasBranchStack = %v, want %v", pmu.HasBranchStack, tc.want)
			}
			if tc.version == DFR0BRBENI {
				if pmu.RegBRBIDR != 0 {
					t.Errorf("BRBIDR read without BRBE")
				}
				return
			}
			if pmu.RegBRBIDR != tc.brbidr {
				t.Errorf("RegBRBIDR = %#x, want %#x", pmu.RegBRBIDR, tc.brbidr)
			}
			if !tc.want && buf.Len() == 0 {
				t.Error("probe failure not logged")
			}
		})
	}
}

func TestCheckAttributes(t *testing.T) {
	err := checkAttributes(DFR0BRBEImp, testBRBIDR(12))
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("err = %v, want ErrNotSupported", err)
	}
	if err := checkAttributes(DFR0BRBEImp, testBRBIDR(64)); err != nil {
		t.Errorf("64 records rejected: %v", err)
	}
}

func TestOnce(t *testing.T) {
	var pmu ArmPMU
	if !pmu.once(diagPrivHV) {
		t.Error("first once returned false")
	}
	if pmu.once(diagPrivHV) {
		t.Error("second once returned true")
	}
	if !pmu.once(diagNoUsers) {
		t.Error("once of a different diagnostic returned false")
	}
}
