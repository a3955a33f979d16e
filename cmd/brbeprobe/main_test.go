// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/aclements/go-brbe/perfbranch"
)

func TestProbeHostCount(t *testing.T) {
	// The host may lack a PMU or permission; only the accounting
	// is checked.
	ok, err := probeHost(perfbranch.BranchSampleAny|perfbranch.BranchSampleUser, 1)
	if ok < 0 || ok > 1 {
		t.Fatalf("probeHost accepted on %d of 1 CPUs", ok)
	}
	if ok == 0 && err == nil {
		t.Error("no CPU accepted but no error reported")
	}
}
