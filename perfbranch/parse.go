// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfbranch

import (
	"fmt"
	"strings"
)

// branchModes maps the filter names accepted by "perf record -j" to
// their bits. See branch_modes in tools/perf/util/parse-branch-options.c.
var branchModes = map[string]BranchSampleType{
	"u":          BranchSampleUser,
	"k":          BranchSampleKernel,
	"hv":         BranchSampleHV,
	"any":        BranchSampleAny,
	"any_call":   BranchSampleAnyCall,
	"any_ret":    BranchSampleAnyReturn,
	"ind_call":   BranchSampleIndCall,
	"abort_tx":   BranchSampleAbortTX,
	"in_tx":      BranchSampleInTX,
	"no_tx":      BranchSampleNoTX,
	"cond":       BranchSampleCond,
	"call_stack": BranchSampleCallStack,
	"ind_jmp":    BranchSampleIndJump,
	"call":       BranchSampleCall,
	"no_flags":   BranchSampleNoFlags,
	"no_cycles":  BranchSampleNoCycles,
	"save_type":  BranchSampleTypeSave,
	"hw_index":   BranchSampleHWIndex,
	"priv":       BranchSamplePrivSave,
	"counter":    BranchSampleCounters,
}

// ParseBranchSampleType parses a comma-separated list of branch
// filter names in the syntax of "perf record -j", such as
// "any_call,u".
//
// Like perf, if only privilege levels are given, the result
// includes BranchSampleAny.
func ParseBranchSampleType(s string) (BranchSampleType, error) {
	var t BranchSampleType
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		bit, ok := branchModes[name]
		if !ok {
			return 0, fmt.Errorf("unknown branch filter %q", name)
		}
		t |= bit
	}
	if t == 0 {
		return 0, fmt.Errorf("empty branch filter %q", s)
	}
	if t&^BranchSamplePrivAll == 0 {
		t |= BranchSampleAny
	}
	return t, nil
}
