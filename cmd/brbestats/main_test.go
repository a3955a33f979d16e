// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/aclements/go-brbe/perfbranch"
	"github.com/aclements/go-brbe/perfsession"
)

func TestRun(t *testing.T) {
	for _, task := range []bool{false, true} {
		s, err := perfsession.New(perfsession.Config{NumCPUs: 1})
		if err != nil {
			t.Fatal(err)
		}
		const bst = perfbranch.BranchSampleAny | perfbranch.BranchSampleUser
		var ev *perfsession.Event
		if task {
			ev, err = s.OpenTaskEvent(1000, bst)
		} else {
			ev, err = s.OpenCPUEvent(0, bst)
		}
		if err != nil {
			t.Fatal(err)
		}

		var res cpuResult
		if err := run(s, 0, ev, task, 1, 20, 1000, 100, &res); err != nil {
			t.Fatalf("task=%v: %v", task, err)
		}
		if res.samples != 10 {
			t.Errorf("task=%v: %d samples, want 10", task, res.samples)
		}
		var sampled int64
		for pc, a := range res.agg {
			sampled += a.Branches
			if _, ok := res.expected[pc.PC]; !ok {
				t.Errorf("task=%v: sampled PC %#x is not a workload site", task, pc.PC)
			}
			if a.Predicted+a.Mispredicted != a.Branches {
				t.Errorf("task=%v: PC %#x: %d predicted + %d mispredicted != %d", task, pc.PC, a.Predicted, a.Mispredicted, a.Branches)
			}
		}
		if sampled == 0 || sampled > 10 {
			t.Errorf("task=%v: %d sampled branches from 10 samples", task, sampled)
		}
		s.Close()
	}
}
