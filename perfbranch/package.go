// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package perfbranch defines the Linux perf branch-stack ABI: the
// branch sample type filter bits requested by an event, the branch
// entry produced for each captured branch, and the branch stack
// delivered with a sample.
//
// These correspond to perf_branch_sample_type, perf_branch_entry,
// PERF_BR_* and PERF_BR_NEW_* from include/uapi/linux/perf_event.h.
package perfbranch // import "github.com/aclements/go-brbe/perfbranch"
