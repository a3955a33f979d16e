// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package brbe implements the core of an Arm Branch Record Buffer
// Extension (BRBE) branch-stack driver.
//
// BRBE records taken branches into a small cyclic buffer exposed as
// banks of 32 system-register triples (source, target, info). This
// package decodes those triples into perf branch entries, translates
// perf branch sample types into BRBE control words, preserves branch
// history across task context switches by stitching live records onto
// a per-task store, and post-filters captured records against an
// event's request.
//
// The surrounding PMU framework owns all state: an ArmPMU per PMU,
// HWEvents per CPU, and TaskContexts allocated from the ArmPMU's
// slab. The framework must serialize calls per CPU; this package takes
// no locks of its own on the hardware path.
package brbe // import "github.com/aclements/go-brbe/brbe"
