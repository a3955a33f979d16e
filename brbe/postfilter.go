// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import "github.com/aclements/go-brbe/perfbranch"

// FilterRecords copies the entries of cpuc.Branches that event
// accepts into out, preserving order.
//
// Hardware filtering is coarser than the perf branch filters, and
// exceptions are recorded regardless of privilege, so a captured
// buffer may hold entries the event did not ask for.
func (cpuc *HWEvents) FilterRecords(event *Event, out *perfbranch.BranchStack) {
	var in []perfbranch.BranchEntry
	if cpuc.Branches != nil {
		in = cpuc.Branches.Records()
	}
	cpuc.filterEntries(event, in, out)
}

// filterEntries is FilterRecords over an arbitrary entry slice. in
// may alias out.Entries.
func (cpuc *HWEvents) filterEntries(event *Event, in []perfbranch.BranchEntry, out *perfbranch.BranchStack) {
	n := 0
	for i := range in {
		e := in[i]
		if !cpuc.filterRecord(event, &e) {
			continue
		}
		out.Entries[n] = e
		n++
	}
	clear(out.Entries[n:])
	out.Nr = n
	out.HWIdx = perfbranch.NoHWIndex
}

func (cpuc *HWEvents) filterRecord(event *Event, e *perfbranch.BranchEntry) bool {
	t := event.BranchSampleType

	if !cpuc.PercpuPMU.filterPrivilege(e, t) {
		return false
	}

	// Deliver branches of unknown type so they remain visible.
	if e.Type == perfbranch.BranchTypeUnknown {
		return true
	}

	if t&perfbranch.BranchSampleAny != 0 {
		return true
	}

	// If the hardware was configured for exactly this event's
	// types, it has already filtered them.
	const priv = perfbranch.BranchSamplePrivAll
	if cpuc.BranchSampleType&^priv == t&^priv {
		return true
	}

	m := EntryTypeMask(e)
	if ctx := event.TaskCtx; ctx != nil {
		return m.Subset(ctx.BrTypeMask)
	}
	return m.Subset(EventTypeMask(t))
}

// filterPrivilege reports whether e is at a privilege level t
// requests.
//
// The record's privilege, when captured, supersedes its addresses.
// Otherwise privilege is inferred from whichever addresses are
// present.
func (pmu *ArmPMU) filterPrivilege(e *perfbranch.BranchEntry, t perfbranch.BranchSampleType) bool {
	t &= perfbranch.BranchSamplePrivAll
	user := t&perfbranch.BranchSampleUser != 0
	kernel := t&perfbranch.BranchSampleKernel != 0 ||
		(pmu.KernelInHypMode && t&perfbranch.BranchSampleHV != 0)

	switch e.Priv {
	case perfbranch.BranchPrivUser:
		return user
	case perfbranch.BranchPrivKernel:
		return kernel
	case perfbranch.BranchPrivHV:
		// In hyp mode EL2 is reported as kernel, and otherwise
		// EL2 recording is never enabled.
		if pmu.once(diagPrivHV) {
			pmu.logger().Warn().Msg("hypervisor branch privilege should not have been captured")
		}
		return true
	}

	if (isUserAddr(e.From) || isUserAddr(e.To)) && !user {
		return false
	}
	if (isKernelAddr(e.From) || isKernelAddr(e.To)) && !kernel {
		return false
	}
	return true
}

// VA bit 55 selects between the TTBR0 (user) and TTBR1 (kernel)
// halves of the address space, independent of tagging.
const vaSelectBit = 1 << 55

func isUserAddr(addr uint64) bool {
	return addr != 0 && addr&vaSelectBit == 0
}

func isKernelAddr(addr uint64) bool {
	return addr != 0 && addr&vaSelectBit != 0
}
