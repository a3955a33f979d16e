// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import "github.com/aclements/go-brbe/perfbranch"

// An EventContext identifies the context an event is attached to.
// Contexts are compared by identity.
type EventContext struct {
	// Task is true for per-task contexts and false for per-CPU
	// contexts.
	Task bool

	// PID is the task's process ID, or -1 for a CPU context.
	PID int
}

// An Event is the branch-stack view of a perf event.
type Event struct {
	BranchSampleType perfbranch.BranchSampleType

	Ctx *EventContext

	// TaskCtx is the event's task context. It is nil for CPU
	// events.
	TaskCtx *TaskContext
}

func (e *Event) taskBound() bool {
	return e.Ctx != nil && e.Ctx.Task
}

// HWEvents is the per-CPU branch stack state. It corresponds to the
// branch-stack fields of struct pmu_hw_events.
//
// Callers must serialize all methods on a given HWEvents.
type HWEvents struct {
	// BranchContext is the event context whose branches are in
	// the buffer, or nil.
	BranchContext *EventContext
	BranchUsers   int

	// BranchSampleType is the configured sample type, set by the
	// framework before Enable.
	BranchSampleType perfbranch.BranchSampleType

	// Branches receives the records captured by Read.
	Branches *perfbranch.BranchStack

	PercpuPMU *ArmPMU
	Regs      RegisterFile
}

// StackAdd attaches event to this CPU's branch stack.
func (cpuc *HWEvents) StackAdd(event *Event) {
	if event.taskBound() && event.TaskCtx != nil {
		event.TaskCtx.BrTypeMask = EventTypeMask(event.BranchSampleType)
	}

	// A new CPU event must not see records left by earlier users,
	// and any earlier task event has lost its continuity anyway.
	if !event.taskBound() {
		cpuc.BranchContext = nil
		cpuc.StackReset()
	}

	// Likewise for a task event arriving on a buffer filled by
	// another context.
	if event.taskBound() && cpuc.BranchContext != event.Ctx {
		cpuc.BranchContext = event.Ctx
		cpuc.StackReset()
	}
	cpuc.BranchUsers++
}

// StackDel detaches event from this CPU's branch stack.
func (cpuc *HWEvents) StackDel(event *Event) {
	if cpuc.BranchUsers == 0 {
		if pmu := cpuc.PercpuPMU; pmu != nil && pmu.once(diagNoUsers) {
			pmu.logger().Warn().Msg("branch stack delete with no users")
		}
		return
	}
	cpuc.BranchUsers--
	if cpuc.BranchUsers == 0 {
		cpuc.BranchContext = nil
		cpuc.BranchSampleType = 0
	}
}

// StackReset invalidates every record in this CPU's branch buffer.
func (cpuc *HWEvents) StackReset() {
	StackReset(cpuc.Regs)
}

// Enable programs BRBE for the configured branch sample type. It does
// nothing if there is no sample type or no users.
//
// Enable overrides any previous filter configuration and unpauses
// recording. Fields outside the configuration masks are preserved.
func (cpuc *HWEvents) Enable() {
	if cpuc.BranchSampleType == 0 || cpuc.BranchUsers == 0 {
		return
	}
	rf := cpuc.Regs
	fcr, cr := cpuc.PercpuPMU.TranslateFilters(cpuc.BranchSampleType)

	brbfcr := rf.ReadSysreg(SysBRBFCR)
	brbfcr &^= brbfcrConfigMask
	brbfcr |= uint64(fcr)
	rf.WriteSysreg(SysBRBFCR, brbfcr)
	rf.ISB()

	brbcr := rf.ReadSysreg(SysBRBCR)
	brbcr &^= brbcrConfigMask
	brbcr |= uint64(cr)
	rf.WriteSysreg(SysBRBCR, brbcr)
	rf.ISB()
}

// Disable stops recording at every exception level and pauses BRBE.
func (cpuc *HWEvents) Disable() {
	rf := cpuc.Regs
	brbcr := rf.ReadSysreg(SysBRBCR)
	brbfcr := rf.ReadSysreg(SysBRBFCR)
	brbcr &^= BRBCRE0BRE | BRBCRExBRE
	brbfcr |= BRBFCRPaused
	rf.WriteSysreg(SysBRBCR, brbcr)
	rf.WriteSysreg(SysBRBFCR, brbfcr)
	rf.ISB()
}

// Save stitches the live records onto ctx's store. It is called when
// ctx's task is switched out.
func (cpuc *HWEvents) Save(ctx *TaskContext) {
	var live [MaxEntries]Regset
	nr := cpuc.PercpuPMU.NumRecords()
	nrLive := LiveCapturePaused(cpuc.Regs, live[:], nr)
	ctx.NrRecords = Stitch(ctx.Store[:], live[:], ctx.NrRecords, nrLive, nr)
}

// Read captures the branch stack for event into cpuc.Branches and, if
// out is non-nil, post-filters it into out.
//
// For a task event, the live records are stitched onto the task's
// store, which is then consumed.
func (cpuc *HWEvents) Read(event *Event, out *perfbranch.BranchStack) {
	var live [MaxEntries]Regset
	nr := cpuc.PercpuPMU.NumRecords()
	nrLive := LiveCapture(cpuc.Regs, live[:], nr)

	if ctx := event.TaskCtx; event.taskBound() && ctx != nil {
		nrStore := Stitch(ctx.Store[:], live[:], ctx.NrRecords, nrLive, nr)
		cpuc.processEntries(event, ctx.Store[:nrStore])
		ctx.NrRecords = 0
	} else {
		cpuc.processEntries(event, live[:nrLive])
	}

	if out != nil {
		cpuc.FilterRecords(event, out)
	}
}

func (cpuc *HWEvents) processEntries(event *Event, regs []Regset) {
	if cpuc.Branches == nil {
		cpuc.Branches = new(perfbranch.BranchStack)
	}
	bs := cpuc.Branches
	pmu := cpuc.PercpuPMU
	for i := range regs {
		pmu.decodeEntry(&bs.Entries[i], &regs[i], event.BranchSampleType)
	}
	clear(bs.Entries[len(regs):])
	bs.Nr = len(regs)
	bs.HWIdx = perfbranch.NoHWIndex
}
