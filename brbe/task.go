// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbe

import (
	"fmt"
	"slices"
	"sync"
	"unsafe"
)

// A TaskContext preserves a task's branch history while it is
// switched out.
type TaskContext struct {
	// Store holds NrRecords records, newest first.
	Store     [MaxEntries]Regset
	NrRecords int

	// BrTypeMask is the set of branch types the task's event
	// accepts, computed when the event is added.
	BrTypeMask TypeMask
}

// TaskContextSize is the size of a task context slab element.
const TaskContextSize = unsafe.Sizeof(TaskContext{})

// taskCtxCache is a slab of TaskContexts shared by every CPU of a
// PMU.
type taskCtxCache struct {
	mu    sync.Mutex
	limit int // 0 means unbounded
	live  int
	free  []*TaskContext
}

// TaskCtxCacheAlloc creates the task context slab.
func (pmu *ArmPMU) TaskCtxCacheAlloc() error {
	if pmu.TaskCtxLimit < 0 {
		return fmt.Errorf("%w: task context limit %d", ErrNoMemory, pmu.TaskCtxLimit)
	}
	pmu.taskCtxCache = &taskCtxCache{limit: pmu.TaskCtxLimit}
	return nil
}

// TaskCtxCacheFree destroys the task context slab. Contexts still
// outstanding remain valid but are not returned to any slab.
func (pmu *ArmPMU) TaskCtxCacheFree() {
	pmu.taskCtxCache = nil
}

// AllocTaskContext returns a zeroed task context from the slab.
func (pmu *ArmPMU) AllocTaskContext() (*TaskContext, error) {
	c := pmu.taskCtxCache
	if c == nil {
		return nil, fmt.Errorf("%w: no task context cache", ErrNoMemory)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.limit > 0 && c.live >= c.limit {
		return nil, fmt.Errorf("%w: %d task contexts live", ErrNoMemory, c.live)
	}
	c.live++
	if n := len(c.free); n > 0 {
		ctx := c.free[n-1]
		c.free = c.free[:n-1]
		*ctx = TaskContext{}
		return ctx, nil
	}
	return new(TaskContext), nil
}

// FreeTaskContext returns ctx to the slab. Freeing a context that is
// not live is ignored.
func (pmu *ArmPMU) FreeTaskContext(ctx *TaskContext) {
	c := pmu.taskCtxCache
	if c == nil || ctx == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.live == 0 || slices.Contains(c.free, ctx) {
		if pmu.once(diagCtxDoubleFree) {
			pmu.logger().Warn().Int("live", c.live).Msg("task context freed twice")
		}
		return
	}
	c.live--
	c.free = append(c.free, ctx)
}

// Stitch prepends the nrLive records of live to the nrStored records
// of stored, keeping at most nrMax, and returns the new number of
// stored records.
//
// Both buffers are newest first. Unless the live buffer was full, the
// oldest live record and the newest stored record are contiguous in
// time, so the result is the longest available history. If nrLive
// exceeds nrMax, only the newest nrMax live records are kept.
func Stitch(stored, live []Regset, nrStored, nrLive, nrMax int) int {
	nrLive = min(nrLive, nrMax)
	nrMove := min(nrStored, nrMax-nrLive)

	// Move the tail of the buffer to make room for the new entries.
	copy(stored[nrLive:nrLive+nrMove], stored[:nrMove])

	// Copy the new entries into the head of the buffer.
	copy(stored[:nrLive], live[:nrLive])

	return min(nrLive+nrStored, nrMax)
}
