// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package perfsession models the perf framework around the BRBE
// driver: per-CPU branch stack state, CPU and task events, context
// switches and counter overflows. It also symbolizes branch
// addresses.
package perfsession // import "github.com/aclements/go-brbe/perfsession"

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/aclements/go-brbe/brbe"
	"github.com/aclements/go-brbe/brbesim"
	"github.com/aclements/go-brbe/perfbranch"
	"github.com/phuslu/log"
)

var (
	ErrNoCPU      = errors.New("perfsession: no such CPU")
	ErrClosed     = errors.New("perfsession: event closed")
	ErrCPUBusy    = errors.New("perfsession: CPU already running a task")
	ErrTaskOnCPU  = errors.New("perfsession: task already running")
	ErrNotRunning = errors.New("perfsession: task not running")
)

// DefaultNumRecords is the buffer size simulated when Config sets
// neither DFR0 nor BRBIDR.
const DefaultNumRecords = 32

// Config configures a Session.
type Config struct {
	NumCPUs int

	// DFR0 and BRBIDR are the ID register values every simulated
	// CPU reports. If both are zero, each CPU implements a
	// supported BRBE with DefaultNumRecords records.
	DFR0, BRBIDR uint64

	KernelInHypMode bool

	// ExcludeUser, ExcludeKernel and ExcludeHV exclude privilege
	// levels from every event, like the perf_event_attr exclude
	// bits. An event whose branch sample type sets no privilege
	// level records at the levels not excluded.
	ExcludeUser, ExcludeKernel, ExcludeHV bool

	// TaskCtxLimit bounds the number of tasks with open branch
	// events. Zero means unbounded.
	TaskCtxLimit int

	// Logger receives diagnostics from the session and the
	// driver. If nil, log.DefaultLogger is used.
	Logger *log.Logger
}

// A Session is a set of CPUs sharing one PMU, and the events open
// on them.
type Session struct {
	PMU  *brbe.ArmPMU
	CPUs []*CPU

	log *log.Logger
	plm perfbranch.BranchSampleType // default privilege levels

	// mu guards tasks, event lists and task placement. It is
	// acquired before any CPU.mu.
	mu    sync.Mutex
	tasks map[int]*Task
}

// A CPU is one CPU's branch stack hardware and driver state.
type CPU struct {
	ID int
	HW *brbesim.BRBE

	// mu is the per-CPU lock that serializes every access to hw
	// and HW.
	mu     sync.Mutex
	hw     brbe.HWEvents
	ctx    brbe.EventContext
	events []*Event // CPU events
	task   *Task    // running task, or nil
}

// A Task is a process whose task events follow it between CPUs.
type Task struct {
	PID int

	ctx     brbe.EventContext
	taskCtx *brbe.TaskContext
	events  []*Event
	cpu     *CPU
}

// An Event is an open branch-stack event, bound either to a CPU or
// to a task.
type Event struct {
	Type perfbranch.BranchSampleType

	s      *Session
	cpu    *CPU  // for CPU events
	task   *Task // for task events
	ev     brbe.Event
	closed bool
}

// A Sample is the branch stack delivered for one overflow, newest
// branch first.
type Sample struct {
	CPU      int
	PID      int // -1 for CPU events
	Branches []perfbranch.BranchEntry
}

// New returns a session of cfg.NumCPUs simulated CPUs. The PMU is
// probed on CPU 0.
func New(cfg Config) (*Session, error) {
	if cfg.NumCPUs <= 0 {
		return nil, fmt.Errorf("perfsession: invalid CPU count %d", cfg.NumCPUs)
	}
	lg := cfg.Logger
	if lg == nil {
		lg = &log.DefaultLogger
	}
	pmu := &brbe.ArmPMU{
		KernelInHypMode: cfg.KernelInHypMode,
		TaskCtxLimit:    cfg.TaskCtxLimit,
		Logger:          cfg.Logger,
	}
	s := &Session{PMU: pmu, log: lg, tasks: make(map[int]*Task)}
	if !cfg.ExcludeUser {
		s.plm |= perfbranch.BranchSampleUser
	}
	if !cfg.ExcludeKernel {
		s.plm |= perfbranch.BranchSampleKernel
	}
	if !cfg.ExcludeHV {
		s.plm |= perfbranch.BranchSampleHV
	}
	for i := 0; i < cfg.NumCPUs; i++ {
		var hw *brbesim.BRBE
		if cfg.DFR0 == 0 && cfg.BRBIDR == 0 {
			hw = brbesim.New(DefaultNumRecords)
		} else {
			hw = brbesim.NewWithID(cfg.DFR0, cfg.BRBIDR)
		}
		hw.HypMode = cfg.KernelInHypMode
		c := &CPU{ID: i, HW: hw, ctx: brbe.EventContext{PID: -1}}
		c.hw = brbe.HWEvents{PercpuPMU: pmu, Regs: hw}
		s.CPUs = append(s.CPUs, c)
	}

	pmu.Probe(s.CPUs[0].HW)
	if pmu.HasBranchStack {
		if err := pmu.TaskCtxCacheAlloc(); err != nil {
			return nil, fmt.Errorf("perfsession: %w", err)
		}
	}
	s.log.Debug().Int("cpus", cfg.NumCPUs).Bool("branch_stack", pmu.HasBranchStack).Int("records", pmu.NumRecords()).Msg("session created")
	return s, nil
}

// Close releases the task context cache. Open task events keep their
// contexts, but no new ones can be allocated.
func (s *Session) Close() {
	s.PMU.TaskCtxCacheFree()
}

func (s *Session) cpu(id int) (*CPU, error) {
	if id < 0 || id >= len(s.CPUs) {
		return nil, fmt.Errorf("%w: %d", ErrNoCPU, id)
	}
	return s.CPUs[id], nil
}

// task returns the task for pid, creating it if necessary. s.mu must
// be held.
func (s *Session) task(pid int) *Task {
	t, ok := s.tasks[pid]
	if !ok {
		t = &Task{PID: pid, ctx: brbe.EventContext{Task: true, PID: pid}}
		s.tasks[pid] = t
	}
	return t
}

// forget drops t if nothing refers to it. s.mu must be held.
func (s *Session) forget(t *Task) {
	if len(t.events) == 0 && t.cpu == nil {
		delete(s.tasks, t.PID)
	}
}

// checkAttr validates t and returns it with the session's default
// privilege levels filled in.
func (s *Session) checkAttr(t perfbranch.BranchSampleType) (perfbranch.BranchSampleType, error) {
	if !s.PMU.HasBranchStack {
		return 0, brbe.ErrNotSupported
	}
	if t&^perfbranch.BranchSamplePrivAll == 0 {
		return 0, fmt.Errorf("%w: no branch types in %v", brbe.ErrInvalidFilter, t)
	}
	t = t.WithPriv(s.plm)
	if !s.PMU.AttrValid(t) {
		return 0, fmt.Errorf("%w: %v", brbe.ErrInvalidFilter, t)
	}
	return t, nil
}

// OpenCPUEvent opens an event sampling every branch on a CPU. It is
// active until closed.
func (s *Session) OpenCPUEvent(cpu int, t perfbranch.BranchSampleType) (*Event, error) {
	c, err := s.cpu(cpu)
	if err != nil {
		return nil, err
	}
	t, err = s.checkAttr(t)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e := &Event{Type: t, s: s, cpu: c}
	e.ev = brbe.Event{BranchSampleType: t, Ctx: &c.ctx}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	c.add(e)
	s.log.Debug().Int("cpu", cpu).Str("type", t.String()).Msg("cpu event opened")
	return e, nil
}

// OpenTaskEvent opens an event sampling the branches of process pid.
// It is active whenever the task is switched in.
func (s *Session) OpenTaskEvent(pid int, t perfbranch.BranchSampleType) (*Event, error) {
	t, err := s.checkAttr(t)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	task := s.task(pid)
	if task.taskCtx == nil {
		ctx, err := s.PMU.AllocTaskContext()
		if err != nil {
			s.forget(task)
			return nil, fmt.Errorf("perfsession: task %d: %w", pid, err)
		}
		task.taskCtx = ctx
	}
	e := &Event{Type: t, s: s, task: task}
	e.ev = brbe.Event{BranchSampleType: t, Ctx: &task.ctx, TaskCtx: task.taskCtx}
	task.events = append(task.events, e)

	if c := task.cpu; c != nil {
		c.mu.Lock()
		c.add(e)
		c.mu.Unlock()
	}
	s.log.Debug().Int("pid", pid).Str("type", t.String()).Msg("task event opened")
	return e, nil
}

// Close closes e. The last event of a task releases its task
// context.
func (e *Event) Close() error {
	s := e.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	e.closed = true

	if e.task == nil {
		c := e.cpu
		c.mu.Lock()
		c.events = remove(c.events, e)
		c.del(e)
		c.mu.Unlock()
		return nil
	}

	t := e.task
	t.events = remove(t.events, e)
	if c := t.cpu; c != nil {
		c.mu.Lock()
		c.del(e)
		c.mu.Unlock()
	}
	if len(t.events) == 0 {
		s.PMU.FreeTaskContext(t.taskCtx)
		t.taskCtx = nil
		s.forget(t)
	}
	return nil
}

func remove(es []*Event, e *Event) []*Event {
	if i := slices.Index(es, e); i >= 0 {
		return slices.Delete(es, i, i+1)
	}
	return es
}

// SwitchIn schedules task pid onto a CPU, activating its events.
func (s *Session) SwitchIn(cpu, pid int) error {
	c, err := s.cpu(cpu)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.task(pid)
	if t.cpu != nil {
		return fmt.Errorf("%w: task %d on CPU %d", ErrTaskOnCPU, pid, t.cpu.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		s.forget(t)
		return fmt.Errorf("%w: CPU %d is running task %d", ErrCPUBusy, cpu, c.task.PID)
	}
	c.task, t.cpu = t, c
	for _, e := range t.events {
		c.hw.StackAdd(&e.ev)
	}
	c.reprogram()
	return nil
}

// SwitchOut deschedules the running task from a CPU. If the buffer
// still belongs to the task, its records are saved to the task
// context so a later read on any CPU sees them.
func (s *Session) SwitchOut(cpu int) error {
	c, err := s.cpu(cpu)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.task
	if t == nil {
		return nil
	}

	if len(t.events) > 0 {
		c.hw.Disable()
		if t.taskCtx != nil && c.hw.BranchContext == &t.ctx {
			c.hw.Save(t.taskCtx)
			s.log.Debug().Int("cpu", cpu).Int("pid", t.PID).Int("records", t.taskCtx.NrRecords).Msg("task branches saved")
		}
		for _, e := range t.events {
			c.hw.StackDel(&e.ev)
		}
	}
	c.task, t.cpu = nil, nil
	c.reprogram()
	s.forget(t)
	return nil
}

// Execute runs branches on a CPU in order and returns how many were
// recorded.
func (s *Session) Execute(cpu int, branches []brbesim.Branch) (int, error) {
	c, err := s.cpu(cpu)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, b := range branches {
		if c.HW.Branch(b) {
			n++
		}
	}
	return n, nil
}

// Overflow delivers a counter overflow for e on the CPU it is active
// on and returns the resulting sample. Recording is frozen for the
// read and resumes afterwards.
func (s *Session) Overflow(e *Event) (Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.closed {
		return Sample{}, ErrClosed
	}
	c, pid := e.cpu, -1
	if e.task != nil {
		c, pid = e.task.cpu, e.task.PID
		if c == nil {
			return Sample{}, fmt.Errorf("%w: %d", ErrNotRunning, pid)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.HW.PMI()
	var bs perfbranch.BranchStack
	c.hw.Read(&e.ev, &bs)
	c.hw.Enable()
	return Sample{CPU: c.ID, PID: pid, Branches: slices.Clone(bs.Records())}, nil
}

// add attaches e to c's branch stack. c.mu must be held.
func (c *CPU) add(e *Event) {
	c.hw.StackAdd(&e.ev)
	c.reprogram()
}

// del detaches e from c's branch stack. c.mu must be held and e must
// already be off c's event lists.
func (c *CPU) del(e *Event) {
	c.hw.StackDel(&e.ev)
	c.reprogram()
}

// reprogram configures the hardware for the union of the active
// events' sample types, or disables it if there are none. c.mu must
// be held.
func (c *CPU) reprogram() {
	var t perfbranch.BranchSampleType
	for _, e := range c.events {
		t |= e.Type
	}
	if c.task != nil {
		for _, e := range c.task.events {
			t |= e.Type
		}
	}
	c.hw.BranchSampleType = t
	if t == 0 || c.hw.BranchUsers == 0 {
		c.hw.Disable()
		return
	}
	c.hw.Enable()
}
