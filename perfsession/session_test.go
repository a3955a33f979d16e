// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfsession

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aclements/go-brbe/brbe"
	"github.com/aclements/go-brbe/brbesim"
	"github.com/aclements/go-brbe/perfbranch"
	"github.com/google/go-cmp/cmp"
	"github.com/phuslu/log"
)

const anyUser = perfbranch.BranchSampleAny | perfbranch.BranchSampleUser

func newSession(t *testing.T, cfg Config) *Session {
	t.Helper()
	if cfg.NumCPUs == 0 {
		cfg.NumCPUs = 2
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)
	return s
}

// userBranches returns n user-space direct branches starting at base.
func userBranches(base uint64, n int) []brbesim.Branch {
	bs := make([]brbesim.Branch, n)
	for i := range bs {
		a := base + uint64(i)*0x10
		bs[i] = brbesim.Branch{From: a, To: a + 8, Type: brbe.TypeDirectUncond, SrcEL: brbe.EL0, TgtEL: brbe.EL0, Cycles: 1}
	}
	return bs
}

func execute(t *testing.T, s *Session, cpu int, bs []brbesim.Branch) {
	t.Helper()
	n, err := s.Execute(cpu, bs)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(bs) {
		t.Fatalf("CPU %d recorded %d of %d branches", cpu, n, len(bs))
	}
}

func froms(bs []perfbranch.BranchEntry) []uint64 {
	var out []uint64
	for _, b := range bs {
		out = append(out, b.From)
	}
	return out
}

func wantFroms(groups ...[]brbesim.Branch) []uint64 {
	var out []uint64
	for _, g := range groups {
		for i := len(g) - 1; i >= 0; i-- {
			out = append(out, g[i].From)
		}
	}
	return out
}

func TestNotSupported(t *testing.T) {
	s := newSession(t, Config{NumCPUs: 1, BRBIDR: 1})
	if s.PMU.HasBranchStack {
		t.Fatal("PMU without BRBE reports a branch stack")
	}
	if _, err := s.OpenCPUEvent(0, anyUser); !errors.Is(err, brbe.ErrNotSupported) {
		t.Errorf("OpenCPUEvent error = %v, want ErrNotSupported", err)
	}
	if _, err := s.OpenTaskEvent(1, anyUser); !errors.Is(err, brbe.ErrNotSupported) {
		t.Errorf("OpenTaskEvent error = %v, want ErrNotSupported", err)
	}
}

func TestInvalidFilter(t *testing.T) {
	s := newSession(t, Config{})
	_, err := s.OpenCPUEvent(0, perfbranch.BranchSampleAny|perfbranch.BranchSampleAbortTX)
	if !errors.Is(err, brbe.ErrInvalidFilter) {
		t.Errorf("error = %v, want ErrInvalidFilter", err)
	}
	if _, err := s.OpenCPUEvent(5, anyUser); !errors.Is(err, ErrNoCPU) {
		t.Errorf("error = %v, want ErrNoCPU", err)
	}
	// Privilege levels alone select no branches.
	_, err = s.OpenTaskEvent(1, perfbranch.BranchSampleUser|perfbranch.BranchSampleKernel)
	if !errors.Is(err, brbe.ErrInvalidFilter) {
		t.Errorf("privilege-only error = %v, want ErrInvalidFilter", err)
	}
}

func TestDefaultPrivilege(t *testing.T) {
	s := newSession(t, Config{})
	ev, err := s.OpenCPUEvent(0, perfbranch.BranchSampleAny)
	if err != nil {
		t.Fatal(err)
	}
	if want := perfbranch.BranchSampleAny | perfbranch.BranchSamplePrivAll; ev.Type != want {
		t.Errorf("event type = %v, want %v", ev.Type, want)
	}
	bs := userBranches(brbesim.UserBase, 4)
	execute(t, s, 0, bs)
	smp, err := s.Overflow(ev)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantFroms(bs), froms(smp.Branches)); diff != "" {
		t.Errorf("sample (-want +got):\n%s", diff)
	}

	// Excluded levels are not recorded.
	s = newSession(t, Config{ExcludeUser: true, ExcludeHV: true})
	ev, err = s.OpenTaskEvent(5, perfbranch.BranchSampleAny)
	if err != nil {
		t.Fatal(err)
	}
	if want := perfbranch.BranchSampleAny | perfbranch.BranchSampleKernel; ev.Type != want {
		t.Errorf("event type = %v, want %v", ev.Type, want)
	}
	if err := s.SwitchIn(1, 5); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Execute(1, userBranches(brbesim.UserBase, 4)); n != 0 {
		t.Errorf("recorded %d user branches with user excluded", n)
	}
	smp, err = s.Overflow(ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(smp.Branches) != 0 {
		t.Errorf("sample has %d branches, want 0", len(smp.Branches))
	}
}

func TestCPUEventOverflow(t *testing.T) {
	s := newSession(t, Config{})
	ev, err := s.OpenCPUEvent(0, anyUser)
	if err != nil {
		t.Fatal(err)
	}
	bs := userBranches(brbesim.UserBase, 3)
	execute(t, s, 0, bs)
	if n, _ := s.Execute(1, userBranches(brbesim.UserBase+0x1000, 2)); n != 0 {
		t.Errorf("CPU 1 recorded %d branches with no events", n)
	}

	smp, err := s.Overflow(ev)
	if err != nil {
		t.Fatal(err)
	}
	if smp.CPU != 0 || smp.PID != -1 {
		t.Errorf("sample from CPU %d PID %d, want CPU 0 PID -1", smp.CPU, smp.PID)
	}
	if diff := cmp.Diff(wantFroms(bs), froms(smp.Branches)); diff != "" {
		t.Errorf("sample (-want +got):\n%s", diff)
	}
	if s.CPUs[0].HW.Paused() {
		t.Error("recording still frozen after overflow")
	}
}

func TestTaskMigration(t *testing.T) {
	s := newSession(t, Config{})
	ev, err := s.OpenTaskEvent(42, anyUser)
	if err != nil {
		t.Fatal(err)
	}

	first := userBranches(brbesim.UserBase, 3)
	second := userBranches(brbesim.UserBase+0x1000, 2)
	if err := s.SwitchIn(0, 42); err != nil {
		t.Fatal(err)
	}
	execute(t, s, 0, first)
	if err := s.SwitchOut(0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Overflow(ev); !errors.Is(err, ErrNotRunning) {
		t.Errorf("overflow while switched out: %v, want ErrNotRunning", err)
	}

	if err := s.SwitchIn(1, 42); err != nil {
		t.Fatal(err)
	}
	execute(t, s, 1, second)
	smp, err := s.Overflow(ev)
	if err != nil {
		t.Fatal(err)
	}
	if smp.CPU != 1 || smp.PID != 42 {
		t.Errorf("sample from CPU %d PID %d, want CPU 1 PID 42", smp.CPU, smp.PID)
	}
	if diff := cmp.Diff(wantFroms(second, first), froms(smp.Branches)); diff != "" {
		t.Errorf("stitched sample (-want +got):\n%s", diff)
	}

	// The saved records were consumed by the read.
	smp, err = s.Overflow(ev)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(wantFroms(second), froms(smp.Branches)); diff != "" {
		t.Errorf("second sample (-want +got):\n%s", diff)
	}
}

func TestCPUEventBreaksTaskContinuity(t *testing.T) {
	s := newSession(t, Config{})
	ev, err := s.OpenTaskEvent(7, anyUser)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SwitchIn(0, 7); err != nil {
		t.Fatal(err)
	}
	execute(t, s, 0, userBranches(brbesim.UserBase, 4))

	// A CPU event resets the buffer and takes it over.
	if _, err := s.OpenCPUEvent(0, anyUser); err != nil {
		t.Fatal(err)
	}
	if err := s.SwitchOut(0); err != nil {
		t.Fatal(err)
	}
	if err := s.SwitchIn(1, 7); err != nil {
		t.Fatal(err)
	}
	smp, err := s.Overflow(ev)
	if err != nil {
		t.Fatal(err)
	}
	if len(smp.Branches) != 0 {
		t.Errorf("task saw %d records from before the CPU event", len(smp.Branches))
	}
}

func TestSwitchErrors(t *testing.T) {
	s := newSession(t, Config{})
	if err := s.SwitchIn(0, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SwitchIn(1, 1); !errors.Is(err, ErrTaskOnCPU) {
		t.Errorf("double switch in: %v, want ErrTaskOnCPU", err)
	}
	if err := s.SwitchIn(0, 2); !errors.Is(err, ErrCPUBusy) {
		t.Errorf("second task on CPU: %v, want ErrCPUBusy", err)
	}
	if err := s.SwitchIn(2, 3); !errors.Is(err, ErrNoCPU) {
		t.Errorf("bad CPU: %v, want ErrNoCPU", err)
	}
	if err := s.SwitchOut(0); err != nil {
		t.Fatal(err)
	}
	if err := s.SwitchOut(0); err != nil {
		t.Errorf("switch out of idle CPU: %v", err)
	}
	if len(s.tasks) != 0 {
		t.Errorf("%d tasks without events retained", len(s.tasks))
	}
}

func TestTaskCtxLimit(t *testing.T) {
	s := newSession(t, Config{TaskCtxLimit: 1})
	a, err := s.OpenTaskEvent(1, anyUser)
	if err != nil {
		t.Fatal(err)
	}
	b, err := s.OpenTaskEvent(1, perfbranch.BranchSampleCall|perfbranch.BranchSampleUser)
	if err != nil {
		t.Fatalf("second event on the same task: %v", err)
	}
	if _, err := s.OpenTaskEvent(2, anyUser); !errors.Is(err, brbe.ErrNoMemory) {
		t.Errorf("error = %v, want ErrNoMemory", err)
	}

	for _, ev := range []*Event{a, b} {
		if err := ev.Close(); err != nil {
			t.Fatal(err)
		}
	}
	if err := a.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("double close: %v, want ErrClosed", err)
	}
	if _, err := s.OpenTaskEvent(2, anyUser); err != nil {
		t.Errorf("task context not released: %v", err)
	}
}

func TestPostFilterMixedEvents(t *testing.T) {
	s := newSession(t, Config{})
	anyEv, err := s.OpenCPUEvent(0, anyUser)
	if err != nil {
		t.Fatal(err)
	}
	callEv, err := s.OpenCPUEvent(0, perfbranch.BranchSampleCall|perfbranch.BranchSampleUser)
	if err != nil {
		t.Fatal(err)
	}

	bs := []brbesim.Branch{
		{From: brbesim.UserBase, To: brbesim.UserBase + 0x40, Type: brbe.TypeDirectCond, SrcEL: brbe.EL0, TgtEL: brbe.EL0},
		{From: brbesim.UserBase + 0x40, To: brbesim.UserBase + 0x400, Type: brbe.TypeDirectLink, SrcEL: brbe.EL0, TgtEL: brbe.EL0},
	}
	execute(t, s, 0, bs)

	smp, err := s.Overflow(anyEv)
	if err != nil {
		t.Fatal(err)
	}
	if len(smp.Branches) != 2 {
		t.Errorf("any event got %d branches, want 2", len(smp.Branches))
	}
	smp, err = s.Overflow(callEv)
	if err != nil {
		t.Fatal(err)
	}
	if len(smp.Branches) != 1 || smp.Branches[0].Type != perfbranch.BranchTypeCall {
		t.Errorf("call event got %v, want the one call", smp.Branches)
	}
}

func TestCloseDisables(t *testing.T) {
	s := newSession(t, Config{})
	ev, err := s.OpenCPUEvent(0, anyUser)
	if err != nil {
		t.Fatal(err)
	}
	if err := ev.Close(); err != nil {
		t.Fatal(err)
	}
	if n, _ := s.Execute(0, userBranches(brbesim.UserBase, 4)); n != 0 {
		t.Errorf("recorded %d branches after close", n)
	}
	if _, err := s.Overflow(ev); !errors.Is(err, ErrClosed) {
		t.Errorf("overflow of closed event: %v, want ErrClosed", err)
	}
}

func TestHypMode(t *testing.T) {
	s := newSession(t, Config{KernelInHypMode: true})
	ev, err := s.OpenCPUEvent(0, perfbranch.BranchSampleAny|perfbranch.BranchSampleKernel)
	if err != nil {
		t.Fatal(err)
	}
	b := brbesim.Branch{From: brbesim.KernelBase, To: brbesim.KernelBase + 0x80, Type: brbe.TypeRet, SrcEL: brbe.EL2, TgtEL: brbe.EL2, Cycles: 9}
	execute(t, s, 0, []brbesim.Branch{b})
	smp, err := s.Overflow(ev)
	if err != nil {
		t.Fatal(err)
	}
	want := []perfbranch.BranchEntry{{
		From: b.From, To: b.To, Predicted: true, Cycles: 9,
		Type: perfbranch.BranchTypeRet, Priv: perfbranch.BranchPrivKernel,
	}}
	if diff := cmp.Diff(want, smp.Branches); diff != "" {
		t.Errorf("sample (-want +got):\n%s", diff)
	}
}

func TestConcurrentCPUs(t *testing.T) {
	s := newSession(t, Config{NumCPUs: 4})
	evs := make([]*Event, len(s.CPUs))
	for i := range evs {
		var err error
		if evs[i], err = s.OpenCPUEvent(i, anyUser); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := range s.CPUs {
		wg.Add(1)
		go func(cpu int) {
			defer wg.Done()
			w := brbesim.NewWorkload(int64(cpu), 20)
			for j := 0; j < 100; j++ {
				s.Execute(cpu, []brbesim.Branch{w.Next()})
				if j%10 == 9 {
					s.Overflow(evs[cpu])
				}
			}
		}(i)
	}
	wg.Wait()

	for i, ev := range evs {
		smp, err := s.Overflow(ev)
		if err != nil {
			t.Fatal(err)
		}
		for _, b := range smp.Branches {
			if b.Priv == perfbranch.BranchPrivKernel {
				t.Errorf("CPU %d: user event got kernel branch %v", i, b)
			}
		}
	}
}

func TestSessionLogging(t *testing.T) {
	var buf bytes.Buffer
	lg := &log.Logger{Level: log.DebugLevel, Writer: &log.IOWriter{Writer: &buf}}
	s := newSession(t, Config{NumCPUs: 1, Logger: lg})
	if _, err := s.OpenTaskEvent(3, anyUser); err != nil {
		t.Fatal(err)
	}
	for _, msg := range []string{"session created", "task event opened"} {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("log missing %q:\n%s", msg, buf.String())
		}
	}
}
