// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command brbestats runs a synthetic branch workload on simulated
// BRBE CPUs and analyzes the sampled branch stacks for mispredict
// rates and cycle counts.
//
// Each CPU runs its own random workload. Every -period branches the
// event's counter overflows and the driver delivers a branch stack
// sample. With -task, each CPU's event follows a task that is
// switched out and back in between samples, so samples are stitched
// from the task's saved records.
//
// The output is a table like
//
//	cpu PC                 branches mispredicts       expected
//	  2 0x0000000000452a30     3911 2730 (69.8%)        (70.1%)
//
// sorted by the number of mispredicts, followed by per-type cycle
// statistics.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/aclements/go-brbe/brbe"
	"github.com/aclements/go-brbe/brbesim"
	"github.com/aclements/go-brbe/perfbranch"
	"github.com/aclements/go-brbe/perfsession"
	"github.com/aclements/go-moremath/stats"
	plog "github.com/phuslu/log"
	"golang.org/x/sync/errgroup"
)

type PC struct {
	CPU int
	PC  uint64
}

type Agg struct {
	Branches     int64
	Predicted    int64
	Mispredicted int64
}

type pair struct {
	PC
	Agg
	rate, expected float64
}

// cpuResult is the aggregate of one CPU's samples.
type cpuResult struct {
	agg      map[PC]Agg
	cycles   map[string][]float64
	samples  int
	expected map[uint64]float64
}

func main() {
	var (
		flagCPUs    = flag.Int("cpus", 4, "number of simulated `CPUs`")
		flagRecords = flag.Int("records", 32, "BRBE buffer `size` (8, 16, 32 or 64)")
		flagN       = flag.Int("n", 1000000, "`branches` to execute per CPU")
		flagSites   = flag.Int("sites", 200, "static branch `sites` per CPU")
		flagPeriod  = flag.Int("period", 997, "sample every `n` branches")
		flagFilter  = flag.String("j", "any,u", "branch `filter` in perf record -j syntax")
		flagSeed    = flag.Int64("seed", 1, "random `seed`")
		flagTask    = flag.Bool("task", false, "sample per-task instead of per-CPU")
		flagTop     = flag.Int("top", 20, "show the top `n` branches")
		flagDump    = flag.String("o", "", "write each CPU's final registers to snapshots in `dir`")
		flagVerbose = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()
	if flag.NArg() > 0 || *flagPeriod <= 0 {
		flag.Usage()
		os.Exit(1)
	}

	bst, err := perfbranch.ParseBranchSampleType(*flagFilter)
	if err != nil {
		log.Fatal(err)
	}

	cfg := perfsession.Config{
		NumCPUs: *flagCPUs,
		DFR0:    brbe.FieldPrep(brbe.DFR0BRBEMask, brbe.DFR0BRBEImp),
		BRBIDR: brbe.FieldPrep(brbe.BRBIDRCCMask, brbe.BRBIDRCC20Bit) |
			brbe.FieldPrep(brbe.BRBIDRFormatMask, brbe.BRBIDRFormat0) |
			brbe.FieldPrep(brbe.BRBIDRNumRecMask, uint64(*flagRecords)),
	}
	if *flagVerbose {
		cfg.Logger = &plog.Logger{Level: plog.DebugLevel, Writer: &plog.IOWriter{Writer: os.Stderr}}
	}
	s, err := perfsession.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	events := make([]*perfsession.Event, *flagCPUs)
	for cpu := range events {
		if *flagTask {
			events[cpu], err = s.OpenTaskEvent(1000+cpu, bst)
		} else {
			events[cpu], err = s.OpenCPUEvent(cpu, bst)
		}
		if err != nil {
			log.Fatal(err)
		}
	}

	results := make([]cpuResult, *flagCPUs)
	var g errgroup.Group
	for cpu := range results {
		cpu := cpu
		g.Go(func() error {
			return run(s, cpu, events[cpu], *flagTask, *flagSeed+int64(cpu), *flagSites, *flagN, *flagPeriod, &results[cpu])
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}

	if *flagDump != "" {
		for _, c := range s.CPUs {
			writeSnapshot(filepath.Join(*flagDump, fmt.Sprintf("cpu%d.brbe", c.ID)), c.HW.Snapshot())
		}
	}

	report(results, *flagTop)
}

// run executes n branches of a random workload on cpu, sampling
// every period branches.
func run(s *perfsession.Session, cpu int, ev *perfsession.Event, task bool, seed int64, sites, n, period int, res *cpuResult) error {
	w := brbesim.NewWorkload(seed, sites)
	res.agg = make(map[PC]Agg)
	res.cycles = make(map[string][]float64)
	res.expected = make(map[uint64]float64)
	for _, site := range w.Sites() {
		res.expected[site.From] = site.MispredictRate
	}

	pid := 1000 + cpu
	if task {
		if err := s.SwitchIn(cpu, pid); err != nil {
			return err
		}
	}
	batch := make([]brbesim.Branch, 0, period)
	for done := 0; done < n; done += len(batch) {
		batch = batch[:0]
		for i := 0; i < period && done+i < n; i++ {
			batch = append(batch, w.Next())
		}
		if _, err := s.Execute(cpu, batch); err != nil {
			return err
		}

		smp, err := s.Overflow(ev)
		if err != nil {
			return err
		}
		res.add(cpu, smp)

		if task {
			// Give the CPU to nobody for a moment; the task's
			// records survive in its context.
			if err := s.SwitchOut(cpu); err != nil {
				return err
			}
			if err := s.SwitchIn(cpu, pid); err != nil {
				return err
			}
		}
	}
	if task {
		return s.SwitchOut(cpu)
	}
	return nil
}

func (r *cpuResult) add(cpu int, smp perfsession.Sample) {
	r.samples++
	for i, br := range smp.Branches {
		if br.Cycles != 0 {
			typ := br.TypeString()
			r.cycles[typ] = append(r.cycles[typ], float64(br.Cycles))
		}

		// As with hardware sampling, only the newest record
		// is an unbiased sample of branch sites.
		if i != 0 || br.From == 0 {
			continue
		}
		pc := PC{cpu, br.From}
		a := r.agg[pc]
		a.Branches++
		if br.Mispred {
			a.Mispredicted++
		}
		if br.Predicted {
			a.Predicted++
		}
		r.agg[pc] = a
	}
}

func report(results []cpuResult, top int) {
	var pairs []pair
	var total Agg
	samples := 0
	cycles := make(map[string][]float64)
	for _, r := range results {
		samples += r.samples
		for pc, a := range r.agg {
			total.Branches += a.Branches
			total.Mispredicted += a.Mispredicted
			total.Predicted += a.Predicted
			rate := 0.0
			if a.Predicted+a.Mispredicted > 0 {
				rate = float64(a.Mispredicted) / float64(a.Predicted+a.Mispredicted)
			}
			pairs = append(pairs, pair{pc, a, rate, r.expected[pc.PC]})
		}
		for typ, xs := range r.cycles {
			cycles[typ] = append(cycles[typ], xs...)
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		p, q := &pairs[i], &pairs[j]
		if p.Mispredicted != q.Mispredicted {
			return p.Mispredicted > q.Mispredicted
		}
		if p.Branches != q.Branches {
			return p.Branches > q.Branches
		}
		if p.CPU != q.CPU {
			return p.CPU < q.CPU
		}
		return p.PC.PC < q.PC.PC
	})

	fmt.Printf("# Samples: %d\n", samples)
	fmt.Printf("# Sampled branches: %d\n", total.Branches)
	if total.Branches > 0 {
		fmt.Printf("# Mispredicts: %d (%2.1f%% of sampled branches)\n", total.Mispredicted, 100*float64(total.Mispredicted)/float64(total.Branches))
	}
	fmt.Printf("\n")

	fmt.Printf("%3s %-18s %8s %-16s %s\n", "cpu", "PC", "branches", "mispredicts", "expected")
	for i, p := range pairs {
		if i == top {
			break
		}
		fmt.Printf("%3d %#018x %8d %-16s (%2.1f%%)\n", p.CPU, p.PC.PC, p.Branches, fmt.Sprintf("%d (%2.1f%%)", p.Mispredicted, 100*p.rate), 100*p.expected)
	}
	fmt.Printf("\n")

	types := make([]string, 0, len(cycles))
	for typ := range cycles {
		types = append(types, typ)
	}
	sort.Strings(types)
	fmt.Printf("%-10s %8s %8s %8s %8s %8s\n", "type", "records", "mean", "stddev", "p50", "p99")
	for _, typ := range types {
		s := stats.Sample{Xs: cycles[typ]}
		fmt.Printf("%-10s %8d %8.1f %8.1f %8.0f %8.0f\n", typ, len(s.Xs), s.Mean(), s.StdDev(), s.Quantile(0.5), s.Quantile(0.99))
	}
}

func writeSnapshot(path string, snap *brbesim.Snapshot) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	if _, err := snap.WriteTo(f); err != nil {
		log.Fatal(err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
}
