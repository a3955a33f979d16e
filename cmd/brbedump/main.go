// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command brbedump prints the contents of a BRBE register snapshot.
//
// It restores the snapshot into a simulated BRBE, captures the
// buffer the way the driver does, and prints each record decoded
// into perf branch entries:
//
//	brbedump -i cpu0.brbe -j any_call,u -sym ./prog
//
// With -j, records the filter does not accept are dropped. With
// -raw, the undecoded BRBSRC, BRBTGT and BRBINF values are printed
// as well.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aclements/go-brbe/brbe"
	"github.com/aclements/go-brbe/brbesim"
	"github.com/aclements/go-brbe/perfbranch"
	"github.com/aclements/go-brbe/perfsession"
	"golang.org/x/exp/mmap"
)

func main() {
	var (
		flagInput  = flag.String("i", "brbe.dump", "input snapshot `file`")
		flagFilter = flag.String("j", "any,u,k", "branch `filter` in perf record -j syntax")
		flagSym    = flag.String("sym", "", "symbolize addresses using ELF `file`")
		flagBias   = flag.Uint64("bias", 0, "load `address` of the -sym file")
		flagHyp    = flag.Bool("hyp", false, "decode as if the kernel runs at EL2")
		flagRaw    = flag.Bool("raw", false, "print raw record registers")
	)
	flag.Parse()
	if flag.NArg() > 0 {
		flag.Usage()
		os.Exit(1)
	}

	bst, err := perfbranch.ParseBranchSampleType(*flagFilter)
	if err != nil {
		log.Fatal(err)
	}
	// A filter without privilege levels records at every level.
	bst = bst.WithPriv(perfbranch.BranchSamplePrivAll)

	r, err := mmap.Open(*flagInput)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()
	snap, err := brbesim.ReadSnapshot(r)
	if err != nil {
		log.Fatalf("%s: %v", *flagInput, err)
	}

	var syms *perfsession.Symbols
	if *flagSym != "" {
		syms, err = perfsession.LoadSymbols(*flagSym)
		if err != nil {
			log.Fatal(err)
		}
		syms.Bias = *flagBias
	}

	hw := snap.Restore()
	pmu := &brbe.ArmPMU{KernelInHypMode: *flagHyp}
	pmu.Probe(hw)

	fmt.Printf("DFR0:    %#016x\n", snap.DFR0)
	fmt.Printf("BRBIDR:  %#016x (%d records)\n", snap.BRBIDR, brbe.NumRecords(snap.BRBIDR))
	fmt.Printf("BRBFCR:  %#016x\n", snap.BRBFCR)
	fmt.Printf("BRBCR:   %#016x\n", snap.BRBCR)
	if !pmu.HasBranchStack {
		log.Fatalf("%s: snapshot is not from a supported BRBE", *flagInput)
	}
	if !pmu.AttrValid(bst) {
		log.Fatalf("filter %v is not supported by BRBE", bst)
	}
	fmt.Printf("filter:  %v\n", bst)
	fmt.Println()

	if *flagRaw {
		var buf [brbe.MaxEntries]brbe.Regset
		n := brbe.LiveCapture(hw, buf[:], pmu.NumRecords())
		for i, rs := range buf[:n] {
			fmt.Printf("%3d src=%#016x tgt=%#016x inf=%v\n", i, rs.Src, rs.Tgt, rs.Inf)
		}
		fmt.Println()
	}

	cpuc := &brbe.HWEvents{PercpuPMU: pmu, Regs: hw}
	ev := &brbe.Event{BranchSampleType: bst, Ctx: &brbe.EventContext{PID: -1}}
	var out perfbranch.BranchStack
	cpuc.Read(ev, &out)

	fmt.Printf("%d of %d records accepted\n", out.Nr, cpuc.Branches.Nr)
	for i, e := range out.Records() {
		fmt.Printf("%3d %#016x -> %#016x %-10s %-7v cycles=%-5d %s\n", i, e.From, e.To, e.TypeString(), e.Priv, e.Cycles, flagString(&e))
		if syms == nil {
			continue
		}
		for _, addr := range []uint64{e.From, e.To} {
			if addr == 0 {
				continue
			}
			if sym, ok := syms.Lookup(addr); ok {
				fmt.Printf("    %#016x %v\n", addr, sym)
			}
		}
	}
}

func flagString(e *perfbranch.BranchEntry) string {
	var s string
	add := func(cond bool, name string) {
		if cond {
			if s != "" {
				s += ","
			}
			s += name
		}
	}
	add(e.Mispred, "mispred")
	add(e.Predicted, "pred")
	add(e.InTx, "in_tx")
	add(e.Abort, "abort")
	return s
}
