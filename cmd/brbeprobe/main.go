// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command brbeprobe reports how a perf branch filter maps onto BRBE.
//
//	brbeprobe -j any_call,u
//
// It prints the BRBFCR_EL1 and BRBCR_EL1 configuration the driver
// programs for the filter, whether the driver accepts it, and the set
// of branch types the post-filter admits. With -host, it also asks
// the running kernel to open a branch-sampling cycles event with the
// same filter on every CPU.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/aclements/go-brbe/brbe"
	"github.com/aclements/go-brbe/perfbranch"
	plog "github.com/phuslu/log"
)

func main() {
	var (
		flagFilter = flag.String("j", "any,u", "branch `filter` in perf record -j syntax")
		flagHyp    = flag.Bool("hyp", false, "translate as if the kernel runs at EL2")
		flagHost   = flag.Bool("host", false, "try the filter with the host kernel")
		flagCPUs   = flag.Int("cpus", runtime.NumCPU(), "number of host `CPUs` to probe")
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

	// Report why a filter is rejected.
	pmu := &brbe.ArmPMU{
		KernelInHypMode: *flagHyp,
		Logger:          &plog.Logger{Level: plog.DebugLevel, Writer: &plog.IOWriter{Writer: os.Stderr}},
	}
	fcr, cr := pmu.TranslateFilters(bst)
	fmt.Printf("filter:     %v (%#x)\n", bst, uint64(bst))
	fmt.Printf("accepted:   %v\n", pmu.AttrValid(bst))
	fmt.Printf("BRBFCR_EL1: %#010x\n", fcr)
	fmt.Printf("BRBCR_EL1:  %#010x\n", cr)
	fmt.Printf("types:      %v\n", brbe.EventTypeMask(bst))

	if !*flagHost {
		return
	}
	fmt.Println()
	ok, err := probeHost(bst, *flagCPUs)
	fmt.Printf("host:       %d of %d CPUs accepted the filter\n", ok, *flagCPUs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
