// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbesim

import (
	"math/rand"

	"github.com/aclements/go-brbe/brbe"
)

// Default address space layout of generated workloads.
const (
	UserBase   = 0x0000_0000_0040_0000
	KernelBase = 0xffff_8000_1000_0000
)

// A Site is a static branch in a synthetic program.
type Site struct {
	From, To     uint64
	Type         brbe.HWType
	SrcEL, TgtEL brbe.EL

	// MispredictRate is the probability that an execution of
	// this branch is mispredicted.
	MispredictRate float64

	// MeanCycles is the mean cycle count since the previous
	// branch.
	MeanCycles float64
}

// A Workload generates a random stream of branches from a fixed set
// of sites. It is deterministic for a given seed.
type Workload struct {
	r     *rand.Rand
	sites []Site
}

// siteKinds is the mix of branch kinds generated, by relative weight.
var siteKinds = []struct {
	typ          brbe.HWType
	srcEL, tgtEL brbe.EL
	weight       int
}{
	{brbe.TypeDirectCond, brbe.EL0, brbe.EL0, 8},
	{brbe.TypeDirectUncond, brbe.EL0, brbe.EL0, 3},
	{brbe.TypeDirectLink, brbe.EL0, brbe.EL0, 3},
	{brbe.TypeRet, brbe.EL0, brbe.EL0, 3},
	{brbe.TypeIndirectLink, brbe.EL0, brbe.EL0, 1},
	{brbe.TypeIndirect, brbe.EL0, brbe.EL0, 1},
	{brbe.TypeDirectCond, brbe.EL1, brbe.EL1, 2},
	{brbe.TypeDirectLink, brbe.EL1, brbe.EL1, 1},
	{brbe.TypeRet, brbe.EL1, brbe.EL1, 1},
	{brbe.TypeTrap, brbe.EL0, brbe.EL1, 1},
	{brbe.TypeIRQ, brbe.EL0, brbe.EL1, 1},
	{brbe.TypeEret, brbe.EL1, brbe.EL0, 1},
}

func addrFor(r *rand.Rand, el brbe.EL) uint64 {
	base := uint64(UserBase)
	if el != brbe.EL0 {
		base = KernelBase
	}
	return base + uint64(r.Intn(1<<20))&^3
}

// NewWorkload returns a workload of nsites random branch sites.
func NewWorkload(seed int64, nsites int) *Workload {
	r := rand.New(rand.NewSource(seed))
	total := 0
	for _, k := range siteKinds {
		total += k.weight
	}
	w := &Workload{r: r}
	for i := 0; i < nsites; i++ {
		pick := r.Intn(total)
		k := siteKinds[0]
		for _, k = range siteKinds {
			if pick < k.weight {
				break
			}
			pick -= k.weight
		}
		w.sites = append(w.sites, Site{
			From:           addrFor(r, k.srcEL),
			To:             addrFor(r, k.tgtEL),
			Type:           k.typ,
			SrcEL:          k.srcEL,
			TgtEL:          k.tgtEL,
			MispredictRate: r.Float64() * r.Float64(),
			MeanCycles:     1 + r.Float64()*50,
		})
	}
	return w
}

// Sites returns the workload's branch sites.
func (w *Workload) Sites() []Site {
	return w.sites
}

// Next returns the next executed branch.
func (w *Workload) Next() Branch {
	s := &w.sites[w.r.Intn(len(w.sites))]
	return Branch{
		From:         s.From,
		To:           s.To,
		Type:         s.Type,
		SrcEL:        s.SrcEL,
		TgtEL:        s.TgtEL,
		Mispredicted: w.r.Float64() < s.MispredictRate,
		Cycles:       1 + uint64(w.r.ExpFloat64()*s.MeanCycles),
	}
}
