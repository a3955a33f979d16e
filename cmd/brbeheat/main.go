// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command brbeheat renders a heat map of branch sources against
// branch targets from BRBE register snapshots.
//
//	brbeheat -o heat.png cpu0.brbe cpu1.brbe
//
// The horizontal axis is the branch source address and the vertical
// axis is the target address, both scaled linearly over the range of
// addresses present. Cells are shaded on a log scale by the number of
// records. Only records accepted by the -j filter are drawn; the
// default selects user-space branches, since mixing user and kernel
// addresses leaves little resolution for either.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log"
	"os"

	"github.com/aclements/go-brbe/brbe"
	"github.com/aclements/go-brbe/brbesim"
	"github.com/aclements/go-brbe/perfbranch"
	"github.com/aclements/go-moremath/scale"
	"github.com/golang/freetype"
	"golang.org/x/exp/mmap"
)

type edge struct {
	from, to uint64
}

func main() {
	var (
		flagOutput = flag.String("o", "heat.png", "write PNG to `file`")
		flagFilter = flag.String("j", "any,u", "branch `filter` in perf record -j syntax")
		flagWidth  = flag.Int("w", 256, "heat map width/height in cells")
		flagFont   = flag.String("font", "/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf", "TrueType `font` for labels; empty for none")
	)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] snapshot...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 || *flagWidth <= 0 {
		flag.Usage()
		os.Exit(1)
	}

	bst, err := perfbranch.ParseBranchSampleType(*flagFilter)
	if err != nil {
		log.Fatal(err)
	}
	// A filter without privilege levels records at every level.
	bst = bst.WithPriv(perfbranch.BranchSamplePrivAll)

	counts := make(map[edge]int)
	for _, path := range flag.Args() {
		readEdges(path, bst, counts)
	}
	if len(counts) == 0 {
		log.Fatal("no branch records with both addresses")
	}
	fmt.Fprintln(os.Stderr, len(counts), "distinct branches")

	// Address and shade scales.
	lo, hi := ^uint64(0), uint64(0)
	for e := range counts {
		lo = min(lo, e.from, e.to)
		hi = max(hi, e.from, e.to)
	}
	if hi == lo {
		hi++
	}
	addrs := scale.Linear{Min: float64(lo), Max: float64(hi)}

	size := *flagWidth
	grid := make([]int, size*size)
	cell := func(addr uint64) int {
		c := int(addrs.Map(float64(addr)) * float64(size))
		return min(max(c, 0), size-1)
	}
	gridMax := 0
	for e, n := range counts {
		i := cell(e.to)*size + cell(e.from)
		grid[i] += n
		gridMax = max(gridMax, grid[i])
	}
	shades, err := scale.NewLog(1, float64(gridMax)+1, 10)
	if err != nil {
		log.Fatal(err)
	}

	// Lay out the image: a label strip on top, the map below.
	labels, labelHeight := loadFont(*flagFont)
	img := image.NewNRGBA(image.Rect(0, 0, size, size+labelHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			n := grid[y*size+x]
			if n == 0 {
				continue
			}
			v := shades.Map(float64(n) + 1)
			shade := uint8(255 * (1 - min(max(v, 0), 1)))
			img.SetNRGBA(x, labelHeight+size-1-y, color.NRGBA{255, shade, shade, 255})
		}
	}
	if labels != nil {
		labels.SetDst(img)
		labels.SetClip(img.Bounds())
		text := fmt.Sprintf("%#x - %#x", lo, hi)
		if _, err := labels.DrawString(text, freetype.Pt(2, labelHeight-4)); err != nil {
			log.Fatal(err)
		}
	}

	writePNG(*flagOutput, img)
}

// readEdges adds the records of the snapshot at path accepted by bst
// to counts.
func readEdges(path string, bst perfbranch.BranchSampleType, counts map[edge]int) {
	r, err := mmap.Open(path)
	if err != nil {
		log.Fatal(err)
	}
	defer r.Close()
	snap, err := brbesim.ReadSnapshot(r)
	if err != nil {
		log.Fatalf("%s: %v", path, err)
	}

	hw := snap.Restore()
	pmu := &brbe.ArmPMU{}
	pmu.Probe(hw)
	if !pmu.HasBranchStack {
		log.Fatalf("%s: snapshot is not from a supported BRBE", path)
	}
	if !pmu.AttrValid(bst) {
		log.Fatalf("filter %v is not supported by BRBE", bst)
	}
	cpuc := &brbe.HWEvents{PercpuPMU: pmu, Regs: hw}
	ev := &brbe.Event{BranchSampleType: bst, Ctx: &brbe.EventContext{PID: -1}}
	var out perfbranch.BranchStack
	cpuc.Read(ev, &out)
	for _, e := range out.Records() {
		if e.From == 0 || e.To == 0 {
			continue
		}
		counts[edge{e.From, e.To}]++
	}
}

// loadFont returns a drawing context for labels and the height of the
// label strip, or nil and 0 if path is empty.
func loadFont(path string) (*freetype.Context, int) {
	if path == "" {
		return nil, 0
	}
	fontData, err := os.ReadFile(path)
	if err != nil {
		log.Fatal(err)
	}
	font, err := freetype.ParseFont(fontData)
	if err != nil {
		log.Fatal(err)
	}
	ctx := freetype.NewContext()
	ctx.SetFontSize(12)
	ctx.SetSrc(image.Black)
	ctx.SetFont(font)
	bounds := font.Bounds(ctx.PointToFixed(12))
	return ctx, int((bounds.Max.Y - bounds.Min.Y) >> 6)
}

func writePNG(path string, img image.Image) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatal(err)
	}
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(f, img); err != nil {
		log.Fatal(err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
}
