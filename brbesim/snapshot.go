// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbesim

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aclements/go-brbe/brbe"
)

// A Snapshot is a saved copy of a CPU's BRBE registers.
//
// On disk, a snapshot is a little-endian fixed header followed by
// NumRecords (source, target, info) triples, newest first.
type Snapshot struct {
	DFR0   uint64
	BRBIDR uint64
	BRBFCR uint64
	BRBCR  uint64

	Records []brbe.Regset
}

const (
	snapshotMagic   = "BRBEDUMP"
	snapshotVersion = 1
)

type snapshotHeader struct {
	Magic   [8]byte
	Version uint32
	NumRecs uint32
	DFR0    uint64
	BRBIDR  uint64
	BRBFCR  uint64
	BRBCR   uint64
}

type snapshotRecord struct {
	Src, Tgt, Inf uint64
}

// Snapshot returns the current register state of s.
func (s *BRBE) Snapshot() *Snapshot {
	return &Snapshot{
		DFR0:    s.dfr0,
		BRBIDR:  s.brbidr,
		BRBFCR:  s.brbfcr,
		BRBCR:   s.brbcr,
		Records: s.Records(),
	}
}

// Restore returns a simulated BRBE in the state saved by snap.
func (snap *Snapshot) Restore() *BRBE {
	s := NewWithID(snap.DFR0, snap.BRBIDR)
	s.brbfcr = snap.BRBFCR
	s.brbcr = snap.BRBCR
	s.Load(snap.Records)
	s.ISB()
	return s
}

// WriteTo writes snap to w in the snapshot file format.
func (snap *Snapshot) WriteTo(w io.Writer) (int64, error) {
	if len(snap.Records) > brbe.MaxEntries {
		return 0, fmt.Errorf("snapshot has %d records, at most %d allowed", len(snap.Records), brbe.MaxEntries)
	}
	hdr := snapshotHeader{
		Version: snapshotVersion,
		NumRecs: uint32(len(snap.Records)),
		DFR0:    snap.DFR0,
		BRBIDR:  snap.BRBIDR,
		BRBFCR:  snap.BRBFCR,
		BRBCR:   snap.BRBCR,
	}
	copy(hdr.Magic[:], snapshotMagic)
	recs := make([]snapshotRecord, len(snap.Records))
	for i, r := range snap.Records {
		recs[i] = snapshotRecord{r.Src, r.Tgt, uint64(r.Inf)}
	}

	cw := &countWriter{w: w}
	if err := binary.Write(cw, binary.LittleEndian, &hdr); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, recs); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

type countWriter struct {
	w io.Writer
	n int64
}

func (c *countWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// ReadSnapshot reads a snapshot file from r.
func ReadSnapshot(r io.ReaderAt) (*Snapshot, error) {
	var hdr snapshotHeader
	hdrSize := int64(binary.Size(&hdr))
	if err := binary.Read(io.NewSectionReader(r, 0, hdrSize), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("reading snapshot header: %w", err)
	}
	if string(hdr.Magic[:]) != snapshotMagic {
		return nil, fmt.Errorf("bad snapshot magic %q", hdr.Magic[:])
	}
	if hdr.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", hdr.Version)
	}
	if hdr.NumRecs > brbe.MaxEntries {
		return nil, fmt.Errorf("snapshot has %d records, at most %d allowed", hdr.NumRecs, brbe.MaxEntries)
	}

	recs := make([]snapshotRecord, hdr.NumRecs)
	recSize := int64(binary.Size(recs))
	if err := binary.Read(io.NewSectionReader(r, hdrSize, recSize), binary.LittleEndian, recs); err != nil {
		return nil, fmt.Errorf("reading snapshot records: %w", err)
	}

	snap := &Snapshot{
		DFR0:    hdr.DFR0,
		BRBIDR:  hdr.BRBIDR,
		BRBFCR:  hdr.BRBFCR,
		BRBCR:   hdr.BRBCR,
		Records: make([]brbe.Regset, len(recs)),
	}
	for i, r := range recs {
		snap.Records[i] = brbe.Regset{Src: r.Src, Tgt: r.Tgt, Inf: brbe.Info(r.Inf)}
	}
	return snap, nil
}
