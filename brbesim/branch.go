// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package brbesim

import "github.com/aclements/go-brbe/brbe"

// A Branch is one taken branch executed by the simulated CPU.
type Branch struct {
	From, To uint64
	Type     brbe.HWType

	// SrcEL and TgtEL are the exception levels of the branch
	// instruction and its target. They differ only for exceptions
	// and exception returns.
	SrcEL, TgtEL brbe.EL

	Mispredicted bool

	// Cycles is the number of cycles since the previous branch.
	Cycles uint64
}

// Branch executes b, recording it if the current configuration
// selects it. It reports whether a record was generated.
func (s *BRBE) Branch(b Branch) bool {
	if s.Paused() {
		return false
	}
	src, tgt := s.elEnabled(b.SrcEL), s.elEnabled(b.TgtEL)
	if !src && !tgt {
		return false
	}
	if !s.selected(b.Type) {
		return false
	}

	f := brbe.InfoFields{Type: b.Type, EL: b.TgtEL}
	switch {
	case src && tgt:
		f.Valid = brbe.ValidFull
	case src:
		f.Valid = brbe.ValidSource
	default:
		f.Valid = brbe.ValidTarget
	}
	if s.brbcr&brbe.BRBCRCC != 0 {
		f.Cycles = min(b.Cycles, brbe.BRBINFCCMask>>32)
	} else {
		f.CyclesUnknown = true
	}
	if s.brbcr&brbe.BRBCRMPred != 0 {
		f.Mispredicted = b.Mispredicted
	}

	rec := brbe.Regset{Inf: brbe.EncodeInfo(f)}
	if src {
		rec.Src = b.From
	}
	if tgt {
		rec.Tgt = b.To
	}
	s.insert(rec)
	return true
}

func (s *BRBE) insert(rec brbe.Regset) {
	n := s.NumRecords()
	if n == 0 {
		return
	}
	copy(s.records[1:n], s.records[:n-1])
	s.records[0] = rec
}

func (s *BRBE) elEnabled(el brbe.EL) bool {
	switch el {
	case brbe.EL0:
		return s.brbcr&brbe.BRBCRE0BRE != 0
	case brbe.EL1:
		return !s.HypMode && s.brbcr&brbe.BRBCRExBRE != 0
	case brbe.EL2:
		return s.HypMode && s.brbcr&brbe.BRBCRExBRE != 0
	}
	return false
}

// selected reports whether branches of type t pass the class filters.
func (s *BRBE) selected(t brbe.HWType) bool {
	var class uint64
	switch t {
	case brbe.TypeDirectUncond:
		class = brbe.BRBFCRDirect
	case brbe.TypeIndirect:
		class = brbe.BRBFCRIndirect
	case brbe.TypeDirectLink:
		class = brbe.BRBFCRDirCall
	case brbe.TypeIndirectLink:
		class = brbe.BRBFCRIndCall
	case brbe.TypeRet:
		class = brbe.BRBFCRRtn
	case brbe.TypeDirectCond:
		class = brbe.BRBFCRCondDir
	case brbe.TypeEret:
		return s.brbcr&brbe.BRBCRERTN != 0
	default:
		// Everything else is an exception.
		return s.brbcr&brbe.BRBCRException != 0
	}
	match := s.brbfcr&class != 0
	if s.brbfcr&brbe.BRBFCREnI != 0 {
		return !match
	}
	return match
}
