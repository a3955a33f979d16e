// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfsession

import (
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/ianlancetaylor/demangle"
)

// A Symbol is the symbolic location of an address.
type Symbol struct {
	Func   string
	Offset uint64 // from the start of Func
	File   string
	Line   int
}

func (s Symbol) String() string {
	str := s.Func
	if str == "" {
		str = "?"
	} else if s.Offset != 0 {
		str += fmt.Sprintf("+%#x", s.Offset)
	}
	if s.File != "" {
		str += fmt.Sprintf(" %s:%d", s.File, s.Line)
	}
	return str
}

// Symbols maps addresses to functions and source lines.
type Symbols struct {
	// Bias is subtracted from addresses before lookup. For a
	// position-independent object it is the load address.
	Bias uint64

	funcs   Ranges[string]
	linetab []dwarf.LineEntry
}

// LoadSymbols reads the function table of an ELF executable or
// shared object. It uses DWARF if available and the ELF symbol table
// otherwise.
func LoadSymbols(path string) (*Symbols, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch f.Type {
	case elf.ET_EXEC, elf.ET_DYN:
	default:
		return nil, fmt.Errorf("%s: unsupported ELF type %v", path, f.Type)
	}

	s := new(Symbols)
	if f.Section(".debug_info") != nil || f.Section(".zdebug_info") != nil {
		d, err := f.DWARF()
		if err != nil {
			return nil, fmt.Errorf("%s: loading DWARF: %w", path, err)
		}
		s.addDWARFFuncs(d)
		if s.linetab, err = dwarfLineTable(d); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if s.funcs.Len() == 0 {
		if err := s.addELFFuncs(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return s, nil
}

// AddFunc adds a function covering [lo, hi). C++ names are
// demangled.
func (s *Symbols) AddFunc(lo, hi uint64, name string) {
	s.funcs.Add(lo, hi, demangle.Filter(name))
}

// NumFuncs returns the number of known functions.
func (s *Symbols) NumFuncs() int {
	return s.funcs.Len()
}

// Lookup returns the symbolic location of addr.
func (s *Symbols) Lookup(addr uint64) (sym Symbol, ok bool) {
	if s == nil {
		return sym, false
	}
	addr -= s.Bias
	if lo, _, name, found := s.funcs.Get(addr); found {
		sym.Func, sym.Offset = name, addr-lo
		ok = true
	}
	i := sort.Search(len(s.linetab), func(i int) bool {
		return addr < s.linetab[i].Address
	})
	if i != 0 && !s.linetab[i-1].EndSequence {
		l := &s.linetab[i-1]
		if l.File != nil {
			sym.File = l.File.Name
		}
		sym.Line = l.Line
		ok = true
	}
	return sym, ok
}

func (s *Symbols) addDWARFFuncs(d *dwarf.Data) {
	r := d.Reader()
	for {
		ent, err := r.Next()
		if ent == nil || err != nil {
			break
		}
	tag:
		switch ent.Tag {
		case dwarf.TagSubprogram:
			r.SkipChildren()
			name, ok := ent.Val(dwarf.AttrName).(string)
			if !ok {
				break
			}
			lowpc, ok := ent.Val(dwarf.AttrLowpc).(uint64)
			if !ok {
				break
			}
			var highpc uint64
			switch v := ent.Val(dwarf.AttrHighpc).(type) {
			case uint64:
				highpc = v
			case int64:
				highpc = lowpc + uint64(v)
			default:
				break tag
			}
			s.AddFunc(lowpc, highpc, name)

		case dwarf.TagCompileUnit, dwarf.TagModule, dwarf.TagNamespace:

		default:
			r.SkipChildren()
		}
	}
}

func (s *Symbols) addELFFuncs(f *elf.File) error {
	syms, err := f.Symbols()
	if err != nil {
		if errors.Is(err, elf.ErrNoSymbols) {
			return nil
		}
		return err
	}

	type funcRange struct {
		name          string
		lowpc, highpc uint64
	}
	var funcs []funcRange
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Section == elf.SHN_UNDEF {
			continue
		}
		funcs = append(funcs, funcRange{sym.Name, sym.Value, sym.Value + sym.Size})
	}
	sort.SliceStable(funcs, func(i, j int) bool {
		return funcs[i].lowpc < funcs[j].lowpc
	})

	for i, fn := range funcs {
		if i > 0 && funcs[i-1].lowpc == fn.lowpc {
			// Alias of the previous symbol.
			continue
		}
		if fn.highpc == fn.lowpc {
			fn.highpc++
			for _, next := range funcs[i+1:] {
				if next.lowpc > fn.lowpc {
					fn.highpc = next.lowpc
					break
				}
			}
		}
		s.AddFunc(fn.lowpc, fn.highpc, fn.name)
	}
	return nil
}

func dwarfLineTable(d *dwarf.Data) ([]dwarf.LineEntry, error) {
	var out []dwarf.LineEntry

	dr := d.Reader()
	for {
		ent, err := dr.Next()
		if err != nil {
			return nil, err
		}
		if ent == nil {
			break
		}
		if ent.Tag != dwarf.TagCompileUnit {
			dr.SkipChildren()
			continue
		}

		lr, err := d.LineReader(ent)
		if err != nil {
			return nil, err
		} else if lr == nil {
			continue
		}
		for {
			var lent dwarf.LineEntry
			err := lr.Next(&lent)
			if err == io.EOF {
				break
			} else if err != nil {
				return nil, err
			}
			out = append(out, lent)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Address < out[j].Address
	})
	return out, nil
}
