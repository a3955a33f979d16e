// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package perfsession

import (
	"debug/elf"
	"os"
	"reflect"
	"runtime"
	"strings"
	"testing"
)

func TestSymbolsLookup(t *testing.T) {
	var s Symbols
	s.AddFunc(0x1000, 0x1100, "main.loop")
	s.AddFunc(0x1100, 0x1180, "_ZN3foo3barEv")

	tests := []struct {
		addr uint64
		want string
		ok   bool
	}{
		{0x1000, "main.loop", true},
		{0x1010, "main.loop+0x10", true},
		{0x1104, "foo::bar()+0x4", true},
		{0x2000, "?", false},
	}
	for _, tc := range tests {
		sym, ok := s.Lookup(tc.addr)
		if got := sym.String(); got != tc.want || ok != tc.ok {
			t.Errorf("Lookup(%#x) = %q, %v, want %q, %v", tc.addr, got, ok, tc.want, tc.ok)
		}
	}

	s.Bias = 0x400000
	if sym, ok := s.Lookup(0x401000); !ok || sym.Func != "main.loop" {
		t.Errorf("biased lookup = %v, %v", sym, ok)
	}

	var nilSyms *Symbols
	if _, ok := nilSyms.Lookup(0x1000); ok {
		t.Error("nil Symbols resolved an address")
	}
}

func TestLoadSymbols(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("test binary is not ELF")
	}
	exe, err := os.Executable()
	if err != nil {
		t.Skip(err)
	}
	f, err := elf.Open(exe)
	if err != nil {
		t.Fatal(err)
	}
	typ := f.Type
	f.Close()
	if typ != elf.ET_EXEC {
		t.Skipf("test binary is %v", typ)
	}

	s, err := LoadSymbols(exe)
	if err != nil {
		t.Fatal(err)
	}
	if s.NumFuncs() == 0 {
		t.Fatal("no functions loaded")
	}
	pc := uint64(reflect.ValueOf(TestLoadSymbols).Pointer())
	sym, ok := s.Lookup(pc)
	if !ok || !strings.HasSuffix(sym.Func, "perfsession.TestLoadSymbols") {
		t.Errorf("Lookup(%#x) = %v, %v, want TestLoadSymbols", pc, sym, ok)
	}
}

func TestLoadSymbolsNotELF(t *testing.T) {
	if _, err := LoadSymbols("symbols_test.go"); err == nil {
		t.Error("loaded symbols from a Go source file")
	}
}
