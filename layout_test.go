package elink

import (
	"debug/elf"
	"testing"
)

func TestRankOfOutputSectionOrdering(t *testing.T) {
	text := &OutputSection{Name: ".text", Flags: SHF_ALLOC | SHF_EXECINSTR, Type: elf.SHT_PROGBITS}
	rodata := &OutputSection{Name: ".rodata", Flags: SHF_ALLOC, Type: elf.SHT_PROGBITS}
	data := &OutputSection{Name: ".data", Flags: SHF_ALLOC | SHF_WRITE, Type: elf.SHT_PROGBITS}
	bss := &OutputSection{Name: ".bss", Flags: SHF_ALLOC | SHF_WRITE, Type: elf.SHT_NOBITS}
	debugInfo := &OutputSection{Name: ".debug_info", Flags: 0, Type: elf.SHT_PROGBITS}

	if !(rankOfOutputSection(rodata) < rankOfOutputSection(text)) {
		t.Fatalf("read-only data must rank before executable code")
	}
	if !(rankOfOutputSection(text) < rankOfOutputSection(data)) {
		t.Fatalf("executable code must rank before writable data")
	}
	if !(rankOfOutputSection(data) < rankOfOutputSection(bss)) {
		t.Fatalf("writable progbits must rank before writable nobits")
	}
	if rankOfOutputSection(debugInfo) != 13 {
		t.Fatalf("non-alloc section rank = %d, want 13", rankOfOutputSection(debugInfo))
	}
}

func TestOpensNewSegmentOnlyAtTierBoundaries(t *testing.T) {
	for _, r := range []int{5, 7, 9, 11} {
		if !opensNewSegment(r) {
			t.Errorf("rank %d should open a new PT_LOAD", r)
		}
	}
	for _, r := range []int{3, 4, 6, 8, 10, 12, 13} {
		if opensNewSegment(r) {
			t.Errorf("rank %d should not open a new PT_LOAD", r)
		}
	}
}

func TestIsCIdentifier(t *testing.T) {
	cases := map[string]bool{
		".init_array": true,
		".text":       true,
		".rodata.cst8": false, // contains a '.'
		"notasection":  false, // missing leading '.'
	}
	for name, want := range cases {
		if got := isCIdentifier(name); got != want {
			t.Errorf("isCIdentifier(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestLayoutRespectsFileVaddrCongruence(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	ctx.Config.Output = OutputExec

	ro := &OutputSection{Name: ".rodata", Flags: SHF_ALLOC, Type: elf.SHT_PROGBITS, Size: 4, Align: 4}
	text := &OutputSection{Name: ".text", Flags: SHF_ALLOC | SHF_EXECINSTR, Type: elf.SHT_PROGBITS, Size: 16, Align: 16}
	ctx.outputSections = []*OutputSection{ro, text}

	if err := Layout(ctx); err != nil {
		t.Fatalf("Layout: %v", err)
	}

	page := ctx.Backend.Arch().PageSize()
	if text.FileOff%page != text.Addr%page {
		t.Fatalf(".text file offset %#x and address %#x are not page-congruent", text.FileOff, text.Addr)
	}
	if text.Addr <= ro.Addr {
		t.Fatalf(".text (exec) should be placed after .rodata (read-only) by rank")
	}
}
