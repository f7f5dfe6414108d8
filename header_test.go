package elink

import (
	"debug/elf"
	"testing"
)

func TestAssignSectionIndicesStartsAtOne(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	ctx.outputSections = []*OutputSection{
		{Name: ".text", Index: -1},
		{Name: ".data", Index: -1},
	}
	assignSectionIndices(ctx)
	if ctx.outputSections[0].Index != 1 || ctx.outputSections[1].Index != 2 {
		t.Fatalf("got indices %d, %d; want 1, 2", ctx.outputSections[0].Index, ctx.outputSections[1].Index)
	}
}

func TestRawImageEndSkipsNobits(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	ctx.outputSections = []*OutputSection{
		{Name: ".text", Type: elf.SHT_PROGBITS, FileOff: 0x1000, Size: 0x100},
		{Name: ".bss", Type: elf.SHT_NOBITS, FileOff: 0x1100, Size: 0x1000},
	}
	if got := rawImageEnd(ctx); got != 0x1100 {
		t.Fatalf("rawImageEnd = %#x, want %#x (SHT_NOBITS must not extend the file image)", got, 0x1100)
	}
}

func TestLoadSegmentsGroupsAtRankBoundaries(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	ro := &OutputSection{Name: ".rodata", Flags: SHF_ALLOC, Type: elf.SHT_PROGBITS}
	text := &OutputSection{Name: ".text", Flags: SHF_ALLOC | SHF_EXECINSTR, Type: elf.SHT_PROGBITS}
	data := &OutputSection{Name: ".data", Flags: SHF_ALLOC | SHF_WRITE, Type: elf.SHT_PROGBITS}
	debug := &OutputSection{Name: ".debug_info", Flags: 0, Type: elf.SHT_PROGBITS}
	ctx.outputSections = []*OutputSection{ro, text, data, debug}

	segs := loadSegments(ctx)
	if len(segs) != 2 {
		t.Fatalf("got %d PT_LOAD groups, want 2 (.rodata+.text share one segment since rank 6 doesn't open a new one | .data starts a new one at rank 11, .debug_info excluded as non-alloc)", len(segs))
	}
	if segs[0][0] != ro || segs[0][1] != text || segs[1][0] != data {
		t.Fatalf("unexpected segment grouping: %+v", segs)
	}
}

func TestSegmentFlagsUnionsPermissions(t *testing.T) {
	sections := []*OutputSection{
		{Flags: SHF_ALLOC | SHF_EXECINSTR},
		{Flags: SHF_ALLOC | SHF_WRITE},
	}
	flags := segmentFlags(sections)
	if flags&PF_R == 0 || flags&PF_W == 0 || flags&PF_X == 0 {
		t.Fatalf("segmentFlags = %v, want PF_R|PF_W|PF_X", flags)
	}
}

func TestBuildProgramHeadersAlwaysIncludesGNUStack(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	ctx.outputSections = []*OutputSection{
		{Name: ".text", Flags: SHF_ALLOC | SHF_EXECINSTR, Type: elf.SHT_PROGBITS, Addr: 0x401000, FileOff: 0x1000, Size: 0x10},
	}
	phdrs := buildProgramHeaders(ctx)
	var sawStack, sawExecBit bool
	for _, p := range phdrs {
		if p.Type == PT_GNU_STACK {
			sawStack = true
			if p.Flags&PF_X != 0 {
				sawExecBit = true
			}
		}
	}
	if !sawStack {
		t.Fatalf("PT_GNU_STACK must always be present")
	}
	if sawExecBit {
		t.Fatalf("PT_GNU_STACK must default to non-executable")
	}
}

func TestBuildProgramHeadersOmitsAbsentOptionalSegments(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	ctx.outputSections = []*OutputSection{
		{Name: ".text", Flags: SHF_ALLOC | SHF_EXECINSTR, Type: elf.SHT_PROGBITS, Addr: 0x401000, FileOff: 0x1000, Size: 0x10},
	}
	phdrs := buildProgramHeaders(ctx)
	for _, p := range phdrs {
		switch p.Type {
		case PT_INTERP, PT_TLS, PT_GNU_RELRO, PT_DYNAMIC:
			t.Errorf("unexpected %v segment with no backing section", p.Type)
		}
	}
}

func TestSectionLinkInfoWiresSymtabToStrtab(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	symtab := &OutputSection{Name: ".symtab", Type: elf.SHT_SYMTAB, Size: 1, Index: 1}
	strtab := &OutputSection{Name: ".strtab", Type: elf.SHT_STRTAB, Size: 1, Index: 2}
	ctx.outputSections = []*OutputSection{symtab, strtab}

	link, info := sectionLinkInfo(ctx, symtab)
	if link != 2 || info != 0 {
		t.Fatalf("sectionLinkInfo(.symtab) = (%d, %d), want (2, 0)", link, info)
	}
}

func TestSectionEntsizeMatchesElfStructSizes(t *testing.T) {
	cases := []struct {
		typ  elf.SectionType
		want uint64
	}{
		{elf.SHT_SYMTAB, 24},
		{elf.SHT_DYNSYM, 24},
		{elf.SHT_RELA, 24},
		{elf.SHT_REL, 8},
		{elf.SHT_DYNAMIC, 16},
		{elf.SHT_PROGBITS, 0},
	}
	for _, c := range cases {
		if got := sectionEntsize(&OutputSection{Type: c.typ}); got != c.want {
			t.Errorf("sectionEntsize(%v) = %d, want %d", c.typ, got, c.want)
		}
	}
}

func TestImageSizeReservesSectionHeaderTable(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	ctx.outputSections = []*OutputSection{
		{Name: ".text", Type: elf.SHT_PROGBITS, FileOff: 0, Size: 0x40},
	}
	got := imageSize(ctx)
	want := alignUp(alignUp(0x40, 8)+uint64(len(ctx.outputSections)+1)*shdrSize, 16)
	if got != want {
		t.Fatalf("imageSize = %#x, want %#x", got, want)
	}
}
