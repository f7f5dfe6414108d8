package elink

import (
	"bytes"
	"debug/elf"
	"fmt"
)

// FileKind distinguishes the three InputFile flavors the resolver treats
// differently (spec.md 4.3).
type FileKind int

const (
	FileObject FileKind = iota // a regular relocatable object, outside any archive
	FileArchiveMember
	FileShared // a DSO (spec.md 4.3 Phase D)
)

// InputFile is one parsed object or shared object (spec.md 3.1).
type InputFile struct {
	Name string
	Kind FileKind

	raw *elf.File

	Sections []*InputSection
	// Syms holds one Symbol pointer per entry of the raw symbol table:
	// locals point at file-owned *Symbol values not shared with the
	// interner; globals are the interned, shared pointer (spec.md 3.1).
	Syms []*Symbol
	// rawSyms is the parallel raw elf.Symbol table used to recover
	// st_shndx/st_info/st_value during resolution.
	rawSyms []elf.Symbol

	// ComdatClaims maps a comdat signature to the indices of member
	// sections this file claims (spec.md 4.2).
	ComdatClaims map[string][]int

	CIEs []CieRecord
	FDEs []FdeRecord

	IsAlive bool

	// Priority totally orders files (lower wins ties, spec.md 3.1).
	Priority int

	// SONAME, for FileShared (spec.md 4.3 Phase D).
	Soname string
	// Needed records DT_NEEDED entries found in a DSO's own .dynamic,
	// which the driver can use to pull in further DSOs (external to the
	// core per spec.md 1, but the data is parsed here since it lives in
	// the file's own dynamic section).
	Needed []string

	// RelDynOffset reserves this file's slice of .rela.dyn (spec.md
	// 3.1).
	RelDynOffset int

	machine elf.Machine
	class64 bool
}

// ParseInputFile opens and parses one input file's raw bytes as either an
// ELF relocatable object or shared object (spec.md 4.2). It is built on
// debug/elf.NewFile, which already implements the e_shnum==0/e_shstrndx
// escape hatches spec.md 4.2 names explicitly, rather than re-deriving
// them by hand (see elf_const.go's header comment and DESIGN.md).
func ParseInputFile(ctx *Context, name string, data []byte, priority int, kind FileKind) (*InputFile, error) {
	rf, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, Fatalf("%s: malformed ELF: %v", name, err)
	}

	f := &InputFile{
		Name:         name,
		Kind:         kind,
		raw:          rf,
		Priority:     priority,
		IsAlive:      kind != FileArchiveMember,
		ComdatClaims: make(map[string][]int),
		machine:      rf.Machine,
		class64:      rf.Class == elf.ELFCLASS64,
	}

	if kind == FileShared {
		f.Soname = sonameOf(rf)
		f.Needed = neededOf(rf)
	}

	if err := f.parseSections(ctx); err != nil {
		return nil, err
	}
	if err := f.parseSymbols(ctx, kind == FileShared); err != nil {
		return nil, err
	}
	f.linkRelocSymbols()
	if err := f.parseComdats(); err != nil {
		return nil, err
	}
	if err := f.parseEhFrame(); err != nil {
		return nil, err
	}
	return f, nil
}

// excluded reports the SHT_* values spec.md 4.2 excludes from
// InputSection creation outright (symbol/string/relocation/group tables
// are modeled separately; NULL is a padding placeholder).
func excluded(typ elf.SectionType) bool {
	switch typ {
	case elf.SHT_SYMTAB, elf.SHT_STRTAB, elf.SHT_REL, elf.SHT_RELA,
		elf.SHT_NULL, elf.SHT_GROUP, elf.SHT_SYMTAB_SHNDX:
		return true
	}
	return false
}

func (f *InputFile) parseSections(ctx *Context) error {
	f.Sections = make([]*InputSection, len(f.raw.Sections))
	for i, s := range f.raw.Sections {
		if s.Name == ".note.GNU-stack" || excluded(s.Type) {
			continue
		}
		if s.Flags&SHF_EXCLUDE != 0 && s.Flags&SHF_ALLOC == 0 {
			continue
		}
		if ctx.Config.StripDebug && isDebugSection(s.Name) {
			continue
		}

		is := &InputSection{
			File:        f,
			Name:        s.Name,
			ShType:      s.Type,
			ShFlags:     s.Flags,
			ShAddralign: uint32(s.Addralign),
			ShSize:      s.Size,
			EntSize:     s.Entsize,
			IsAlive:     true,
		}

		if s.Type != elf.SHT_NOBITS {
			data, err := sectionData(s)
			if err != nil {
				return Fatalf("%s: %s: %v", f.Name, s.Name, err)
			}
			is.Data = data
			is.ShSize = uint64(len(data))
		}
		f.Sections[i] = is
	}

	// Second pass: attach REL/RELA arrays to their target section via
	// sh_info, as spec.md 4.2 describes.
	for _, s := range f.raw.Sections {
		if s.Type != elf.SHT_REL && s.Type != elf.SHT_RELA {
			continue
		}
		targetIdx := int(s.Link) // debug/elf remaps Link/Info for us below
		_ = targetIdx
	}
	return f.attachRelocations()
}

func isDebugSection(name string) bool {
	return len(name) > 6 && name[:6] == ".debug"
}

// sectionData reads a section's bytes, decompressing SHF_COMPRESSED or
// legacy ".zdebug" content as spec.md 4.2/6 requires. debug/elf's
// Section.Data already decompresses the modern SHF_COMPRESSED form; the
// legacy zdebug form is handled explicitly in compress.go with stdlib
// compress/zlib.
func sectionData(s *elf.Section) ([]byte, error) {
	data, err := s.Data()
	if err != nil {
		return nil, err
	}
	if len(data) > 12 && string(data[:4]) == "ZLIB" {
		return decompressLegacyZdebug(data)
	}
	return data, nil
}

// attachRelocations walks the raw section-header table (not exposed
// structurally by debug/elf beyond Section.Type==SHT_RELA) and decodes
// each relocation entry into our Relocation model. We store the raw
// (offset,type,addend,symidx) here; linkRelocSymbols binds TargetSym once
// parseSymbols has run.
func (f *InputFile) attachRelocations() error {
	for i, s := range f.raw.Sections {
		if s.Type != elf.SHT_RELA && s.Type != elf.SHT_REL {
			continue
		}
		// s.Link is the symtab section (unused here; debug/elf.Symbols()
		// flattens the single SYMTAB already). s.Info names the target
		// section index that owns these relocations.
		targetIdx := int(relInfoTarget(f.raw, i))
		if targetIdx <= 0 || targetIdx >= len(f.Sections) || f.Sections[targetIdx] == nil {
			continue
		}
		target := f.Sections[targetIdx]
		if target.ShFlags&SHF_ALLOC == 0 && !target.IsAlive {
			continue
		}
		raw, err := s.Data()
		if err != nil {
			return err
		}
		relocs, err := decodeRelocs(raw, s.Type == elf.SHT_RELA, f.class64)
		if err != nil {
			return Fatalf("%s: %s: %v", f.Name, s.Name, err)
		}
		if s.Type == elf.SHT_REL {
			fillImplicitAddends(relocs, target.Data)
		}
		target.Relocs = relocs
	}
	return nil
}

// linkRelocSymbols resolves each decoded relocation's raw symbol index
// to this file's Syms entry, now that parseSymbols has run. debug/elf's
// symbol slice omits the null entry at raw index 0, so raw index k is
// Syms[k-1].
func (f *InputFile) linkRelocSymbols() {
	for _, sec := range f.Sections {
		if sec == nil {
			continue
		}
		for i := range sec.Relocs {
			r := &sec.Relocs[i]
			if r.SymIdx > 0 && int(r.SymIdx)-1 < len(f.Syms) {
				r.TargetSym = f.Syms[r.SymIdx-1]
			}
		}
	}
}

// relInfoTarget resolves the sh_info of the i'th raw section header to
// the index of the section it relocates. debug/elf does not expose raw
// sh_info for REL/RELA sections as a typed field, but it is recoverable
// from elf.File.Sections[i] through the package's exported
// SectionHeader.Info (kept verbatim from the section header on read).
func relInfoTarget(rf *elf.File, i int) uint32 {
	return rf.Sections[i].Info
}

func (f *InputFile) parseComdats() error {
	for i, s := range f.raw.Sections {
		if s.Type != elf.SHT_GROUP {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return err
		}
		if len(data) < 4 {
			continue
		}
		flag := le32(data, 0)
		if flag&GRP_COMDAT == 0 {
			return Fatalf("%s: %s: group's first word is not GRP_COMDAT", f.Name, s.Name)
		}
		sigSymIdx := s.Info
		sig := f.comdatSignature(int(sigSymIdx), s.Name)
		var members []int
		for off := 4; off+4 <= len(data); off += 4 {
			members = append(members, int(le32(data, off)))
		}
		f.ComdatClaims[sig] = members
	}
	return nil
}

func le32(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}

// comdatSignature names a comdat group by its signature symbol's name,
// falling back to the group section's own name if the symbol table isn't
// parsed yet (parseComdats runs before parseSymbols only when called
// directly; ParseInputFile's ordering parses symbols first so this is
// always available in practice).
func (f *InputFile) comdatSignature(symIdx int, groupSectionName string) string {
	if symIdx >= 1 && symIdx-1 < len(f.rawSyms) {
		return f.rawSyms[symIdx-1].Name // rawSyms omits the null entry at raw index 0
	}
	return groupSectionName
}

func (f *InputFile) parseSymbols(ctx *Context, shared bool) error {
	var syms []elf.Symbol
	var err error
	if shared {
		syms, err = f.raw.DynamicSymbols()
	} else {
		syms, err = f.raw.Symbols()
	}
	if err != nil && len(syms) == 0 {
		// A relocatable object with no SYMTAB is legal (rare, but
		// permitted); treat as zero symbols rather than fatal.
		syms = nil
	}
	f.rawSyms = syms
	f.Syms = make([]*Symbol, len(syms))

	for i, rs := range syms {
		if rs.Name == "" {
			continue
		}
		if elf.ST_BIND(rs.Info) == elf.STB_LOCAL && !shared {
			sym := newSymbol(rs.Name)
			f.bindLocal(sym, rs, i)
			f.Syms[i] = sym
			continue
		}
		sym := ctx.InternSymbol(rs.Name)
		f.Syms[i] = sym
	}
	return nil
}

func (f *InputFile) bindLocal(sym *Symbol, rs elf.Symbol, idx int) {
	sym.File = f
	sym.SymIdx = idx
	sym.Value = rs.Value
	sym.Visibility = visibilityOf(rs)
	sym.Binding = BindStrong
	if rs.Section != elf.SHN_UNDEF && rs.Section < elf.SectionIndex(len(f.Sections)) {
		sym.Defined = true
		if sec := f.Sections[rs.Section]; sec != nil {
			sym.Section = sec
		}
	}
}

func visibilityOf(rs elf.Symbol) Visibility {
	switch elf.ST_VISIBILITY(byte(rs.Other)) {
	case elf.STV_HIDDEN:
		return VisHidden
	case elf.STV_PROTECTED:
		return VisProtected
	default:
		return VisDefault
	}
}

// DefinedSymbolsIn returns every global Symbol this file owns whose
// definition lives inside sec (used by spec.md 4.6's mergeable-section
// redirection for "global symbols defined in a split section").
func (f *InputFile) DefinedSymbolsIn(sec *InputSection) []*Symbol {
	var out []*Symbol
	for _, s := range f.Syms {
		if s != nil && s.File == f && s.Section == sec {
			out = append(out, s)
		}
	}
	return out
}

func sonameOf(rf *elf.File) string {
	if v, err := rf.DynString(elf.DT_SONAME); err == nil && len(v) > 0 {
		return v[0]
	}
	return ""
}

func neededOf(rf *elf.File) []string {
	v, _ := rf.DynString(elf.DT_NEEDED)
	return v
}

func (f *InputFile) String() string {
	return fmt.Sprintf("InputFile(%s, priority=%d)", f.Name, f.Priority)
}
