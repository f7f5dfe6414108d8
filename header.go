package elink

import "debug/elf"

// header.go writes the three pieces of the image Layout only reserves
// space for (spec.md 4.9/6): the ELF header, the program header table,
// and the trailing section header table. Everything else in the pipeline
// places section *contents*; this is the last step, run once the image
// is fully sized and every section's final Index is known.

// progHeader is a to-be-serialized Elf64_Phdr (spec.md 6).
type progHeader struct {
	Type   elf.ProgType
	Flags  elf.ProgFlag
	Offset uint64
	Vaddr  uint64
	Filesz uint64
	Memsz  uint64
	Align  uint64
}

// assignSectionIndices fixes every currently-registered OutputSection's
// slot in the section header table (index 0 is the implicit null entry).
// Sections are only ever appended to ctx.outputSections after Layout
// runs (registerTailSections appends `.symtab`/`.strtab`/`.shstrtab`), so
// calling this again after an append leaves every earlier index
// unchanged and just numbers the new tail.
func assignSectionIndices(ctx *Context) {
	for i, os := range ctx.outputSections {
		os.Index = i + 1
	}
}

// rawImageEnd is the file extent of every section Layout has already
// placed, before the symbol-table tail or the section header table are
// accounted for.
func rawImageEnd(ctx *Context) uint64 {
	var max uint64
	for _, os := range ctx.outputSections {
		if os.Type == elf.SHT_NOBITS {
			continue
		}
		if e := os.FileOff + os.Size; e > max {
			max = e
		}
	}
	for _, ms := range ctx.AllMergedSections() {
		if e := ms.Addr + ms.Size; e > max {
			max = e
		}
	}
	return max
}

// registerTailSections appends `.symtab`, `.strtab`, and `.shstrtab` as
// trailing, non-allocated OutputSections past the end of the loadable
// image, the way a real linker places symbol/string tables after every
// PT_LOAD segment (spec.md 6). Their sizes depend on BuildSymtab's
// output, which itself depends on every other section's Index already
// being assigned -- so these three are always the final entries in the
// section header table. Returns the `.shstrtab` contents so the caller
// can look up each section's sh_name offset.
func registerTailSections(ctx *Context, layout *SymtabLayout) *strtabBuilder {
	off := alignUp(rawImageEnd(ctx), 8)

	if !ctx.Config.StripAll {
		symtabOs := ctx.osecFor(osecKey{Name: ".symtab", Type: elf.SHT_SYMTAB})
		symtabOs.Size = uint64(1+len(layout.Locals)+len(layout.Globals)) * symtabSize
		symtabOs.Align = 8
		symtabOs.FileOff = off
		off += symtabOs.Size

		strtabOs := ctx.osecFor(osecKey{Name: ".strtab", Type: elf.SHT_STRTAB})
		strtabOs.Size = uint64(len(layout.Strtab))
		strtabOs.Align = 1
		strtabOs.FileOff = off
		off += strtabOs.Size
	}

	names := newStrtabBuilder()
	for _, os := range ctx.outputSections {
		names.intern(os.Name)
	}
	names.intern(".shstrtab")

	shstrtabOs := ctx.osecFor(osecKey{Name: ".shstrtab", Type: elf.SHT_STRTAB})
	shstrtabOs.Size = uint64(len(names.bytes()))
	shstrtabOs.Align = 1
	shstrtabOs.FileOff = off

	assignSectionIndices(ctx)
	return names
}

// imageSize is the final output file size: rawImageEnd's extent plus the
// trailing section header table spec.md 6 requires (Layout reserves the
// leading ehdrSize+phdrBytes; this is the mirror-image trailing
// reservation).
func imageSize(ctx *Context) uint64 {
	shOff := alignUp(rawImageEnd(ctx), 8)
	shNum := uint64(len(ctx.outputSections) + 1)
	return alignUp(shOff+shNum*shdrSize, 16)
}

// loadSegments groups live allocated OutputSections into the PT_LOAD
// segments Layout's own page-alignment pass implicitly created, using the
// identical opensNewSegment boundary so the two never disagree. The
// first segment always starts at the beginning of the file/image,
// picking up the ELF header, program header table, and any section
// (`.interp`, `.note.*`) Layout placed before the first alloc rank
// triggered a page break.
func loadSegments(ctx *Context) [][]*OutputSection {
	var segs [][]*OutputSection
	lastRank := -1
	for _, os := range ctx.outputSections {
		if os.Flags&SHF_ALLOC == 0 {
			continue
		}
		rank := rankOfOutputSection(os)
		if len(segs) == 0 || (rank != lastRank && opensNewSegment(rank)) {
			segs = append(segs, nil)
		}
		lastRank = rank
		segs[len(segs)-1] = append(segs[len(segs)-1], os)
	}
	return segs
}

func segmentFlags(sections []*OutputSection) elf.ProgFlag {
	flags := PF_R
	for _, os := range sections {
		if os.Flags&SHF_WRITE != 0 {
			flags |= PF_W
		}
		if os.Flags&SHF_EXECINSTR != 0 {
			flags |= PF_X
		}
	}
	return flags
}

// segmentExtent returns a segment's (offset, vaddr, filesz, memsz),
// honoring that a trailing SHT_NOBITS member (.bss/.tbss) contributes to
// memsz but not filesz.
func segmentExtent(ctx *Context, sections []*OutputSection, isFirst bool) (off, vaddr, filesz, memsz uint64) {
	off, vaddr = sections[0].FileOff, sections[0].Addr
	if isFirst {
		off, vaddr = 0, ctx.Config.ImageBase
		if ctx.Config.Output.IsDSO() {
			vaddr = 0
		}
	}
	for _, os := range sections {
		if e := os.Addr + os.Size; e-vaddr > memsz {
			memsz = e - vaddr
		}
		if os.Type == elf.SHT_NOBITS {
			continue
		}
		if e := os.FileOff + os.Size; e-off > filesz {
			filesz = e - off
		}
	}
	return
}

// buildProgramHeaders implements spec.md 6's program-header-table
// requirement: PT_PHDR, one PT_LOAD per Layout-grouped segment, and
// PT_INTERP/PT_TLS/PT_GNU_RELRO/PT_DYNAMIC/PT_GNU_STACK as the
// corresponding sections demand.
func buildProgramHeaders(ctx *Context) []progHeader {
	segs := loadSegments(ctx)
	var rest []progHeader

	for i, sec := range segs {
		off, vaddr, filesz, memsz := segmentExtent(ctx, sec, i == 0)
		rest = append(rest, progHeader{
			Type: PT_LOAD, Flags: segmentFlags(sec),
			Offset: off, Vaddr: vaddr, Filesz: filesz, Memsz: memsz,
			Align: ctx.Backend.Arch().PageSize(),
		})
	}

	if interp := sectionByName(ctx, ".interp"); interp != nil {
		rest = append(rest, progHeader{
			Type: PT_INTERP, Flags: PF_R,
			Offset: interp.FileOff, Vaddr: interp.Addr,
			Filesz: interp.Size, Memsz: interp.Size, Align: 1,
		})
	}

	if tls := tlsExtent(ctx); tls != nil {
		rest = append(rest, *tls)
	}

	if relro := relroExtent(ctx); relro != nil {
		rest = append(rest, *relro)
	}

	if dyn := sectionByName(ctx, ".dynamic"); dyn != nil {
		rest = append(rest, progHeader{
			Type: PT_DYNAMIC, Flags: PF_R | PF_W,
			Offset: dyn.FileOff, Vaddr: dyn.Addr,
			Filesz: dyn.Size, Memsz: dyn.Size, Align: dyn.Align,
		})
	}

	rest = append(rest, progHeader{Type: PT_GNU_STACK, Flags: PF_R | PF_W, Align: 16})

	if len(segs) == 0 {
		return rest
	}
	total := len(rest) + 1
	phdr := progHeader{
		Type: PT_PHDR, Flags: PF_R,
		Offset: ehdrSize, Vaddr: segs[0][0].Addr - segs[0][0].FileOff + ehdrSize,
		Filesz: uint64(total) * phdrSize, Memsz: uint64(total) * phdrSize, Align: 8,
	}
	return append([]progHeader{phdr}, rest...)
}

// tlsExtent builds PT_TLS from ranks 7 (TLS initialized data) and 8 (TLS
// bss), using the addresses bindSyntheticAddresses already resolved.
func tlsExtent(ctx *Context) *progHeader {
	begin, end := ctx.Synthetic.TLSBegin, ctx.Synthetic.TLSEnd
	if end <= begin {
		return nil
	}
	filesz := endOfRank(ctx, 7)
	if filesz <= begin {
		filesz = begin
	}
	tdata := sectionAtRank(ctx, 7)
	off := begin
	if tdata != nil {
		off = tdata.FileOff
	} else if tbss := sectionAtRank(ctx, 8); tbss != nil {
		off = tbss.FileOff
	}
	return &progHeader{
		Type: PT_TLS, Flags: PF_R,
		Offset: off, Vaddr: begin,
		Filesz: filesz - begin, Memsz: end - begin,
		Align: maxAlignOfRanks(ctx, 7, 8),
	}
}

// relroExtent builds PT_GNU_RELRO from ranks 9 (RELRO progbits) and 10
// (RELRO nobits): the dynamic linker remaps this range read-only once
// relocations are applied.
func relroExtent(ctx *Context) *progHeader {
	start := startOfRank(ctx, 9)
	if start == 0 {
		start = startOfRank(ctx, 10)
	}
	end := endOfRank(ctx, 10)
	if end == 0 {
		end = endOfRank(ctx, 9)
	}
	if start == 0 || end <= start {
		return nil
	}
	sec := sectionAtRank(ctx, 9)
	if sec == nil {
		sec = sectionAtRank(ctx, 10)
	}
	return &progHeader{
		Type: PT_GNU_RELRO, Flags: PF_R,
		Offset: sec.FileOff, Vaddr: start,
		Filesz: end - start, Memsz: end - start, Align: 1,
	}
}

func maxAlignOfRanks(ctx *Context, ranks ...int) uint64 {
	var align uint64 = 1
	for _, os := range ctx.outputSections {
		r := rankOfOutputSection(os)
		for _, want := range ranks {
			if r == want && os.Align > align {
				align = os.Align
			}
		}
	}
	return align
}

func sectionAtRank(ctx *Context, rank int) *OutputSection {
	for _, os := range ctx.outputSections {
		if rankOfOutputSection(os) == rank {
			return os
		}
	}
	return nil
}

func sectionByName(ctx *Context, name string) *OutputSection {
	for _, os := range ctx.outputSections {
		if os.Name == name && os.Size > 0 {
			return os
		}
	}
	return nil
}

// buildSectionHeaderTable serializes one Elf64_Shdr per entry in
// ctx.outputSections (plus the implicit null entry at index 0), in the
// order assignSectionIndices numbered them.
func buildSectionHeaderTable(ctx *Context, names *strtabBuilder) []byte {
	buf := make([]byte, (len(ctx.outputSections)+1)*shdrSize)
	for _, os := range ctx.outputSections {
		link, info := sectionLinkInfo(ctx, os)
		entsize := sectionEntsize(os)
		putShdr(buf, os.Index*shdrSize, shdrFields{
			name: names.intern(os.Name), typ: uint32(os.Type), flags: uint64(os.Flags),
			addr: os.Addr, off: os.FileOff, size: os.Size,
			link: link, info: info, align: os.Align, entsize: entsize,
		})
	}
	return buf
}

type shdrFields struct {
	name, typ          uint32
	flags, addr, off   uint64
	size               uint64
	link, info         uint32
	align, entsize     uint64
}

func putShdr(buf []byte, off int, f shdrFields) {
	le32 := func(o int, v uint32) { buf[o] = byte(v); buf[o+1] = byte(v >> 8); buf[o+2] = byte(v >> 16); buf[o+3] = byte(v >> 24) }
	le64 := func(o int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[o+i] = byte(v >> (8 * i))
		}
	}
	le32(off, f.name)
	le32(off+4, f.typ)
	le64(off+8, f.flags)
	le64(off+16, f.addr)
	le64(off+24, f.off)
	le64(off+32, f.size)
	le32(off+40, f.link)
	le32(off+44, f.info)
	le64(off+48, f.align)
	le64(off+56, f.entsize)
}

// sectionLinkInfo fills sh_link/sh_info for the section types that use
// them (spec.md 6): symbol tables link to their string table, relocation
// tables link to the symbol table they index and record their target
// section in sh_info.
func sectionLinkInfo(ctx *Context, os *OutputSection) (link, info uint32) {
	switch os.Name {
	case ".symtab":
		return uint32(indexOf(ctx, ".strtab")), 0
	case ".dynsym":
		return uint32(indexOf(ctx, ".dynstr")), 0
	case ".rela.dyn", ".rel.dyn":
		return uint32(indexOf(ctx, ".dynsym")), 0
	case ".rela.plt", ".rel.plt":
		return uint32(indexOf(ctx, ".dynsym")), uint32(indexOf(ctx, ".plt"))
	case ".dynamic":
		return uint32(indexOf(ctx, ".dynstr")), 0
	case ".hash", ".gnu.hash":
		return uint32(indexOf(ctx, ".dynsym")), 0
	}
	return 0, 0
}

func indexOf(ctx *Context, name string) int {
	if os := sectionByName(ctx, name); os != nil {
		return os.Index
	}
	return 0
}

func sectionEntsize(os *OutputSection) uint64 {
	switch os.Type {
	case elf.SHT_SYMTAB, elf.SHT_DYNSYM:
		return symtabSize
	case elf.SHT_RELA:
		return 24
	case elf.SHT_REL:
		return 8
	case elf.SHT_DYNAMIC:
		return 16
	}
	return 0
}

// WriteELFLayout is the final step of Link (spec.md 4.9/6/8.1): place the
// section header table past the loadable image, then go back and fill in
// the ELF header and program header table the leading
// ehdrSize+phdrBytes region Layout reserved. It must run last, once
// every section's final Index/FileOff/Size is fixed.
func WriteELFLayout(ctx *Context, out *OutBuf) {
	phdrs := buildProgramHeaders(ctx)

	names := newStrtabBuilder()
	for _, os := range ctx.outputSections {
		names.intern(os.Name)
	}
	if shstrtabOs := sectionByName(ctx, ".shstrtab"); shstrtabOs != nil {
		out.WriteAt(shstrtabOs.FileOff, names.bytes())
	}

	shOff := alignUp(rawImageEnd(ctx), 8)
	shBytes := buildSectionHeaderTable(ctx, names)
	out.WriteAt(shOff, shBytes)

	writeProgramHeaders(out, phdrs)
	writeELFHeader(ctx, out, phdrs, shOff, names)
}

func writeProgramHeaders(out *OutBuf, phdrs []progHeader) {
	off := uint64(ehdrSize)
	for _, p := range phdrs {
		if int(off)+phdrSize > len(out.Data) {
			break
		}
		out.PutUint32(off, uint32(p.Type))
		out.PutUint32(off+4, uint32(p.Flags))
		out.PutUint64(off+8, p.Offset)
		out.PutUint64(off+16, p.Vaddr)
		out.PutUint64(off+24, p.Vaddr) // p_paddr: unused, mirrors p_vaddr
		out.PutUint64(off+32, p.Filesz)
		out.PutUint64(off+40, p.Memsz)
		out.PutUint64(off+48, p.Align)
		off += phdrSize
	}
}

func writeELFHeader(ctx *Context, out *OutBuf, phdrs []progHeader, shOff uint64, names *strtabBuilder) {
	out.Data[0] = 0x7f
	out.Data[1] = 'E'
	out.Data[2] = 'L'
	out.Data[3] = 'F'
	out.Data[4] = ELFCLASS64
	out.Data[5] = ELFDATA2LSB
	out.Data[6] = EV_CURRENT
	out.Data[7] = ELFOSABI_NONE
	// bytes 8-15 (ABI version + padding) stay zero.

	out.PutUint16(16, ETypeFor(ctx.Config.Output))
	out.PutUint16(18, ctx.Backend.Arch().ELFMachine())
	out.PutUint32(20, uint32(EV_CURRENT))
	out.PutUint64(24, entryAddress(ctx))
	out.PutUint64(32, ehdrSize)
	out.PutUint64(40, shOff)
	out.PutUint32(48, 0) // e_flags
	out.PutUint16(52, ehdrSize)
	out.PutUint16(54, phdrSize)
	out.PutUint16(56, uint16(len(phdrs)))
	out.PutUint16(58, shdrSize)
	out.PutUint16(60, uint16(len(ctx.outputSections)+1))
	out.PutUint16(62, uint16(indexOf(ctx, ".shstrtab")))
}

func entryAddress(ctx *Context) uint64 {
	if ctx.Config.Output.IsDSO() || ctx.EntrySymbol == nil {
		return 0
	}
	return targetAddress(&Relocation{TargetSym: ctx.EntrySymbol})
}
