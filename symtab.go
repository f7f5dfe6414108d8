package elink

import (
	"debug/elf"
	"encoding/binary"
)

// symtabSize is sizeof(Elf64_Sym).
const symtabSize = 24

// SymtabEntry is one row the writer will serialize, already carrying its
// final string-table offset.
type SymtabEntry struct {
	NameOff uint32
	Info    uint8
	Other   uint8
	Shndx   uint16
	Value   uint64
	Size    uint64
}

// SymtabLayout is the prefix-summed plan spec.md 4.11 describes: each
// live file contributes a contiguous run of local symbols, followed by
// one global run shared across the whole link.
type SymtabLayout struct {
	Locals  []SymtabEntry
	Globals []SymtabEntry
	Strtab  []byte

	// FileLocalOffset records where file i's locals begin within
	// Locals, so a second pass (TLS adjustment, relocation against
	// local symbols) can find them without re-deriving the prefix sum.
	FileLocalOffset map[*InputFile]int
}

// BuildSymtab implements spec.md 4.11: walk every live file in a fixed
// order assigning each local symbol a strtab offset and a slot, the way
// the teacher's linker pass lays out its own constant-pool-style tables
// with a running offset rather than two full passes.
func BuildSymtab(ctx *Context) *SymtabLayout {
	layout := &SymtabLayout{FileLocalOffset: make(map[*InputFile]int)}
	strs := newStrtabBuilder()

	if ctx.Config.StripAll {
		return layout
	}

	for _, f := range ctx.Files {
		if !f.IsAlive {
			continue
		}
		layout.FileLocalOffset[f] = len(layout.Locals)
		if ctx.Config.DiscardLocals {
			continue
		}
		for i, sym := range f.Syms {
			if sym == nil || sym.File != f || sym.Binding != BindStrong {
				continue
			}
			if sym.SymIdx != i {
				continue // this slot holds a global alias of another file's local, not this file's own local
			}
			if i < len(f.rawSyms) && elf.ST_BIND(f.rawSyms[i].Info) != elf.STB_LOCAL {
				continue // non-local definitions are emitted by the globals pass below
			}
			if !sym.IsDefined() || isTempLabel(sym.Name) {
				continue
			}
			layout.Locals = append(layout.Locals, entryFor(sym, strs, ctx))
		}
	}

	if !ctx.Config.StripDebug {
		ctx.Symbols.Each(func(_ string, sym *Symbol) {
			if sym == nil || !sym.IsDefined() {
				return
			}
			layout.Globals = append(layout.Globals, entryFor(sym, strs, ctx))
		})
	}

	layout.Strtab = strs.bytes()
	return layout
}

func isTempLabel(name string) bool {
	return len(name) > 2 && name[0] == '.' && (name[1] == 'L' || name[1] == 'l')
}

func entryFor(sym *Symbol, strs *strtabBuilder, ctx *Context) SymtabEntry {
	shndx := uint16(elf.SHN_ABS)
	if sym.Section != nil && sym.Section.OutputSection != nil {
		shndx = uint16(sym.Section.OutputSection.Index)
	}
	bind := elf.STB_LOCAL
	if sym.Binding == BindWeak {
		bind = elf.STB_WEAK
	} else if sym.IsExported || sym.File == nil {
		bind = elf.STB_GLOBAL
	}
	typ := elf.STT_NOTYPE
	if sym.IsIFunc {
		typ = elf.STT_GNU_IFUNC
	}
	return SymtabEntry{
		NameOff: strs.intern(sym.Name),
		Info:    uint8(bind)<<4 | uint8(typ),
		Other:   visibilityByte(sym.Visibility),
		Shndx:   shndx,
		Value:   tlsAdjustedValue(sym, ctx),
	}
}

func visibilityByte(v Visibility) uint8 {
	switch v {
	case VisHidden:
		return uint8(elf.STV_HIDDEN)
	case VisProtected:
		return uint8(elf.STV_PROTECTED)
	default:
		return uint8(elf.STV_DEFAULT)
	}
}

// tlsAdjustedValue implements spec.md 4.11's "a symbol defined in a TLS
// section has its recorded value rewritten to be relative to the TLS
// segment's own base, not the section's load address" rule.
func tlsAdjustedValue(sym *Symbol, ctx *Context) uint64 {
	if sym.Section == nil || sym.Section.ShFlags&SHF_TLS == 0 {
		return sym.Value
	}
	os := sym.Section.OutputSection
	if os == nil {
		return sym.Value
	}
	return (os.Addr + sym.Section.SecOffset + sym.Value) - ctx.Synthetic.TLSBegin
}

// WriteSymtab serializes the prefix-summed layout into `.symtab`/
// `.strtab` at their assigned file offsets.
func WriteSymtab(ctx *Context, layout *SymtabLayout, out *OutBuf) {
	off := findSectionFileOff(ctx, ".symtab")
	if off == 0 && len(layout.Locals) == 0 && len(layout.Globals) == 0 {
		return
	}
	putEntry(out, off, SymtabEntry{}) // index 0 is always the null entry
	i := 1
	for _, e := range layout.Locals {
		putEntry(out, off+uint64(i)*symtabSize, e)
		i++
	}
	for _, e := range layout.Globals {
		putEntry(out, off+uint64(i)*symtabSize, e)
		i++
	}

	strOff := findSectionFileOff(ctx, ".strtab")
	if strOff != 0 {
		out.WriteAt(strOff, layout.Strtab)
	}
}

func putEntry(out *OutBuf, off uint64, e SymtabEntry) {
	if int(off)+symtabSize > len(out.Data) {
		return
	}
	binary.LittleEndian.PutUint32(out.Data[off:], e.NameOff)
	out.Data[off+4] = e.Info
	out.Data[off+5] = e.Other
	binary.LittleEndian.PutUint16(out.Data[off+6:], e.Shndx)
	binary.LittleEndian.PutUint64(out.Data[off+8:], e.Value)
	binary.LittleEndian.PutUint64(out.Data[off+16:], e.Size)
}

// WriteDynsym serializes `.dynsym`/`.dynstr` from the GOT/PLT assignment
// pass's DynsymOrder (spec.md 4.8/4.11).
func WriteDynsym(ctx *Context, out *OutBuf) {
	off := findSectionFileOff(ctx, ".dynsym")
	if off == 0 {
		return
	}
	strs := newStrtabBuilder()
	strs.intern("") // index 0 is the empty string
	putEntry(out, off, SymtabEntry{})
	for i, sym := range ctx.Synthetic.DynsymOrder {
		e := entryFor(sym, strs, ctx)
		e.Shndx = dynsymShndx(sym)
		putEntry(out, off+uint64(i+1)*symtabSize, e)
	}
	if dsOff := findSectionFileOff(ctx, ".dynstr"); dsOff != 0 {
		out.WriteAt(dsOff, strs.bytes())
	}
}

func dynsymShndx(sym *Symbol) uint16 {
	if sym.IsImported {
		return uint16(elf.SHN_UNDEF)
	}
	if sym.Section != nil && sym.Section.OutputSection != nil {
		return uint16(sym.Section.OutputSection.Index)
	}
	return uint16(elf.SHN_ABS)
}

// strtabBuilder dedupes and interns strings into one contiguous string
// table, the simple "scan once, build bytes, remember offsets" shape the
// teacher's own naming/interning helpers use (see interner.go).
type strtabBuilder struct {
	buf     []byte
	offsets map[string]uint32
}

func newStrtabBuilder() *strtabBuilder {
	return &strtabBuilder{buf: []byte{0}, offsets: map[string]uint32{"": 0}}
}

func (b *strtabBuilder) intern(s string) uint32 {
	if off, ok := b.offsets[s]; ok {
		return off
	}
	off := uint32(len(b.buf))
	b.buf = append(b.buf, []byte(s)...)
	b.buf = append(b.buf, 0)
	b.offsets[s] = off
	return off
}

func (b *strtabBuilder) bytes() []byte { return b.buf }
