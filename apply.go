package elink

import "debug/elf"

// Apply implements spec.md 4.10: allocate the final output image, copy
// every live section's bytes into place, write the synthetic tables, and
// run the per-architecture relocation applicator over every live section
// in parallel.
func Apply(ctx *Context) (*OutBuf, error) {
	total := imageSize(ctx)
	out := NewOutBuf(total)

	copySectionData(ctx, out)
	WriteGOT(ctx, out)
	WritePLT(ctx, out)
	WriteDynamic(ctx, out)

	if err := ctx.Pool.ForFiles(len(ctx.Files), func(i int) error {
		f := ctx.Files[i]
		if !f.IsAlive {
			return nil
		}
		for _, sec := range f.Sections {
			if sec == nil || !sec.IsAlive || sec.ShType == elf.SHT_NOBITS {
				continue
			}
			apply := ctx.Backend.ApplyNonAlloc
			if sec.ShFlags&SHF_ALLOC != 0 {
				apply = ctx.Backend.ApplyAlloc
			}
			for idx := range sec.Relocs {
				if err := apply(ctx, sec, idx, out.Data); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	writeRelocationTables(ctx, out)
	return out, nil
}

// copySectionData implements the "copy every live member's bytes to its
// assigned file offset" half of spec.md 4.9/4.10, ahead of relocation.
func copySectionData(ctx *Context, out *OutBuf) {
	for _, os := range ctx.outputSections {
		if os.Type == elf.SHT_NOBITS {
			continue
		}
		for _, sec := range os.Members {
			if sec.Data == nil {
				continue
			}
			out.WriteAt(os.FileOff+sec.SecOffset, sec.Data)
		}
	}
	for _, ms := range ctx.AllMergedSections() {
		for _, f := range ms.Fragments() {
			out.WriteAt(ms.Addr+f.Offset, f.Bytes)
		}
	}
}

// WriteGOT fills `.got`'s plain NEEDS_GOT slots with each symbol's
// resolved address (spec.md 4.8). TLSGD/TLSDESC/GOTTP/TLSLD slots are
// runtime-relocated (DTPMOD64/DTPOFF64/TPOFF64) via `.rela.dyn` rather
// than filled here.
func WriteGOT(ctx *Context, out *OutBuf) {
	base := ctx.Synthetic.GotAddr
	gotOff := findSectionFileOff(ctx, ".got")
	if gotOff == 0 && base == 0 {
		return
	}
	ctx.Symbols.Each(func(_ string, sym *Symbol) {
		if sym.GotIdx < 0 || !sym.Flags.Has(NeedsGOT) {
			return
		}
		slot := gotOff + uint64(sym.GotIdx)*8
		if int(slot)+8 > len(out.Data) {
			return
		}
		out.PutUint64(slot, targetAddress(&Relocation{TargetSym: sym}))
	})
}

// WritePLT emits the PLT header stub and one stub per PLT-assigned
// symbol (spec.md 4.8), plus `.plt.got` stubs for symbols that skip lazy
// binding because they already carry a direct GOT slot.
func WritePLT(ctx *Context, out *OutBuf) {
	pltOff := findSectionFileOff(ctx, ".plt")
	gotPltOff := findSectionFileOff(ctx, ".got.plt")
	if pltOff == 0 && gotPltOff == 0 {
		return
	}
	pltBuf := &OutBuf{Data: out.Data[pltOff:]}
	ctx.Backend.EmitPLTHeader(pltBuf, ctx.Synthetic.GotPltAddr, ctx.Synthetic.PltAddr)
	for i, sym := range ctx.Synthetic.PltOrder {
		ctx.Backend.EmitPLTEntry(pltBuf, sym, ctx.Synthetic.GotPltAddr, ctx.Synthetic.PltAddr, i)
	}

	pltGotOff := findSectionFileOff(ctx, ".plt.got")
	if pltGotOff != 0 {
		pltGotBuf := &OutBuf{Data: out.Data[pltGotOff:]}
		ctx.Symbols.Each(func(_ string, sym *Symbol) {
			if sym.PltGotIdx >= 0 && sym.Flags.Has(NeedsPLT) && sym.GotIdx >= 0 {
				ctx.Backend.EmitPLTGOTEntry(pltGotBuf, sym)
			}
		})
	}
}

// WriteDynamic assembles `.dynamic`'s DT_* entries from the Config's
// arg-set flags (spec.md 4.8).
func WriteDynamic(ctx *Context, out *OutBuf) {
	off := findSectionFileOff(ctx, ".dynamic")
	if off == 0 {
		return
	}
	var entries []dynEntry
	if ctx.Config.Soname != "" {
		entries = append(entries, dynEntry{DT_SONAME, 0})
	}
	for range ctx.Config.NeededLibs {
		entries = append(entries, dynEntry{DT_NEEDED, 0})
	}
	if ctx.Config.Rpath != "" {
		entries = append(entries, dynEntry{DT_RPATH, 0})
	}
	if ctx.Config.Runpath != "" {
		entries = append(entries, dynEntry{DT_RUNPATH, 0})
	}
	entries = append(entries,
		dynEntry{DT_HASH, 0},
		dynEntry{DT_GNU_HASH, 0},
		dynEntry{DT_STRTAB, ctx.Synthetic.DynstrAddr},
		dynEntry{DT_SYMTAB, ctx.Synthetic.DynsymAddr},
	)
	// i386 (REL psABI) stores dynamic relocations 8 bytes/entry with no
	// addend column; x86-64/aarch64 (RELA) store 24 bytes/entry with an
	// explicit addend (spec.md 6's DT_REL*/DT_RELA* split).
	if ctx.Backend.Arch().UsesRela() {
		entries = append(entries,
			dynEntry{DT_RELA, 0},
			dynEntry{DT_RELASZ, uint64(len(ctx.Synthetic.RelaDyn)) * 24},
			dynEntry{DT_RELAENT, 24},
			dynEntry{DT_RELACOUNT, uint64(countRelative(ctx.Synthetic.RelaDyn))},
		)
	} else {
		entries = append(entries,
			dynEntry{DT_REL, 0},
			dynEntry{DT_RELSZ, uint64(len(ctx.Synthetic.RelaDyn)) * 8},
			dynEntry{DT_RELENT, 8},
			dynEntry{DT_RELCOUNT, uint64(countRelative(ctx.Synthetic.RelaDyn))},
		)
	}
	if len(ctx.Synthetic.RelaPlt) > 0 {
		entries = append(entries, dynEntry{DT_JMPREL, 0})
		if ctx.Backend.Arch().UsesRela() {
			entries = append(entries, dynEntry{DT_PLTRELSZ, uint64(len(ctx.Synthetic.RelaPlt)) * 24}, dynEntry{DT_PLTREL, uint64(elf.DT_RELA)})
		} else {
			entries = append(entries, dynEntry{DT_PLTRELSZ, uint64(len(ctx.Synthetic.RelaPlt)) * 8}, dynEntry{DT_PLTREL, uint64(elf.DT_REL)})
		}
	}
	entries = append(entries, dynEntry{DT_NULL, 0})

	for i, e := range entries {
		slot := off + uint64(i)*16
		if int(slot)+16 > len(out.Data) {
			break
		}
		out.PutUint64(slot, uint64(e.tag))
		out.PutUint64(slot+8, e.val)
	}
}

type dynEntry struct {
	tag elf.DynTag
	val uint64
}

func countRelative(entries []RelaEntry) int {
	n := 0
	for _, e := range entries {
		if e.Sym == 0 {
			n++
		}
	}
	return n
}

func findSectionFileOff(ctx *Context, name string) uint64 {
	for _, os := range ctx.outputSections {
		if os.Name == name {
			return os.FileOff
		}
	}
	return 0
}

// writeRelocationTables serializes `.rela.dyn`/`.rela.plt` (or, on a REL
// psABI like i386, `.rel.dyn`/`.rel.plt`) into the image once every
// applicator goroutine has finished writing its reserved slice (spec.md
// 4.7/4.8).
func writeRelocationTables(ctx *Context, out *OutBuf) {
	rela := ctx.Backend.Arch().UsesRela()
	writeRelaTable(ctx, out, relocTableName(rela, ".rela.dyn"), ctx.Synthetic.RelaDyn, rela)
	writeRelaTable(ctx, out, relocTableName(rela, ".rela.plt"), ctx.Synthetic.RelaPlt, rela)
}

func relocTableName(rela bool, relaName string) string {
	if rela {
		return relaName
	}
	return ".rel" + relaName[len(".rela"):]
}

// writeRelaTable serializes entries in either Elf64_Rela (24 bytes,
// explicit addend) or Elf32_Rel (8 bytes, addend left implicit in the
// relocated location -- already written there by ApplyAlloc) form.
func writeRelaTable(ctx *Context, out *OutBuf, name string, entries []RelaEntry, rela bool) {
	off := findSectionFileOff(ctx, name)
	if off == 0 && len(entries) == 0 {
		return
	}
	stride := uint64(8)
	if rela {
		stride = 24
	}
	for i, e := range entries {
		slot := off + uint64(i)*stride
		if int(slot)+int(stride) > len(out.Data) {
			break
		}
		if rela {
			out.PutUint64(slot, e.Offset)
			out.PutUint64(slot+8, uint64(e.Type)|uint64(e.Sym)<<32)
			out.PutUint64(slot+16, uint64(e.Addend))
		} else {
			out.PutUint32(slot, uint32(e.Offset))
			out.PutUint32(slot+4, uint32(e.Type)|uint32(e.Sym)<<8)
		}
	}
}
