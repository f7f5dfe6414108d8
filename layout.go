package elink

import "debug/elf"

const (
	ehdrSize  = 64 // Elf64_Ehdr
	phdrSize  = 56 // Elf64_Phdr
	shdrSize  = 64 // Elf64_Shdr
)

// Layout implements spec.md 4.9's address/offset assignment pass: walk
// every output chunk in global rank order, place it following the
// PT_LOAD/alignment/file-offset congruence rules, and bind the synthetic
// marker symbols spec.md 4.9 names once addresses are final.
func Layout(ctx *Context) error {
	SortOutputSections(ctx)

	base := ctx.Config.ImageBase
	if ctx.Config.Output.IsDSO() {
		base = 0
	}
	page := ctx.Backend.Arch().PageSize()

	addr := base
	off := uint64(0)
	lastRank := -1

	// The ELF header and the program header table open the image and
	// always occupy the first PT_LOAD segment (rank 1 and 2).
	off += ehdrSize
	addr += ehdrSize
	numLoads := countLoadSegments(ctx)
	// +6: PT_PHDR, PT_INTERP, PT_TLS, PT_GNU_RELRO, PT_DYNAMIC, PT_GNU_STACK
	// headroom -- numLoads already over-counts real PT_LOAD groups (one per
	// rank 5..12 present rather than per opensNewSegment group), so this is
	// generous; the writer (header.go) computes the real count and never
	// exceeds what's reserved here.
	phdrBytes := uint64(numLoads+6) * phdrSize
	off += phdrBytes
	addr += phdrBytes

	for _, os := range ctx.outputSections {
		rank := rankOfOutputSection(os)
		if rank != lastRank && opensNewSegment(rank) {
			addr = alignUp(addr, page)
			off = alignUp(off, page)
			// File/virtual congruence (spec.md 4.9): once a new PT_LOAD
			// starts, the file offset's low bits must match the virtual
			// address's low bits modulo the page size.
			if m := addr % page; off%page != m {
				off += (m + page - off%page) % page
			}
		}
		lastRank = rank

		align := os.Align
		if align == 0 {
			align = 1
		}
		addr = alignUp(addr, align)
		if rank != 8 { // TBSS (rank 8) consumes no file space and overlays vaddr for subsequent sections, spec.md 4.9
			off = alignUp(off, align)
		}

		os.Addr = addr
		os.FileOff = off

		if os.Type != elf.SHT_NOBITS {
			off += os.Size
		}
		if rank != 8 {
			addr += os.Size
		}
	}

	for _, ms := range ctx.AllMergedSections() {
		ms.Addr = addr
		addr = alignUp(addr+ms.Size, uint64(ms.Alignment))
	}

	shOff := alignUp(off, 8)
	_ = shOff // unused here; header.go's WriteELFLayout computes the section-header offset itself

	assignMarkerSymbols(ctx, addr, off)
	return nil
}

// countLoadSegments estimates the number of PT_LOAD segments a link will
// need: one per distinct alloc rank 5..12 present (spec.md 4.9's alloc
// tiers), at least 1. This is not an exact count of opensNewSegment
// groups; with several of those ranks present it over-counts them.
func countLoadSegments(ctx *Context) int {
	seen := map[int]bool{}
	for _, os := range ctx.outputSections {
		r := rankOfOutputSection(os)
		if r >= 5 && r <= 12 {
			seen[r] = true
		}
	}
	if len(seen) == 0 {
		return 1
	}
	return len(seen)
}

func opensNewSegment(rank int) bool {
	switch rank {
	case 5, 7, 9, 11:
		return true
	default:
		return false
	}
}

// assignMarkerSymbols binds spec.md 4.9's synthetic marker symbols, but
// only for names already referenced somewhere in the link (so a program
// that never mentions `_edata` doesn't force a definition that collides
// with anything).
func assignMarkerSymbols(ctx *Context, end, fileEnd uint64) {
	markers := map[string]uint64{
		"_end":        end,
		"_etext":      endOfRank(ctx, 6),
		"_edata":      endOfRank(ctx, 11),
		"__bss_start": startOfRank(ctx, 12),
		"_DYNAMIC":    addrOfSection(ctx, ".dynamic"),
		"_GLOBAL_OFFSET_TABLE_": ctx.Synthetic.GotAddr,
		"__ehdr_start":          ctx.Config.ImageBase,
		"__executable_start":    ctx.Config.ImageBase,
		"__init_array_start":    addrOfSection(ctx, ".init_array"),
		"__init_array_end":      endOfSection(ctx, ".init_array"),
		"__fini_array_start":    addrOfSection(ctx, ".fini_array"),
		"__fini_array_end":      endOfSection(ctx, ".fini_array"),
	}
	for name, value := range markers {
		sym, ok := ctx.Symbols.Lookup(name)
		if !ok || sym.IsDefined() {
			continue
		}
		sym.withLock(func() {
			sym.Value = value
			sym.Defined = true
			sym.Section = nil
			sym.Binding = BindStrong
			sym.rankValid = true
		})
	}

	bindStartStopSymbols(ctx)
}

// bindStartStopSymbols implements the `__start_X`/`__stop_X` convention
// (spec.md 4.9) for every C-identifier-safe section name that's actually
// referenced.
func bindStartStopSymbols(ctx *Context) {
	for _, os := range ctx.outputSections {
		if !isCIdentifier(os.Name) {
			continue
		}
		base := os.Name[1:] // drop leading '.'
		bindIfReferenced(ctx, "__start_"+base, os.Addr)
		bindIfReferenced(ctx, "__stop_"+base, os.Addr+os.Size)
	}
}

func bindIfReferenced(ctx *Context, name string, value uint64) {
	sym, ok := ctx.Symbols.Lookup(name)
	if !ok || sym.IsDefined() {
		return
	}
	sym.withLock(func() {
		sym.Value = value
		sym.Defined = true
		sym.Binding = BindWeak
		sym.rankValid = true
	})
}

func isCIdentifier(name string) bool {
	if len(name) < 2 || name[0] != '.' {
		return false
	}
	for _, r := range name[1:] {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func endOfRank(ctx *Context, rank int) uint64 {
	var end uint64
	for _, os := range ctx.outputSections {
		if rankOfOutputSection(os) == rank {
			if e := os.Addr + os.Size; e > end {
				end = e
			}
		}
	}
	return end
}

func startOfRank(ctx *Context, rank int) uint64 {
	for _, os := range ctx.outputSections {
		if rankOfOutputSection(os) == rank {
			return os.Addr
		}
	}
	return 0
}

func addrOfSection(ctx *Context, name string) uint64 {
	for _, os := range ctx.outputSections {
		if os.Name == name {
			return os.Addr
		}
	}
	return 0
}

func endOfSection(ctx *Context, name string) uint64 {
	for _, os := range ctx.outputSections {
		if os.Name == name {
			return os.Addr + os.Size
		}
	}
	return 0
}
