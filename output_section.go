package elink

import (
	"debug/elf"
	"sort"
	"sync"
)

// osecKey is the binning key spec.md 4.9 defines: canonical name plus
// flags (SHF_GROUP stripped out, since group membership doesn't survive
// into the output) plus section type.
type osecKey struct {
	Name  string
	Flags elf.SectionFlag
	Type  elf.SectionType
}

// OutputSection is the binned, sized output chunk spec.md 4.9 describes:
// every live InputSection with the same (canonical name, flags, type)
// triple is a member.
type OutputSection struct {
	Name  string
	Flags elf.SectionFlag
	Type  elf.SectionType

	mu      sync.Mutex
	Members []*InputSection

	// Addr/FileOff/Size are assigned by layout.go's global chunk-ordering
	// pass (spec.md 4.9's "address/offset assignment").
	Addr    uint64
	FileOff uint64
	Size    uint64
	Align   uint64

	// Index, once assigned, is this section's slot in the ELF section
	// header table (spec.md 4.8/4.9); -1 until layout runs.
	Index int
}

// keyFor computes an InputSection's binning key (spec.md 4.9).
func keyFor(is *InputSection) osecKey {
	return osecKey{
		Name:  is.OutputName(),
		Flags: is.ShFlags &^ SHF_GROUP,
		Type:  is.ShType,
	}
}

// osecFor looks up or creates the OutputSection for a key, shared-mutex
// lookup escalating to exclusive on miss (spec.md 4.9).
func (ctx *Context) osecFor(key osecKey) *OutputSection {
	ctx.osecMu.RLock()
	if os, ok := ctx.osecByKey[key]; ok {
		ctx.osecMu.RUnlock()
		return os
	}
	ctx.osecMu.RUnlock()

	ctx.osecMu.Lock()
	defer ctx.osecMu.Unlock()
	if os, ok := ctx.osecByKey[key]; ok {
		return os
	}
	os := &OutputSection{Name: key.Name, Flags: key.Flags, Type: key.Type, Index: -1}
	ctx.osecByKey[key] = os
	ctx.outputSections = append(ctx.outputSections, os)
	return os
}

// BinSections implements spec.md 4.9's binning pass: every live
// InputSection of every live file is appended to its OutputSection,
// gathered into per-file local vectors first (each written by exactly one
// task, so the parallel walk takes no lock) and then folded in file order.
func BinSections(ctx *Context) error {
	type local struct {
		key osecKey
		sec *InputSection
	}
	perFile := make([][]local, len(ctx.Files))
	err := ctx.Pool.ForFiles(len(ctx.Files), func(i int) error {
		f := ctx.Files[i]
		if !f.IsAlive {
			return nil
		}
		for _, sec := range f.Sections {
			if sec == nil || !sec.IsAlive {
				continue
			}
			perFile[i] = append(perFile[i], local{keyFor(sec), sec})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, batch := range perFile {
		for _, e := range batch {
			os := ctx.osecFor(e.key)
			os.mu.Lock()
			os.Members = append(os.Members, e.sec)
			os.mu.Unlock()
			e.sec.OutputSection = os
		}
	}
	return nil
}

// SizeOutputSections implements spec.md 4.9's sizing pass: within each
// section, members keep their declared order; offsets are computed with a
// parallel prefix sum over per-slice partial sums. File offsets are exact
// byte counts, so the reduction is a plain uint64 accumulation rather than
// routed through a float64-based summation (see DESIGN.md on why
// go-moremath was dropped rather than kept for this).
func SizeOutputSections(ctx *Context) error {
	return ctx.Pool.ForRange(len(ctx.outputSections), func(i int) error {
		os := ctx.outputSections[i]
		sizeOneOutputSection(os)
		return nil
	})
}

func sizeOneOutputSection(os *OutputSection) {
	const sliceSize = 256
	n := len(os.Members)
	if n == 0 {
		return
	}
	nSlices := (n + sliceSize - 1) / sliceSize
	sliceSizes := make([]uint64, nSlices)
	localOffsets := make([][]uint64, nSlices)

	for s := 0; s < nSlices; s++ {
		lo := s * sliceSize
		hi := lo + sliceSize
		if hi > n {
			hi = n
		}
		offs := make([]uint64, hi-lo)
		var off uint64
		var maxAlign uint64 = 1
		for j, sec := range os.Members[lo:hi] {
			align := uint64(sec.ShAddralign)
			if align == 0 {
				align = 1
			}
			if align > maxAlign {
				maxAlign = align
			}
			off = alignUp(off, align)
			offs[j] = off
			off += sec.ShSize
		}
		localOffsets[s] = offs
		sliceSizes[s] = alignUp(off, maxAlign)
	}

	// Fold the per-slice totals into a prefix sum of slice bases: each
	// base is the exact sum of every earlier slice's size.
	bases := make([]uint64, nSlices)
	var running uint64
	for s := 0; s < nSlices; s++ {
		bases[s] = running
		running += sliceSizes[s]
	}

	var maxAlign uint64 = 1
	for s := 0; s < nSlices; s++ {
		lo := s * sliceSize
		hi := lo + sliceSize
		if hi > n {
			hi = n
		}
		for j, sec := range os.Members[lo:hi] {
			align := uint64(sec.ShAddralign)
			if align > maxAlign {
				maxAlign = align
			}
			sec.SecOffset = bases[s] + localOffsets[s][j]
		}
	}
	os.Size = running
	os.Align = maxAlign
}

// rankOfOutputSection implements spec.md 4.9's 14-tier global ordering.
func rankOfOutputSection(os *OutputSection) int {
	alloc := os.Flags&SHF_ALLOC != 0
	write := os.Flags&SHF_WRITE != 0
	exec := os.Flags&SHF_EXECINSTR != 0
	tls := os.Flags&SHF_TLS != 0
	nobits := os.Type == elf.SHT_NOBITS

	switch {
	case os.Name == ".interp":
		return 3
	case os.Type == elf.SHT_NOTE:
		return 4
	case !alloc:
		return 13
	case !write && !exec:
		return 5
	case !write && exec:
		return 6
	case write && tls && !nobits:
		return 7
	case write && tls && nobits:
		return 8
	case write && isRelroName(os.Name) && !nobits:
		return 9
	case write && isRelroName(os.Name) && nobits:
		return 10
	case write && !nobits:
		return 11
	default:
		return 12
	}
}

func isRelroName(name string) bool {
	switch name {
	case ".data.rel.ro", ".bss.rel.ro", ".got", ".got.plt", ".dynamic", ".init_array", ".fini_array":
		return true
	}
	return false
}

// SortOutputSections orders every chunk by spec.md 4.9's rank table, then
// by (name, type, flags) within a rank for determinism.
func SortOutputSections(ctx *Context) {
	sort.Slice(ctx.outputSections, func(i, j int) bool {
		a, b := ctx.outputSections[i], ctx.outputSections[j]
		ra, rb := rankOfOutputSection(a), rankOfOutputSection(b)
		if ra != rb {
			return ra < rb
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Flags < b.Flags
	})
}
