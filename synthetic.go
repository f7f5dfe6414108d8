package elink

import "sort"

// RelaEntry is one wire-format Elf64_Rela entry, shared by `.rela.dyn`
// and `.rela.plt` (spec.md 4.8).
type RelaEntry struct {
	Offset uint64
	Type   uint32
	Sym    uint32
	Addend int64
}

// gotSlotKind distinguishes what a .got slot holds, since TLSGD/TLSDESC
// reserve two consecutive slots and TLSLD reserves a single pair shared
// by the whole link (spec.md 4.8).
type gotSlotKind int

const (
	gotSlotPlain gotSlotKind = iota
	gotSlotTLSGD
	gotSlotTLSDESC
	gotSlotTLSLD
	gotSlotGOTTP
)

// SyntheticSections is the builder's working state (spec.md 4.8),
// threaded through scanning, layout, application, and symbol-table
// writing. Addresses are filled in by linker.go's bindSyntheticAddresses
// once Layout has placed every chunk;
// everything else here is index/size bookkeeping the scanner and builder
// populate.
type SyntheticSections struct {
	GotAddr    uint64
	GotPltAddr uint64
	PltAddr    uint64
	PltGotAddr uint64
	DynsymAddr uint64
	DynstrAddr uint64

	TLSBegin uint64
	TLSEnd   uint64

	GotSlotCount int
	TLSLDSlot    int // -1 until reserved; at most one per link (spec.md 4.8)

	RelaDyn []RelaEntry
	RelaPlt []RelaEntry

	// PltOrder/DynsymOrder record assignment order so the writer (4.11)
	// and PLT/GOT emitters (4.8/9) agree on index <-> symbol mapping.
	PltOrder    []*Symbol
	DynsymOrder []*Symbol

	Interp        string
	BuildID       []byte
	CopyrelBSS    []*Symbol // NeedsCopyrel, CopyrelReadonly == false
	CopyrelRelro  []*Symbol // NeedsCopyrel, CopyrelReadonly == true

	// PltGotCount is the number of `.plt.got` stubs assigned (spec.md
	// 4.8): one per PLT symbol that already carries a direct GOT slot
	// and so skips the lazy-binding `.got.plt` path entirely.
	PltGotCount int

	HashTab   []byte
	GnuHashTab []byte
	Versym    []byte
	Verdef    []byte
}

func newSyntheticSections() *SyntheticSections {
	return &SyntheticSections{TLSLDSlot: -1}
}

// WriteRelaDyn implements the applicator's contract from spec.md 4.7:
// "each input section pre-reserves space in `.rela.dyn`... so the
// applicator can write into its reserved slice without synchronization."
// slot is the absolute index into RelaDyn, already offset by the
// section's RelDynBase.
func (ss *SyntheticSections) WriteRelaDyn(slot int, e RelaEntry) {
	ss.RelaDyn[slot] = e
}

// AssignRelDynOffsets folds every live allocated section's RelDynReserve
// count into a global prefix sum and allocates the backing RelaDyn slice,
// the generic half of spec.md 4.7/4.8's ".rela.dyn sized from the
// scanner's reservation."
func AssignRelDynOffsets(ctx *Context) {
	var total int
	for _, f := range ctx.Files {
		if !f.IsAlive {
			continue
		}
		for _, sec := range f.Sections {
			if sec == nil || !sec.IsAlive || sec.ShFlags&SHF_ALLOC == 0 {
				continue
			}
			sec.RelDynBase = total
			total += sec.RelDynReserve
		}
	}
	ctx.Synthetic.RelaDyn = make([]RelaEntry, total)
}

// AssignGotPltIndices implements spec.md 4.8's GOT/PLT/PLT.GOT/dynsym
// index assignment: walk every live interned symbol once, in a
// deterministic (sorted-by-name) order so output is reproducible across
// runs with the same inputs, and hand out slots per its accumulated flag
// bits.
func AssignGotPltIndices(ctx *Context) {
	if ctx.Synthetic == nil {
		ctx.Synthetic = newSyntheticSections()
	}
	ss := ctx.Synthetic

	var live []*Symbol
	ctx.Symbols.Each(func(_ string, sym *Symbol) {
		if sym.IsDefined() || sym.Flags != 0 {
			live = append(live, sym)
		}
	})
	sort.Slice(live, func(i, j int) bool { return live[i].Name < live[j].Name })

	got := 0
	for _, sym := range live {
		// These flags aren't mutually exclusive -- a symbol can need a
		// plain GOT slot for one reference and a TLS-IE slot for
		// another, so each gets its own independent slot rather than
		// picking a single branch (spec.md 8.1: NEEDS_GOT implies
		// got_idx is always set, regardless of what else the symbol needs).
		if sym.Flags.Has(NeedsTLSGD) {
			sym.TlsGdIdx = got
			got += 2
		}
		if sym.Flags.Has(NeedsTLSDESC) {
			sym.TlsDescIdx = got
			got += 2
		}
		if sym.Flags.Has(NeedsGOTTP) {
			sym.GotTpIdx = got
			got++
		}
		if sym.Flags.Has(NeedsGOT) {
			sym.GotIdx = got
			got++
		}
	}
	if anySymbolNeedsTLSLD(live) {
		ss.TLSLDSlot = got
		got += 2
	}
	ss.GotSlotCount = got

	// .got.plt reserves 3 header slots, then one per PLT symbol that
	// needs lazy binding through it (spec.md 4.8); symbols that already
	// have a direct .got slot get a .plt.got stub instead and skip
	// .got.plt entirely.
	pltIdx := 0
	for _, sym := range live {
		if !sym.Flags.Has(NeedsPLT) {
			continue
		}
		if sym.GotIdx >= 0 {
			sym.PltGotIdx = ss.PltGotCount
			ss.PltGotCount++
			continue
		}
		sym.PltIdx = pltIdx
		sym.GotPltIdx = 3 + pltIdx
		pltIdx++
		ss.PltOrder = append(ss.PltOrder, sym)
	}

	for _, sym := range live {
		if sym.Flags.Has(NeedsDynsym) || sym.IsImported || sym.IsExported {
			sym.DynsymIdx = len(ss.DynsymOrder) + 1 // +1: index 0 is the null entry
			ss.DynsymOrder = append(ss.DynsymOrder, sym)
		}
	}

	ss.RelaPlt = make([]RelaEntry, len(ss.PltOrder))

	for _, sym := range live {
		if !sym.Flags.Has(NeedsCopyrel) {
			continue
		}
		if sym.CopyrelReadonly {
			ss.CopyrelRelro = append(ss.CopyrelRelro, sym)
		} else {
			ss.CopyrelBSS = append(ss.CopyrelBSS, sym)
		}
	}
}

func anySymbolNeedsTLSLD(live []*Symbol) bool {
	for _, sym := range live {
		if sym.Flags.Has(NeedsTLSLD) {
			return true
		}
	}
	return false
}

// BuildInterp sets the `.interp` contents from Config.DynamicLinker, when
// the output is a dynamically linked executable or PIE (spec.md 4.8;
// SPEC_FULL.md's ambient DynamicLinker default).
func BuildInterp(ctx *Context) {
	if ctx.Config.Output == OutputDSO || ctx.Config.DynamicLinker == "" {
		return
	}
	ctx.Synthetic.Interp = ctx.Config.DynamicLinker
}
