package elink

import "sync"

// SymbolFlag is the per-request flag bit set spec.md 3.1 assigns to
// Symbol, accumulated by the relocation scanner (spec.md 4.7) and read by
// the synthetic-section builder (spec.md 4.8).
type SymbolFlag uint32

const (
	NeedsGOT SymbolFlag = 1 << iota
	NeedsPLT
	NeedsGOTTP
	NeedsTLSGD
	NeedsTLSLD
	NeedsTLSDESC
	NeedsCopyrel
	NeedsDynsym
)

func (f SymbolFlag) Has(bit SymbolFlag) bool { return f&bit != 0 }

// Visibility mirrors elf.SymVis but gives the three-way "most restrictive
// wins" merge (spec.md 4.3 Phase B) a total order via int value.
type Visibility int

const (
	VisDefault Visibility = iota
	VisProtected
	VisHidden
)

// mergeVisibility implements "the most restrictive visibility ever
// observed wins" (spec.md 4.3): hidden < protected < default in
// restrictiveness order, so the merge picks the max of the two orders
// above (VisHidden being the largest int value here).
func mergeVisibility(a, b Visibility) Visibility {
	if a > b {
		return a
	}
	return b
}

// Binding is the symbol's resolved strong/weak classification (spec.md
// 3.1: "binding deduced from its current definition").
type Binding int

const (
	BindStrong Binding = iota
	BindWeak
)

// Symbol is the canonical, interned-by-name record of spec.md 3.1. Every
// reference to the same name across every input file resolves to the
// same *Symbol pointer for the life of the Context (spec.md 4.1).
type Symbol struct {
	mu sync.Mutex

	Name string

	// File is the owning InputFile once resolved; nil until Phase
	// A/B/D assigns an owner, or permanently nil for an undefined
	// symbol that never found a definition (spec.md 3.1 invariant).
	File *InputFile
	// SymIdx indexes into File's raw symbol table.
	SymIdx int

	Value uint64

	// Defined is set true the moment a registration phase (spec.md 4.3)
	// assigns this symbol a non-undefined owner; it is the literal
	// rendering of the spec.md 3.1 invariant, rather than inferring
	// definedness from a combination of other fields.
	Defined bool

	// Section/Fragment are mutually exclusive: a symbol defined inside
	// a plain section points at Section; one defined inside a split
	// SHF_MERGE section points at Fragment (spec.md 3.1).
	Section  *InputSection
	Fragment *SectionFragment

	Visibility Visibility
	Binding    Binding

	IsLazy     bool
	IsImported bool
	IsExported bool
	HasCopyrel bool
	CopyrelReadonly bool
	IsIFunc    bool

	// VersionIdx is the dynamic-symbol-versioning index (spec.md 3.1);
	// 0 means VER_NDX_GLOBAL (no specific version).
	VersionIdx uint16

	Flags SymbolFlag

	// Aux indices, valid only after the synthetic-section builder phase
	// (spec.md 3.2 "populated only after resolution completes").
	GotIdx    int
	PltIdx    int
	PltGotIdx int
	GotPltIdx int
	DynsymIdx int
	GotTpIdx  int
	TlsGdIdx  int
	TlsDescIdx int

	// AuxIdx is the index into Context's side tables; -1 until
	// assigned.
	AuxIdx int

	Traced bool

	// rank is the internal bookkeeping value from the last successful
	// registration (spec.md 4.3); used to break ties deterministically
	// and to detect duplicate non-weak definitions.
	rank uint32
	rankValid bool
}

// newSymbol constructs an interned symbol in its initial, wholly
// undefined state (rank "undefined" per spec.md 4.3's rank table).
func newSymbol(name string) *Symbol {
	return &Symbol{Name: name, AuxIdx: -1, GotIdx: -1, PltIdx: -1, PltGotIdx: -1,
		GotPltIdx: -1, DynsymIdx: -1, GotTpIdx: -1, TlsGdIdx: -1, TlsDescIdx: -1}
}

// IsDefined reports spec.md 3.1's invariant: "a symbol is defined iff
// owning file is non-null and the corresponding raw symbol entry is not
// undefined."
func (s *Symbol) IsDefined() bool {
	return s.File != nil && s.Defined
}

// resetAux clears the cached per-symbol flags/indices/state on overwrite
// (spec.md 4.3 Phase B: "On overwrite, also reset cached per-symbol
// flags, indices, and the is_imported/is_exported/is_lazy state").
func (s *Symbol) resetAux() {
	s.Flags = 0
	s.IsImported = false
	s.IsExported = false
	s.IsLazy = false
	s.HasCopyrel = false
	s.CopyrelReadonly = false
	s.GotIdx, s.PltIdx, s.PltGotIdx, s.GotPltIdx = -1, -1, -1, -1
	s.DynsymIdx, s.GotTpIdx, s.TlsGdIdx, s.TlsDescIdx = -1, -1, -1, -1
	s.AuxIdx = -1
}

// withLock runs fn while holding the symbol's own lock, the "short mutex
// held only for the duration of a compare-and-swap-like rank test"
// described by spec.md 5.
func (s *Symbol) withLock(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}
