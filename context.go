package elink

import "sync"

// Context is the top-level component spec.md 9 asks for: "model [global
// mutable state] as explicit components owned by a top-level Context
// that is threaded through every API. No implicit globals." It replaces
// every piece of package-level mutable state the teacher's flapc
// (VerboseMode, baseAddr, etc.) keeps as bare globals.
type Context struct {
	Config *Config
	Diag   *Diagnostics
	Pool   *Pool
	Backend Backend

	Symbols *Interner[*Symbol]

	// Comdats maps a comdat signature to its arbitration record
	// (spec.md 3.1 ComdatGroup, 4.5).
	Comdats *Interner[*ComdatGroup]

	Files []*InputFile

	// OutputSections is guarded by osecMu (spec.md 5: "the output-section
	// map is guarded by a reader-writer lock").
	osecMu         sync.RWMutex
	outputSections []*OutputSection
	osecByKey      map[osecKey]*OutputSection

	// MergedSections is keyed by canonical output-section name (spec.md
	// 3.1 MergedSection), one per mergeable output bucket (".rodata.str1.1"
	// style sections all collapse into one MergedSection per final name).
	mergedMu       sync.Mutex
	mergedSections map[string]*MergedSection

	// EntrySymbol is the resolved entry-point symbol once layout assigns it
	// an address.
	EntrySymbol *Symbol

	// synthetic holds the builder's working state threaded from
	// synthetic.go through layout.go/apply.go/symtab.go.
	Synthetic *SyntheticSections
}

// NewContext builds a Context for a link, wiring the Backend for
// cfg.Arch (spec.md 9's "capability set parameterized over a target
// descriptor type").
func NewContext(cfg *Config) *Context {
	ctx := &Context{
		Config:         cfg,
		Diag:           &Diagnostics{Verbose: cfg.Verbose},
		Pool:           NewPool(cfg.ThreadCount),
		Backend:        BackendFor(cfg.Arch),
		Symbols:        NewInterner[*Symbol](4096),
		Comdats:        NewInterner[*ComdatGroup](256),
		osecByKey:      make(map[osecKey]*OutputSection),
		mergedSections: make(map[string]*MergedSection),
		Synthetic:      newSyntheticSections(),
	}
	return ctx
}

// InternSymbol returns the canonical *Symbol for name, creating it in its
// initial undefined state if this is the first reference (spec.md 4.1).
func (ctx *Context) InternSymbol(name string) *Symbol {
	return ctx.Symbols.Intern(name, func() *Symbol { return newSymbol(name) })
}

// MergedSectionFor returns (creating if necessary) the MergedSection for
// a canonical output-section name (spec.md 3.1: "MergedSection... owns a
// SectionFragmentInterner").
func (ctx *Context) MergedSectionFor(name string, alignHint uint32) *MergedSection {
	ctx.mergedMu.Lock()
	defer ctx.mergedMu.Unlock()
	ms, ok := ctx.mergedSections[name]
	if !ok {
		ms = newMergedSection(name)
		ctx.mergedSections[name] = ms
	}
	if alignHint > ms.Alignment {
		ms.Alignment = alignHint
	}
	return ms
}

// AllMergedSections returns every MergedSection created so far, in a
// stable (sorted by name) order for deterministic output (spec.md 8.2).
func (ctx *Context) AllMergedSections() []*MergedSection {
	ctx.mergedMu.Lock()
	defer ctx.mergedMu.Unlock()
	out := make([]*MergedSection, 0, len(ctx.mergedSections))
	for _, ms := range ctx.mergedSections {
		out = append(out, ms)
	}
	sortMergedSections(out)
	return out
}
