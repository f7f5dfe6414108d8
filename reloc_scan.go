package elink


// LinkMode is the three-way "rows" axis of spec.md 4.7's policy tables.
type LinkMode int

const (
	ModeExec LinkMode = iota // non-PIE executable
	ModePIE
	ModeDSO
)

// LinkModeOf derives the active link mode from the output Config.
func LinkModeOf(ctx *Context) LinkMode {
	switch {
	case ctx.Config.Output == OutputDSO:
		return ModeDSO
	case ctx.Config.Output == OutputPIE:
		return ModePIE
	default:
		return ModeExec
	}
}

// RefClass is the four-way "columns" axis: what kind of thing a
// relocation's symbol resolves to.
type RefClass int

const (
	RefAbsolute RefClass = iota
	RefLocal
	RefImportedData
	RefImportedCode
)

// ClassifyRef implements spec.md 4.7's column selection: a symbol with no
// owning file segment at all (never defined, converted undefined-weak to
// value 0) is absolute; one imported from a DSO is split into data vs.
// code by isFuncTypeHint; everything else defined in a live object is
// local to the link.
func ClassifyRef(ctx *Context, sym *Symbol) RefClass {
	if sym == nil {
		return RefAbsolute
	}
	if sym.IsImported {
		if sym.IsIFunc {
			return RefImportedCode
		}
		if sym.File != nil && sym.File.Kind == FileShared {
			if isFuncTypeHint(sym) {
				return RefImportedCode
			}
			return RefImportedData
		}
	}
	if sym.Section == nil && sym.Fragment == nil && !sym.IsIFunc {
		return RefAbsolute
	}
	return RefLocal
}

// isFuncTypeHint is a narrow heuristic: imported symbols this linker
// itself never defines carry no STT_* record once resolved, so function
// vs. object is inferred from whether anything ever requested a PLT slot
// for it (only function symbols do, per spec.md 4.7 row 4 "PLT-call").
func isFuncTypeHint(sym *Symbol) bool {
	return sym.Flags.Has(NeedsPLT) || sym.IsIFunc
}

// PolicyTable is one relocation class's 3x4 action grid (spec.md 4.7):
// PolicyTable[mode][refClass] -> Action.
type PolicyTable [3][4]RelocAction

func (pt PolicyTable) Lookup(mode LinkMode, ref RefClass) RelocAction {
	return pt[mode][ref]
}

// ScanResult is what an arch backend's classifier decides for one
// relocation before handing it to RecordScanResult.
type ScanResult struct {
	Class  RelocClass
	Action RelocAction
	Ref    RefClass
	Sym    *Symbol
	// Relaxed is true when the backend already rewrote this site to avoid
	// a GOT/TLS slot (spec.md 4.7 "Relaxation"); RecordScanResult then
	// skips flag accumulation and dynrel reservation entirely.
	Relaxed bool
}

// RecordScanResult applies the architecture-independent half of spec.md
// 4.7: accumulate the symbol's NEEDS_* flags, reserve a `.rela.dyn` slot
// for BASEREL/DYNREL actions, and reject ERROR actions as a diagnostic.
// Arch backends call this once they've classified a relocation and
// resolved its action from their own PolicyTable.
func RecordScanResult(ctx *Context, sec *InputSection, r *Relocation, res ScanResult) error {
	r.Class = res.Class
	r.Action = res.Action
	r.Relaxed = res.Relaxed

	if res.Relaxed {
		return nil
	}

	sym := res.Sym
	if sym != nil && sym.IsIFunc {
		sym.withLock(func() { sym.Flags |= NeedsGOT | NeedsPLT })
	}

	switch res.Action {
	case ActionError:
		return Fatalf("%s: %s: unrepresentable relocation (type %d) against %s in this link mode",
			sec.File.Name, sec.Name, r.Type, symbolDisplayName(sym))
	case ActionBaserel, ActionDynrel:
		reserveRelDyn(sec)
	case ActionCopyrel:
		if sym != nil {
			sym.withLock(func() { sym.Flags |= NeedsCopyrel | NeedsDynsym })
		}
		reserveRelDyn(sec)
	case ActionPLT:
		if sym != nil {
			sym.withLock(func() { sym.Flags |= NeedsPLT | NeedsDynsym })
		}
	}

	switch res.Class {
	case RelGOTIndirect:
		if sym != nil {
			sym.withLock(func() { sym.Flags |= NeedsGOT })
		}
	case RelTLSGD:
		if sym != nil {
			sym.withLock(func() { sym.Flags |= NeedsTLSGD })
		}
	case RelTLSLD:
		if sym != nil {
			sym.withLock(func() { sym.Flags |= NeedsTLSLD })
		}
	case RelTLSIE:
		if sym != nil {
			sym.withLock(func() { sym.Flags |= NeedsGOTTP })
		}
	case RelTLSDESC:
		if sym != nil {
			sym.withLock(func() { sym.Flags |= NeedsTLSDESC })
		}
	}

	if sym != nil && (res.Action == ActionDynrel || res.Ref == RefImportedData || res.Ref == RefImportedCode) {
		sym.withLock(func() { sym.Flags |= NeedsDynsym })
	}
	return nil
}

func symbolDisplayName(sym *Symbol) string {
	if sym == nil {
		return "<fragment>"
	}
	return sym.Name
}

// reserveRelDyn implements "each input section pre-reserves space in
// .rela.dyn ... so the applicator can write into its reserved slice
// without synchronization" (spec.md 4.7). Sections are scanned by exactly
// one goroutine (ScanAll parallelizes per-file, and every section belongs
// to one file), so a plain increment is race-free; the base offset is
// folded in later by a global prefix sum (synthetic.go's AssignRelDynOffsets).
func reserveRelDyn(sec *InputSection) {
	sec.RelDynReserve++
}

// ScanAll drives spec.md 4.7 across every live, allocated InputSection of
// every live file, in parallel across files (spec.md 5).
func ScanAll(ctx *Context) error {
	return ctx.Pool.ForFiles(len(ctx.Files), func(i int) error {
		f := ctx.Files[i]
		if !f.IsAlive {
			return nil
		}
		for _, sec := range f.Sections {
			if sec == nil || !sec.IsAlive || sec.ShFlags&SHF_ALLOC == 0 {
				continue
			}
			for idx := range sec.Relocs {
				if err := ctx.Backend.ScanReloc(ctx, sec, idx); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
