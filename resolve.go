package elink

import "debug/elf"

// rank encodes spec.md 4.3's table: lower numeric rank always wins a
// registration race, with file priority as the tiebreaker within a kind.
//   strong definition : (1<<24) | file.priority
//   common             : (2<<24) | file.priority
//   weak definition    : (3<<24) | file.priority
//   archive (lazy)      : (4<<24) | file.priority
const (
	rankStrong = uint32(1) << 24
	rankCommon = uint32(2) << 24
	rankWeak   = uint32(3) << 24
	rankLazy   = uint32(4) << 24
)

func rankOf(kind uint32, priority int) uint32 { return kind | uint32(priority) }

// classifyDefinitionRank maps a defined raw symbol to its rank-table kind
// (spec.md 4.3): STT_COMMON is ranked below a strong definition but above
// a weak one, regardless of its own binding.
func classifyDefinitionRank(rs elf.Symbol) uint32 {
	if elf.ST_TYPE(rs.Info) == STT_COMMON || rs.Section == SHN_COMMON {
		return rankCommon
	}
	if elf.ST_BIND(rs.Info) == elf.STB_WEAK {
		return rankWeak
	}
	return rankStrong
}

func rawSymDefined(rs elf.Symbol) bool {
	return rs.Section != SHN_UNDEF
}

// installDefinition overwrites sym's registration in place. Caller must
// already hold sym's lock. Per spec.md 4.3 Phase B, an overwrite resets
// every cached per-symbol flag and aux index.
func installDefinition(sym *Symbol, f *InputFile, idx int, rs elf.Symbol, kind uint32, lazy bool) {
	sym.resetAux()
	sym.File = f
	sym.SymIdx = idx
	sym.Value = rs.Value
	sym.Defined = !lazy
	sym.IsLazy = lazy
	sym.Binding = BindStrong
	if kind == rankWeak {
		sym.Binding = BindWeak
	}
	if !lazy && rs.Section != SHN_UNDEF && rs.Section != SHN_COMMON && int(rs.Section) < len(f.Sections) {
		sym.Section = f.Sections[rs.Section]
	} else {
		sym.Section = nil
	}
	sym.Fragment = nil
	sym.rank = rankOf(kind, f.Priority)
	sym.rankValid = true
}

// applyWrapSymbols implements SPEC_FULL.md's --wrap=symbol supplement: for
// every name in Config.WrapSymbols, every file's undefined reference to
// `name` is rewritten to `__wrap_name`, and every undefined reference to
// `__real_name` is rewritten to `name`; definitions keep their own names,
// matching GNU ld's behavior of swapping the references before resolution
// ever runs.
func applyWrapSymbols(ctx *Context) {
	for _, name := range ctx.Config.WrapSymbols {
		wrapName := "__wrap_" + name
		realName := "__real_" + name
		for _, f := range ctx.Files {
			for i, rs := range f.rawSyms {
				if rs.Name != name || elf.ST_BIND(rs.Info) == elf.STB_LOCAL || rawSymDefined(rs) {
					continue
				}
				f.rawSyms[i].Name = wrapName
				f.Syms[i] = ctx.InternSymbol(wrapName)
			}
			for i, rs := range f.rawSyms {
				if rs.Name == realName && !rawSymDefined(rs) {
					f.rawSyms[i].Name = name
					f.Syms[i] = ctx.InternSymbol(name)
				}
			}
		}
	}
}

// Resolve runs the four-phase resolution protocol of spec.md 4.3. Phases
// A, B and D are parallel across files via ctx.Pool; Phase C walks its
// work queue on the calling goroutine. Phases run
// strictly in order (spec.md 5: "each phase begins only after the prior
// phase has drained").
func Resolve(ctx *Context) error {
	applyWrapSymbols(ctx)

	var archives, objects, dsos []*InputFile
	for _, f := range ctx.Files {
		switch f.Kind {
		case FileArchiveMember:
			archives = append(archives, f)
		case FileShared:
			dsos = append(dsos, f)
		default:
			objects = append(objects, f)
		}
	}

	if err := resolvePhaseA(ctx, archives); err != nil {
		return err
	}
	if err := resolvePhaseB(ctx, objects); err != nil {
		return err
	}
	resolvePhaseC(ctx, objects)
	if err := resolvePhaseD(ctx, dsos); err != nil {
		return err
	}
	convertUndefinedWeak(ctx)
	return nil
}

// resolvePhaseA is spec.md 4.3 Phase A: lazy registration for archive
// members. A member's defined globals are installed as lazy placeholders
// so Phase C can pull the whole member in later if something ends up
// needing one of them; a lower-priority archive member wins ties over a
// higher-priority one already holding the lazy slot.
func resolvePhaseA(ctx *Context, archives []*InputFile) error {
	return ctx.Pool.ForFiles(len(archives), func(i int) error {
		f := archives[i]
		for idx, sym := range f.Syms {
			if sym == nil || (sym.File == f && !sym.IsLazy) {
				continue // local symbol, already bound in bindLocal
			}
			rs := f.rawSyms[idx]
			if !rawSymDefined(rs) {
				continue
			}
			sym.withLock(func() {
				if sym.rankValid && !sym.IsLazy {
					return // a real (non-archive) definition already owns it
				}
				if sym.rankValid && sym.IsLazy && f.Priority >= sym.File.Priority {
					return
				}
				installDefinition(sym, f, idx, rs, rankLazy, true)
			})
		}
		return nil
	})
}

// resolvePhaseB is spec.md 4.3 Phase B: regular registration for objects
// outside archives. Every defined global gets a rank; the lowest rank
// observed wins, and two strong definitions of the same global from
// different files are reported as a duplicate-symbol diagnostic, whatever
// their file priorities.
func resolvePhaseB(ctx *Context, objects []*InputFile) error {
	return ctx.Pool.ForFiles(len(objects), func(i int) error {
		f := objects[i]
		for idx, sym := range f.Syms {
			if sym == nil {
				continue
			}
			rs := f.rawSyms[idx]
			if !rawSymDefined(rs) {
				continue
			}
			if elf.ST_BIND(rs.Info) == elf.STB_LOCAL {
				continue // local symbols never enter global resolution
			}
			kind := classifyDefinitionRank(rs)
			newRank := rankOf(kind, f.Priority)
			sym.withLock(func() {
				if sym.rankValid && kind == rankStrong && sym.rank&^(rankStrong-1) == rankStrong && sym.File != f {
					ctx.Diag.Report("duplicate symbol: %s defined in both %s and %s", sym.Name, sym.File.Name, f.Name)
				}
				if !sym.rankValid || newRank < sym.rank {
					installDefinition(sym, f, idx, rs, kind, false)
				}
				sym.Visibility = mergeVisibility(sym.Visibility, visibilityOf(rs))
			})
		}
		return nil
	})
}

// resolvePhaseC is spec.md 4.3 Phase C: reachability from every
// non-archive object. An undefined reference whose symbol currently holds
// a lazy (archive) registration promotes that archive member to alive and
// its definition to real, and the member is added to the work queue so
// its own undefined references are chased transitively.
func resolvePhaseC(ctx *Context, roots []*InputFile) {
	queue := make([]*InputFile, 0, len(roots))
	seen := make(map[*InputFile]bool, len(roots))
	for _, f := range roots {
		f.IsAlive = true
		queue = append(queue, f)
		seen[f] = true
	}

	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		for idx, sym := range f.Syms {
			if sym == nil {
				continue
			}
			rs := f.rawSyms[idx]
			if rawSymDefined(rs) {
				continue // only undefined references pull in archive members
			}
			var owner *InputFile
			sym.withLock(func() {
				if sym.IsLazy && sym.File != nil && !sym.File.IsAlive {
					owner = sym.File
					rsOwner := owner.rawSyms[sym.SymIdx]
					installDefinition(sym, owner, sym.SymIdx, rsOwner, classifyDefinitionRank(rsOwner), false)
				}
			})
			if owner == nil {
				continue
			}
			owner.IsAlive = true
			if !seen[owner] {
				seen[owner] = true
				queue = append(queue, owner)
			}
		}
	}
}

// resolvePhaseD is spec.md 4.3 Phase D: shared-object overlay. A DSO's
// defined globals register at weak+priority rank, beneath anything an
// object or surviving archive member already claimed; a DSO is kept alive
// iff some live reference still resolves to one of its own symbols.
func resolvePhaseD(ctx *Context, dsos []*InputFile) error {
	if err := ctx.Pool.ForFiles(len(dsos), func(i int) error {
		f := dsos[i]
		for idx, sym := range f.Syms {
			if sym == nil {
				continue
			}
			rs := f.rawSyms[idx]
			if !rawSymDefined(rs) {
				continue
			}
			newRank := rankOf(rankWeak, f.Priority)
			sym.withLock(func() {
				if !sym.rankValid || newRank < sym.rank {
					installDefinition(sym, f, idx, rs, rankWeak, false)
					sym.IsImported = true
				}
			})
		}
		return nil
	}); err != nil {
		return err
	}

	referenced := make(map[*Symbol]bool)
	for _, f := range ctx.Files {
		if f.Kind == FileShared || !f.IsAlive {
			continue
		}
		for idx, sym := range f.Syms {
			if sym != nil && !rawSymDefined(f.rawSyms[idx]) {
				referenced[sym] = true
			}
		}
	}
	for _, f := range dsos {
		alive := false
		for _, sym := range f.Syms {
			if sym != nil && sym.File == f && referenced[sym] {
				alive = true
				break
			}
		}
		f.IsAlive = alive
	}
	return nil
}

// convertUndefinedWeak implements spec.md 4.4: every undefined weak
// reference with no definition anywhere becomes owned by the referencing
// file, value 0, no section, imported iff the output is a shared object.
func convertUndefinedWeak(ctx *Context) {
	for _, f := range ctx.Files {
		if !f.IsAlive {
			continue
		}
		for idx, sym := range f.Syms {
			if sym == nil {
				continue
			}
			rs := f.rawSyms[idx]
			if rawSymDefined(rs) || elf.ST_BIND(rs.Info) != elf.STB_WEAK {
				continue
			}
			sym.withLock(func() {
				if sym.rankValid {
					return // something, somewhere, did define it
				}
				sym.File = f
				sym.SymIdx = idx
				sym.Value = 0
				sym.Section = nil
				sym.Fragment = nil
				sym.Defined = true
				sym.Binding = BindWeak
				sym.IsImported = ctx.Config.Output.IsDSO()
				sym.rank = rankOf(rankWeak, f.Priority)
				sym.rankValid = true
			})
		}
	}
}
