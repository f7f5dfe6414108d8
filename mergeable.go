package elink

import (
	"sort"
	"sync"
)

// SectionFragment is the interned piece of a SHF_MERGE section (spec.md
// 3.1).
type SectionFragment struct {
	Bytes     []byte
	Alignment uint32
	Owner     *MergedSection
	Offset    uint64
	IsAlive   bool

	// origOffset is the fragment's offset within the original input
	// section, used by the relocation-redirection search in spec.md 4.6
	// ("find the fragment whose original offset is the largest <= the
	// symbol's st_value + addend").
	origOffset uint64
}

// MergedSection is the output counterpart for SHF_MERGE fragments
// (spec.md 3.1).
type MergedSection struct {
	Name      string
	Alignment uint32

	mu      sync.Mutex
	byBytes map[string]*SectionFragment
	order   []*SectionFragment

	// Populated by AssignOffsets (spec.md 4.9's sizing phase, applied
	// here to fragments rather than whole input sections).
	Size uint64

	// Addr is this merged section's final virtual address, assigned
	// during layout.go's chunk placement alongside every other output
	// chunk (spec.md 4.9).
	Addr uint64
}

// baseAddr is the relocation applicator's view of the section's final
// address (spec.md 4.10's `S` substitution for a fragment reference).
func (ms *MergedSection) baseAddr() uint64 { return ms.Addr }

func newMergedSection(name string) *MergedSection {
	return &MergedSection{Name: name, byBytes: make(map[string]*SectionFragment)}
}

// Intern deduplicates fragment bytes (spec.md 4.1's fragment-interner
// contract, 4.6: "the interner deduplicates by byte equality"). Alignment
// is capped at a 16-bit max per spec.md 4.6.
func (ms *MergedSection) Intern(data []byte, align uint32, origOffset uint64) *SectionFragment {
	if align > 0xffff {
		align = 0xffff
	}
	key := string(data)
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if f, ok := ms.byBytes[key]; ok {
		f.IsAlive = true
		if align > f.Alignment {
			f.Alignment = align
		}
		return f
	}
	f := &SectionFragment{Bytes: data, Alignment: align, Owner: ms, IsAlive: true, origOffset: origOffset}
	ms.byBytes[key] = f
	ms.order = append(ms.order, f)
	return f
}

// AssignOffsets lays out all live fragments within the MergedSection,
// honoring each fragment's alignment, and records the resulting byte
// size. This is the mergeable-section-specific instance of the generic
// sizing pass described in spec.md 4.9.
func (ms *MergedSection) AssignOffsets() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	// Sort by (descending alignment, then byte content) for determinism
	// and reasonable packing -- larger alignment requirements placed
	// first keeps padding minimal, matching how output_sections.cc packs
	// synthetic chunks by alignment precedence.
	sort.SliceStable(ms.order, func(i, j int) bool {
		if ms.order[i].Alignment != ms.order[j].Alignment {
			return ms.order[i].Alignment > ms.order[j].Alignment
		}
		return string(ms.order[i].Bytes) < string(ms.order[j].Bytes)
	})
	var off uint64
	for _, f := range ms.order {
		if !f.IsAlive {
			continue
		}
		if f.Alignment > 0 {
			off = alignUp(off, uint64(f.Alignment))
		}
		f.Offset = off
		off += uint64(len(f.Bytes))
	}
	ms.Size = off
}

// Fragments returns the fragment table in assigned-offset order.
func (ms *MergedSection) Fragments() []*SectionFragment {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]*SectionFragment, len(ms.order))
	copy(out, ms.order)
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

func sortMergedSections(ms []*MergedSection) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Name < ms[j].Name })
}

func alignUp(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// SplitMergeableSection implements spec.md 4.6: splits an SHF_MERGE
// InputSection into interned SectionFragments, redirects every
// relocation whose target is inside the split section to a
// (fragment, addend) pair, and marks the original section dead.
func SplitMergeableSection(ctx *Context, sec *InputSection) error {
	if sec.ShFlags&SHF_MERGE == 0 {
		return nil
	}
	entsize := sec.EntSize
	data := sec.Data
	ms := ctx.MergedSectionFor(sec.OutputName(), sec.ShAddralign)

	var offsets []uint64 // origOffset of each fragment, for the relocation search
	var frags []*SectionFragment

	if sec.ShFlags&SHF_STRINGS != 0 {
		if entsize == 0 {
			entsize = 1
		}
		start := uint64(0)
		for start < uint64(len(data)) {
			// Find the next entsize-aligned all-zero terminator
			// (spec.md 4.6).
			end, ok := findTerminator(data, start, entsize)
			if !ok {
				return Fatalf("%s: %s: unterminated mergeable string fragment", sec.File.Name, sec.Name)
			}
			frag := data[start : end+entsize]
			f := ms.Intern(append([]byte(nil), frag...), sec.ShAddralign, start)
			offsets = append(offsets, start)
			frags = append(frags, f)
			start = end + entsize
		}
	} else {
		if entsize == 0 || uint64(len(data))%entsize != 0 {
			return Fatalf("%s: %s: mergeable section size %d is not a multiple of entsize %d",
				sec.File.Name, sec.Name, len(data), entsize)
		}
		for start := uint64(0); start < uint64(len(data)); start += entsize {
			frag := data[start : start+entsize]
			f := ms.Intern(append([]byte(nil), frag...), sec.ShAddralign, start)
			offsets = append(offsets, start)
			frags = append(frags, f)
		}
	}

	sec.fragOffsets = offsets
	sec.fragments = frags

	// Redirect every relocation targeting the section symbol (or a
	// global symbol defined within it) to (fragment, addend) (spec.md
	// 4.6).
	for i := range sec.Relocs {
		r := &sec.Relocs[i]
		if r.TargetSym == nil || r.TargetSym.Section != sec {
			continue
		}
		value := r.TargetSym.Value + uint64(r.Addend)
		frag, fragOff := findFragmentFor(offsets, frags, value)
		r.TargetFragment = frag
		r.Addend = int64(value - fragOff)
		r.TargetSym = nil
	}
	for _, sym := range sec.File.DefinedSymbolsIn(sec) {
		value := sym.Value
		frag, fragOff := findFragmentFor(offsets, frags, value)
		sym.Fragment = frag
		sym.Section = nil
		sym.Value = value - fragOff
	}

	sec.IsAlive = false
	return nil
}

// findTerminator scans for the next entsize-aligned all-zero entry
// starting at off, per spec.md 4.6's SHF_STRINGS rule, and returns the
// offset of the first byte of that terminator entry.
func findTerminator(data []byte, off, entsize uint64) (uint64, bool) {
	for pos := off; pos+entsize <= uint64(len(data)); pos += entsize {
		allZero := true
		for i := uint64(0); i < entsize; i++ {
			if data[pos+i] != 0 {
				allZero = false
				break
			}
		}
		if allZero {
			return pos, true
		}
	}
	return 0, false
}

// findFragmentFor implements "find the fragment whose original offset is
// the largest <= the target value" (spec.md 4.6), via binary search over
// the (sorted-by-construction) offsets slice.
func findFragmentFor(offsets []uint64, frags []*SectionFragment, value uint64) (*SectionFragment, uint64) {
	lo, hi := 0, len(offsets)-1
	best := 0
	for lo <= hi {
		mid := (lo + hi) / 2
		if offsets[mid] <= value {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return frags[best], offsets[best]
}
