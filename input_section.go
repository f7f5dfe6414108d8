package elink

import "debug/elf"

// RelocClass is the relocation scanner's classification of a reference
// (spec.md 4.7).
type RelocClass int

const (
	RelAbsolute RelocClass = iota
	RelPCRelative
	RelGOTIndirect
	RelPLTCall
	RelTLSGD
	RelTLSLD
	RelTLSIE
	RelTLSLE
	RelTLSDESC
	RelNone
)

// RelocAction is the scanner's verdict for one relocation (spec.md 4.7
// table).
type RelocAction int

const (
	ActionNone RelocAction = iota
	ActionBaserel
	ActionDynrel
	ActionCopyrel
	ActionPLT
	ActionError
)

// Relocation is one entry from a REL/RELA section, resolved to either a
// borrowed Symbol or (after mergeable splitting) a SectionFragment
// (spec.md 3.1/4.6).
type Relocation struct {
	Offset  uint64
	Type    uint32
	Addend  int64
	SymIdx  uint32

	TargetSym      *Symbol
	TargetFragment *SectionFragment

	// Set by the relocation scanner (spec.md 4.7).
	Class  RelocClass
	Action RelocAction

	// Relaxed records whether --relax rewrote this site away from a
	// GOT/TLS slot requirement (spec.md 4.7).
	Relaxed bool
}

// InputSection is a contiguous byte range from an input file (spec.md
// 3.1).
type InputSection struct {
	File *InputFile
	Name string

	ShType      elf.SectionType
	ShFlags     elf.SectionFlag
	ShAddralign uint32
	ShSize      uint64
	EntSize     uint64

	// Data holds the (possibly decompressed) section contents; nil for
	// SHT_NOBITS.
	Data []byte

	Relocs []Relocation

	OutputSection *OutputSection
	// SecOffset is this section's byte offset within OutputSection.
	SecOffset uint64

	IsAlive   bool
	IsVisited bool // --gc-sections bookkeeping; the mark/sweep pass itself is out of scope

	// ICF fields are carried as plain data (spec.md 3.1) even though the
	// ICF pass itself is out of scope (spec.md 1); a future pass can
	// consume them without changing this struct.
	ICFEligible bool
	ICFLeaf     bool
	Leader      *InputSection

	// FDE range, if this section carries code covered by .eh_frame
	// (spec.md 3.1 invariant: "FDEs sharing an associated code
	// InputSection are contiguous").
	FDEBegin, FDEEnd int

	// RelDynReserve is the number of .rela.dyn slots this section's
	// relocations will need, reserved up front so the applicator can
	// write into its slice without synchronization (spec.md 4.7/5).
	RelDynReserve int
	RelDynBase    int

	// fragOffsets/fragments are populated by SplitMergeableSection
	// (spec.md 4.6) for SHF_MERGE sections.
	fragOffsets []uint64
	fragments   []*SectionFragment

	// comdatGroup is set when this section is a comdat-group member; if
	// the owning claim loses arbitration the section is killed (spec.md
	// 4.5).
	comdatGroup string
}

// OutputName canonicalizes an input section name the way spec.md 4.9
// requires for binning: suffixes after the canonical prefix collapse
// (".text.foo" -> ".text", ".data.rel.ro.foo" -> ".data.rel.ro",
// ".bss.foo" -> ".bss", etc).
func (is *InputSection) OutputName() string {
	return canonicalSectionName(is.Name)
}

var canonicalPrefixes = []string{
	".text.",
	".data.rel.ro.",
	".data.",
	".rodata.",
	".bss.rel.ro.",
	".bss.",
	".init_array.",
	".fini_array.",
	".tbss.",
	".tdata.",
	".gcc_except_table.",
	".ctors.",
	".dtors.",
}

// canonicalSectionName implements spec.md 4.9's binning key
// canonicalization.
func canonicalSectionName(name string) string {
	for _, p := range canonicalPrefixes {
		if len(name) > len(p) && name[:len(p)] == p {
			return p[:len(p)-1]
		}
		if name == p[:len(p)-1] {
			return name
		}
	}
	return name
}

// Kill marks an InputSection dead (spec.md 3.2: "kill semantics
// are expressed by setting is_alive = false, never by deallocation").
func (is *InputSection) Kill() { is.IsAlive = false }
