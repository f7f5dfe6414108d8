package elink

// Arch identifies a target instruction set. Generalized from the
// teacher's target.go Arch enum (which covered amd64/arm64/riscv64 for a
// standalone compiler) to the three architectures spec.md requires at
// minimum: x86-64, i386, and aarch64.
type Arch int

const (
	ArchX86_64 Arch = iota
	ArchI386
	ArchARM64
)

func (a Arch) String() string {
	switch a {
	case ArchX86_64:
		return "x86_64"
	case ArchI386:
		return "i386"
	case ArchARM64:
		return "aarch64"
	default:
		return "unknown"
	}
}

// Is64Bit reports whether the architecture uses the ELFCLASS64 layout.
func (a Arch) Is64Bit() bool { return a != ArchI386 }

// WordSize is the natural pointer/GOT-slot width in bytes.
func (a Arch) WordSize() int {
	if a.Is64Bit() {
		return 8
	}
	return 4
}

// UsesRela reports whether this architecture's dynamic relocation tables
// carry an explicit addend (Elf64_Rela, `.rela.*`) or rely on the addend
// already present in the relocated memory location (Elf32_Rel, `.rel.*`).
// x86-64 and aarch64 are RELA psABIs; i386 is REL.
func (a Arch) UsesRela() bool { return a != ArchI386 }

// ELFMachine returns the e_machine constant for the architecture,
// matching the values the teacher's target.go GetELFMachineType and
// elf_complete.go header writer use (0x3e/0xB7), extended with EM_386.
func (a Arch) ELFMachine() uint16 {
	switch a {
	case ArchX86_64:
		return EM_X86_64
	case ArchI386:
		return EM_386
	case ArchARM64:
		return EM_AARCH64
	default:
		return 0
	}
}

// PageSize is the architecture's minimum-common-page size used for
// PT_LOAD alignment (spec.md 4.9).
func (a Arch) PageSize() uint64 { return 0x1000 }

// Backend is the per-architecture capability set spec.md 9 calls out:
// "the spec exposes exactly three hooks: scan_reloc, apply_reloc_alloc,
// apply_reloc_nonalloc, plus emit_plt_header, emit_plt_entry,
// emit_pltgot_entry." Concretely it is a set of functions keyed by target
// tag (one implementation per Arch), the form spec.md 9 prescribes over a
// build-time-specialized generic component, grounded in the teacher's
// target.go Target interface (Arch()/OS()/IsELF() dispatch) generalized
// from OS-format dispatch to reloc-policy dispatch.
type Backend interface {
	Arch() Arch

	// ScanReloc classifies relocation index `idx` of `sec` and records
	// the action plus any per-symbol flags (spec.md 4.7).
	ScanReloc(ctx *Context, sec *InputSection, idx int) error

	// ApplyAlloc writes the relocated bytes for relocation `idx` of an
	// allocated section into `out` at the section's assigned file
	// offset (spec.md 4.10).
	ApplyAlloc(ctx *Context, sec *InputSection, idx int, out []byte) error

	// ApplyNonAlloc relocates a non-allocated (e.g. debug) section with
	// the smaller absolute-only toolkit (spec.md 4.10).
	ApplyNonAlloc(ctx *Context, sec *InputSection, idx int, out []byte) error

	// PLT/GOT stub emission (spec.md 4.8, 9).
	EmitPLTHeader(out *OutBuf, gotPlt uint64, plt uint64)
	EmitPLTEntry(out *OutBuf, sym *Symbol, gotPlt uint64, plt uint64, pltIdx int)
	EmitPLTGOTEntry(out *OutBuf, sym *Symbol)

	// RelaxGotLoad inspects the bytes preceding a GOT-relative load
	// relocation site and reports whether --relax can rewrite it to a
	// PC-relative immediate form (spec.md 4.7 "Relaxation").
	RelaxGotLoad(code []byte, relocOffset int, relocType uint32) (eligible bool)
}

// backends is the capability-set-per-target registry (spec.md 9: "a set
// of functions keyed by target tag").
var backends = map[Arch]Backend{}

// RegisterBackend installs the Backend for an architecture. Called from
// each arch_*.go's init().
func RegisterBackend(b Backend) { backends[b.Arch()] = b }

// BackendFor returns the registered Backend for an architecture, or nil.
func BackendFor(a Arch) Backend { return backends[a] }
