package elink

import "debug/elf"

// elink builds its on-disk structures on top of the standard library's
// debug/elf package rather than hand-rolling ELF header/struct decoding.
// aclements-go-obj's obj/elf.go (the pack's other ELF-object-model
// example) takes the same approach — wrapping debug/elf.NewFile and
// reaching for elf.Rela64/elf.Sym64/etc. for the wire structs — because
// the escape hatches spec.md 4.2 calls out (e_shnum==0, e_shstrndx
// overflow) are already handled correctly inside debug/elf.NewFile, and
// its constant tables (SHT_*, SHF_*, STB_*, STT_*, STV_*, PT_*, DT_*,
// R_*) are the exact, complete enumerations spec.md 6 requires. No
// third-party library in the pack supersedes it for this concern; see
// DESIGN.md.

// Machine constants (spec.md 6).
const (
	EM_X86_64  = uint16(elf.EM_X86_64)
	EM_386     = uint16(elf.EM_386)
	EM_AARCH64 = uint16(elf.EM_AARCH64)
)

// e_ident and e_type/e_version values the header writer needs.
const (
	ELFCLASS64     = byte(elf.ELFCLASS64)
	ELFDATA2LSB    = byte(elf.ELFDATA2LSB)
	EV_CURRENT     = byte(elf.EV_CURRENT)
	ELFOSABI_NONE  = byte(elf.ELFOSABI_NONE)
)

// Section types elink cares about (spec.md 4.2's exclusion list and 4.8's
// synthetic section types).
const (
	SHT_NULL         = elf.SHT_NULL
	SHT_PROGBITS     = elf.SHT_PROGBITS
	SHT_SYMTAB       = elf.SHT_SYMTAB
	SHT_STRTAB       = elf.SHT_STRTAB
	SHT_RELA         = elf.SHT_RELA
	SHT_HASH         = elf.SHT_HASH
	SHT_DYNAMIC      = elf.SHT_DYNAMIC
	SHT_NOTE         = elf.SHT_NOTE
	SHT_NOBITS       = elf.SHT_NOBITS
	SHT_REL          = elf.SHT_REL
	SHT_DYNSYM       = elf.SHT_DYNSYM
	SHT_INIT_ARRAY   = elf.SHT_INIT_ARRAY
	SHT_FINI_ARRAY   = elf.SHT_FINI_ARRAY
	SHT_PREINIT_ARRAY = elf.SHT_PREINIT_ARRAY
	SHT_GROUP        = elf.SHT_GROUP
	SHT_SYMTAB_SHNDX = elf.SHT_SYMTAB_SHNDX
	SHT_GNU_HASH     = elf.SHT_SectionType(0x6ffffff6)
	SHT_GNU_VERDEF   = elf.SHT_SectionType(0x6ffffffd)
	SHT_GNU_VERNEED  = elf.SHT_SectionType(0x6ffffffe)
	SHT_GNU_VERSYM   = elf.SHT_SectionType(0x6fffffff)
)

// Section flags.
const (
	SHF_WRITE     = elf.SHF_WRITE
	SHF_ALLOC     = elf.SHF_ALLOC
	SHF_EXECINSTR = elf.SHF_EXECINSTR
	SHF_MERGE     = elf.SHF_MERGE
	SHF_STRINGS   = elf.SHF_STRINGS
	SHF_INFO_LINK = elf.SHF_INFO_LINK
	SHF_GROUP     = elf.SHF_GROUP
	SHF_TLS       = elf.SHF_TLS
	SHF_COMPRESSED = elf.SHF_COMPRESSED
	SHF_EXCLUDE   = elf.SectionFlag(0x80000000)
)

// Symbol binding/type/visibility (spec.md 6).
const (
	STB_LOCAL  = elf.STB_LOCAL
	STB_GLOBAL = elf.STB_GLOBAL
	STB_WEAK   = elf.STB_WEAK

	STT_NOTYPE  = elf.STT_NOTYPE
	STT_OBJECT  = elf.STT_OBJECT
	STT_FUNC    = elf.STT_FUNC
	STT_SECTION = elf.STT_SECTION
	STT_FILE    = elf.STT_FILE
	STT_COMMON  = elf.STT_COMMON
	STT_TLS     = elf.STT_TLS
	STT_GNU_IFUNC = elf.STT_GNU_IFUNC

	STV_DEFAULT   = elf.STV_DEFAULT
	STV_HIDDEN    = elf.STV_HIDDEN
	STV_PROTECTED = elf.STV_PROTECTED

	SHN_UNDEF  = elf.SHN_UNDEF
	SHN_ABS    = elf.SHN_ABS
	SHN_COMMON = elf.SHN_COMMON
)

// Program header types (spec.md 6).
const (
	PT_NULL     = elf.PT_NULL
	PT_LOAD     = elf.PT_LOAD
	PT_DYNAMIC  = elf.PT_DYNAMIC
	PT_INTERP   = elf.PT_INTERP
	PT_NOTE     = elf.PT_NOTE
	PT_PHDR     = elf.PT_PHDR
	PT_TLS      = elf.PT_TLS
	PT_GNU_EH_FRAME = elf.PT_GNU_EH_FRAME
	PT_GNU_STACK    = elf.PT_GNU_STACK
	PT_GNU_RELRO    = elf.PT_GNU_RELRO

	PF_X = elf.PF_X
	PF_W = elf.PF_W
	PF_R = elf.PF_R
)

// Dynamic tags elink may emit (spec.md 6's exhaustive list).
const (
	DT_NULL     = elf.DT_NULL
	DT_NEEDED   = elf.DT_NEEDED
	DT_PLTRELSZ = elf.DT_PLTRELSZ
	DT_PLTGOT   = elf.DT_PLTGOT
	DT_HASH     = elf.DT_HASH
	DT_STRTAB   = elf.DT_STRTAB
	DT_SYMTAB   = elf.DT_SYMTAB
	DT_RELA     = elf.DT_RELA
	DT_RELASZ   = elf.DT_RELASZ
	DT_RELAENT  = elf.DT_RELAENT
	DT_STRSZ    = elf.DT_STRSZ
	DT_SYMENT   = elf.DT_SYMENT
	DT_INIT     = elf.DT_INIT
	DT_FINI     = elf.DT_FINI
	DT_SONAME   = elf.DT_SONAME
	DT_RPATH    = elf.DT_RPATH
	DT_SYMBOLIC = elf.DT_SYMBOLIC
	DT_REL      = elf.DT_REL
	DT_RELSZ    = elf.DT_RELSZ
	DT_RELENT   = elf.DT_RELENT
	DT_PLTREL   = elf.DT_PLTREL
	DT_DEBUG    = elf.DT_DEBUG
	DT_TEXTREL  = elf.DT_TEXTREL
	DT_JMPREL   = elf.DT_JMPREL
	DT_BIND_NOW = elf.DT_BIND_NOW
	DT_INIT_ARRAY    = elf.DT_INIT_ARRAY
	DT_FINI_ARRAY    = elf.DT_FINI_ARRAY
	DT_INIT_ARRAYSZ  = elf.DT_INIT_ARRAYSZ
	DT_FINI_ARRAYSZ  = elf.DT_FINI_ARRAYSZ
	DT_RUNPATH       = elf.DT_RUNPATH
	DT_FLAGS         = elf.DT_FLAGS
	DT_PREINIT_ARRAY   = elf.DT_PREINIT_ARRAY
	DT_PREINIT_ARRAYSZ = elf.DT_PREINIT_ARRAYSZ

	// GNU extensions not named in the generic debug/elf DT_* enum by a
	// portable constant; values from the psABI / glibc <elf.h>.
	DT_GNU_HASH  = elf.DynTag(0x6ffffef5)
	DT_RELACOUNT = elf.DynTag(0x6ffffff9)
	DT_RELCOUNT  = elf.DynTag(0x6ffffffa)
	DT_FLAGS_1   = elf.DynTag(0x6ffffffb)
	DT_VERSYM    = elf.DynTag(0x6ffffff0)
	DT_VERDEF    = elf.DynTag(0x6ffffffc)
	DT_VERDEFNUM = elf.DynTag(0x6ffffffd)
	DT_VERNEED   = elf.DynTag(0x6ffffffe)
	DT_VERNEEDNUM = elf.DynTag(0x6fffffff)

	DF_1_PIE = 0x08000000
)

// GRP_COMDAT is the one SHT_GROUP flag value spec.md 4.2 checks for.
const GRP_COMDAT = 0x1

// x86-64 / i386 / aarch64 relocation type enumerations, aliased from
// debug/elf so arch_*.go can name them the way spec.md 6 and the
// original's arch_x86_64.cc/arch-aarch64.cc/arch_i386.cc do.
type (
	RelX86_64  = elf.R_X86_64
	RelI386    = elf.R_386
	RelAArch64 = elf.R_AARCH64
)

const (
	R_X86_64_NONE     = uint32(elf.R_X86_64_NONE)
	R_X86_64_64       = uint32(elf.R_X86_64_64)
	R_X86_64_PC32     = uint32(elf.R_X86_64_PC32)
	R_X86_64_GOT32    = uint32(elf.R_X86_64_GOT32)
	R_X86_64_PLT32    = uint32(elf.R_X86_64_PLT32)
	R_X86_64_COPY     = uint32(elf.R_X86_64_COPY)
	R_X86_64_GLOB_DAT = uint32(elf.R_X86_64_GLOB_DAT)
	R_X86_64_JUMP_SLOT = uint32(elf.R_X86_64_JMP_SLOT)
	R_X86_64_RELATIVE = uint32(elf.R_X86_64_RELATIVE)
	R_X86_64_GOTPCREL = uint32(elf.R_X86_64_GOTPCREL)
	R_X86_64_32       = uint32(elf.R_X86_64_32)
	R_X86_64_32S      = uint32(elf.R_X86_64_32S)
	R_X86_64_16       = uint32(elf.R_X86_64_16)
	R_X86_64_PC16     = uint32(elf.R_X86_64_PC16)
	R_X86_64_8        = uint32(elf.R_X86_64_8)
	R_X86_64_PC8      = uint32(elf.R_X86_64_PC8)
	R_X86_64_DTPMOD64 = uint32(elf.R_X86_64_DTPMOD64)
	R_X86_64_DTPOFF64 = uint32(elf.R_X86_64_DTPOFF64)
	R_X86_64_TPOFF64  = uint32(elf.R_X86_64_TPOFF64)
	R_X86_64_TLSGD    = uint32(elf.R_X86_64_TLSGD)
	R_X86_64_TLSLD    = uint32(elf.R_X86_64_TLSLD)
	R_X86_64_DTPOFF32 = uint32(elf.R_X86_64_DTPOFF32)
	R_X86_64_GOTTPOFF = uint32(elf.R_X86_64_GOTTPOFF)
	R_X86_64_TPOFF32  = uint32(elf.R_X86_64_TPOFF32)
	R_X86_64_PC64     = uint32(elf.R_X86_64_PC64)
	R_X86_64_GOTOFF64 = uint32(elf.R_X86_64_GOTOFF64)
	R_X86_64_GOTPC32  = uint32(elf.R_X86_64_GOTPC32)
	R_X86_64_IRELATIVE = uint32(elf.R_X86_64_IRELATIVE)
	R_X86_64_GOTPCRELX = uint32(elf.R_X86_64_GOTPCRELX)
	R_X86_64_REX_GOTPCRELX = uint32(elf.R_X86_64_REX_GOTPCRELX)
	R_X86_64_GOTPC32_TLSDESC = uint32(elf.R_X86_64_GOTPC32_TLSDESC)
	R_X86_64_TLSDESC_CALL    = uint32(elf.R_X86_64_TLSDESC_CALL)
	R_X86_64_TLSDESC         = uint32(elf.R_X86_64_TLSDESC)
)

const (
	R_386_NONE     = uint32(elf.R_386_NONE)
	R_386_32       = uint32(elf.R_386_32)
	R_386_PC32     = uint32(elf.R_386_PC32)
	R_386_GOT32    = uint32(elf.R_386_GOT32)
	R_386_PLT32    = uint32(elf.R_386_PLT32)
	R_386_COPY     = uint32(elf.R_386_COPY)
	R_386_GLOB_DAT = uint32(elf.R_386_GLOB_DAT)
	R_386_JMP_SLOT = uint32(elf.R_386_JMP_SLOT)
	R_386_RELATIVE = uint32(elf.R_386_RELATIVE)
	R_386_GOTOFF   = uint32(elf.R_386_GOTOFF)
	R_386_GOTPC    = uint32(elf.R_386_GOTPC)
	R_386_TLS_TPOFF  = uint32(elf.R_386_TLS_TPOFF)
	R_386_TLS_IE     = uint32(elf.R_386_TLS_IE)
	R_386_TLS_GOTIE  = uint32(elf.R_386_TLS_GOTIE)
	R_386_TLS_LE     = uint32(elf.R_386_TLS_LE)
	R_386_TLS_GD     = uint32(elf.R_386_TLS_GD)
	R_386_TLS_LDM    = uint32(elf.R_386_TLS_LDM)
	R_386_16  = uint32(elf.R_386_16)
	R_386_PC16 = uint32(elf.R_386_PC16)
	R_386_8    = uint32(elf.R_386_8)
	R_386_PC8  = uint32(elf.R_386_PC8)
	R_386_IRELATIVE = uint32(elf.R_386_IRELATIVE)
)

const (
	R_AARCH64_NONE       = uint32(elf.R_AARCH64_NONE)
	R_AARCH64_ABS64      = uint32(elf.R_AARCH64_ABS64)
	R_AARCH64_ABS32      = uint32(elf.R_AARCH64_ABS32)
	R_AARCH64_ABS16      = uint32(elf.R_AARCH64_ABS16)
	R_AARCH64_PREL64     = uint32(elf.R_AARCH64_PREL64)
	R_AARCH64_PREL32     = uint32(elf.R_AARCH64_PREL32)
	R_AARCH64_PREL16     = uint32(elf.R_AARCH64_PREL16)
	R_AARCH64_CALL26     = uint32(elf.R_AARCH64_CALL26)
	R_AARCH64_JUMP26     = uint32(elf.R_AARCH64_JUMP26)
	R_AARCH64_ADR_PREL_PG_HI21 = uint32(elf.R_AARCH64_ADR_PREL_PG_HI21)
	R_AARCH64_ADD_ABS_LO12_NC  = uint32(elf.R_AARCH64_ADD_ABS_LO12_NC)
	R_AARCH64_LDST8_ABS_LO12_NC  = uint32(elf.R_AARCH64_LDST8_ABS_LO12_NC)
	R_AARCH64_LDST16_ABS_LO12_NC = uint32(elf.R_AARCH64_LDST16_ABS_LO12_NC)
	R_AARCH64_LDST32_ABS_LO12_NC = uint32(elf.R_AARCH64_LDST32_ABS_LO12_NC)
	R_AARCH64_LDST64_ABS_LO12_NC = uint32(elf.R_AARCH64_LDST64_ABS_LO12_NC)
	R_AARCH64_ADR_GOT_PAGE   = uint32(elf.R_AARCH64_ADR_GOT_PAGE)
	R_AARCH64_LD64_GOT_LO12_NC = uint32(elf.R_AARCH64_LD64_GOT_LO12_NC)
	R_AARCH64_GLOB_DAT   = uint32(elf.R_AARCH64_GLOB_DAT)
	R_AARCH64_JUMP_SLOT  = uint32(elf.R_AARCH64_JUMP_SLOT)
	R_AARCH64_RELATIVE   = uint32(elf.R_AARCH64_RELATIVE)
	R_AARCH64_TLS_DTPMOD = uint32(elf.R_AARCH64_TLS_DTPMOD)
	R_AARCH64_TLS_DTPREL = uint32(elf.R_AARCH64_TLS_DTPREL)
	R_AARCH64_TLS_TPREL  = uint32(elf.R_AARCH64_TLS_TPREL)
	R_AARCH64_TLSGD_ADR_PAGE21   = uint32(elf.R_AARCH64_TLSGD_ADR_PAGE21)
	R_AARCH64_TLSGD_ADD_LO12_NC  = uint32(elf.R_AARCH64_TLSGD_ADD_LO12_NC)
	R_AARCH64_TLSLD_ADR_PAGE21   = uint32(elf.R_AARCH64_TLSLD_ADR_PAGE21)
	R_AARCH64_TLSIE_ADR_GOTTPREL_PAGE21 = uint32(elf.R_AARCH64_TLSIE_ADR_GOTTPREL_PAGE21)
	R_AARCH64_TLSIE_LD64_GOTTPREL_LO12_NC = uint32(elf.R_AARCH64_TLSIE_LD64_GOTTPREL_LO12_NC)
	R_AARCH64_TLSLE_ADD_TPREL_HI12 = uint32(elf.R_AARCH64_TLSLE_ADD_TPREL_HI12)
	R_AARCH64_TLSLE_ADD_TPREL_LO12_NC = uint32(elf.R_AARCH64_TLSLE_ADD_TPREL_LO12_NC)
	R_AARCH64_TLSDESC_ADR_PAGE21  = uint32(elf.R_AARCH64_TLSDESC_ADR_PAGE21)
	R_AARCH64_TLSDESC_LD64_LO12   = uint32(elf.R_AARCH64_TLSDESC_LD64_LO12)
	R_AARCH64_TLSDESC_ADD_LO12    = uint32(elf.R_AARCH64_TLSDESC_ADD_LO12)
	R_AARCH64_TLSDESC_CALL        = uint32(elf.R_AARCH64_TLSDESC_CALL)
	R_AARCH64_IRELATIVE = uint32(elf.R_AARCH64_IRELATIVE)
)
