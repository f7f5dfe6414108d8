package elink

import (
	"runtime"

	env "github.com/xyproto/env/v2"
)

// OutputKind selects the ELF e_type the linker produces.
type OutputKind int

const (
	OutputExec OutputKind = iota // ET_EXEC, PDE (position-dependent executable)
	OutputPIE                    // ET_DYN with PT_INTERP, PIE
	OutputDSO                     // ET_DYN without an entry requirement, shared object
)

func (k OutputKind) String() string {
	switch k {
	case OutputExec:
		return "exec"
	case OutputPIE:
		return "pie"
	case OutputDSO:
		return "dso"
	default:
		return "unknown"
	}
}

// IsDSO reports whether the link mode is a shared object (DSO or PIE share
// most of the policy-table column choices described in spec.md 4.7).
func (k OutputKind) IsDSO() bool { return k == OutputDSO }

// Config is the external flag surface the core is driven by. It plays the
// role the teacher's CommandContext/Platform pair (cli.go, target.go) play
// for the flapc driver: a plain struct of parsed options, threaded through
// explicitly rather than read from package globals.
type Config struct {
	Arch   Arch
	Output OutputKind

	// Entry is the name of the entry symbol (default "_start").
	Entry string

	Soname       string
	Rpath        string
	Runpath      string
	NeededLibs   []string
	DynamicLinker string

	ImageBase uint64

	Relax      bool
	StripAll   bool
	StripDebug bool
	DiscardLocals bool

	WrapSymbols []string

	// BuildID records the -build-id choice: "none", "fast" or "uuid".
	// Nothing in the core reads it: no .note.gnu.build-id section is
	// emitted for any value.
	BuildID string

	// GCSections and ICF are plain fields that nothing reads: the
	// mark-and-sweep and identity-folding passes are out of scope
	// (spec.md 1), and cmd/elink exposes no flag that sets them.
	GCSections bool
	ICF        bool

	Verbose bool

	// ThreadCount caps parallelism; 0 means "use the environment default"
	// (see DefaultThreadCount).
	ThreadCount int
}

// DefaultConfig returns a Config with the teacher-style environment
// overrides applied (ELINK_THREADS, ELINK_DYNAMIC_LINKER),
// read via github.com/xyproto/env/v2 the way the teacher reads its own
// environment knobs.
func DefaultConfig() *Config {
	c := &Config{
		Arch:          ArchX86_64,
		Output:        OutputExec,
		Entry:         "_start",
		ImageBase:     0x400000,
		DynamicLinker: "/lib64/ld-linux-x86-64.so.2",
		BuildID:       "none",
		ThreadCount:   DefaultThreadCount(),
	}
	c.DynamicLinker = env.Str("ELINK_DYNAMIC_LINKER", c.DynamicLinker)
	c.ThreadCount = env.Int("ELINK_THREADS", c.ThreadCount)
	return c
}

// DefaultThreadCount is the hardware-parallelism default from spec.md 5,
// capped at 32, overridable by the CLI or ELINK_THREADS.
func DefaultThreadCount() int {
	n := runtime.NumCPU()
	if n > 32 {
		n = 32
	}
	if n < 1 {
		n = 1
	}
	return n
}
