// Command elink links relocatable ELF objects and archives into an
// executable or shared object.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/xyproto/elink"
)

const versionString = "elink 0.1.0"

func main() {
	var (
		archFlag     = flag.String("arch", "x86_64", "target architecture (x86_64, i386, aarch64)")
		outputFlag   = flag.String("o", "a.out", "output file name")
		sharedFlag   = flag.Bool("shared", false, "build a shared object (DSO) instead of an executable")
		pieFlag      = flag.Bool("pie", false, "build a position-independent executable")
		entryFlag    = flag.String("e", "_start", "entry point symbol")
		sonameFlag   = flag.String("soname", "", "set DT_SONAME")
		rpathFlag    = flag.String("rpath", "", "set DT_RPATH")
		runpathFlag  = flag.String("enable-new-dtags", "", "set DT_RUNPATH")
		dynLinkFlag  = flag.String("dynamic-linker", "", "path to the runtime dynamic linker")
		imageBase    = flag.Uint64("image-base", 0x400000, "base virtual address for a non-PIE executable")
		relaxFlag    = flag.Bool("relax", false, "enable GOT/TLS access relaxation")
		stripAllFlag = flag.Bool("s", false, "strip all symbol table entries")
		stripDbgFlag = flag.Bool("strip-debug", false, "strip .debug* sections")
		discardLocal = flag.Bool("x", false, "discard local symbols")
		buildIDFlag  = flag.String("build-id", "none", "build-id style: none, fast, uuid")
		wrapFlag     multiFlag
		needLibFlag  multiFlag
		threadsFlag  = flag.Int("threads", 0, "worker pool size (0 = hardware default)")
		verboseFlag  = flag.Bool("v", false, "verbose mode")
		versionFlag  = flag.Bool("version", false, "print version and exit")
	)
	flag.Var(&wrapFlag, "wrap", "wrap calls to symbol with __wrap_symbol (repeatable)")
	flag.Var(&needLibFlag, "l", "add a DT_NEEDED entry for a shared library (repeatable)")
	flag.Parse()

	if *versionFlag {
		fmt.Println(versionString)
		return
	}

	inputPaths := flag.Args()
	if len(inputPaths) == 0 {
		log.Fatalf("elink: no input files")
	}

	arch, err := parseArch(*archFlag)
	if err != nil {
		log.Fatalf("elink: %v", err)
	}

	cfg := elink.DefaultConfig()
	cfg.Arch = arch
	cfg.Entry = *entryFlag
	cfg.Soname = *sonameFlag
	cfg.Rpath = *rpathFlag
	cfg.Runpath = *runpathFlag
	cfg.NeededLibs = needLibFlag.values
	cfg.ImageBase = *imageBase
	cfg.Relax = *relaxFlag
	cfg.StripAll = *stripAllFlag
	cfg.StripDebug = *stripDbgFlag
	cfg.DiscardLocals = *discardLocal
	cfg.BuildID = *buildIDFlag
	cfg.WrapSymbols = wrapFlag.values
	cfg.ThreadCount = *threadsFlag
	cfg.Verbose = *verboseFlag
	if *dynLinkFlag != "" {
		cfg.DynamicLinker = *dynLinkFlag
	}

	switch {
	case *sharedFlag:
		cfg.Output = elink.OutputDSO
	case *pieFlag:
		cfg.Output = elink.OutputPIE
	default:
		cfg.Output = elink.OutputExec
	}

	ctx := elink.NewContext(cfg)
	if ctx.Backend == nil {
		log.Fatalf("elink: no backend registered for architecture %s", arch)
	}

	inputs, err := readInputs(inputPaths)
	if err != nil {
		log.Fatalf("elink: %v", err)
	}

	out, _, err := elink.Link(ctx, inputs)
	if err != nil {
		log.Fatalf("elink: %v", err)
	}

	if err := os.WriteFile(*outputFlag, out.Data, 0o755); err != nil {
		log.Fatalf("elink: writing %s: %v", *outputFlag, err)
	}

	for _, msg := range ctx.Diag.Messages() {
		fmt.Fprintln(os.Stderr, "elink:", msg)
	}
}

func parseArch(s string) (elink.Arch, error) {
	switch strings.ToLower(s) {
	case "x86_64", "amd64":
		return elink.ArchX86_64, nil
	case "i386", "x86":
		return elink.ArchI386, nil
	case "aarch64", "arm64":
		return elink.ArchARM64, nil
	default:
		return 0, fmt.Errorf("unknown architecture %q", s)
	}
}

// readInputs classifies each command-line path by its ar(1) magic
// (archives) versus everything else (treated as a relocatable object or
// shared object; sharedObjectKind's e_type check tells those apart), in
// command-line order (spec.md 4.1).
func readInputs(paths []string) ([]elink.LinkInput, error) {
	inputs := make([]elink.LinkInput, 0, len(paths))
	for i, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		kind := elink.FileObject
		if len(data) >= 8 && (string(data[:8]) == "!<arch>\n" || string(data[:8]) == "!<thin>\n") {
			kind = elink.FileArchiveMember
		} else if elfKind, ok := sharedObjectKind(data); ok && elfKind {
			kind = elink.FileShared
		}
		inputs = append(inputs, elink.LinkInput{Name: p, Data: data, Kind: kind, Priority: i})
	}
	return inputs, nil
}

// sharedObjectKind peeks at the ELF header's e_type field (offset 16,
// little-endian) to distinguish a DSO (ET_DYN == 3) from a relocatable
// object (ET_REL == 1) without pulling in a full parse here.
func sharedObjectKind(data []byte) (isDSO bool, ok bool) {
	if len(data) < 18 || string(data[:4]) != "\x7fELF" {
		return false, false
	}
	etype := uint16(data[16]) | uint16(data[17])<<8
	return etype == 3, true
}

// multiFlag accumulates repeatable -wrap/-l flags, the plain
// flag.Value-implementing idiom for "repeat a flag to build a list"
// stdlib's flag package expects.
type multiFlag struct{ values []string }

func (m *multiFlag) String() string { return strings.Join(m.values, ",") }
func (m *multiFlag) Set(s string) error {
	m.values = append(m.values, s)
	return nil
}
