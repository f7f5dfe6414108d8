package elink

import "testing"

func TestClassifyRefAbsoluteForNilAndUndefined(t *testing.T) {
	if got := ClassifyRef(nil, nil); got != RefAbsolute {
		t.Fatalf("ClassifyRef(nil) = %v, want RefAbsolute", got)
	}
	undef := newSymbol("undef")
	if got := ClassifyRef(nil, undef); got != RefAbsolute {
		t.Fatalf("ClassifyRef(undefined weak-converted) = %v, want RefAbsolute", got)
	}
}

func TestClassifyRefImportedDataVsCode(t *testing.T) {
	dso := &InputFile{Kind: FileShared}
	data := newSymbol("a_global")
	data.IsImported = true
	data.File = dso
	if got := ClassifyRef(nil, data); got != RefImportedData {
		t.Fatalf("ClassifyRef(imported data) = %v, want RefImportedData", got)
	}

	code := newSymbol("a_func")
	code.IsImported = true
	code.File = dso
	code.Flags |= NeedsPLT
	if got := ClassifyRef(nil, code); got != RefImportedCode {
		t.Fatalf("ClassifyRef(imported func) = %v, want RefImportedCode", got)
	}
}

func TestClassifyRefLocal(t *testing.T) {
	f := newTestFile("a.o", 0)
	sym := newSymbol("local_fn")
	sym.File = f
	sym.Defined = true
	sym.Section = &InputSection{Name: ".text"}
	if got := ClassifyRef(nil, sym); got != RefLocal {
		t.Fatalf("ClassifyRef(locally defined) = %v, want RefLocal", got)
	}
}

func TestLinkModeOf(t *testing.T) {
	cases := []struct {
		kind OutputKind
		want LinkMode
	}{
		{OutputExec, ModeExec},
		{OutputPIE, ModePIE},
		{OutputDSO, ModeDSO},
	}
	for _, c := range cases {
		cfg := DefaultConfig()
		cfg.Output = c.kind
		ctx := NewContext(cfg)
		if got := LinkModeOf(ctx); got != c.want {
			t.Fatalf("LinkModeOf(%v) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestRecordScanResultRejectsActionError(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	f := newTestFile("a.o", 0)
	sec := &InputSection{File: f, Name: ".text", IsAlive: true}
	r := &Relocation{}

	err := RecordScanResult(ctx, sec, r, ScanResult{Action: ActionError})
	if err == nil {
		t.Fatalf("expected an error for ActionError, got nil")
	}
}

func TestRecordScanResultReservesRelaDynForDynrel(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	f := newTestFile("a.o", 0)
	sec := &InputSection{File: f, Name: ".data", IsAlive: true}
	r := &Relocation{}

	if err := RecordScanResult(ctx, sec, r, ScanResult{Action: ActionDynrel}); err != nil {
		t.Fatalf("RecordScanResult: %v", err)
	}
	if sec.RelDynReserve != 1 {
		t.Fatalf("RelDynReserve = %d, want 1", sec.RelDynReserve)
	}
}

func TestRecordScanResultSetsGotFlag(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	f := newTestFile("a.o", 0)
	sec := &InputSection{File: f, Name: ".text", IsAlive: true}
	sym := newSymbol("x")
	r := &Relocation{}

	if err := RecordScanResult(ctx, sec, r, ScanResult{Class: RelGOTIndirect, Sym: sym}); err != nil {
		t.Fatalf("RecordScanResult: %v", err)
	}
	if !sym.Flags.Has(NeedsGOT) {
		t.Fatalf("expected NeedsGOT to be set")
	}
}
