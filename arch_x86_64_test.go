package elink

import "testing"

func TestClassifyX86_64(t *testing.T) {
	cases := []struct {
		relType uint32
		want    RelocClass
	}{
		{R_X86_64_64, RelAbsolute},
		{R_X86_64_PC32, RelPCRelative},
		{R_X86_64_GOTPCREL, RelGOTIndirect},
		{R_X86_64_PLT32, RelPLTCall},
		{R_X86_64_TLSGD, RelTLSGD},
		{R_X86_64_GOTTPOFF, RelTLSIE},
		{R_X86_64_TPOFF32, RelTLSLE},
		{R_X86_64_TLSDESC, RelTLSDESC},
	}
	for _, c := range cases {
		if got := classifyX86_64(c.relType); got != c.want {
			t.Errorf("classifyX86_64(%d) = %v, want %v", c.relType, got, c.want)
		}
	}
}

func TestX86_64PolicyAbsoluteDSOAlwaysDynamic(t *testing.T) {
	pt := x86_64Policy[RelAbsolute]
	for ref := RefAbsolute; ref <= RefImportedCode; ref++ {
		if a := pt.Lookup(ModeDSO, ref); a != ActionBaserel && a != ActionDynrel {
			t.Errorf("RelAbsolute/ModeDSO/%v = %v, want Baserel or Dynrel", ref, a)
		}
	}
}

func TestX86_64PolicyAbsoluteExecLocalIsNoop(t *testing.T) {
	pt := x86_64Policy[RelAbsolute]
	if a := pt.Lookup(ModeExec, RefLocal); a != ActionNone {
		t.Errorf("RelAbsolute/ModeExec/RefLocal = %v, want ActionNone", a)
	}
}

func TestX86_64PolicyPCRelativeImportedDataErrorsInPIE(t *testing.T) {
	pt := x86_64Policy[RelPCRelative]
	if a := pt.Lookup(ModePIE, RefImportedData); a != ActionError {
		t.Errorf("RelPCRelative/ModePIE/RefImportedData = %v, want ActionError (PC-relative ref to preemptible data can't be represented)", a)
	}
}

func TestRelaxGotLoadMovPattern(t *testing.T) {
	// 48 8b 05 xx xx xx xx: mov rax, [rip+disp32] -- eligible for relaxation.
	code := []byte{0x48, 0x8b, 0x05, 0, 0, 0, 0}
	b := x86_64Backend{}
	if !b.RelaxGotLoad(code, 3, R_X86_64_GOTPCRELX) {
		t.Fatalf("expected a mov-from-GOT site to be relax-eligible")
	}
}

func TestRelaxGotLoadRejectsNonMov(t *testing.T) {
	// 48 03 05 xx xx xx xx: add rax, [rip+disp32] -- not a mov, can't relax.
	code := []byte{0x48, 0x03, 0x05, 0, 0, 0, 0}
	b := x86_64Backend{}
	if b.RelaxGotLoad(code, 3, R_X86_64_GOTPCRELX) {
		t.Fatalf("expected an add-from-GOT site to be relax-ineligible")
	}
}

func TestRelaxGotLoadTLSDescAlwaysEligible(t *testing.T) {
	b := x86_64Backend{}
	if !b.RelaxGotLoad(nil, 0, R_X86_64_TLSDESC_CALL) {
		t.Fatalf("TLSDESC_CALL should always be relax-eligible")
	}
}
