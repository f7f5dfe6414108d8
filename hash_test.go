package elink

import "testing"

func TestSysVHashKnownValue(t *testing.T) {
	// "printf" is a textbook example used in the SysV ABI's own
	// description of the elf_hash algorithm.
	got := sysvHash("printf")
	want := uint32(0x077905a6)
	if got != want {
		t.Fatalf("sysvHash(%q) = %#x, want %#x", "printf", got, want)
	}
}

func TestBuildSysVHashLayout(t *testing.T) {
	syms := []*Symbol{{Name: "foo"}, {Name: "bar"}, {Name: "baz"}}
	buf := BuildSysVHash(syms)

	if len(buf) < 8 {
		t.Fatalf("hash table too small: %d bytes", len(buf))
	}
	nbucket := le32(buf, 0)
	nchain := le32(buf, 4)
	if nchain != uint32(len(syms)+1) {
		t.Fatalf("nchain = %d, want %d", nchain, len(syms)+1)
	}
	if int(nbucket) <= 0 {
		t.Fatalf("nbucket = %d, want > 0", nbucket)
	}
	wantLen := 8 + 4*int(nbucket) + 4*int(nchain)
	if len(buf) != wantLen {
		t.Fatalf("buffer length %d, want %d", len(buf), wantLen)
	}
}

func TestBuildGnuHashEmpty(t *testing.T) {
	buf := BuildGnuHash(nil, 1)
	if len(buf) != 16 {
		t.Fatalf("empty .gnu.hash length %d, want 16 (header only)", len(buf))
	}
}

func TestBuildGnuHashEveryBucketChainTerminates(t *testing.T) {
	syms := []*Symbol{{Name: "alpha"}, {Name: "beta"}, {Name: "gamma"}, {Name: "delta"}}
	buf := BuildGnuHash(syms, 1)

	nbucket := le32(buf, 0)
	maskWords := le32(buf, 8)
	chainOff := 16 + 8*int(maskWords) + 4*int(nbucket)

	for b := uint32(0); b < nbucket; b++ {
		last := -1
		for i, s := range syms {
			if gnuHash(s.Name)%nbucket == b {
				last = i
			}
		}
		if last >= 0 && le32(buf, chainOff+4*last)&1 == 0 {
			t.Fatalf("bucket %d's last chain entry (symbol %d) lacks the low-bit terminator", b, last)
		}
	}
}
