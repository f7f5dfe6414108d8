package elink

import "testing"

func TestMergedSectionInternDeduplicates(t *testing.T) {
	ms := newMergedSection(".rodata.str1.1")

	a := ms.Intern([]byte("hello\x00"), 1, 0)
	b := ms.Intern([]byte("hello\x00"), 1, 6)
	c := ms.Intern([]byte("world\x00"), 1, 12)

	if a != b {
		t.Fatalf("identical byte content interned to distinct fragments")
	}
	if a == c {
		t.Fatalf("distinct byte content interned to the same fragment")
	}
	if len(ms.order) != 2 {
		t.Fatalf("order has %d entries, want 2", len(ms.order))
	}
}

func TestMergedSectionAssignOffsetsAligns(t *testing.T) {
	ms := newMergedSection(".rodata.cst8")
	ms.Intern([]byte{1}, 1, 0)
	ms.Intern([]byte{2, 2, 2, 2, 2, 2, 2, 2}, 8, 1)

	ms.AssignOffsets()

	frags := ms.Fragments()
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	for _, f := range frags {
		if f.Offset%uint64(f.Alignment) != 0 {
			t.Fatalf("fragment at offset %d violates its own alignment %d", f.Offset, f.Alignment)
		}
	}
	if ms.Size < 9 {
		t.Fatalf("Size %d too small for 1+8 bytes of content", ms.Size)
	}
}

func TestSplitMergeableSectionStrings(t *testing.T) {
	ctx := NewContext(DefaultConfig())
	f := newTestFile("a.o", 0)
	sec := &InputSection{
		File:        f,
		Name:        ".rodata.str1.1",
		ShFlags:     SHF_MERGE | SHF_STRINGS | SHF_ALLOC,
		ShAddralign: 1,
		EntSize:     1,
		Data:        []byte("foo\x00bar\x00"),
		IsAlive:     true,
	}
	f.Sections = []*InputSection{sec}

	if err := SplitMergeableSection(ctx, sec); err != nil {
		t.Fatalf("SplitMergeableSection: %v", err)
	}
	if sec.IsAlive {
		t.Fatalf("original section should be marked dead after splitting")
	}
	if len(sec.fragments) != 2 {
		t.Fatalf("got %d fragments, want 2", len(sec.fragments))
	}
	if string(sec.fragments[0].Bytes) != "foo\x00" || string(sec.fragments[1].Bytes) != "bar\x00" {
		t.Fatalf("fragment bytes %q/%q don't match expected \"foo\\x00\"/\"bar\\x00\"",
			sec.fragments[0].Bytes, sec.fragments[1].Bytes)
	}
}

func TestFindFragmentForPicksLargestOffsetNotExceedingValue(t *testing.T) {
	offsets := []uint64{0, 4, 9}
	frags := []*SectionFragment{{Offset: 100}, {Offset: 200}, {Offset: 300}}

	if _, off := findFragmentFor(offsets, frags, 7); off != 4 {
		t.Fatalf("got base offset %d, want 4", off)
	}
	if _, off := findFragmentFor(offsets, frags, 9); off != 9 {
		t.Fatalf("got base offset %d, want 9", off)
	}
	if _, off := findFragmentFor(offsets, frags, 0); off != 0 {
		t.Fatalf("got base offset %d, want 0", off)
	}
}
