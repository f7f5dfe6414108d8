package elink

import "encoding/binary"

// CieRecord and FdeRecord are the .eh_frame entities of spec.md 3.1.
type CieRecord struct {
	File   *InputFile
	Offset int // offset within the raw .eh_frame section bytes
	Data   []byte
	Relocs []Relocation // relocations whose Offset falls within [Offset, Offset+len(Data))
}

type FdeRecord struct {
	File    *InputFile
	Offset  int
	Data    []byte
	Relocs  []Relocation
	CIEIdx  int // index into File.CIEs
	// Code is the InputSection this FDE covers, associated via the
	// FDE's first relocation's symbol (spec.md 4.2).
	Code *InputSection
	IsAlive bool
}

// parseEhFrame implements spec.md 4.2's ".eh_frame is parsed once" rule:
// walk length-prefixed records, classify CIE (id==0) vs FDE, require
// monotonically increasing relocation offsets, pair each FDE to its CIE
// by back-offset, and associate the FDE to a code InputSection via its
// first relocation's symbol, which spec.md requires to sit at offset 8
// within the FDE.
func (f *InputFile) parseEhFrame() error {
	var ehIdx = -1
	for i, s := range f.raw.Sections {
		if s.Name == ".eh_frame" {
			ehIdx = i
			break
		}
	}
	if ehIdx < 0 || f.Sections[ehIdx] == nil {
		return nil
	}
	sec := f.Sections[ehIdx]
	data := sec.Data
	relocs := sec.Relocs

	cieByOffset := make(map[int]int) // raw file offset -> index into f.CIEs

	lastRelOff := int64(-1)
	for _, r := range relocs {
		if int64(r.Offset) < lastRelOff {
			return Fatalf("%s: .eh_frame: relocations are not monotonically increasing", f.Name)
		}
		lastRelOff = int64(r.Offset)
	}

	pos := 0
	for pos+4 <= len(data) {
		length := binary.LittleEndian.Uint32(data[pos:])
		if length == 0 {
			break // terminator
		}
		recStart := pos
		recEnd := pos + 4 + int(length)
		if recEnd > len(data) {
			return Fatalf("%s: .eh_frame: truncated record at offset %d", f.Name, pos)
		}
		if len(data[pos+4:recEnd]) < 4 {
			return Fatalf("%s: .eh_frame: record too small at offset %d", f.Name, pos)
		}
		id := binary.LittleEndian.Uint32(data[pos+4:])
		recData := data[recStart:recEnd]
		recRelocs := relocsInRange(relocs, uint64(recStart), uint64(recEnd))

		if id == 0 {
			idx := len(f.CIEs)
			f.CIEs = append(f.CIEs, CieRecord{File: f, Offset: recStart, Data: recData, Relocs: recRelocs})
			cieByOffset[recStart] = idx
		} else {
			// FDE: id is the back-offset (distance from this field to
			// the start of the owning CIE, per the psABI).
			cieFieldOffset := recStart + 4
			cieOffset := cieFieldOffset - int(id)
			cieIdx, ok := cieByOffset[cieOffset]
			if !ok {
				return Fatalf("%s: .eh_frame: FDE at %d references unknown CIE at %d", f.Name, recStart, cieOffset)
			}
			if len(recRelocs) == 0 {
				return Fatalf("%s: .eh_frame: FDE at %d has no relocations", f.Name, recStart)
			}
			firstRel := recRelocs[0]
			if int(firstRel.Offset)-recStart != 8 {
				return Fatalf("%s: .eh_frame: FDE at %d first relocation not at offset 8", f.Name, recStart)
			}
			fde := FdeRecord{File: f, Offset: recStart, Data: recData, Relocs: recRelocs, CIEIdx: cieIdx, IsAlive: true}
			if firstRel.TargetSym != nil {
				fde.Code = firstRel.TargetSym.Section
			}
			f.FDEs = append(f.FDEs, fde)
		}
		pos = recEnd
	}

	// Associate contiguous FDE ranges to their code sections (spec.md
	// 3.1 invariant: "FDEs sharing an associated code InputSection are
	// contiguous and the section records [fde_begin, fde_end)").
	i := 0
	for i < len(f.FDEs) {
		j := i + 1
		for j < len(f.FDEs) && f.FDEs[j].Code == f.FDEs[i].Code {
			j++
		}
		if code := f.FDEs[i].Code; code != nil {
			code.FDEBegin, code.FDEEnd = i, j
		}
		i = j
	}
	return nil
}

func relocsInRange(relocs []Relocation, lo, hi uint64) []Relocation {
	var out []Relocation
	for _, r := range relocs {
		if r.Offset >= lo && r.Offset < hi {
			out = append(out, r)
		}
	}
	return out
}
