package elink

import "encoding/binary"

// fillImplicitAddends reads the addend for each SHT_REL-format relocation
// out of the target section's own bytes at r.Offset, since REL entries
// (unlike RELA) carry no explicit addend field -- the ABI stores it in the
// relocated memory location itself. i386, the only REL-format backend
// here, always relocates 32-bit fields.
func fillImplicitAddends(relocs []Relocation, data []byte) {
	for i := range relocs {
		off := relocs[i].Offset
		if off+4 > uint64(len(data)) {
			continue
		}
		relocs[i].Addend = int64(int32(binary.LittleEndian.Uint32(data[off : off+4])))
	}
}

// decodeRelocs decodes a raw REL/RELA section's bytes into Relocation
// values (spec.md 6's "REL, RELA" section types). debug/elf does not
// expose a generic cross-architecture relocation iterator, so this walks
// the wire format directly using the same elf.Rela64/Rel64-shaped layout
// the standard library defines (see elf_const.go's header comment).
func decodeRelocs(data []byte, rela bool, is64 bool) ([]Relocation, error) {
	var out []Relocation
	if is64 {
		entSize := 16
		if rela {
			entSize = 24
		}
		if entSize == 0 || len(data)%entSize != 0 {
			return nil, Fatalf("relocation section size %d is not a multiple of %d", len(data), entSize)
		}
		for off := 0; off+entSize <= len(data); off += entSize {
			r64Offset := binary.LittleEndian.Uint64(data[off:])
			info := binary.LittleEndian.Uint64(data[off+8:])
			symIdx := uint32(info >> 32)
			relType := uint32(info)
			var addend int64
			if rela {
				addend = int64(binary.LittleEndian.Uint64(data[off+16:]))
			}
			out = append(out, Relocation{Offset: r64Offset, Type: relType, SymIdx: symIdx, Addend: addend})
		}
		return out, nil
	}

	entSize := 8
	if rela {
		entSize = 12
	}
	if entSize == 0 || len(data)%entSize != 0 {
		return nil, Fatalf("relocation section size %d is not a multiple of %d", len(data), entSize)
	}
	for off := 0; off+entSize <= len(data); off += entSize {
		r32Offset := binary.LittleEndian.Uint32(data[off:])
		info := binary.LittleEndian.Uint32(data[off+4:])
		symIdx := info >> 8
		relType := info & 0xff
		var addend int64
		if rela {
			addend = int64(int32(binary.LittleEndian.Uint32(data[off+8:])))
		}
		out = append(out, Relocation{Offset: uint64(r32Offset), Type: relType, SymIdx: symIdx, Addend: addend})
	}
	return out, nil
}
