package elink

import "encoding/binary"

// OutBuf is the fully-sized, in-memory image of the output file (spec.md
// 4.9/4.10: "the mapped output buffer, fully laid out"). Every phase from
// layout onward writes into disjoint byte ranges of the same backing
// array, so concurrent writers never need a lock as long as their ranges
// don't overlap -- the same contract the teacher's elf_complete.go/pe.go
// writers rely on when emitting sections independently before a final
// single-threaded file write.
type OutBuf struct {
	Data []byte
}

// NewOutBuf allocates a zeroed image of the given final file size.
func NewOutBuf(size uint64) *OutBuf {
	return &OutBuf{Data: make([]byte, size)}
}

func (b *OutBuf) Len() int { return len(b.Data) }

// At returns the byte slice starting at file offset off, panicking (via a
// slice out-of-range) rather than silently truncating -- every caller
// already knows its range from layout and a bad offset is a linker bug.
func (b *OutBuf) At(off uint64) []byte { return b.Data[off:] }

func (b *OutBuf) PutUint8(off uint64, v uint8) { b.Data[off] = v }

func (b *OutBuf) PutUint16(off uint64, v uint16) {
	binary.LittleEndian.PutUint16(b.Data[off:off+2], v)
}

func (b *OutBuf) PutUint32(off uint64, v uint32) {
	binary.LittleEndian.PutUint32(b.Data[off:off+4], v)
}

func (b *OutBuf) PutUint64(off uint64, v uint64) {
	binary.LittleEndian.PutUint64(b.Data[off:off+8], v)
}

func (b *OutBuf) Uint32(off uint64) uint32 {
	return binary.LittleEndian.Uint32(b.Data[off : off+4])
}

func (b *OutBuf) Uint64(off uint64) uint64 {
	return binary.LittleEndian.Uint64(b.Data[off : off+8])
}

func (b *OutBuf) WriteAt(off uint64, p []byte) {
	copy(b.Data[off:], p)
}
