package elink

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
)

// decompressLegacyZdebug decompresses the legacy ".zdebug" compressed
// section form spec.md 6 names: a 4-byte "ZLIB" magic followed by an
// 8-byte big-endian uncompressed size, then a real zlib (RFC 1950)
// stream. Unlike the teacher's compress.go (a bespoke LZ77 codec built
// for Flap's own asset bundling, not an ELF-compatible format), this
// must interoperate byte-for-byte with the actual ZLIB wire format a
// real toolchain emits, so it uses the standard library's compress/zlib
// rather than adapting the teacher's codec (see DESIGN.md).
func decompressLegacyZdebug(data []byte) ([]byte, error) {
	if len(data) < 12 || string(data[:4]) != "ZLIB" {
		return nil, Fatalf("not a legacy zdebug section")
	}
	uncompressedSize := binary.BigEndian.Uint64(data[4:12])
	zr, err := zlib.NewReader(bytes.NewReader(data[12:]))
	if err != nil {
		return nil, Fatalf("zdebug: %v", err)
	}
	defer zr.Close()
	out := make([]byte, 0, uncompressedSize)
	buf := &bytes.Buffer{}
	buf.Grow(int(uncompressedSize))
	if _, err := io.Copy(buf, zr); err != nil {
		return nil, Fatalf("zdebug: %v", err)
	}
	out = buf.Bytes()
	return out, nil
}
