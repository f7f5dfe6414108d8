package elink

import "encoding/binary"

// sysvHash implements the classic SysV ELF string hash (spec.md 4.8's
// `.hash`), the same algorithm debug/elf documents in its ELF hash
// section format notes.
func sysvHash(name string) uint32 {
	var h uint32
	for i := 0; i < len(name); i++ {
		h = (h << 4) + uint32(name[i])
		if g := h & 0xf0000000; g != 0 {
			h ^= g >> 24
			h &^= g
		}
	}
	return h
}

// gnuHash implements the GNU hash function `.gnu.hash` uses (DJB2
// variant specified by the GNU extension).
func gnuHash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = h*33 + uint32(name[i])
	}
	return h
}

// BuildSysVHash lays out a `.hash` section (nbucket, nchain, bucket[],
// chain[]) over the dynamic symbol table. The bucket count is the first
// entry p of a fixed table (1, 3, 17, 37, ...) with 4*p >= n, where n
// counts the null entry too.
func BuildSysVHash(dynsyms []*Symbol) []byte {
	n := len(dynsyms) + 1 // +1 for the null entry at dynsym[0]
	nbucket := pickBucketCount(n)
	buckets := make([]uint32, nbucket)
	chain := make([]uint32, n)

	for i, sym := range dynsyms {
		idx := uint32(i + 1)
		h := sysvHash(sym.Name) % uint32(nbucket)
		chain[idx] = buckets[h]
		buckets[h] = idx
	}

	buf := make([]byte, 8+4*nbucket+4*n)
	binary.LittleEndian.PutUint32(buf[0:], uint32(nbucket))
	binary.LittleEndian.PutUint32(buf[4:], uint32(n))
	for i, b := range buckets {
		binary.LittleEndian.PutUint32(buf[8+4*i:], b)
	}
	for i, c := range chain {
		binary.LittleEndian.PutUint32(buf[8+4*nbucket+4*i:], c)
	}
	return buf
}

func pickBucketCount(n int) int {
	primes := []int{1, 3, 17, 37, 67, 97, 131, 197, 263, 521, 1031, 2053, 4099, 8209}
	for _, p := range primes {
		if p*4 >= n {
			return p
		}
	}
	return primes[len(primes)-1]
}

// BuildGnuHash lays out a minimal `.gnu.hash` section: one bucket per
// symbol bloom-filter slot, a single bitmask word, and bucket/chain
// arrays over dynsyms sorted so that gnu-hash-bucketed entries form a
// contiguous, hash-sorted tail of `.dynsym` (spec.md 4.8's "sorted so
// that... gnu-hash-bucketed ones come last").
func BuildGnuHash(dynsyms []*Symbol, symOffset int) []byte {
	n := len(dynsyms)
	if n == 0 {
		return make([]byte, 16) // header only, all four words zero: nbucket, symoffset, bloom size, shift
	}
	nbucket := pickBucketCount(n)
	maskWords := 1
	shift := uint32(6)

	hashes := make([]uint32, n)
	for i, sym := range dynsyms {
		hashes[i] = gnuHash(sym.Name)
	}

	bloom := make([]uint64, maskWords)
	for _, h := range hashes {
		bloom[(h/64)%uint32(maskWords)] |= 1 << (h % 64)
		bloom[(h/64)%uint32(maskWords)] |= 1 << ((h >> shift) % 64)
	}

	buckets := make([]uint32, nbucket)
	chain := make([]uint32, n)
	for i, h := range hashes {
		b := h % uint32(nbucket)
		if buckets[b] == 0 {
			buckets[b] = uint32(symOffset + i)
		}
		chain[i] = h &^ 1
	}
	// Terminate each bucket's chain with the low bit set on its last
	// member, per the GNU hash table format.
	for b := 0; b < nbucket; b++ {
		last := -1
		for i, h := range hashes {
			if h%uint32(nbucket) == uint32(b) {
				last = i
			}
		}
		if last >= 0 {
			chain[last] |= 1
		}
	}

	buf := make([]byte, 16+8*maskWords+4*nbucket+4*n)
	binary.LittleEndian.PutUint32(buf[0:], uint32(nbucket))
	binary.LittleEndian.PutUint32(buf[4:], uint32(symOffset))
	binary.LittleEndian.PutUint32(buf[8:], uint32(maskWords))
	binary.LittleEndian.PutUint32(buf[12:], shift)
	off := 16
	for _, w := range bloom {
		binary.LittleEndian.PutUint64(buf[off:], w)
		off += 8
	}
	for _, b := range buckets {
		binary.LittleEndian.PutUint32(buf[off:], b)
		off += 4
	}
	for _, c := range chain {
		binary.LittleEndian.PutUint32(buf[off:], c)
		off += 4
	}
	return buf
}
