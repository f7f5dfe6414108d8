package elink

import (
	"sync"
)

// Interner is the process-wide, concurrent name -> value map of spec.md
// 4.1, parameterized over the value type so the same implementation backs
// both the Symbol interner and each MergedSection's fragment interner
// (spec.md 4.1: "the same data structure, parameterized on the value
// type, also implements the per-MergedSection fragment interner").
//
// The teacher's hashmap.go is the closest available grounding for a
// from-scratch Go hash map (bucket-with-chain, fnv hashing, load-factor
// resize); Interner keeps that bucket-and-chain shape but shards it
// across N independent locks so that "probing is linear within a shard"
// (spec.md 4.1) and concurrent inserts for different shards never
// contend, which is the pragmatic Go rendering of the spec's lock-free
// sentinel-publish design (a true lock-free open-addressed table needs
// unsafe CAS on interface slots that Go's memory model does not give
// cleanly; see DESIGN.md's Open Question resolution).
type Interner[V any] struct {
	shards []*internerShard[V]
	mask   uint64
}

type internerShard[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// numShards is fixed at a power of two; it does the job spec.md 4.1 asks
// of "sharded so probes wrap only within a shard."
const numShards = 64

// NewInterner creates an interner with capacity hinted by size (floored
// at the spec's minimum of 2048 buckets total, spread across shards).
func NewInterner[V any](size int) *Interner[V] {
	if size < 2048 {
		size = 2048
	}
	perShard := nextPow2(size) / numShards
	if perShard < 8 {
		perShard = 8
	}
	in := &Interner[V]{shards: make([]*internerShard[V], numShards), mask: numShards - 1}
	for i := range in.shards {
		in.shards[i] = &internerShard[V]{m: make(map[string]V, perShard)}
	}
	return in
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func fnv64a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

func (in *Interner[V]) shardFor(name string) *internerShard[V] {
	return in.shards[fnv64a(name)&in.mask]
}

// Intern returns the existing value for name if present; otherwise it
// calls makeFn to construct one, installs it, and returns it. Intern is
// idempotent and address-stable (spec.md 4.1, 8.2): every caller
// observing the same name gets the same value for the life of the
// Interner, whether makeFn ran for them or a racing caller "won."
func (in *Interner[V]) Intern(name string, makeFn func() V) V {
	sh := in.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if v, ok := sh.m[name]; ok {
		return v
	}
	v := makeFn()
	sh.m[name] = v
	return v
}

// Lookup returns the existing value for name without creating one.
func (in *Interner[V]) Lookup(name string) (V, bool) {
	sh := in.shardFor(name)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.m[name]
	return v, ok
}

// Len returns the total number of interned entries.
func (in *Interner[V]) Len() int {
	n := 0
	for _, sh := range in.shards {
		sh.mu.Lock()
		n += len(sh.m)
		sh.mu.Unlock()
	}
	return n
}

// Each calls fn for every interned (name, value) pair. Each must not call
// back into Intern/Lookup on the same Interner (it holds shard locks
// while iterating).
func (in *Interner[V]) Each(fn func(name string, v V)) {
	for _, sh := range in.shards {
		sh.mu.Lock()
		for k, v := range sh.m {
			fn(k, v)
		}
		sh.mu.Unlock()
	}
}
