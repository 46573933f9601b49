// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package hashing defines the hash factory contract (spec §6.3) that C1/C2
// are built against, plus a concrete xxhash-based implementation.
//
// A Factory turns a sequence window into an ExtendableHash while the window
// is still growing (m-mer accumulation) and only "freezes" it into an
// unextendable Hash once the window is complete. Most callers only ever see
// the frozen Hash; the two-stage shape exists so alternate factories (e.g. a
// canonical-k-mer-aware one, hashing both strands and taking the min) can be
// swapped in without touching the rolling queue or the segmenter.
package hashing

import "github.com/cespare/xxhash/v2"

// Hash is the opaque 64-bit token produced by a Factory for one m-mer
// window. It is never interpreted outside FullMinimizer/FirstBucket/
// SecondBucket.
type Hash uint64

// ExtendableHash is the in-progress hash of a window that may still grow.
// For the default xxhash-backed factory this already equals the final
// value, but the type stays distinct from Hash so a factory that needs to
// carry extra state across ToUnextendable can do so.
type ExtendableHash struct {
	value uint64
}

// Factory builds HashStreams over sequences and projects frozen Hashes into
// the bucket-routing keys spec §3 requires: a total-order surrogate
// (FullMinimizer) and two independent low-bit projections (FirstBucket,
// SecondBucket).
type Factory interface {
	// NewHashStream returns the lazy stream of window hashes for sequence,
	// one per position i in [0, len(sequence)-m].
	NewHashStream(sequence []byte, m int) HashStream
	// ToUnextendable freezes a growing hash into its final, comparable form.
	ToUnextendable(h ExtendableHash) Hash
	// FullMinimizer is the comparison key: smaller is "more minimizer-like".
	FullMinimizer(h Hash) uint64
	// FirstBucket selects the top-level bucket.
	FirstBucket(h Hash) uint32
	// SecondBucket selects the sub-bucket used for load balancing.
	SecondBucket(h Hash) uint32
}

// HashStream is a finite, lazily-evaluated sequence of ExtendableHash
// values, one per m-mer window of the sequence it was built from.
type HashStream interface {
	// Next returns the next window hash, or ok=false once exhausted.
	Next() (ExtendableHash, bool)
}

// XXHashFactory is the reference Factory (§6.3, component C12): each m-mer
// window is hashed independently with xxhash. FullMinimizer is the whole
// 64-bit digest; FirstBucket and SecondBucket take disjoint bit ranges of
// it, so they are statistically independent even though they derive from
// one hash.
type XXHashFactory struct {
	// SecondBucketShift controls how far the second-bucket projection is
	// rotated away from the first-bucket projection's low bits, so the two
	// masks (applied by the caller) never overlap for reasonable bucket
	// counts. Default (zero value) uses 32.
	SecondBucketShift uint
}

// NewHashStream implements Factory.
func (f XXHashFactory) NewHashStream(sequence []byte, m int) HashStream {
	return &xxhashStream{seq: sequence, m: m}
}

// ToUnextendable implements Factory.
func (f XXHashFactory) ToUnextendable(h ExtendableHash) Hash {
	return Hash(h.value)
}

// FullMinimizer implements Factory.
func (f XXHashFactory) FullMinimizer(h Hash) uint64 {
	return uint64(h)
}

// FirstBucket implements Factory.
func (f XXHashFactory) FirstBucket(h Hash) uint32 {
	return uint32(h)
}

// SecondBucket implements Factory.
func (f XXHashFactory) SecondBucket(h Hash) uint32 {
	shift := f.SecondBucketShift
	if shift == 0 {
		shift = 32
	}
	return uint32(uint64(h) >> shift)
}

type xxhashStream struct {
	seq []byte
	m   int
	pos int
}

func (s *xxhashStream) Next() (ExtendableHash, bool) {
	if s.m <= 0 || s.pos+s.m > len(s.seq) {
		return ExtendableHash{}, false
	}
	window := s.seq[s.pos : s.pos+s.m]
	s.pos++
	return ExtendableHash{value: xxhash.Sum64(window)}, true
}
