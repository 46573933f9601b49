// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package segment implements the minimizer segmenter (spec §4.2,
// component C2): for one input sequence it streams m-mer hashes through a
// rolling minimum queue and emits a maximal super-k-mer run each time the
// rolling minimizer changes, routing each run to a (bucket, sub_bucket)
// pair derived from that run's shared minimizer hash.
package segment

import (
	"github.com/aristanetworks/kmerbucket/internal/bucketerr"
	"github.com/aristanetworks/kmerbucket/internal/hashing"
	"github.com/aristanetworks/kmerbucket/internal/minqueue"
	"github.com/aristanetworks/kmerbucket/internal/rollingqual"
)

// Flags bits for an emitted super-k-mer (spec §3 "Super-k-mer run R").
type Flags uint8

const (
	// FlagIncludeFirst is set on the run containing the sequence's first
	// base, iff the caller asserted Config.IncludeFirst.
	FlagIncludeFirst Flags = 1 << 0
	// FlagIncludeLast is set on the final run, iff the caller asserted
	// Config.IncludeLast.
	FlagIncludeLast Flags = 1 << 1
	// FlagLowQuality is a supplemental annotation (SPEC_FULL.md §4.2,
	// recovered from original_source/src/rolling/quality_check.rs): the
	// run's average base quality fell below the caller's threshold. It
	// never affects bucket routing.
	FlagLowQuality Flags = 1 << 2
)

// Config carries the per-sequence tunables spec §6.4 groups under
// MinimizerBucketingCommonData.
type Config struct {
	K, M int
	// Factory computes and projects minimizer hashes (spec §6.3).
	Factory hashing.Factory
	// BucketsMask is buckets_count-1 (buckets_count a power of two),
	// applied to both the first_bucket and second_bucket projections.
	BucketsMask uint32
	// IncludeFirst/IncludeLast mark whether this sequence slice truly
	// starts/ends the original read (false when a larger read was split
	// across worker boundaries upstream).
	IncludeFirst bool
	IncludeLast  bool
	// LowQualityThreshold is the minimum acceptable average Phred+33
	// quality byte for a run (extra treated as per-base quality scores);
	// zero disables the FlagLowQuality annotation entirely, since extra
	// may instead carry unrelated co-indexed data.
	LowQualityThreshold byte
}

// Emit receives one maximal super-k-mer run: bucket/subBucket are the
// routing keys, seq is the run's sequence subslice, extra is the
// co-indexed extra-data subslice (see SPEC_FULL.md §9 for why it uses the
// same range as seq), and flags packs FlagIncludeFirst/FlagIncludeLast/
// FlagLowQuality.
type Emit func(bucket, subBucket uint32, seq []byte, flags Flags, extra []byte)

// ProcessSequence implements spec §4.2's process_sequence. sequence must
// have length >= cfg.K (the caller's contract, spec §4.2 "Errors"); extra
// must be the same length as sequence or nil. Violating the length
// contract is a fatal InputTooShort (programmer error), not a skip — the
// skip-too-short path belongs to the upstream reader (spec.bucketreader).
func ProcessSequence(cfg Config, sequence, extra []byte, emit Emit) error {
	if len(sequence) < cfg.K {
		return bucketerr.InputTooShort(true, len(sequence), cfg.K)
	}
	w := cfg.K - cfg.M + 1
	stream := cfg.Factory.NewHashStream(sequence, cfg.M)

	numKmers := len(sequence) - cfg.K + 1
	keys := make([]uint64, numKmers)
	hashes := make([]hashing.Hash, numKmers)

	// Feed the m-mer hash stream through the rolling minimum queue; the
	// queue's i-th emit (0-indexed from its first emit) is exactly the
	// minimizer hash for k-mer position i (spec §8 invariant 1).
	minimizer := minqueue.New(w, cfg.Factory.FullMinimizer)
	kmerPos := 0
	for {
		eh, ok := stream.Next()
		if !ok {
			break
		}
		h := cfg.Factory.ToUnextendable(eh)
		if min, emitted := minimizer.Push(h); emitted {
			hashes[kmerPos] = min
			keys[kmerPos] = cfg.Factory.FullMinimizer(min)
			kmerPos++
		}
	}
	if kmerPos != numKmers {
		return bucketerr.InputTooShort(true, len(sequence), cfg.K)
	}

	startIdx := 0
	if !cfg.IncludeFirst {
		startIdx = 1
	}
	if startIdx >= numKmers {
		return nil
	}

	runStart := startIdx
	isFirstRun := true
	flush := func(end int) {
		flags := Flags(0)
		if isFirstRun && cfg.IncludeFirst {
			flags |= FlagIncludeFirst
		}
		isLast := end == numKmers-1
		if isLast && cfg.IncludeLast {
			flags |= FlagIncludeLast
		}
		h := hashes[runStart]
		bucket := cfg.Factory.FirstBucket(h) & cfg.BucketsMask
		subBucket := cfg.Factory.SecondBucket(h) & cfg.BucketsMask

		seqStart, seqEnd := runStart, end+cfg.K
		seqSlice := sequence[seqStart:seqEnd]
		var extraSlice []byte
		if extra != nil {
			extraSlice = extra[seqStart:seqEnd]
			if cfg.LowQualityThreshold != 0 && isLowQualityRun(extraSlice, cfg.LowQualityThreshold) {
				flags |= FlagLowQuality
			}
		}
		emit(bucket, subBucket, seqSlice, flags, extraSlice)
		isFirstRun = false
	}

	for i := startIdx + 1; i < numKmers; i++ {
		last := i == numKmers-1
		if last && !cfg.IncludeLast {
			// The artificial boundary at the last k-mer is suppressed: it
			// stays merged into the final run regardless of minimizer.
			continue
		}
		if keys[i] != keys[i-1] {
			flush(i - 1)
			runStart = i
		}
	}
	flush(numKmers - 1)
	return nil
}

// isLowQualityRun reports whether a run's quality-byte span's average
// falls below minAvgPhred, via the one-shot rollingqual accumulator
// (SPEC_FULL.md §4.2's supplemental FlagLowQuality annotation).
func isLowQualityRun(qual []byte, minAvgPhred byte) bool {
	if len(qual) == 0 {
		return false
	}
	win := rollingqual.NewWindow(len(qual))
	for _, b := range qual {
		win.Init(b)
	}
	return rollingqual.IsLowQuality(win.Sum(), len(qual), minAvgPhred)
}
