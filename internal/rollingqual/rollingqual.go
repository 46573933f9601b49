// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package rollingqual is a supplemental feature recovered from
// original_source/src/rolling/quality_check.rs: a rolling sum of
// per-base "probability of correctness" log-scores over a window of
// quality bytes, used only to annotate a super-k-mer with a
// low-average-quality flag (SPEC_FULL.md §4.2). It never influences
// bucket routing, which is derived solely from the minimizer hash.
package rollingqual

import "math"

// LogProbMultiplier is the fixed-point scale applied to -log10(p) scores,
// matching the source's integer log-probability accumulator.
const LogProbMultiplier = 1 << 30

// scoreTable[q] is the fixed-point -log10(1 - 10^(-q/10)) score for a raw
// Phred+33 quality byte q, precomputed once at init so the hot rolling loop
// never calls math.Log10.
var scoreTable [256]uint64

const minPhredByte = '!' // Phred+33 zero point

func init() {
	for b := minPhredByte; b < 256; b++ {
		qualIdx := float64(b - minPhredByte)
		errProb := math.Pow(10, -qualIdx/10)
		corrProb := 1 - errProb
		if corrProb <= 0 {
			scoreTable[b] = math.MaxUint32 * 1024
			continue
		}
		score := -math.Log10(corrProb) * LogProbMultiplier
		if score > float64(math.MaxUint32)*1024 {
			score = float64(math.MaxUint32) * 1024
		}
		scoreTable[b] = uint64(score)
	}
}

// Window is a rolling sum of scoreTable[quality[i]] over the trailing
// ksize bases, computed in O(1) amortized per base by adding the entering
// base's score and subtracting the one leaving the window.
type Window struct {
	size    int
	probLog uint64
}

// NewWindow builds a Window summing scores over ksize trailing bases.
func NewWindow(ksize int) *Window {
	return &Window{size: ksize}
}

// Init primes the window with the first base of a fresh ksize-wide span.
// Call once per base while priming (ksize-1 times) before the first Step.
func (w *Window) Init(base byte) {
	w.probLog += scoreTable[base]
}

// Step slides the window forward by one base: inBase enters, outBase (the
// base ksize-1 positions behind inBase) leaves. Returns the rolling sum
// after inBase is added but before outBase is evicted, matching the
// source's "accumulate then evict" order so the returned score covers the
// window ending at inBase inclusive.
func (w *Window) Step(outBase, inBase byte) uint64 {
	w.probLog += scoreTable[inBase]
	result := w.probLog
	w.probLog -= scoreTable[outBase]
	return result
}

// Reset clears accumulated state, e.g. between independent sequences.
func (w *Window) Reset() {
	w.probLog = 0
}

// Sum reports the window's current accumulated score, for callers that
// only need a one-shot average over a fixed span rather than a sliding
// Step loop.
func (w *Window) Sum() uint64 {
	return w.probLog
}

// IsLowQuality reports whether a rolling score (as returned by Step)
// indicates the window's average correctness probability falls below the
// threshold implied by minAvgPhred.
func IsLowQuality(rollingScore uint64, windowSize int, minAvgPhred byte) bool {
	threshold := scoreTable[minAvgPhred] * uint64(windowSize)
	return rollingScore > threshold
}
