// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package segment

import (
	"math/rand"
	"testing"

	"github.com/aristanetworks/kmerbucket/internal/hashing"
)

// identityFactory treats each m-mer as a base-5 packed integer and uses
// that integer directly as full_minimizer, matching spec §8 scenario 1's
// "identity full_minimizer = hash as integer" oracle setup.
type identityFactory struct{}

func baseCode(b byte) uint64 {
	switch b {
	case 'A':
		return 0
	case 'C':
		return 1
	case 'G':
		return 2
	case 'T':
		return 3
	default:
		return 4
	}
}

// lastIdentityValue is a single-threaded side channel: ExtendableHash has no
// exported fields, so identityStream stashes the value it just computed here
// and ToUnextendable immediately reads it back. Safe because ProcessSequence
// always calls stream.Next() followed immediately by Factory.ToUnextendable
// on the same goroutine before advancing further (internal/segment/segment.go).
var lastIdentityValue uint64

func (identityFactory) NewHashStream(seq []byte, m int) hashing.HashStream {
	return &identityStream{seq: seq, m: m}
}

func (identityFactory) ToUnextendable(h hashing.ExtendableHash) hashing.Hash {
	return hashing.Hash(lastIdentityValue)
}

func (identityFactory) FullMinimizer(h hashing.Hash) uint64 { return uint64(h) }
func (identityFactory) FirstBucket(h hashing.Hash) uint32   { return uint32(h) }
func (identityFactory) SecondBucket(h hashing.Hash) uint32  { return uint32(uint64(h) >> 20) }

// identityStream packs each m-mer into a base-5 integer.
type identityStream struct {
	seq []byte
	m   int
	pos int
}

func (s *identityStream) Next() (hashing.ExtendableHash, bool) {
	if s.pos+s.m > len(s.seq) {
		return hashing.ExtendableHash{}, false
	}
	var v uint64
	for j := 0; j < s.m; j++ {
		v = v*5 + baseCode(s.seq[s.pos+j])
	}
	s.pos++
	lastIdentityValue = v
	return hashing.ExtendableHash{}, true
}

func oracleSegments(k, m int, seq []byte, includeFirst, includeLast bool) [][]byte {
	numM := len(seq) - m + 1
	mKeys := make([]uint64, numM)
	for i := 0; i < numM; i++ {
		var v uint64
		for j := 0; j < m; j++ {
			v = v*5 + baseCode(seq[i+j])
		}
		mKeys[i] = v
	}
	w := k - m + 1
	numKmers := len(seq) - k + 1
	kKeys := make([]uint64, numKmers)
	for i := 0; i < numKmers; i++ {
		min := mKeys[i]
		for j := 1; j < w; j++ {
			if mKeys[i+j] < min {
				min = mKeys[i+j]
			}
		}
		kKeys[i] = min
	}

	startIdx := 0
	if !includeFirst {
		startIdx = 1
	}
	var runs [][]byte
	if startIdx >= numKmers {
		return runs
	}
	runStart := startIdx
	for i := startIdx + 1; i < numKmers; i++ {
		last := i == numKmers-1
		if last && !includeLast {
			continue
		}
		if kKeys[i] != kKeys[i-1] {
			runs = append(runs, seq[runStart:(i-1)+k])
			runStart = i
		}
	}
	runs = append(runs, seq[runStart:(numKmers-1)+k])
	return runs
}

// TestScenario1BruteForceOracle reproduces spec.md §8 concrete scenario 1.
func TestScenario1BruteForceOracle(t *testing.T) {
	seq := []byte("ACGTACGTAC")
	k, m := 5, 3

	var got [][]byte
	cfg := Config{
		K: k, M: m, Factory: identityFactory{},
		BucketsMask:  0xFFFFFFFF,
		IncludeFirst: true, IncludeLast: true,
	}
	err := ProcessSequence(cfg, seq, nil, func(_, _ uint32, s []byte, _ Flags, _ []byte) {
		cp := make([]byte, len(s))
		copy(cp, s)
		got = append(got, cp)
	})
	if err != nil {
		t.Fatalf("ProcessSequence: %v", err)
	}
	want := oracleSegments(k, m, seq, true, true)
	if len(got) != len(want) {
		t.Fatalf("got %d segments %q, want %d segments %q", len(got), got, len(want), want)
	}
	for i := range got {
		if string(got[i]) != string(want[i]) {
			t.Fatalf("segment %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestSequenceLengthExactlyK(t *testing.T) {
	seq := []byte("ACGTA")
	cfg := Config{K: 5, M: 3, Factory: identityFactory{}, BucketsMask: 0xFF, IncludeFirst: true, IncludeLast: true}
	var calls int
	var gotFlags Flags
	err := ProcessSequence(cfg, seq, nil, func(_, _ uint32, s []byte, f Flags, _ []byte) {
		calls++
		gotFlags = f
		if string(s) != string(seq) {
			t.Errorf("got subslice %q, want full sequence %q", s, seq)
		}
	})
	if err != nil {
		t.Fatalf("ProcessSequence: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d super-k-mers, want exactly 1", calls)
	}
	if gotFlags != FlagIncludeFirst|FlagIncludeLast {
		t.Fatalf("got flags %b, want include_first|include_last", gotFlags)
	}
}

func TestAllBasesIdentical(t *testing.T) {
	seq := make([]byte, 20)
	for i := range seq {
		seq[i] = 'A'
	}
	cfg := Config{K: 6, M: 3, Factory: identityFactory{}, BucketsMask: 0xFF, IncludeFirst: true, IncludeLast: true}
	var calls int
	err := ProcessSequence(cfg, seq, nil, func(_, _ uint32, s []byte, _ Flags, _ []byte) {
		calls++
		if string(s) != string(seq) {
			t.Errorf("got subslice %q, want full sequence", s)
		}
	})
	if err != nil {
		t.Fatalf("ProcessSequence: %v", err)
	}
	if calls != 1 {
		t.Fatalf("got %d super-k-mers, want exactly 1", calls)
	}
}

func TestIncludeFirstFalseOffsetsByOne(t *testing.T) {
	seq := []byte("ACGTACGTACGT")
	cfg := Config{K: 5, M: 3, Factory: identityFactory{}, BucketsMask: 0xFF, IncludeFirst: false, IncludeLast: true}
	var first []byte
	err := ProcessSequence(cfg, seq, nil, func(_, _ uint32, s []byte, _ Flags, _ []byte) {
		if first == nil {
			first = s
		}
	})
	if err != nil {
		t.Fatalf("ProcessSequence: %v", err)
	}
	if first[0] != seq[1] {
		t.Fatalf("first emitted segment should start at position 1, got start byte %q want %q", first[0], seq[1])
	}
}

// TestLowQualityThresholdFlagsPoorRuns checks the FlagLowQuality wiring:
// a run whose quality-byte span averages below the threshold is flagged,
// and the flag never fires when the threshold is left at zero.
func TestLowQualityThresholdFlagsPoorRuns(t *testing.T) {
	seq := []byte("ACGTACGTACGT")
	qual := make([]byte, len(seq))
	for i := range qual {
		qual[i] = '#' // Phred+33 byte for Q2, a poor score
	}

	cfg := Config{K: 5, M: 3, Factory: identityFactory{}, BucketsMask: 0xFFFFFFFF,
		IncludeFirst: true, IncludeLast: true, LowQualityThreshold: 'I'} // Q40, a high bar
	var sawLowQuality bool
	err := ProcessSequence(cfg, seq, qual, func(_, _ uint32, _ []byte, f Flags, _ []byte) {
		if f&FlagLowQuality != 0 {
			sawLowQuality = true
		}
	})
	if err != nil {
		t.Fatalf("ProcessSequence: %v", err)
	}
	if !sawLowQuality {
		t.Fatal("expected at least one run flagged FlagLowQuality")
	}

	cfg.LowQualityThreshold = 0
	sawLowQuality = false
	err = ProcessSequence(cfg, seq, qual, func(_, _ uint32, _ []byte, f Flags, _ []byte) {
		if f&FlagLowQuality != 0 {
			sawLowQuality = true
		}
	})
	if err != nil {
		t.Fatalf("ProcessSequence: %v", err)
	}
	if sawLowQuality {
		t.Fatal("LowQualityThreshold=0 must disable FlagLowQuality entirely")
	}
}

// TestExtrasReconstructWithoutGapOrOverlap is the property test spec.md §9's
// open question asks for: concatenating every emitted extra slice must
// reconstruct the original extra-data exactly. See SPEC_FULL.md §9 for why
// we resolve the ambiguous dual-range formula by using the same range as
// the sequence subslice.
func TestExtrasReconstructWithoutGapOrOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	bases := []byte("ACGT")
	for trial := 0; trial < 200; trial++ {
		n := 10 + rng.Intn(40)
		k := 4 + rng.Intn(3)
		m := 2 + rng.Intn(k-2)
		if n < k {
			n = k
		}
		seq := make([]byte, n)
		extra := make([]byte, n)
		for i := range seq {
			seq[i] = bases[rng.Intn(len(bases))]
			extra[i] = byte(i % 251)
		}
		includeFirst := rng.Intn(2) == 0
		includeLast := rng.Intn(2) == 0

		var coveredFrom, coveredTo int
		first := true
		var reconstructed []byte
		cfg := Config{K: k, M: m, Factory: identityFactory{}, BucketsMask: 0xFFFFFFFF,
			IncludeFirst: includeFirst, IncludeLast: includeLast}
		err := ProcessSequence(cfg, seq, extra, func(_, _ uint32, s []byte, _ Flags, ex []byte) {
			if len(ex) != len(s) {
				t.Fatalf("extra slice length %d != seq slice length %d", len(ex), len(s))
			}
			reconstructed = append(reconstructed, ex...)
			_ = coveredFrom
			_ = coveredTo
			first = false
		})
		if err != nil {
			t.Fatalf("trial %d: ProcessSequence: %v", trial, err)
		}
		if first {
			continue // includeFirst=false degenerate case with no runs
		}
		wantStart := 0
		if !includeFirst {
			wantStart = 1
		}
		want := extra[wantStart:]
		if string(reconstructed) != string(want) {
			t.Fatalf("trial %d: reconstructed extras %v != expected %v", trial, reconstructed, want)
		}
	}
}
