// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package config holds the plain data structs the bucketing core is
// configured with. Loading a config file from disk is a CLI concern
// external to this module; these structs only describe the surface the
// core consumes, tagged for YAML the way other config structs in this
// codebase are, so a caller's loader can unmarshal directly into them.
package config

// MinimizerBucketingCommonData is shared between the reader and balancer
// phases: the minimizer scheme's shape and the output bucket count.
type MinimizerBucketingCommonData struct {
	// K is the k-mer length.
	K int `yaml:"k"`
	// M is the minimizer (m-mer) length, M <= K.
	M int `yaml:"m"`
	// BucketsCountMask selects the low bits of a minimizer hash used to
	// route a super-k-mer to its first-level bucket.
	BucketsCountMask uint32 `yaml:"buckets-count-mask"`
	// IgnoredLength discards sequences shorter than this many bases
	// before segmentation.
	IgnoredLength int `yaml:"ignored-length"`
}

// KmersTransformContext holds the tunables governing concurrency and the
// re-read/balance phase's packing decisions.
type KmersTransformContext struct {
	// ComputeThreadsCount bounds concurrent k-mer processing workers.
	ComputeThreadsCount int `yaml:"compute-threads-count"`
	// ReadThreadsCount bounds concurrent sequence-file reader workers.
	ReadThreadsCount int `yaml:"read-threads-count"`
	// MinBucketSize is the target slot size the balancer packs
	// sub-buckets up to before opening a new slot.
	MinBucketSize uint64 `yaml:"min-bucket-size"`
	// MaxSecondBucketsCountLog2 bounds how many bits of a minimizer
	// hash beyond BucketsCountMask a resplit pass may additionally
	// consume.
	MaxSecondBucketsCountLog2 int `yaml:"max-second-buckets-count-log2"`
}
