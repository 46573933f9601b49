// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package bucketstore

// base2bit/bit2base implement the 2-bit DNA packing spec §6.1 calls for in
// "compressed_read(2-bit packed + varint length)". This is domain-specific
// encoding with no library equivalent in the pack, so it is hand-written
// (see DESIGN.md).
var base2bit = [256]byte{'A': 0, 'C': 1, 'G': 2, 'T': 3}
var bit2base = [4]byte{'A', 'C', 'G', 'T'}

// PackDNA 2-bit-packs seq into ceil(len(seq)/4) bytes, four bases per byte,
// most-significant pair first. Every byte of seq must be one of A, C, G, T;
// callers that may see N must filter or substitute before calling (ggcat
// itself special-cases N k-mers upstream of bucketing, which this core
// does not reproduce). Any other byte, N included, packs as A.
func PackDNA(seq []byte) []byte {
	out := make([]byte, (len(seq)+3)/4)
	for i, b := range seq {
		out[i/4] |= base2bit[b] << uint(6-2*(i%4))
	}
	return out
}

// UnpackDNA reverses PackDNA, reading exactly length bases back out of
// packed.
func UnpackDNA(packed []byte, length int) []byte {
	out := make([]byte, length)
	for i := range out {
		shift := uint(6 - 2*(i%4))
		out[i] = bit2base[(packed[i/4]>>shift)&0x3]
	}
	return out
}
