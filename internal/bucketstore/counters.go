// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package bucketstore

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
)

// SubBucketCounter is one entry of a bucket's counter vector C_i (spec §3):
// the exact super-k-mer count routed to that sub-bucket, and whether an
// upstream counters analyzer (out of scope here, spec §9 open question 2)
// flagged it as an outlier.
type SubBucketCounter struct {
	Count     uint64
	IsOutlier bool
}

// WriteCounters persists counters to path as spec §6.1 specifies:
// varint(n) || { varint(count) varint(flags) }×n, one sibling file per
// bucket (conventionally "<bucket>.counters").
func WriteCounters(path string, counters []SubBucketCounter) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := EncodeCounters(w, counters); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// EncodeCounters writes counters' on-disk encoding to w.
func EncodeCounters(w io.Writer, counters []SubBucketCounter) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], uint64(len(counters)))
	if _, err := w.Write(buf[:n]); err != nil {
		return err
	}
	for _, c := range counters {
		n := binary.PutUvarint(buf[:], c.Count)
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
		flags := uint64(0)
		if c.IsOutlier {
			flags = 1
		}
		n = binary.PutUvarint(buf[:], flags)
		if _, err := w.Write(buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

// ReadCounters loads a bucket's counter vector from path.
func ReadCounters(path string) ([]SubBucketCounter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCounters(bufio.NewReader(f))
}

// DecodeCounters reads a counters vector previously written by
// EncodeCounters/WriteCounters.
func DecodeCounters(r io.ByteReader) ([]SubBucketCounter, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]SubBucketCounter, n)
	for i := range out {
		count, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		flags, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		out[i] = SubBucketCounter{Count: count, IsOutlier: flags&1 != 0}
	}
	return out, nil
}
