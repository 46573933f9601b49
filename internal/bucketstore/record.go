// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package bucketstore implements the bucket writer/storage stage of spec
// §4.5 (component C5): per-bucket append-only record framing (§6.1), the
// sub-bucket counter vector, and a MultiThreadBuckets writer abstraction
// vending one writer per bucket id.
package bucketstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/aristanetworks/kmerbucket/internal/bucketerr"
)

// UseSecondBucket toggles whether records carry an explicit second_bucket
// varint field (spec §6.1's "[second_bucket(varint) if USE_SECOND_BUCKET]");
// callers that derive sub_bucket purely from the stored read at decode time
// can turn this off to save a few bytes per record.
type UseSecondBucket bool

// Record is the decoded form of one bucket-file entry (spec §6.1).
type Record struct {
	Flags        byte
	SecondBucket uint32 // only meaningful when UseSecondBucket is true
	Extra        []byte
	Read         []byte
}

// EncodeRecord appends one length-prefixed record to w: varint(payload_len)
// || flags || [second_bucket varint] || varint(len(extra)) || extra ||
// varint(len(read)) || 2-bit-packed read.
func EncodeRecord(w io.Writer, useSecond UseSecondBucket, rec Record) error {
	var payload bytes.Buffer
	payload.WriteByte(rec.Flags)

	var varintBuf [binary.MaxVarintLen64]byte
	if useSecond {
		n := binary.PutUvarint(varintBuf[:], uint64(rec.SecondBucket))
		payload.Write(varintBuf[:n])
	}

	n := binary.PutUvarint(varintBuf[:], uint64(len(rec.Extra)))
	payload.Write(varintBuf[:n])
	payload.Write(rec.Extra)

	n = binary.PutUvarint(varintBuf[:], uint64(len(rec.Read)))
	payload.Write(varintBuf[:n])
	payload.Write(PackDNA(rec.Read))

	n = binary.PutUvarint(varintBuf[:], uint64(payload.Len()))
	if _, err := w.Write(varintBuf[:n]); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

// DecodeRecord reads one record previously written by EncodeRecord.
// r must support per-byte reads for the varint fields (bufio.Reader
// satisfies this, matching the teacher's lanz client's use of
// bufio.Reader for its own length-prefixed wire format).
func DecodeRecord(r io.ByteReader, useSecond UseSecondBucket) (Record, error) {
	payloadLen, err := binary.ReadUvarint(r)
	if err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, bucketerr.CorruptBucketFile(err, 0)
	}

	br := &limitedByteReader{r: r, remaining: int(payloadLen)}
	flagsByte, err := br.ReadByte()
	if err != nil {
		return Record{}, bucketerr.CorruptBucketFile(err, 0)
	}
	rec := Record{Flags: flagsByte}

	if useSecond {
		sb, err := binary.ReadUvarint(br)
		if err != nil {
			return Record{}, bucketerr.CorruptBucketFile(err, 0)
		}
		rec.SecondBucket = uint32(sb)
	}

	extraLen, err := binary.ReadUvarint(br)
	if err != nil {
		return Record{}, bucketerr.CorruptBucketFile(err, 0)
	}
	rec.Extra = make([]byte, extraLen)
	if err := br.readFull(rec.Extra); err != nil {
		return Record{}, bucketerr.CorruptBucketFile(err, 0)
	}

	readLen, err := binary.ReadUvarint(br)
	if err != nil {
		return Record{}, bucketerr.CorruptBucketFile(err, 0)
	}
	packed := make([]byte, (readLen+3)/4)
	if err := br.readFull(packed); err != nil {
		return Record{}, bucketerr.CorruptBucketFile(err, 0)
	}
	rec.Read = UnpackDNA(packed, int(readLen))

	if br.remaining != 0 {
		return Record{}, bucketerr.CorruptBucketFile(
			fmt.Errorf("%d trailing bytes in record payload", br.remaining), 0)
	}
	return rec, nil
}

// limitedByteReader wraps an io.ByteReader, counting down a declared
// payload length so a truncated or over-long record is caught as
// CorruptBucketFile rather than silently reading into the next record.
type limitedByteReader struct {
	r         io.ByteReader
	remaining int
}

func (l *limitedByteReader) ReadByte() (byte, error) {
	if l.remaining <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b, err := l.r.ReadByte()
	if err != nil {
		return 0, err
	}
	l.remaining--
	return b, nil
}

func (l *limitedByteReader) readFull(buf []byte) error {
	for i := range buf {
		b, err := l.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}
