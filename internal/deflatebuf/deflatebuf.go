// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package deflatebuf implements the sliding-window chunked buffer output of
// spec §4.7 (adjunct to C5): the decompressor-output sink a low-level
// DEFLATE token decoder drives while inflating gzipped FASTA/FASTQ input.
// This package is the callback target, not a replacement for the inflate
// algorithm itself; no package in this module currently feeds a decoder's
// output into it (internal/bucketreader does not decompress its input).
package deflatebuf

import "hash/crc32"

// Result is the final flush's output: total bytes written through the
// callback and a running CRC-32 over exactly those bytes, independent of
// when individual flush chunks happened to land.
type Result struct {
	Written int64
	CRC32   uint32
}

// Output is a sliding-window buffer implementing write/copy_forward/
// get_available_buffer/advance (spec §4.7). All positions are absolute
// offsets into the logical decompressed stream, not into the physical
// backing slice.
type Output struct {
	onFlush func([]byte)

	maxLookBack    int
	flushThreshold int

	buf      []byte // physically holds the logical range [base, position)
	base     int    // absolute position of buf[0]
	position int    // absolute position of the next byte to be written
	flushed  int    // absolute position up to which onFlush has already run

	crc     uint32
	written int64
}

// New builds an Output that retains up to maxLookBack bytes of history for
// CopyForward and flushes to onFlush once the unflushed tail grows beyond
// flushThreshold.
func New(maxLookBack, flushThreshold int, onFlush func([]byte)) *Output {
	return &Output{
		onFlush:        onFlush,
		maxLookBack:    maxLookBack,
		flushThreshold: flushThreshold,
	}
}

// Position reports the current absolute write position.
func (o *Output) Position() int {
	return o.position
}

// Write appends p as literal bytes at the current position.
func (o *Output) Write(p []byte) {
	o.buf = append(o.buf, p...)
	o.position += len(p)
	o.maybeFlush()
}

// AvailableBuffer grows the backing buffer to fit n more bytes and returns
// the uninitialized slice the caller should fill directly, avoiding an
// extra copy for bulk literal runs; call Advance(n) once filled.
func (o *Output) AvailableBuffer(n int) []byte {
	cur := len(o.buf)
	o.buf = append(o.buf, make([]byte, n)...)
	return o.buf[cur : cur+n]
}

// Advance commits n bytes previously filled via AvailableBuffer.
func (o *Output) Advance(n int) {
	o.position += n
	o.maybeFlush()
}

// CopyForward is the LZ77 back-reference op: it appends length bytes read
// starting at absolute position prevOffset. Distances shorter than length
// are legal and must reproduce the overlapping repeat byte-by-byte (the
// classic LZ77 self-referential copy). It returns false without touching
// the buffer if prevOffset is out of range — either in the future
// (prevOffset > position) or already evicted history (prevOffset < base),
// which the caller (spec §7) converts into a typed DeflateDecodeError.
func (o *Output) CopyForward(prevOffset, length int) bool {
	if prevOffset > o.position || prevOffset < o.base {
		return false
	}
	for i := 0; i < length; i++ {
		srcAbs := prevOffset + i
		o.buf = append(o.buf, o.buf[srcAbs-o.base])
	}
	o.position += length
	o.maybeFlush()
	return true
}

func (o *Output) maybeFlush() {
	if o.position-o.flushed >= o.flushThreshold {
		o.flush()
	}
}

// flush emits [flushed, position) through onFlush, updates the running
// CRC-32, and slides the physical buffer back to retain only the trailing
// min(position, maxLookBack) bytes future CopyForward calls may need.
func (o *Output) flush() {
	chunk := o.buf[o.flushed-o.base : o.position-o.base]
	if len(chunk) > 0 {
		o.onFlush(chunk)
		o.crc = crc32.Update(o.crc, crc32.IEEETable, chunk)
		o.written += int64(len(chunk))
	}
	o.flushed = o.position

	retain := o.maxLookBack
	if o.position < retain {
		retain = o.position
	}
	newBase := o.position - retain
	o.buf = append(o.buf[:0], o.buf[newBase-o.base:]...)
	o.base = newBase
}

// Close flushes any remaining unflushed bytes regardless of threshold and
// returns the final {written, crc32} pair (spec §4.7 "final flush").
func (o *Output) Close() Result {
	o.flush()
	return Result{Written: o.written, CRC32: o.crc}
}
