// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package bucketerr defines the error taxonomy of spec §7 as a tagged sum
// type, the way the teacher's errs package tags NETCONF errors by
// error-type/error-tag pairs rather than by Go error wrapper hierarchies.
package bucketerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies one of the five error kinds spec §7 names.
type Kind string

const (
	// KindInputTooShort: sequence length < k (skip) or < m+1 with non-empty
	// intent (programmer error, see IsFatal).
	KindInputTooShort Kind = "input-too-short"
	// KindPacketAllocFailure: pool exhaustion beyond the blocking budget.
	// Always fatal.
	KindPacketAllocFailure Kind = "packet-alloc-failure"
	// KindBucketWriteIO: propagated up, aborts the phase.
	KindBucketWriteIO Kind = "bucket-write-io"
	// KindCorruptBucketFile: aborts the bucket, not the process.
	KindCorruptBucketFile Kind = "corrupt-bucket-file"
	// KindDeflateDecode: CopyForward with an out-of-range back-reference.
	KindDeflateDecode Kind = "deflate-decode"
)

// BucketError is the concrete error type carrying a Kind plus a wrapped
// cause. Use errors.As to recover it from an aggregate (e.g. the
// *multierror.Error returned by bucketstore's Consumer.Run or
// MultiThreadBuckets.Stop).
type BucketError struct {
	Kind Kind
	// Fatal marks errors that are programmer-contract violations rather
	// than recoverable runtime conditions (spec §7: "non-empty intent"
	// InputTooShort, and PacketAllocFailure are always fatal).
	Fatal bool
	cause error
}

func (e *BucketError) Error() string {
	if e.cause == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (e *BucketError) Unwrap() error {
	return e.cause
}

// New builds a BucketError of kind k wrapping cause with msg, preserving
// cause's stack trace via pkg/errors so a CorruptBucketFile retains the
// decode error's origin.
func New(k Kind, fatal bool, cause error, msg string) *BucketError {
	var wrapped error
	if cause != nil {
		wrapped = errors.WithMessage(cause, msg)
	} else {
		wrapped = errors.New(msg)
	}
	return &BucketError{Kind: k, Fatal: fatal, cause: wrapped}
}

// InputTooShort reports a sequence shorter than required. fatal is true iff
// the caller asserted a non-empty-intent precondition that was violated
// (§4.1 "caller contract violation"); false for the ordinary "sequence
// shorter than k, skip it at the reader" case.
func InputTooShort(fatal bool, gotLen, need int) *BucketError {
	return New(KindInputTooShort, fatal, nil,
		fmt.Sprintf("sequence length %d shorter than required %d", gotLen, need))
}

// PacketAllocFailure reports pool exhaustion beyond the blocking budget.
// Always fatal: the reader's "BUG: Out of memory!" path.
func PacketAllocFailure(cause error) *BucketError {
	return New(KindPacketAllocFailure, true, cause, "packet pool exhausted beyond blocking budget")
}

// BucketWriteIO wraps an I/O failure while appending to a bucket file.
func BucketWriteIO(cause error, bucketID uint32) *BucketError {
	return New(KindBucketWriteIO, false, cause, fmt.Sprintf("writing bucket %d", bucketID))
}

// CorruptBucketFile wraps a record-decode failure; the caller quarantines
// the bucket rather than aborting the whole phase.
func CorruptBucketFile(cause error, bucketID uint32) *BucketError {
	return New(KindCorruptBucketFile, false, cause, fmt.Sprintf("decoding bucket %d", bucketID))
}

// DeflateDecode wraps an out-of-range CopyForward back-reference.
func DeflateDecode(prevOffset, position int) *BucketError {
	return New(KindDeflateDecode, false, nil,
		fmt.Sprintf("copy_forward prevOffset=%d exceeds position=%d", prevOffset, position))
}

// Is reports whether err is a BucketError of kind k.
func Is(err error, k Kind) bool {
	var be *BucketError
	if errors.As(err, &be) {
		return be.Kind == k
	}
	return false
}
