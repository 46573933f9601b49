// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package bucketreader implements the parallel bucketing reader stage of
// spec §4.4 (component C4): LOW-priority workers pull raw blocks from a
// SequenceSource, segment each sequence through internal/segment, and
// batch the resulting super-k-mers into packets routed to the executor
// group's address, replacing a full packet atomically when it fills.
package bucketreader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	kmerglog "github.com/aristanetworks/kmerbucket/glog"
	"github.com/aristanetworks/kmerbucket/internal/bucketerr"
	"github.com/aristanetworks/kmerbucket/internal/executor"
	"github.com/aristanetworks/kmerbucket/internal/pool"
	"github.com/aristanetworks/kmerbucket/internal/segment"
	"github.com/aristanetworks/kmerbucket/logger"
)

// FastaSequence is one decoded record from a SequenceSource (spec §6.2).
type FastaSequence struct {
	Ident []byte
	Seq   []byte
	Qual  []byte // optional, nil if the source carries no quality scores
}

// SequenceInfo carries the per-record bookkeeping a SequenceSource clones
// alongside each FastaSequence (spec §6.2's seq_info).
type SequenceInfo struct {
	// StartReadIndex is the global read index at which this sequence's
	// bytes begin, used to enforce the C4 no-straddle invariant.
	StartReadIndex uint64
}

// SequenceSource is the external collaborator (spec §6.2): the FASTA/FASTQ
// tokenizer is out of scope here, so the core depends only on this
// interface. ReadBlock decodes blockData and invokes onSequence once per
// record.
type SequenceSource interface {
	ReadBlock(blockData []byte, copyIdent, partialCopyback bool,
		onSequence func(FastaSequence, SequenceInfo)) error
}

// Record is one super-k-mer emitted by the segmenter, paired with the
// sequence-level bookkeeping the writer stage needs.
type Record struct {
	Bucket, SubBucket uint32
	Seq               []byte
	Flags             segment.Flags
	Extra             []byte
	StartReadIndex    uint64
}

// Config carries one worker's tunables.
type Config struct {
	Segment       segment.Config
	IgnoredLength int // sequences shorter than this are skipped (spec §4.4 step 1)
	Backoff       *backoff.ExponentialBackOff
	// Logger receives diagnostic messages (sequences the segmenter rejects
	// as too short; ReadBlock retries are not logged);
	// defaults to glog.Glog, the package's standard logger.Logger adapter.
	Logger logger.Logger
}

// Stats are the C7 atomic counters this stage bumps; internal/telemetry's
// Sink keeps its own Prometheus-exported counterpart and does not read
// these.
type Stats struct {
	ProcessedFiles int64
}

func (s *Stats) bumpProcessedFiles() {
	atomic.AddInt64(&s.ProcessedFiles, 1)
}

// Worker is one LOW-priority reader (spec §4.4): it owns one output
// packets pool and retries transient ReadBlock I/O errors with backoff
// before escalating (the fatal pool-exhaustion path is distinct and never
// retried, per spec §7).
type Worker struct {
	cfg    Config
	source SequenceSource
	pool   *pool.Pool[Record]
	hub    *executor.Hub
	dest   executor.Address
	stats  *Stats
}

// NewWorker builds a reader worker that drains source and routes filled
// packets' records to dest via hub.
func NewWorker(cfg Config, source SequenceSource, p *pool.Pool[Record],
	hub *executor.Hub, dest executor.Address, stats *Stats) *Worker {
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.NewExponentialBackOff()
		cfg.Backoff.MaxElapsedTime = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = &kmerglog.Glog{InfoLevel: 2}
	}
	return &Worker{cfg: cfg, source: source, pool: p, hub: hub, dest: dest, stats: stats}
}

// ProcessBlock implements spec §4.4's per-block loop: allocate a data
// packet, run the block through the source, segment each sequence, and
// swap in a fresh packet whenever the current one fills.
func (w *Worker) ProcessBlock(ctx context.Context, blockData []byte) error {
	pkt, err := w.pool.AllocPacket(ctx)
	if err != nil {
		return err
	}

	var onSeqErr error
	readErr := backoff.Retry(func() error {
		return w.source.ReadBlock(blockData, true, true, func(fs FastaSequence, info SequenceInfo) {
			if onSeqErr != nil {
				return
			}
			if len(fs.Seq) < w.cfg.IgnoredLength {
				return
			}
			pkt, onSeqErr = w.pushSequence(ctx, pkt, fs, info)
		})
	}, w.cfg.Backoff)

	if onSeqErr != nil {
		pkt.Release()
		return onSeqErr
	}
	if readErr != nil {
		pkt.Release()
		return bucketerr.New(bucketerr.KindBucketWriteIO, false, readErr, "reading sequence block")
	}

	if len(pkt.Records) > 0 {
		if err := w.hub.Send(ctx, w.dest, pkt); err != nil {
			return err
		}
	} else {
		pkt.Release()
	}
	w.stats.bumpProcessedFiles()
	return nil
}

// pushSequence segments one FastaSequence and appends its super-k-mers to
// pkt, swapping pkt for a freshly allocated one whenever it fills (spec
// §4.4 step 4's "atomically replace the packet" sequence).
func (w *Worker) pushSequence(ctx context.Context, pkt *pool.Packet[Record],
	fs FastaSequence, info SequenceInfo) (*pool.Packet[Record], error) {
	var pushErr error
	emit := func(bucket, subBucket uint32, seq []byte, flags segment.Flags, extra []byte) {
		if pushErr != nil {
			return
		}
		rec := Record{
			Bucket: bucket, SubBucket: subBucket,
			Seq: append([]byte(nil), seq...), Flags: flags,
			Extra:          append([]byte(nil), extra...),
			StartReadIndex: info.StartReadIndex,
		}
		if len(pkt.Records) >= w.pool.MaxPacketRecords() {
			if err := w.hub.Send(ctx, w.dest, pkt); err != nil {
				pushErr = err
				return
			}
			pkt = w.pool.AllocPacketBlocking()
		}
		pkt.Records = append(pkt.Records, rec)
	}

	cfg := w.cfg.Segment
	if err := segment.ProcessSequence(cfg, fs.Seq, fs.Qual, emit); err != nil {
		if bucketerr.Is(err, bucketerr.KindInputTooShort) {
			w.cfg.Logger.Infof("bucketreader: skipping too-short sequence %q", fs.Ident)
			return pkt, nil
		}
		return pkt, err
	}
	return pkt, pushErr
}
