// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package rebalance

import (
	"bufio"
	"context"
	"io"

	"github.com/aristanetworks/kmerbucket/internal/bucketstore"
	"github.com/aristanetworks/kmerbucket/internal/executor"
	"github.com/aristanetworks/kmerbucket/internal/hashing"
	"github.com/aristanetworks/kmerbucket/internal/pool"
)

// SubBucket recomputes a stored record's original sub-bucket id when the
// bucket file was written with UseSecondBucket false (spec §4.6's
// get_sequence_bucket, used when the id isn't carried on disk). By the
// super-k-mer invariant every k-window of a stored run shares the same
// minimizer hash, so the minimum m-mer hash anywhere in read is exactly
// that shared minimizer — the same value segment.ProcessSequence projected
// through SecondBucket when it first routed this record.
func SubBucket(factory hashing.Factory, read []byte, m int) uint32 {
	stream := factory.NewHashStream(read, m)
	var best hashing.Hash
	var bestKey uint64
	seen := false
	for {
		eh, ok := stream.Next()
		if !ok {
			break
		}
		h := factory.ToUnextendable(eh)
		key := factory.FullMinimizer(h)
		if !seen || key < bestKey {
			best, bestKey, seen = h, key, true
		}
	}
	if !seen {
		return 0
	}
	return factory.SecondBucket(best)
}

// Reread implements spec §4.6's per-chunk loop: it decodes every record
// from a bucket file previously packed into slots by Pack, and re-routes
// each to its slot's packet, swapping a full packet for a fresh one
// exactly as bucketreader.Worker.pushSequence does for phase 1. At EOF,
// every non-empty packet still held is sent too (the final-flush step).
//
// subBucketMask selects the low bits of a recomputed/stored sub-bucket
// that index into remapping (subBucketsCount-1, same mask C2 used to
// produce it in the first place). hasSingleAddr collapses every record
// onto addresses[0] regardless of remapping, for the case where Pack
// produced exactly one slot.
func Reread(ctx context.Context, r *bufio.Reader, useSecond bucketstore.UseSecondBucket,
	factory hashing.Factory, m int, subBucketMask uint32, remapping []int, hasSingleAddr bool,
	p *pool.Pool[bucketstore.Record], hub *executor.Hub, addresses []executor.Address) error {

	packets := make([]*pool.Packet[bucketstore.Record], len(addresses))
	send := func(slot int) error {
		pkt := packets[slot]
		if pkt == nil {
			return nil
		}
		if len(pkt.Records) == 0 {
			pkt.Release()
		} else if err := hub.Send(ctx, addresses[slot], pkt); err != nil {
			return err
		}
		packets[slot] = nil
		return nil
	}

	for {
		rec, err := bucketstore.DecodeRecord(r, useSecond)
		if err == io.EOF {
			break
		}
		if err != nil {
			for slot := range packets {
				if packets[slot] != nil {
					packets[slot].Release()
				}
			}
			return err
		}

		var origBucket uint32
		if useSecond {
			origBucket = rec.SecondBucket & subBucketMask
		} else {
			origBucket = SubBucket(factory, rec.Read, m) & subBucketMask
		}

		slot := 0
		if !hasSingleAddr {
			slot = remapping[origBucket]
		}

		pkt := packets[slot]
		if pkt == nil {
			pkt, err = p.AllocPacket(ctx)
			if err != nil {
				return err
			}
			packets[slot] = pkt
		}
		pkt.Records = append(pkt.Records, bucketstore.Record{
			Flags:        rec.Flags,
			SecondBucket: rec.SecondBucket,
			Extra:        append([]byte(nil), rec.Extra...),
			Read:         append([]byte(nil), rec.Read...),
		})
		if len(pkt.Records) >= p.MaxPacketRecords() {
			if err := send(slot); err != nil {
				return err
			}
		}
	}

	for slot := range packets {
		if err := send(slot); err != nil {
			return err
		}
	}
	return nil
}
