// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package bucketstore

import (
	"context"

	"github.com/hashicorp/go-multierror"

	kmerglog "github.com/aristanetworks/kmerbucket/glog"
	"github.com/aristanetworks/kmerbucket/internal/bucketreader"
	"github.com/aristanetworks/kmerbucket/internal/executor"
	"github.com/aristanetworks/kmerbucket/internal/pool"
	"github.com/aristanetworks/kmerbucket/logger"
)

// Consumer is the BASE-priority task graph node spec §2's data flow draws
// as "per-bucket packets via C3 → C5 appends to bucket files": it drains
// one executor address of bucketreader packets and appends each record to
// its target bucket file through a MultiThreadBuckets.
type Consumer struct {
	hub       *executor.Hub
	src       executor.Address
	store     *MultiThreadBuckets
	useSecond UseSecondBucket
	// Logger receives a warning for every record a write failure drops;
	// defaults to glog.Glog, same as bucketreader.Config.
	Logger logger.Logger
}

// NewConsumer builds a Consumer draining src into store. useSecond must
// match the UseSecondBucket store was built with, so the written record
// carries (or omits) the SecondBucket field the same way every other
// writer for this store does.
func NewConsumer(hub *executor.Hub, src executor.Address, store *MultiThreadBuckets,
	useSecond UseSecondBucket) *Consumer {
	return &Consumer{
		hub: hub, src: src, store: store, useSecond: useSecond,
		Logger: &kmerglog.Glog{InfoLevel: 2},
	}
}

// Run drains src until every sender has released it (or ctx is done),
// writing each record it sees to its target bucket/sub_bucket. A
// write failure on one record never stops the drain — the rest of the
// packet, and any packets still in flight, are still appended — so one
// bad record can't wedge an upstream reader's Send; every failure seen is
// aggregated and returned once the address closes.
func (c *Consumer) Run(ctx context.Context) error {
	var result *multierror.Error
	for {
		v, ok := c.hub.Receive(ctx, c.src)
		if !ok {
			return result.ErrorOrNil()
		}
		pkt, ok := v.(*pool.Packet[bucketreader.Record])
		if !ok {
			continue
		}
		for _, rec := range pkt.Records {
			var secondBucket uint32
			if c.useSecond {
				secondBucket = rec.SubBucket
			}
			err := c.store.Write(rec.Bucket, rec.SubBucket, Record{
				Flags:        byte(rec.Flags),
				SecondBucket: secondBucket,
				Extra:        rec.Extra,
				Read:         rec.Seq,
			})
			if err != nil {
				c.Logger.Warningf("bucketstore: dropping record for bucket %d: %v", rec.Bucket, err)
				result = multierror.Append(result, err)
			}
		}
		pkt.Release()
	}
}
