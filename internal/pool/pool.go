// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package pool implements the bounded packet pool of spec §4.3
// (component C3): fixed-capacity buffers handed out under a weighted
// semaphore so the total in-flight footprint never exceeds capacityBytes,
// the pipeline's primary flow-control mechanism. Releasing a packet
// returns its weight to the pool; its buffer is not recycled, and every
// allocation makes a fresh one.
package pool

import (
	"context"

	"github.com/aristanetworks/kmerbucket/internal/bucketerr"
	"github.com/aristanetworks/kmerbucket/sync/semaphore"
)

// Packet is one pool-accounted buffer of records of type T. A Packet
// is exclusively owned by whoever holds it: the allocator until it sends
// the packet onward (executor.Send), then the receiver until it calls
// Release, which returns the packet's weight to the pool.
type Packet[T any] struct {
	Records []T
	weight  int64
	pool    *Pool[T]
}

// Release returns p to its pool. Safe to call once; a zero Packet (never
// allocated from a Pool) is a no-op.
func (p *Packet[T]) Release() {
	if p.pool == nil {
		return
	}
	p.Records = p.Records[:0]
	p.pool.release(p.weight)
	p.pool = nil
}

// Pool is a bounded, weighted pool of Packet[T]s (spec §4.3 PacketsPool<T>).
// capacityBytes bounds total in-flight weight; maxPacketRecords bounds how
// many T a single freshly allocated Packet can hold before it must be sent
// and replaced.
type Pool[T any] struct {
	sem              *semaphore.Weighted
	maxPacketRecords int
	recordWeight     int64
}

// New builds a Pool sized for capacityBytes total outstanding weight, where
// each packet accounts for maxPacketRecords*recordWeight bytes against that
// budget. Allocation accounting is delegated to the teacher's
// sync/semaphore.Weighted wrapper, generalized here to gate a typed packet
// allocator instead of a bare weight counter.
func New[T any](capacityBytes int64, maxPacketRecords int, recordWeight int64) *Pool[T] {
	return &Pool[T]{
		sem:              semaphore.NewWeighted(capacityBytes),
		maxPacketRecords: maxPacketRecords,
		recordWeight:     recordWeight,
	}
}

func (p *Pool[T]) weight() int64 {
	return int64(p.maxPacketRecords) * p.recordWeight
}

// AllocPacket is the async alloc_packet() of spec §4.3: it blocks on ctx
// until a packet's worth of weight is available, or returns ctx's error.
func (p *Pool[T]) AllocPacket(ctx context.Context) (*Packet[T], error) {
	w := p.weight()
	if err := p.sem.Acquire(ctx, w); err != nil {
		return nil, err
	}
	return &Packet[T]{
		Records: make([]T, 0, p.maxPacketRecords),
		weight:  w,
		pool:    p,
	}, nil
}

func (p *Pool[T]) release(w int64) {
	p.sem.Release(w)
}

// AllocPacketBlocking is spec §4.3's alloc_packet_blocking: it never
// surfaces a caller-cancelable context, only pool exhaustion translated to
// the fatal BUG path (spec §7 PacketAllocFailure) if ctx.Background()
// itself is somehow canceled, which in practice never happens.
func (p *Pool[T]) AllocPacketBlocking() *Packet[T] {
	pkt, err := p.AllocPacket(context.Background())
	if err != nil {
		panic(bucketerr.PacketAllocFailure(err))
	}
	return pkt
}

// Available reports the pool's current unused weight budget.
func (p *Pool[T]) Available() int64 {
	return p.sem.Available()
}

// MaxPacketRecords reports the configured per-packet record capacity.
func (p *Pool[T]) MaxPacketRecords() int {
	return p.maxPacketRecords
}
