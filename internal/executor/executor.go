// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package executor implements the address-routed message passing and
// priority-scheduled task graph of spec §4.3 (component C3): packets are
// routed to opaque Address handles through per-address channels, and
// workers register into one of two priority classes (Base, Low) sharing a
// single global concurrency budget.
package executor

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aristanetworks/kmerbucket/hashmap"
)

// Priority is a worker's declared scheduling class (spec §4.3
// PriorityScheduler.declare_thread). A worker remains in its class for its
// whole lifetime.
type Priority int

const (
	// Base is the compute/downstream class; preferentially scheduled.
	Base Priority = iota
	// Low is the file-reader class; yields to Base under contention.
	Low
)

// Address is an opaque receiver handle (spec §3). The zero Address is
// invalid; obtain one from Hub.NewAddress.
type Address struct {
	id uint64
}

type mailbox struct {
	ch      chan any
	senders int32 // reference count; the last ReleaseSender closes ch
}

// Hub is the address registry and router: generate_new_address +
// declare_addresses + packet_send/receive_packet of spec §4.3, backed by
// the teacher's open-addressing Hashmap generalized to key addresses by
// their opaque uint64 id rather than a domain-specific type.
type Hub struct {
	mu      sync.Mutex
	nextID  uint64
	mailbox *hashmap.Hashmap[uint64, *mailbox]
}

// NewHub builds an empty address hub.
func NewHub() *Hub {
	return &Hub{mailbox: hashmap.NewUint64Keyed[*mailbox](0)}
}

// NewAddress registers a fresh receiver with the given channel buffer
// depth (spec's generate_new_address + declare_addresses, collapsed into
// one call since this module owns both the allocation and the scheduler
// registration). initialSenders seeds the reference count; callers that
// know their sender count up front avoid a separate RegisterSender call.
func (h *Hub) NewAddress(bufSize int, initialSenders int32) Address {
	id := atomic.AddUint64(&h.nextID, 1)
	mb := &mailbox{ch: make(chan any, bufSize), senders: initialSenders}
	h.mu.Lock()
	h.mailbox.Set(id, mb)
	h.mu.Unlock()
	return Address{id: id}
}

func (h *Hub) lookup(a Address) *mailbox {
	h.mu.Lock()
	defer h.mu.Unlock()
	mb, _ := h.mailbox.Get(a.id)
	return mb
}

// RegisterSender increments addr's reference count; pair with
// ReleaseSender when that sender is done.
func (h *Hub) RegisterSender(a Address) {
	mb := h.lookup(a)
	if mb == nil {
		return
	}
	atomic.AddInt32(&mb.senders, 1)
}

// ReleaseSender decrements addr's sender reference count; once it reaches
// zero the mailbox channel is closed, so a pending Receive returns
// ok=false exactly once all prior sends have drained (spec §4.3
// cancellation semantics).
func (h *Hub) ReleaseSender(a Address) {
	mb := h.lookup(a)
	if mb == nil {
		return
	}
	if atomic.AddInt32(&mb.senders, -1) == 0 {
		close(mb.ch)
	}
}

// Send delivers pkt to addr. Packets from one sender goroutine are
// delivered FIFO because Go channel sends from a single goroutine are
// ordered; ordering across distinct senders is unspecified, matching
// spec §4.3's stated guarantee.
func (h *Hub) Send(ctx context.Context, a Address, pkt any) error {
	mb := h.lookup(a)
	if mb == nil {
		return errUnknownAddress
	}
	select {
	case mb.ch <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements receive_packet(): it returns ok=false once addr is
// closed and drained.
func (h *Hub) Receive(ctx context.Context, a Address) (pkt any, ok bool) {
	mb := h.lookup(a)
	if mb == nil {
		return nil, false
	}
	select {
	case v, open := <-mb.ch:
		return v, open
	case <-ctx.Done():
		return nil, false
	}
}

var errUnknownAddress = addrError("executor: unknown address")

type addrError string

func (e addrError) Error() string { return string(e) }

// Budget is the global concurrency cap shared by the Base and Low worker
// pools (spec §4.3's "scheduler multiplexes tasks under a global
// concurrency cap; LOW tasks yield to BASE"), backed by the same
// golang.org/x/sync/semaphore the teacher's sync/semaphore.Weighted wraps.
type Budget struct {
	sem *semaphore.Weighted
}

// NewBudget builds a Budget admitting up to n concurrently-running tasks
// across both priority classes.
func NewBudget(n int64) *Budget {
	return &Budget{sem: semaphore.NewWeighted(n)}
}

// Yield is the Go-idiomatic reading of "LOW tasks yield to BASE": it hands
// the scheduler a chance to run a waiting BASE goroutine before this Low
// worker retries its acquire.
func (b *Budget) Yield() {
	runtime.Gosched()
}

// Acquire admits one task under priority p. Base acquires directly;
// Low repeatedly tries a non-blocking acquire and yields between
// attempts, so a contended budget is won by whichever Base acquire is
// already blocked in the semaphore's FIFO wait queue.
func (b *Budget) Acquire(ctx context.Context, p Priority) error {
	if p == Base {
		return b.sem.Acquire(ctx, 1)
	}
	for {
		if b.sem.TryAcquire(1) {
			return nil
		}
		b.Yield()
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}

// Release returns one unit of concurrency to the budget.
func (b *Budget) Release() {
	b.sem.Release(1)
}

// Group runs tasks of one declared Priority class against a shared Budget
// (spec's PriorityScheduler.declare_thread), grounded on errgroup.Group
// for the fan-out/error-aggregation shape.
type Group struct {
	eg       *errgroup.Group
	budget   *Budget
	priority Priority
}

// NewGroup declares a worker group at priority p against budget.
func NewGroup(ctx context.Context, budget *Budget, p Priority) (*Group, context.Context) {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{eg: eg, budget: budget, priority: p}, gctx
}

// Go schedules fn on a new goroutine, which waits until the shared Budget
// admits it before running fn; Go itself returns immediately.
func (g *Group) Go(ctx context.Context, fn func(ctx context.Context) error) {
	g.eg.Go(func() error {
		if err := g.budget.Acquire(ctx, g.priority); err != nil {
			return err
		}
		defer g.budget.Release()
		return fn(ctx)
	})
}

// Wait blocks until every scheduled task returns, yielding the first
// non-nil error if any.
func (g *Group) Wait() error {
	return g.eg.Wait()
}
