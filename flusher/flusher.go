// Package flusher runs the single background worker that drains the
// pending write batch into ColDB on a timer, on explicit request, or when
// notified the batch has grown past threshold (spec §4.H). Structurally
// mirrors the teacher's CheckpointManager.Run() ticker+stopChan loop,
// redirected at spec's batch-drain-and-upsert cycle instead of a
// dirty-collection checkpoint.
package flusher

import (
	"context"
	"sync"
	"time"

	"github.com/ionbus/ionbus-fast-persist/events"
)

// DrainFunc performs one full drain cycle: rotate the current WAL
// segment if it has earned it, gather the pending batch, upsert it into
// ColDB, and delete the segments it drained. Returning an error leaves
// the batch and segments in place for the next cycle (spec §4.H step 6).
type DrainFunc func(ctx context.Context) error

// Flusher owns the one cooperative background worker goroutine spec §4.H
// and §5 describe.
type Flusher struct {
	interval   time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	drain      DrainFunc
	sink       events.Sink

	notifyCh chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds a Flusher. minBackoff/maxBackoff bound the exponential
// backoff applied after a failed drain; a zero minBackoff defaults to one
// second, a zero maxBackoff defaults to the flush interval times eight.
func New(interval time.Duration, drain DrainFunc, sink events.Sink, minBackoff, maxBackoff time.Duration) *Flusher {
	if minBackoff <= 0 {
		minBackoff = time.Second
	}
	if maxBackoff <= 0 {
		maxBackoff = interval * 8
	}
	return &Flusher{
		interval:   interval,
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
		drain:      drain,
		sink:       sink,
		notifyCh:   make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. Safe to call once; later calls
// are no-ops.
func (f *Flusher) Start() {
	f.startOnce.Do(func() {
		go f.run()
	})
}

// Notify requests a drain cycle ahead of the next tick (e.g. the pending
// batch crossed batch_size, or a failed drain is queued for retry).
// Non-blocking: a pending notification is coalesced with
// any already queued.
func (f *Flusher) Notify() {
	select {
	case f.notifyCh <- struct{}{}:
	default:
	}
}

// Stop signals shutdown and blocks until the worker has performed its
// final drain and exited — the deterministic wait spec §4.H's shutdown
// handshake requires.
func (f *Flusher) Stop() {
	f.stopOnce.Do(func() {
		close(f.stopCh)
	})
	<-f.doneCh
}

func (f *Flusher) run() {
	defer close(f.doneCh)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	backoff := time.Duration(0)

	for {
		select {
		case <-ticker.C:
			backoff = f.cycle(backoff)
		case <-f.notifyCh:
			backoff = f.cycle(backoff)
		case <-f.stopCh:
			f.cycle(backoff)
			return
		}
	}
}

// cycle runs one drain attempt, returning the backoff to apply before
// the next one. A successful drain resets backoff to zero; a failed one
// doubles it, capped at maxBackoff, sleeps for that long, and queues a
// retry so the next iteration runs without waiting for the ticker.
func (f *Flusher) cycle(backoff time.Duration) time.Duration {
	if err := f.drain(context.Background()); err != nil {
		events.Warnf(f.sink, "flusher", "drain failed, will retry: %v", err)
		next := backoff * 2
		if next < f.minBackoff {
			next = f.minBackoff
		}
		if next > f.maxBackoff {
			next = f.maxBackoff
		}
		time.Sleep(next)
		f.Notify()
		return next
	}
	return 0
}
