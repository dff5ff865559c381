package flusher

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ionbus/ionbus-fast-persist/events"
)

func TestFlusherNotifyTriggersImmediateDrain(t *testing.T) {
	var calls int32
	f := New(time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, events.NopSink{}, 0, 0)
	f.Start()
	defer f.Stop()

	f.Notify()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 1
	}, time.Second, 5*time.Millisecond)
}

func TestFlusherStopDrainsOnceMoreBeforeExit(t *testing.T) {
	var calls int32
	f := New(time.Hour, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}, events.NopSink{}, 0, 0)
	f.Start()

	f.Stop()
	require.Equal(t, int32(1), atomic.LoadInt32(&calls), "shutdown must perform exactly one final drain")
}

func TestFlusherRetriesAfterFailureWithoutStopping(t *testing.T) {
	var calls int32
	f := New(time.Hour, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return context.DeadlineExceeded
		}
		return nil
	}, events.NopSink{}, time.Millisecond, 5*time.Millisecond)
	f.Start()
	defer f.Stop()

	f.Notify()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) >= 2
	}, time.Second, 5*time.Millisecond, "a failed drain must be retried, not abandoned")
}
