package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_FailuresDoNotStopLaterTicks(t *testing.T) {
	var calls atomic.Int32
	job := func(ctx context.Context, reason Reason) error {
		n := calls.Add(1)
		switch n {
		case 1:
			return errors.New("fetch failed")
		case 2:
			panic("boom")
		}
		return nil
	}
	s := New(job, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRun_StartsImmediately(t *testing.T) {
	reasons := make(chan Reason, 4)
	s := New(func(ctx context.Context, reason Reason) error {
		reasons <- reason
		return nil
	}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	select {
	case r := <-reasons:
		assert.Equal(t, ReasonStartup, r)
	case <-time.After(2 * time.Second):
		t.Fatal("no startup run")
	}

	s.Trigger(ReasonTrigger)
	select {
	case r := <-reasons:
		assert.Equal(t, ReasonTrigger, r)
	case <-time.After(2 * time.Second):
		t.Fatal("trigger did not run the job")
	}
}

func TestRunOnce_NeverOverlaps(t *testing.T) {
	var active, maxActive atomic.Int32
	s := New(func(ctx context.Context, reason Reason) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	}, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.RunOnce(context.Background(), ReasonTrigger)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestRunOnce_ReturnsJobError(t *testing.T) {
	want := errors.New("apply failed")
	s := New(func(ctx context.Context, reason Reason) error { return want }, time.Hour)
	assert.ErrorIs(t, s.RunOnce(context.Background(), ReasonTrigger), want)
}

func TestTrigger_Coalesces(t *testing.T) {
	s := New(func(ctx context.Context, reason Reason) error { return nil }, time.Hour)
	s.Trigger(ReasonTrigger)
	s.Trigger(ReasonTrigger)
	assert.Len(t, s.trigger, 1)
}
