package execution

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/pkg/errors"
)

func newTestPool(t *testing.T, workers, queue int) *Pooled {
	t.Helper()
	p, err := NewPooled(Config{Workers: workers, QueueSize: queue}, zap.NewNop())
	require.NoError(t, err)
	return p
}

func TestNewPooledValidation(t *testing.T) {
	_, err := NewPooled(Config{}, nil)
	assert.Error(t, err)

	p, err := NewPooled(Config{Workers: -1, QueueSize: -1}, zap.NewNop())
	require.NoError(t, err)
	assert.Greater(t, p.config.Workers, 0)
	assert.Greater(t, p.config.QueueSize, 0)
}

func TestSubmitRequiresActivation(t *testing.T) {
	p := newTestPool(t, 2, 4)
	_, err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsIllegalState(err))
}

func TestSubmitAndWait(t *testing.T) {
	p := newTestPool(t, 2, 4)
	require.NoError(t, p.Activate())
	defer p.Shutdown()

	var ran atomic.Bool
	handle, err := p.Submit(context.Background(), func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, handle.ID)

	require.NoError(t, handle.Wait(context.Background()))
	assert.True(t, ran.Load())

	metrics := p.GetMetrics()
	assert.Equal(t, int64(1), metrics.Submitted)
	assert.Equal(t, int64(1), metrics.Processed)
}

func TestTaskErrorReachesHandle(t *testing.T) {
	p := newTestPool(t, 1, 1)
	require.NoError(t, p.Activate())
	defer p.Shutdown()

	boom := stderrors.New("boom")
	handle, err := p.Submit(context.Background(), func(ctx context.Context) error { return boom })
	require.NoError(t, err)

	err = handle.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(1), p.GetMetrics().Failed)
}

func TestTaskPanicIsContained(t *testing.T) {
	p := newTestPool(t, 1, 1)
	require.NoError(t, p.Activate())
	defer p.Shutdown()

	handle, err := p.Submit(context.Background(), func(ctx context.Context) error {
		panic("bad index")
	})
	require.NoError(t, err)

	err = handle.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task panic")

	// the worker survives the panic
	ok, err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	require.NoError(t, ok.Wait(context.Background()))
}

func TestActivateIsIdempotent(t *testing.T) {
	p := newTestPool(t, 1, 1)
	require.NoError(t, p.Activate())
	defer p.Shutdown()
	assert.NoError(t, p.Activate())
}

func TestActivateAfterShutdownRejected(t *testing.T) {
	p := newTestPool(t, 1, 1)
	require.NoError(t, p.Activate())
	p.Shutdown()

	err := p.Activate()
	require.Error(t, err)
	assert.True(t, errors.IsIllegalState(err))
}

func TestSubmitBlocksOnFullQueueUntilContext(t *testing.T) {
	p := newTestPool(t, 1, 1)
	require.NoError(t, p.Activate())
	defer p.Shutdown()

	release := make(chan struct{})
	// occupy the single worker
	_, err := p.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)
	// fill the queue
	waitUntil(t, func() bool { return p.GetMetrics().QueueDepth == 0 })
	_, err = p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	// queue is now full, this submit must block until its context expires
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestShutdownAwaitDrainsQueue(t *testing.T) {
	p := newTestPool(t, 1, 8)
	require.NoError(t, p.Activate())

	var done atomic.Int64
	for i := 0; i < 5; i++ {
		_, err := p.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(2 * time.Millisecond)
			done.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, p.ShutdownAwait(2*time.Second))
	assert.Equal(t, int64(5), done.Load(), "queued tasks run to completion during drain")
}

func TestShutdownAwaitTimesOut(t *testing.T) {
	p := newTestPool(t, 1, 1)
	require.NoError(t, p.Activate())

	block := make(chan struct{})
	defer close(block)
	_, err := p.Submit(context.Background(), func(ctx context.Context) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)

	err = p.ShutdownAwait(30 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.IsTimeout(err))
}

func TestShutdownAbandonsQueuedTasks(t *testing.T) {
	p := newTestPool(t, 1, 8)
	require.NoError(t, p.Activate())

	started := make(chan struct{})
	release := make(chan struct{})
	_, err := p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)
	<-started

	queued, err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	p.Shutdown()
	close(release)

	err = queued.Wait(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShutdownIsIdempotentAndReentrant(t *testing.T) {
	p := newTestPool(t, 1, 1)
	require.NoError(t, p.Activate())
	p.Shutdown()
	p.Shutdown()
	assert.NoError(t, p.ShutdownAwait(time.Second))
}

func TestScheduleRequiresActivation(t *testing.T) {
	p := newTestPool(t, 1, 1)
	_, err := p.Schedule("* * * * *", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsIllegalState(err))
}

func TestScheduleAndUnschedule(t *testing.T) {
	p := newTestPool(t, 1, 4)
	require.NoError(t, p.Activate())
	defer p.Shutdown()

	id, err := p.Schedule("@every 1h", func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	assert.NotZero(t, id)
	p.Unschedule(id)
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	p := newTestPool(t, 1, 1)
	require.NoError(t, p.Activate())
	defer p.Shutdown()

	_, err := p.Schedule("definitely not cron", func(ctx context.Context) error { return nil })
	assert.Error(t, err)
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
