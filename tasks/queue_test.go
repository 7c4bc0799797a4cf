package tasks

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type analyzePayload struct {
	Domain string `json:"domain"`
}

func startQueue(t *testing.T, cfg Config, name string, h Handler) *Queue {
	t.Helper()
	q := NewQueue(cfg)
	q.Register(name, h)
	q.Start(context.Background())
	t.Cleanup(q.Stop)
	return q
}

func TestQueueRunsTask(t *testing.T) {
	got := make(chan string, 1)
	q := startQueue(t, Config{Workers: 2}, "analyze", func(ctx context.Context, task *Task) error {
		var p analyzePayload
		if err := task.Decode(&p); err != nil {
			return err
		}
		got <- p.Domain
		return nil
	})

	id, err := q.Enqueue("analyze", analyzePayload{Domain: "example.sa"}, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case domain := <-got:
		assert.Equal(t, "example.sa", domain)
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	assert.Eventually(t, func() bool { return q.Stats().Completed == 1 }, time.Second, 5*time.Millisecond)
}

func TestQueueRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	q := startQueue(t, Config{MaxRetries: 3, RetryDelay: 5 * time.Millisecond}, "flaky", func(ctx context.Context, task *Task) error {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return errors.New("upstream unavailable")
		}
		return nil
	})

	_, err := q.Enqueue("flaky", nil, Options{})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return q.Stats().Completed == 1 }, time.Second, 5*time.Millisecond)
	s := q.Stats()
	assert.Equal(t, int64(2), s.Retried)
	assert.Zero(t, s.Failed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))

	m := s.Tasks["flaky"]
	assert.Equal(t, int64(3), m.Attempts)
	assert.Equal(t, int64(1), m.Completed)
	assert.Equal(t, int64(2), m.Retried)
	assert.Zero(t, m.Failed)
}

func TestQueueGivesUpAfterMaxRetries(t *testing.T) {
	var attempts int32
	q := startQueue(t, Config{MaxRetries: 5, RetryDelay: time.Millisecond}, "broken", func(ctx context.Context, task *Task) error {
		atomic.AddInt32(&attempts, 1)
		return errors.New("always fails")
	})

	_, err := q.Enqueue("broken", nil, Options{MaxRetries: 1})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return q.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestQueueTracksDurationPerTask(t *testing.T) {
	q := startQueue(t, Config{}, "slow", func(ctx context.Context, task *Task) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	for i := 0; i < 2; i++ {
		_, err := q.Enqueue("slow", nil, Options{})
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return q.Stats().Completed == 2 }, time.Second, 5*time.Millisecond)
	m := q.Stats().Tasks["slow"]
	assert.Equal(t, int64(2), m.Attempts)
	assert.GreaterOrEqual(t, m.TotalDurationMS, int64(40))
	assert.GreaterOrEqual(t, m.MaxDurationMS, int64(20))
	assert.InDelta(t, float64(m.TotalDurationMS)/2, m.AvgDurationMS, 0.001)
	_, other := q.Stats().Tasks["unknown"]
	assert.False(t, other)
}

func TestQueueTimeout(t *testing.T) {
	errs := make(chan error, 1)
	q := startQueue(t, Config{Timeout: 10 * time.Millisecond}, "slow", func(ctx context.Context, task *Task) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	})

	_, err := q.Enqueue("slow", nil, Options{})
	require.NoError(t, err)

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("task was not cancelled")
	}
	assert.Eventually(t, func() bool { return q.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
}

func TestQueueRecoversPanics(t *testing.T) {
	q := startQueue(t, Config{}, "explode", func(ctx context.Context, task *Task) error {
		panic("bad payload")
	})

	_, err := q.Enqueue("explode", nil, Options{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.Stats().Failed == 1 }, time.Second, 5*time.Millisecond)
}

func TestQueueEnqueueErrors(t *testing.T) {
	q := NewQueue(Config{QueueSize: 1})
	q.Register("noop", func(ctx context.Context, task *Task) error { return nil })

	_, err := q.Enqueue("missing", nil, Options{})
	assert.ErrorIs(t, err, ErrUnknownTask)

	_, err = q.Enqueue("noop", nil, Options{})
	require.NoError(t, err)
	_, err = q.Enqueue("noop", nil, Options{})
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.Stats().Queued)

	_, err = q.Enqueue("noop", make(chan int), Options{})
	assert.Error(t, err)

	q.Stop()
	_, err = q.Enqueue("noop", nil, Options{})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueueStopDropsPendingRetries(t *testing.T) {
	q := NewQueue(Config{MaxRetries: 5, RetryDelay: time.Hour})
	q.Register("broken", func(ctx context.Context, task *Task) error { return errors.New("fail") })
	q.Start(context.Background())

	_, err := q.Enqueue("broken", nil, Options{})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.Stats().Retrying == 1 }, time.Second, 5*time.Millisecond)

	q.Stop()
	assert.Zero(t, q.Stats().Retrying)
	q.Stop()
}

func TestQueueStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := NewQueue(Config{Workers: 3})
	q.Start(ctx)
	cancel()
	q.Stop()
}
