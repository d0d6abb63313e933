package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, q *Queue, h Handler) *Worker {
	t.Helper()

	w := NewWorker(q, h, WorkerConfig{
		RetryBackoff:      time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		DrainPollInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		w.Wait()
	})
	return w
}

func drain(t *testing.T, w *Worker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.Drain(ctx))
}

func Test_Enqueue(t *testing.T) {
	q := NewQueue(QueueConfig{})

	id, err := q.Enqueue(t.Context(), "tasks|1", "upsert", time.Now(), map[string]any{"id": 1}, nil)
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Equal(t, int64(1), q.Pending())

	_, err = q.Enqueue(t.Context(), "tasks|1", "", time.Now(), nil, nil)
	require.Error(t, err)

	_, err = q.Enqueue(t.Context(), "tasks|1", "upsert", time.Now(), func() {}, nil)
	require.Error(t, err)
	require.Equal(t, int64(1), q.Pending())

	q.Close()
	q.Close()

	_, err = q.Enqueue(t.Context(), "tasks|1", "upsert", time.Now(), nil, nil)
	require.ErrorIs(t, err, ErrQueueClosed)
}

func Test_Enqueue_FullLane(t *testing.T) {
	q := NewQueue(QueueConfig{Shards: 1, Buffer: 1})

	_, err := q.Enqueue(t.Context(), "g", "t", time.Now(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, err = q.Enqueue(ctx, "g", "t", time.Now(), nil, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, int64(1), q.Pending())
}

func Test_TryEnqueue_FullLane(t *testing.T) {
	q := NewQueue(QueueConfig{Shards: 1, Buffer: 1})

	_, err := q.TryEnqueue(t.Context(), "g", "t", time.Now(), nil, nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = q.TryEnqueue(t.Context(), "g", "t", time.Now(), nil, nil)
	require.ErrorIs(t, err, ErrQueueFull)
	require.Less(t, time.Since(start), 100*time.Millisecond)

	require.Equal(t, int64(1), q.Pending())
	require.Equal(t, int64(1), q.Dropped())

	q.Close()
	_, err = q.TryEnqueue(t.Context(), "g", "t", time.Now(), nil, nil)
	require.ErrorIs(t, err, ErrQueueClosed)
	require.Equal(t, int64(1), q.Dropped())
}

func Test_Close_ReleasesBlockedEnqueue(t *testing.T) {
	q := NewQueue(QueueConfig{Shards: 1, Buffer: 1})

	_, err := q.Enqueue(t.Context(), "g", "t", time.Now(), nil, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		// no deadline, only Close can release it
		_, err := q.Enqueue(context.Background(), "g", "t", time.Now(), nil, nil)
		errCh <- err
	}()

	// give the sender time to block on the full lane
	time.Sleep(20 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		q.Close()
		close(closed)
	}()

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("blocked enqueue was not released by Close")
	}

	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	require.Equal(t, int64(1), q.Pending())
}

func Test_Worker_Success(t *testing.T) {
	q := NewQueue(QueueConfig{})

	var got []string
	mu := sync.Mutex{}
	w := newTestWorker(t, q, func(ctx context.Context, job Job) error {
		var p struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return Permanent(err)
		}
		mu.Lock()
		got = append(got, p.Name)
		mu.Unlock()
		return nil
	})

	_, err := q.Enqueue(t.Context(), "a", "t", time.Now(), map[string]string{"name": "first"}, nil)
	require.NoError(t, err)
	drain(t, w)

	require.Equal(t, []string{"first"}, got)
	require.Equal(t, Stats{Succeeded: 1}, w.Stats())
	require.Zero(t, q.Pending())
}

func Test_Worker_RetryThenSuccess(t *testing.T) {
	q := NewQueue(QueueConfig{})

	var calls atomic.Int32
	w := newTestWorker(t, q, func(ctx context.Context, job Job) error {
		n := calls.Add(1)
		assert.Equal(t, int(n), job.Attempts)
		if n < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	_, err := q.Enqueue(t.Context(), "a", "t", time.Now(), nil, nil)
	require.NoError(t, err)
	drain(t, w)

	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, Stats{Succeeded: 1, Retried: 2}, w.Stats())
}

func Test_Worker_RetryAfter(t *testing.T) {
	q := NewQueue(QueueConfig{})

	var calls atomic.Int32
	w := newTestWorker(t, q, func(ctx context.Context, job Job) error {
		if calls.Add(1) == 1 {
			return RetryAfter(errors.New("busy"), time.Millisecond)
		}
		return nil
	})

	_, err := q.Enqueue(t.Context(), "a", "t", time.Now(), nil, nil)
	require.NoError(t, err)
	drain(t, w)

	require.Equal(t, Stats{Succeeded: 1, Retried: 1}, w.Stats())
}

func Test_Worker_Permanent(t *testing.T) {
	q := NewQueue(QueueConfig{})

	var calls atomic.Int32
	w := newTestWorker(t, q, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return Permanent(errors.New("bad payload"))
	})

	_, err := q.Enqueue(t.Context(), "a", "t", time.Now(), nil, nil)
	require.NoError(t, err)
	drain(t, w)

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, Stats{Dead: 1}, w.Stats())
}

func Test_Worker_MaxAttempts(t *testing.T) {
	q := NewQueue(QueueConfig{MaxAttempts: 3})

	var calls atomic.Int32
	w := newTestWorker(t, q, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return errors.New("down")
	})

	_, err := q.Enqueue(t.Context(), "a", "t", time.Now(), nil, nil)
	require.NoError(t, err)
	drain(t, w)
	require.Equal(t, int32(3), calls.Load())

	one := 1
	_, err = q.Enqueue(t.Context(), "a", "t", time.Now(), nil, &EnqueueOptions{MaxAttempts: &one})
	require.NoError(t, err)
	drain(t, w)
	require.Equal(t, int32(4), calls.Load())

	require.Equal(t, Stats{Retried: 2, Dead: 2}, w.Stats())
}

func Test_Worker_GroupOrder(t *testing.T) {
	q := NewQueue(QueueConfig{Shards: 4})

	const groups, perGroup = 5, 20

	mu := sync.Mutex{}
	seen := map[string][]int{}
	w := newTestWorker(t, q, func(ctx context.Context, job Job) error {
		var n int
		if err := json.Unmarshal(job.Payload, &n); err != nil {
			return Permanent(err)
		}
		// fail every first attempt to make sure retries keep the order
		if job.Attempts == 1 && n%3 == 0 {
			return errors.New("flaky")
		}
		mu.Lock()
		seen[job.JobGroup] = append(seen[job.JobGroup], n)
		mu.Unlock()
		return nil
	})

	for i := range perGroup {
		for g := range groups {
			_, err := q.Enqueue(t.Context(), fmt.Sprintf("tasks|%d", g), "t", time.Now(), i, nil)
			require.NoError(t, err)
		}
	}
	drain(t, w)

	require.Len(t, seen, groups)
	for group, order := range seen {
		require.Len(t, order, perGroup, group)
		for i, n := range order {
			require.Equal(t, i, n, group)
		}
	}
}

func Test_Worker_StopsOnClose(t *testing.T) {
	q := NewQueue(QueueConfig{})

	var calls atomic.Int32
	w := NewWorker(q, func(ctx context.Context, job Job) error {
		calls.Add(1)
		return nil
	}, WorkerConfig{})

	_, err := q.Enqueue(t.Context(), "a", "t", time.Now(), nil, nil)
	require.NoError(t, err)
	q.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after the queue was closed")
	}

	// queued jobs are still handled after close
	require.Equal(t, int32(1), calls.Load())
	require.Zero(t, q.Pending())
}

func Test_Drain_Timeout(t *testing.T) {
	q := NewQueue(QueueConfig{})
	w := NewWorker(q, func(ctx context.Context, job Job) error { return nil }, WorkerConfig{
		DrainPollInterval: time.Millisecond,
	})

	// nothing consumes the queue
	_, err := q.Enqueue(t.Context(), "a", "t", time.Now(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, w.Drain(ctx), context.DeadlineExceeded)
}

func Test_Backoff(t *testing.T) {
	w := NewWorker(NewQueue(QueueConfig{}), nil, WorkerConfig{
		RetryBackoff: 100 * time.Millisecond,
		MaxBackoff:   time.Second,
	})

	require.Equal(t, 100*time.Millisecond, w.backoff(1))
	require.Equal(t, 200*time.Millisecond, w.backoff(2))
	require.Equal(t, 800*time.Millisecond, w.backoff(4))
	require.Equal(t, time.Second, w.backoff(5))
	require.Equal(t, time.Second, w.backoff(50))
}
