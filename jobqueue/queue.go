package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

type QueueConfig struct {
	// Shards is the number of independent lanes. Jobs of the same group always
	// land in the same lane and run in enqueue order.
	Shards int
	// Buffer is the capacity of every lane.
	Buffer int
	// MaxAttempts is used when a job does not set its own.
	MaxAttempts int
}

func (c *QueueConfig) setDefaults() {
	if c.Shards <= 0 {
		c.Shards = 2
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
}

// Queue is an in-process job queue.
type Queue struct {
	cfg QueueConfig

	mu     sync.RWMutex
	closed bool
	shards []chan Job
	// closing is closed before Close takes the write lock, so blocked
	// senders give up their read lock.
	closing   chan struct{}
	closeOnce sync.Once

	pending atomic.Int64
	dropped atomic.Int64
}

func NewQueue(cfg QueueConfig) *Queue {
	cfg.setDefaults()
	shards := make([]chan Job, cfg.Shards)
	for i := range shards {
		shards[i] = make(chan Job, cfg.Buffer)
	}
	return &Queue{
		cfg:     cfg,
		shards:  shards,
		closing: make(chan struct{}),
	}
}

type EnqueueOptions struct {
	MaxAttempts *int
}

// Enqueue blocks while the lane of the group is full.
func (q *Queue) Enqueue(
	ctx context.Context,
	jobGroup string,
	jobType string,
	occurredAt time.Time,
	payload any,
	opts *EnqueueOptions,
) (uuid.UUID, error) {
	return q.enqueue(ctx, jobGroup, jobType, occurredAt, payload, opts, true)
}

// TryEnqueue is Enqueue without waiting: a full lane drops the job and
// returns ErrQueueFull.
func (q *Queue) TryEnqueue(
	ctx context.Context,
	jobGroup string,
	jobType string,
	occurredAt time.Time,
	payload any,
	opts *EnqueueOptions,
) (uuid.UUID, error) {
	return q.enqueue(ctx, jobGroup, jobType, occurredAt, payload, opts, false)
}

func (q *Queue) enqueue(
	ctx context.Context,
	jobGroup string,
	jobType string,
	occurredAt time.Time,
	payload any,
	opts *EnqueueOptions,
	wait bool,
) (uuid.UUID, error) {
	if jobType == "" {
		return uuid.Nil, fmt.Errorf("type must not be empty")
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}

	maxAttempts := q.cfg.MaxAttempts
	if opts != nil && opts.MaxAttempts != nil && *opts.MaxAttempts > 0 {
		maxAttempts = *opts.MaxAttempts
	}

	job := Job{
		ID:          uuid.New(),
		JobGroup:    jobGroup,
		OccurredAt:  occurredAt,
		Type:        jobType,
		Payload:     b,
		MaxAttempts: maxAttempts,
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return uuid.Nil, ErrQueueClosed
	}

	lane := q.shards[q.shardFor(jobGroup)]
	q.pending.Add(1)

	if !wait {
		select {
		case lane <- job:
			return job.ID, nil
		default:
			q.pending.Add(-1)
			q.dropped.Add(1)
			return uuid.Nil, ErrQueueFull
		}
	}

	select {
	case lane <- job:
		return job.ID, nil
	case <-q.closing:
		q.pending.Add(-1)
		return uuid.Nil, ErrQueueClosed
	case <-ctx.Done():
		q.pending.Add(-1)
		return uuid.Nil, ctx.Err()
	}
}

// Pending is the number of jobs that are queued or running.
func (q *Queue) Pending() int64 {
	return q.pending.Load()
}

// Dropped is the number of jobs TryEnqueue turned away because their lane was full.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting jobs. Jobs already queued are still handed to workers.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.closing)
	})

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	for _, s := range q.shards {
		close(s)
	}
}

func (q *Queue) shardFor(group string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(group))
	return int(h.Sum32() % uint32(len(q.shards)))
}

func (q *Queue) done() {
	q.pending.Add(-1)
}
