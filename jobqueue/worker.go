package jobqueue

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

type WorkerConfig struct {
	// RetryBackoff is the delay before the first retry, doubled for every further attempt.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration

	// DrainPollInterval controls how often Drain checks for pending jobs.
	DrainPollInterval time.Duration

	Logger *slog.Logger
}

func (c *WorkerConfig) setDefaults() {
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.DrainPollInterval <= 0 {
		c.DrainPollInterval = 10 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type Worker struct {
	q       *Queue
	handler Handler
	cfg     WorkerConfig

	loopsWG sync.WaitGroup

	succeeded atomic.Int64
	retried   atomic.Int64
	dead      atomic.Int64
}

func NewWorker(q *Queue, handler Handler, cfg WorkerConfig) *Worker {
	cfg.setDefaults()
	return &Worker{
		q:       q,
		handler: handler,
		cfg:     cfg,
	}
}

// Start runs one loop per queue lane until ctx is cancelled or the queue is closed.
func (w *Worker) Start(ctx context.Context) {
	for _, lane := range w.q.shards {
		w.loopsWG.Go(func() {
			w.loop(ctx, lane)
		})
	}
}

// Run starts the worker and blocks until all loops exit.
func (w *Worker) Run(ctx context.Context) {
	w.Start(ctx)
	w.Wait()
}

// Wait blocks until all loops exit (useful if you drive shutdown via ctx cancel).
func (w *Worker) Wait() {
	w.loopsWG.Wait()
}

// Drain blocks until every job enqueued so far has finished.
func (w *Worker) Drain(ctx context.Context) error {
	t := time.NewTicker(w.cfg.DrainPollInterval)
	defer t.Stop()

	for w.q.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

func (w *Worker) Stats() Stats {
	return Stats{
		Succeeded: w.succeeded.Load(),
		Retried:   w.retried.Load(),
		Dead:      w.dead.Load(),
	}
}

func (w *Worker) loop(ctx context.Context, lane <-chan Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-lane:
			if !ok {
				return
			}
			w.runOne(ctx, job)
		}
	}
}

func (w *Worker) runOne(ctx context.Context, job Job) {
	defer w.q.done()

	for {
		job.Attempts++

		err := w.handler(ctx, job)
		if err == nil {
			w.succeeded.Add(1)
			return
		}

		if ctx.Err() != nil {
			w.cfg.Logger.Warn("job abandoned on shutdown", "job", job.ID, "group", job.JobGroup, "type", job.Type)
			return
		}

		var pe PermanentError
		if errors.As(err, &pe) || job.Attempts >= job.MaxAttempts {
			w.dead.Add(1)
			w.cfg.Logger.Error("job failed", "job", job.ID, "group", job.JobGroup, "type", job.Type, "attempts", job.Attempts, "error", err)
			return
		}

		delay := w.backoff(job.Attempts)
		var re RetryError
		if errors.As(err, &re) {
			delay = re.After
		}

		w.retried.Add(1)
		w.cfg.Logger.Debug("retrying job", "job", job.ID, "group", job.JobGroup, "type", job.Type, "attempt", job.Attempts, "after", delay, "error", err)
		sleepWithJitter(ctx, delay, 0.2)
	}
}

func (w *Worker) backoff(attempt int) time.Duration {
	d := w.cfg.RetryBackoff
	for i := 1; i < attempt && d < w.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, w.cfg.MaxBackoff)
}

func sleepWithJitter(ctx context.Context, base time.Duration, pct float64) {
	if base <= 0 {
		return
	}
	j := 1.0
	if pct > 0 {
		// random in [1-pct, 1+pct]
		j = (1 - pct) + rand.Float64()*(2*pct)
	}
	d := time.Duration(float64(base) * j)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
