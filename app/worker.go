package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/theleeeo/records/es"
	"github.com/theleeeo/records/jobqueue"
	"github.com/theleeeo/records/store"
)

// jobTypeSync copies the current state of one record into the index. The job
// only names the record; the handler reads it from the store, so the outcome
// does not depend on the order concurrent writes enqueued their jobs in.
const jobTypeSync = "sync"

type IndexPayload struct {
	Resource string `json:"resource"`
	ID       int64  `json:"id"`
}

// HandlerFunc applies index jobs to the search index.
func (a *App) HandlerFunc() jobqueue.Handler {
	return func(ctx context.Context, job jobqueue.Job) error {
		if a.es == nil {
			return jobqueue.Permanent(ErrSearchDisabled)
		}

		if job.Type != jobTypeSync {
			return jobqueue.Permanent(fmt.Errorf("unknown job type: %s", job.Type))
		}

		p := IndexPayload{}
		if err := json.Unmarshal(job.Payload, &p); err != nil {
			return jobqueue.Permanent(fmt.Errorf("failed to unmarshal payload: %w", err))
		}

		rCfg := a.resolveResourceConfig(p.Resource)
		if rCfg == nil {
			return jobqueue.Permanent(fmt.Errorf("%w: %s", ErrUnknownResource, p.Resource))
		}

		docID := strconv.FormatInt(p.ID, 10)

		rec, err := a.stores[rCfg.Resource].Get(ctx, p.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			err = a.es.Delete(ctx, a.indexName(rCfg), docID)
		case err != nil:
			return fmt.Errorf("reading %s %d: %w", rCfg.Resource, p.ID, err)
		default:
			err = a.es.UpsertJSON(ctx, a.indexName(rCfg), docID, rec.Map())
		}

		var re *es.ResponseError
		if errors.As(err, &re) && !re.Temporary() {
			return jobqueue.Permanent(err)
		}
		return err
	}
}

// Reindex enqueues every stored record of every searchable resource. Unlike
// the jobs of single writes it waits for room in the queue.
func (a *App) Reindex(ctx context.Context) error {
	if a.queue == nil {
		return nil
	}

	for _, rc := range a.resources {
		if !rc.Searchable() {
			continue
		}
		records, err := a.stores[rc.Resource].List(ctx)
		if err != nil {
			return fmt.Errorf("listing %q failed: %w", rc.Resource, err)
		}
		for _, rec := range records {
			group := fmt.Sprintf("%s|%d", rc.Resource, rec.ID)
			payload := IndexPayload{Resource: rc.Resource, ID: rec.ID}
			if _, err := a.queue.Enqueue(ctx, group, jobTypeSync, time.Now(), payload, nil); err != nil {
				return fmt.Errorf("enqueue %s %d: %w", rc.Resource, rec.ID, err)
			}
		}
	}
	return nil
}
