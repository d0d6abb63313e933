package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/theleeeo/records/es"
	"github.com/theleeeo/records/jobqueue"
	"github.com/theleeeo/records/resource"
	"github.com/theleeeo/records/store"
)

type App struct {
	stores map[string]store.Store
	// es and queue are nil when search is disabled
	es    *es.Client
	queue *jobqueue.Queue

	indexPrefix string

	resources resource.Configs

	logger *slog.Logger
}

type Config struct {
	Resources resource.Configs
	Stores    map[string]store.Store

	ES          *es.Client
	Queue       *jobqueue.Queue
	IndexPrefix string

	Logger *slog.Logger
}

func New(cfg Config) (*App, error) {
	for _, rc := range cfg.Resources {
		if _, ok := cfg.Stores[rc.Resource]; !ok {
			return nil, fmt.Errorf("no store for resource %q", rc.Resource)
		}
	}

	if (cfg.ES == nil) != (cfg.Queue == nil) {
		return nil, fmt.Errorf("search requires both an es client and a queue")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &App{
		stores:      cfg.Stores,
		es:          cfg.ES,
		queue:       cfg.Queue,
		indexPrefix: cfg.IndexPrefix,
		resources:   cfg.Resources,
		logger:      logger,
	}, nil
}

func (a *App) Resources() resource.Configs {
	return a.resources
}

func (a *App) SearchEnabled() bool {
	return a.es != nil
}

func (a *App) resolveResourceConfig(resourceName string) *resource.Config {
	for _, rc := range a.resources {
		if rc.Resource == resourceName {
			return rc
		}
	}
	return nil
}

func (a *App) resolve(resourceName string) (*resource.Config, store.Store, error) {
	rCfg := a.resolveResourceConfig(resourceName)
	if rCfg == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownResource, resourceName)
	}
	return rCfg, a.stores[resourceName], nil
}

// Seed loads the configured seed records into every store.
func (a *App) Seed(ctx context.Context) error {
	for _, rc := range a.resources {
		records, err := rc.SeedRecords()
		if err != nil {
			return fmt.Errorf("resource %q: %w", rc.Resource, err)
		}
		if err := a.stores[rc.Resource].Seed(ctx, records); err != nil {
			return fmt.Errorf("seeding %q failed: %w", rc.Resource, err)
		}
	}
	return nil
}

func (a *App) indexName(rCfg *resource.Config) string {
	return a.indexPrefix + rCfg.Resource
}

func parseID(rCfg *resource.Config, raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &InvalidIDError{Label: rCfg.Label, Raw: raw}
	}
	return id, nil
}

// enqueueIndex asks the worker to bring the index entry of the record in line
// with the store. It never waits: a full queue drops the job, and the entry
// catches up on the next write of the record or the next reindex.
func (a *App) enqueueIndex(ctx context.Context, rCfg *resource.Config, id int64) {
	if a.queue == nil || !rCfg.Searchable() {
		return
	}

	payload := IndexPayload{
		Resource: rCfg.Resource,
		ID:       id,
	}

	group := fmt.Sprintf("%s|%d", rCfg.Resource, id)
	if _, err := a.queue.TryEnqueue(ctx, group, jobTypeSync, time.Now(), payload, nil); err != nil {
		a.logger.WarnContext(ctx, "enqueue index job failed", "resource", rCfg.Resource, "id", id, "dropped", a.queue.Dropped(), "error", err)
	}
}
