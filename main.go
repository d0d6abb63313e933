package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/theleeeo/records/app"
	"github.com/theleeeo/records/config"
	"github.com/theleeeo/records/es"
	"github.com/theleeeo/records/jobqueue"
	"github.com/theleeeo/records/resource"
	"github.com/theleeeo/records/server"
	"github.com/theleeeo/records/store"
)

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	configPath := flag.String("config", env("RECORDS_CONFIG", ""), "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	resources, err := resource.Load(cfg.Resources.Path)
	if err != nil {
		log.Fatalf("load resource config: %v", err)
	}

	if err := resources.Validate(); err != nil {
		log.Fatalf("invalid resource config: %v", err)
	}

	logger.Info("loaded resource configurations", "count", len(resources))
	for _, rc := range resources {
		logger.Info("resource", "name", rc.Resource, "path", rc.Path, "fields", len(rc.Fields), "seed", len(rc.Seed))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, closeStores, err := newStores(ctx, cfg.Store, resources)
	if err != nil {
		log.Fatalf("setting up stores: %v", err)
	}
	defer closeStores()

	appCfg := app.Config{
		Resources: resources,
		Stores:    stores,
		Logger:    logger,
	}

	var (
		queue  *jobqueue.Queue
		worker *jobqueue.Worker
	)
	if cfg.Search.Enabled {
		esClient, err := es.New(es.Config{
			Addresses: cfg.Search.Addresses,
			Username:  cfg.Search.Username,
			Password:  cfg.Search.Password,
		})
		if err != nil {
			log.Fatalf("setting up es client: %v", err)
		}

		queue = jobqueue.NewQueue(jobqueue.QueueConfig{Shards: cfg.Search.Workers})
		appCfg.ES = esClient
		appCfg.Queue = queue
		appCfg.IndexPrefix = cfg.Search.IndexPrefix
	}

	a, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("setting up app: %v", err)
	}

	if err := a.Seed(ctx); err != nil {
		log.Fatalf("seeding: %v", err)
	}

	wg := sync.WaitGroup{}

	if queue != nil {
		worker = jobqueue.NewWorker(queue, a.HandlerFunc(), jobqueue.WorkerConfig{
			Logger: logger.With("component", "index-worker"),
		})

		wg.Go(func() {
			logger.Info("starting index worker")
			worker.Run(ctx)
			logger.Info("index worker stopped")
		})

		if err := a.Reindex(ctx); err != nil {
			log.Fatalf("reindex: %v", err)
		}
	}

	httpSrv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.NewHTTP(a, logger).Handler(),
	}

	wg.Go(func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
		}
		logger.Info("HTTP server stopped")
	})

	var grpcSrv *server.GRPCServer
	if cfg.GRPC.Addr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			log.Fatalf("listen: %v", err)
		}

		grpcSrv = server.NewGRPC(resources)

		wg.Go(func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPC.Addr)
			if err := grpcSrv.Serve(lis); err != nil {
				logger.Error("gRPC server error", "error", err)
			}
			logger.Info("gRPC server stopped")
		})
	}

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)

	<-stopChan
	logger.Info("shutting down")

	go func() {
		<-stopChan
		logger.Warn("force shutdown")
		os.Exit(1)
	}()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown", "error", err)
	}

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}

	if worker != nil {
		// Give pending index jobs the rest of the shutdown window.
		if err := worker.Drain(shutdownCtx); err != nil {
			logger.Warn("index jobs left undone", "pending", queue.Pending())
		}
		queue.Close()
	}

	cancel()

	wg.Wait()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	level, _ := cfg.SlogLevel()
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(h)
}

func newStores(ctx context.Context, cfg config.StoreConfig, resources resource.Configs) (map[string]store.Store, func(), error) {
	stores := make(map[string]store.Store, len(resources))

	switch cfg.Driver {
	case config.StoreDriverPostgres:
		dbpool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx, dbpool); err != nil {
			dbpool.Close()
			return nil, nil, err
		}
		for _, rc := range resources {
			stores[rc.Resource] = store.NewPostgresStore(dbpool, rc)
		}
		return stores, dbpool.Close, nil

	default:
		for _, rc := range resources {
			stores[rc.Resource] = store.NewMemoryStore()
		}
		return stores, func() {}, nil
	}
}
