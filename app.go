package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/schizoid/markovbot/internal/config"
	"github.com/schizoid/markovbot/internal/logging"
	"github.com/schizoid/markovbot/internal/markov"
	"github.com/schizoid/markovbot/internal/metrics"
	"github.com/schizoid/markovbot/internal/store/breaker"
	"github.com/schizoid/markovbot/internal/store/dynamo"
	"github.com/schizoid/markovbot/internal/store/memory"
)

// app is the wired process: logger, store stack and chain.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	chain   *markov.Chain

	// memory is set for the memory driver, whose state lives in snapshots.
	memory *memory.Store
	// dirty marks that the snapshot must be written on close.
	dirty bool
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.NewCollector("markov"),
	}

	var store markov.Store
	switch cfg.Storage.Driver {
	case config.DriverDynamoDB:
		ds, err := dynamo.Open(ctx, dynamo.Config{
			Table:    cfg.Storage.DynamoDB.Table,
			Region:   cfg.Storage.DynamoDB.Region,
			Endpoint: cfg.Storage.DynamoDB.Endpoint,
		}, logger.Named("dynamodb"))
		if err != nil {
			return nil, err
		}
		store = ds
	default:
		a.memory = memory.New(logger.Named("memory"))
		if cfg.Storage.SnapshotPath != "" {
			if err := a.memory.Load(cfg.Storage.SnapshotPath); err != nil {
				return nil, err
			}
		}
		store = a.memory
	}

	if cfg.Storage.Breaker.Enabled {
		store = breaker.Wrap(store, breakerConfig(cfg), logger.Named("breaker"))
	}
	store = metrics.InstrumentStore(store, a.metrics)

	a.chain = markov.NewChain(store,
		markov.WithLogger(logger.Named("chain")),
		markov.WithObserver(a.metrics),
	)
	return a, nil
}

// breakerConfig applies the configured thresholds on top of the breaker
// defaults for the storage driver.
func breakerConfig(cfg *config.Config) breaker.Config {
	b := cfg.Storage.Breaker
	bc := breaker.DefaultConfig(cfg.Storage.Driver)
	bc.Interval = b.Interval
	bc.Timeout = b.Timeout
	bc.FailureThreshold = b.FailureThreshold
	bc.MinRequests = b.MinRequests
	return bc
}

// saveSnapshot writes the memory store to its snapshot path, if any.
func (a *app) saveSnapshot() error {
	if a.memory == nil || a.cfg.Storage.SnapshotPath == "" {
		return nil
	}
	if err := a.memory.Save(a.cfg.Storage.SnapshotPath); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// runSnapshots saves the memory store every snapshot interval until ctx ends.
func (a *app) runSnapshots(ctx context.Context) {
	interval := a.cfg.Storage.SnapshotInterval
	if a.memory == nil || a.cfg.Storage.SnapshotPath == "" || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.saveSnapshot(); err != nil {
				a.logger.Error("periodic snapshot failed", zap.Error(err))
			}
		}
	}
}

// Close persists pending state and flushes the logger.
func (a *app) Close() error {
	var err error
	if a.dirty {
		err = a.saveSnapshot()
	}
	_ = a.logger.Sync()
	return err
}
