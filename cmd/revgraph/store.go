package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/dlq"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/history"
	"github.com/rohankatakam/revgraph/internal/localgraph"
)

// openStore connects to the configured backend. concurrency is the number of
// parallel readers the caller intends to run; it sizes the Neo4j pool when
// none is configured.
func openStore(ctx context.Context, c *config.Config, concurrency int) (graph.Store, error) {
	switch c.Backend {
	case config.BackendNeo4j:
		password := c.Neo4j.Password
		if password == "" {
			var err error
			if password, err = config.NewCredentialManager().Neo4jPassword(); err != nil {
				return nil, err
			}
		}
		pool := c.Neo4j.MaxPoolSize
		if pool <= 0 {
			pool = graph.RecommendedPoolSize(concurrency)
		}
		client, err := graph.NewClient(ctx, graph.ClientConfig{
			URI:         c.Neo4j.URI,
			User:        c.Neo4j.User,
			Password:    password,
			Database:    c.Neo4j.Database,
			MaxPoolSize: pool,
		})
		if err != nil {
			return nil, errors.DatabaseError(err, "connect to neo4j").WithContext("uri", c.Neo4j.URI)
		}
		logger.WithField("uri", c.Neo4j.URI).Debug("connected to neo4j")
		return graph.NewNeo4jBackend(client, c.Commit.Timeout), nil

	case config.BackendLocal:
		if err := os.MkdirAll(filepath.Dir(c.Local.Path), 0755); err != nil {
			return nil, errors.FileSystemError(err, "create local graph directory")
		}
		g, err := localgraph.Open(c.Local.Path)
		if err != nil {
			return nil, errors.DatabaseError(err, "open local graph").WithContext("path", c.Local.Path)
		}
		logger.WithField("path", c.Local.Path).Debug("opened local graph")
		return g, nil

	default:
		return nil, errors.ConfigErrorf("unknown backend %q", c.Backend)
	}
}

// openRepository opens the store and attaches to its revision chain. The
// returned close function releases the store.
func openRepository(ctx context.Context, c *config.Config, concurrency int) (*history.Repository, graph.Store, func(), error) {
	store, err := openStore(ctx, c, concurrency)
	if err != nil {
		return nil, nil, nil, err
	}
	var profiled *graph.ProfiledStore
	if profileStore {
		profiled = graph.NewProfiledStore(store)
		store = profiled
	}
	closeStore := func() {
		if profiled != nil {
			reportProfile(profiled)
		}
		if err := store.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to close store")
		}
	}

	repo, err := history.Open(ctx, store)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	return repo, store, closeStore, nil
}

func openQueue(c *config.Config) (*dlq.Queue, error) {
	return dlq.Open(c.Queue.Path)
}

// reportProfile logs per-operation store timings collected with --profile.
func reportProfile(p *graph.ProfiledStore) {
	for _, s := range p.Stats() {
		logger.WithFields(logrus.Fields{
			"operation": s.Operation,
			"samples":   s.SampleCount,
			"failures":  s.Failures,
			"avg_ms":    s.AvgDuration.Milliseconds(),
			"max_ms":    s.MaxDuration.Milliseconds(),
			"rows":      s.TotalRows,
		}).Info("store profile")
	}
	for _, r := range p.Regressions() {
		logger.Warn(r)
	}
}

// baseStore strips the profiling wrapper, if any.
func baseStore(s graph.Store) graph.Store {
	if p, ok := s.(*graph.ProfiledStore); ok {
		return p.Unwrap()
	}
	return s
}
