// Package localgraph is an embedded graph store for single-machine use and
// tests. It interprets statements directly and persists the graph as one
// snapshot in a bbolt file after every committed transaction.
package localgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

const (
	bucketName  = "revgraph"
	snapshotKey = "graph"
)

// Graph implements graph.Store. Transactions run against a copy of the graph
// that replaces the current one only after every statement succeeded and the
// snapshot was written.
type Graph struct {
	mu     sync.Mutex
	db     *bolt.DB
	state  *state
	logger *slog.Logger
}

var _ graph.Store = (*Graph)(nil)

// Open loads or creates a graph file at path.
func Open(path string) (*Graph, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open local graph %s: %w", path, err)
	}

	st := newState()
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		data := bucket.Get([]byte(snapshotKey))
		if data == nil {
			return nil
		}
		st, err = unmarshalState(data)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load local graph %s: %w", path, err)
	}

	logger := slog.Default().With("component", "localgraph")
	logger.Info("local graph opened", "path", path, "nodes", len(st.Nodes))
	return &Graph{db: db, state: st, logger: logger}, nil
}

// OpenMemory returns a graph that is never persisted.
func OpenMemory() *Graph {
	return &Graph{state: newState(), logger: slog.Default().With("component", "localgraph")}
}

// Execute runs statements atomically.
func (g *Graph) Execute(ctx context.Context, statements []stmt.Statement) ([]stmt.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	work := g.state.clone()
	results := make([]stmt.Result, len(statements))
	for i, s := range statements {
		res, err := execute(work, s)
		if err != nil {
			return nil, fmt.Errorf("statement %d (%s) failed: %w", i, s.Name, err)
		}
		if s.RequireRow && len(res.Rows) == 0 {
			return nil, &graph.EmptyResultError{Index: i, Name: s.Name}
		}
		results[i] = res
	}

	if err := g.persist(work); err != nil {
		return nil, err
	}
	g.state = work
	g.logger.Debug("transaction committed",
		"statements", len(statements),
		"correlation_id", graph.CorrelationID(ctx))
	return results, nil
}

// Query runs a read statement against the current graph.
func (g *Graph) Query(ctx context.Context, s stmt.Statement) (stmt.Result, error) {
	if err := ctx.Err(); err != nil {
		return stmt.Result{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	// Reads never mutate, but a stray write fragment must not leak either.
	res, err := execute(g.state.clone(), s)
	if err != nil {
		return stmt.Result{}, fmt.Errorf("query %s failed: %w", s.Name, err)
	}
	return res, nil
}

// FindNodes looks nodes up by label and exact property values.
func (g *Graph) FindNodes(ctx context.Context, label string, filter map[string]any) ([]graph.Node, error) {
	res, err := g.Query(ctx, stmt.Single("find", stmt.FindNodes{Label: label, Filter: filter}, false))
	if err != nil {
		return nil, err
	}
	return graph.NodesFromResult(res)
}

// Clear removes every node.
func (g *Graph) Clear(ctx context.Context) error {
	_, err := g.Execute(ctx, []stmt.Statement{stmt.Single(graph.OpClear, stmt.ClearAll{}, false)})
	return err
}

// Close flushes and closes the backing file.
func (g *Graph) Close(ctx context.Context) error {
	if g.db == nil {
		return nil
	}
	return g.db.Close()
}

func (g *Graph) persist(s *state) error {
	if g.db == nil {
		return nil
	}
	data, err := s.marshal()
	if err != nil {
		return fmt.Errorf("encode graph snapshot: %w", err)
	}
	return g.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(snapshotKey), data)
	})
}
