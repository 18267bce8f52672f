package graph

import (
	"context"
	"fmt"

	"github.com/rohankatakam/revgraph/internal/stmt"
)

// Store is the graph store consumed by the revision engine.
// Implementations: Neo4jBackend (Cypher over Bolt) and localgraph.Graph (embedded).
type Store interface {
	// Execute runs statements as one atomic transaction and returns one result
	// per statement. Any failure rolls back every statement.
	Execute(ctx context.Context, statements []stmt.Statement) ([]stmt.Result, error)

	// Query runs a single read-only statement.
	Query(ctx context.Context, statement stmt.Statement) (stmt.Result, error)

	// FindNodes returns nodes with the given label whose properties match filter.
	FindNodes(ctx context.Context, label string, filter map[string]any) ([]Node, error)

	// Clear removes every node from the store
	Clear(ctx context.Context) error

	// Close releases the store
	Close(ctx context.Context) error
}

// HealthChecker is implemented by stores with a remote connection.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RowStreamer is implemented by stores that hand rows to the caller as they
// arrive instead of collecting the whole result first.
type RowStreamer interface {
	Stream(ctx context.Context, statement stmt.Statement, fn func(row map[string]any) error) error
}

// EachRow feeds every row of a read statement to fn, streaming when the store
// supports it. An error from fn stops the read and is returned.
func EachRow(ctx context.Context, store Store, statement stmt.Statement, fn func(row map[string]any) error) error {
	if rs, ok := store.(RowStreamer); ok {
		return rs.Stream(ctx, statement, fn)
	}
	res, err := store.Query(ctx, statement)
	if err != nil {
		return err
	}
	for _, row := range res.Rows {
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}

// Node is a stored node as returned by FindNodes.
type Node struct {
	ID         int64
	Properties map[string]any
}

// EmptyResultError is returned from Execute when a statement flagged
// RequireRow produced no rows. The transaction has been rolled back.
type EmptyResultError struct {
	Index int
	Name  string
}

func (e *EmptyResultError) Error() string {
	return fmt.Sprintf("statement %d (%s) matched nothing", e.Index, e.Name)
}

// NodesFromResult decodes the id/props rows of a FindNodes statement.
func NodesFromResult(res stmt.Result) ([]Node, error) {
	nodes := make([]Node, 0, len(res.Rows))
	for i, row := range res.Rows {
		id, ok := row[stmt.ColID].(int64)
		if !ok {
			return nil, fmt.Errorf("row %d: unexpected id type %T", i, row[stmt.ColID])
		}
		props, _ := row[stmt.ColProps].(map[string]any)
		nodes = append(nodes, Node{ID: id, Properties: props})
	}
	return nodes, nil
}
