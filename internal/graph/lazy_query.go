package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rohankatakam/revgraph/internal/stmt"
)

// LazyQueryIterator walks a query result one record at a time. The driver
// buffers at most the session fetch size.
type LazyQueryIterator struct {
	result  neo4j.ResultWithContext
	session neo4j.SessionWithContext
	ctx     context.Context
}

// Next advances to the next record
func (l *LazyQueryIterator) Next() bool {
	return l.result.Next(l.ctx)
}

// Row returns the current record as a column -> value map.
func (l *LazyQueryIterator) Row() map[string]any {
	return l.result.Record().AsMap()
}

// Err returns any error that occurred during iteration
func (l *LazyQueryIterator) Err() error {
	return l.result.Err()
}

// Close consumes remaining results and releases the session.
func (l *LazyQueryIterator) Close(ctx context.Context) error {
	defer l.session.Close(ctx)
	_, err := l.result.Consume(ctx)
	return err
}

// ExecuteQueryLazy runs a read query in an auto-commit transaction and returns
// an iterator over its records. Rows are delivered at most once; the driver
// does not retry auto-commit transactions. The caller must Close the iterator.
func ExecuteQueryLazy(
	ctx context.Context,
	driver neo4j.DriverWithContext,
	query string,
	params map[string]any,
	database string,
	fetchSize int,
) (*LazyQueryIterator, error) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: database,
		AccessMode:   neo4j.AccessModeRead,
		FetchSize:    fetchSize,
	})

	result, err := session.Run(ctx, query, params)
	if err != nil {
		session.Close(ctx)
		return nil, fmt.Errorf("lazy query failed: %w", err)
	}

	return &LazyQueryIterator{
		result:  result,
		session: session,
		ctx:     ctx,
	}, nil
}

// FetchSizeConfig controls how many records are fetched at a time
type FetchSizeConfig struct {
	// Single-row reads such as the HEAD lookup
	SmallQueryFetchSize int

	// Node lookups by label
	MediumQueryFetchSize int

	// Whole-chain and per-revision command reads
	LargeQueryFetchSize int
}

// DefaultFetchSizeConfig returns recommended fetch sizes
func DefaultFetchSizeConfig() FetchSizeConfig {
	return FetchSizeConfig{
		SmallQueryFetchSize:  100,
		MediumQueryFetchSize: 500,
		LargeQueryFetchSize:  1000,
	}
}

// For picks the fetch size for a read statement by name.
func (c FetchSizeConfig) For(name string) int {
	switch {
	case name == "inspect.head":
		return c.SmallQueryFetchSize
	case strings.HasPrefix(name, OpFind+"."):
		return c.MediumQueryFetchSize
	default:
		return c.LargeQueryFetchSize
	}
}

// Stream runs one read statement and hands each row to fn as it arrives.
// Routing: Read operation - routes to read replicas in cluster deployments
func (n *Neo4jBackend) Stream(ctx context.Context, s stmt.Statement, fn func(row map[string]any) error) error {
	q, err := RenderStatement(s)
	if err != nil {
		return err
	}

	txConfig := configFor(ctx, OpInspect, 0)
	queryCtx, cancel := context.WithTimeout(ctx, txConfig.Timeout)
	defer cancel()

	var rows int
	var streamErr error
	n.monitor.MonitorQueryExecution(queryCtx, s.Name, txConfig.Timeout, func() error {
		rows, streamErr = n.streamRows(queryCtx, q, n.fetchSizes.For(s.Name), fn)
		return streamErr
	})
	if streamErr != nil {
		return fmt.Errorf("stream %s failed: %w", s.Name, streamErr)
	}

	n.logger.Debug("stream finished", "statement", s.Name, "rows", rows)
	return nil
}

func (n *Neo4jBackend) streamRows(ctx context.Context, q QueryWithParams, fetchSize int, fn func(row map[string]any) error) (int, error) {
	iter, err := ExecuteQueryLazy(ctx, n.client.Driver(), q.Query, q.Params, n.client.Database(), fetchSize)
	if err != nil {
		return 0, err
	}

	rows := 0
	for iter.Next() {
		rows++
		if err := fn(iter.Row()); err != nil {
			iter.Close(ctx)
			return rows, err
		}
	}
	if err := iter.Err(); err != nil {
		iter.Close(ctx)
		return rows, err
	}
	return rows, iter.Close(ctx)
}
