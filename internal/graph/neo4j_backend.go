package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/rohankatakam/revgraph/internal/stmt"
)

// Neo4jBackend implements Store over a Neo4j database with Cypher rendered by
// CypherBuilder.
type Neo4jBackend struct {
	client        *Client
	monitor       *TimeoutMonitor
	logger        *slog.Logger
	commitTimeout time.Duration
	fetchSizes    FetchSizeConfig
}

// QueryWithParams represents a Cypher query with its parameters
type QueryWithParams struct {
	Query  string
	Params map[string]any
}

// NewNeo4jBackend wraps a connected client. commitTimeout overrides the
// default commit transaction timeout when positive.
func NewNeo4jBackend(client *Client, commitTimeout time.Duration) *Neo4jBackend {
	return &Neo4jBackend{
		client:        client,
		monitor:       NewTimeoutMonitor(),
		logger:        slog.Default().With("component", "neo4j_store"),
		commitTimeout: commitTimeout,
		fetchSizes:    DefaultFetchSizeConfig(),
	}
}

// Execute renders every statement and runs them in one managed write
// transaction. A RequireRow statement with no rows aborts the transaction
// with *EmptyResultError.
// Routing: Write operation - routes to cluster leader in cluster deployments
func (n *Neo4jBackend) Execute(ctx context.Context, statements []stmt.Statement) ([]stmt.Result, error) {
	if len(statements) == 0 {
		return nil, nil
	}

	queries := make([]QueryWithParams, len(statements))
	for i, s := range statements {
		q, err := RenderStatement(s)
		if err != nil {
			return nil, err
		}
		queries[i] = q
	}

	operation := operationOf(statements[0])
	override := time.Duration(0)
	if operation == OpCommit {
		override = n.commitTimeout
	}
	txConfig := configFor(ctx, operation, override).WithCustomMetadata("statements", len(statements))

	var results []stmt.Result
	err := n.monitor.MonitorWithContext(ctx, operation, txConfig.Timeout, func(ctx context.Context) error {
		session := SessionWithRouting(ctx, n.client.Driver(), RoutingForOperation(operation), n.client.Database())
		defer session.Close(ctx)

		out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			collected := make([]stmt.Result, len(queries))
			for i, q := range queries {
				res, err := tx.Run(ctx, q.Query, q.Params)
				if err != nil {
					return nil, fmt.Errorf("statement %d (%s) failed: %w", i, statements[i].Name, err)
				}
				records, err := res.Collect(ctx)
				if err != nil {
					return nil, fmt.Errorf("statement %d (%s) failed: %w", i, statements[i].Name, err)
				}
				keys, _ := res.Keys()
				collected[i] = toResult(keys, records)
				if statements[i].RequireRow && len(records) == 0 {
					return nil, &EmptyResultError{Index: i, Name: statements[i].Name}
				}
			}
			return collected, nil
		}, txConfig.AsNeo4jConfig()...)
		if err != nil {
			return err
		}
		results = out.([]stmt.Result)
		return nil
	})
	if err != nil {
		return nil, err
	}

	n.logger.Debug("transaction committed",
		"operation", operation,
		"statements", len(statements),
		"correlation_id", CorrelationID(ctx))
	return results, nil
}

// Query runs one read statement
// Routing: Read operation - routes to read replicas in cluster deployments
func (n *Neo4jBackend) Query(ctx context.Context, s stmt.Statement) (stmt.Result, error) {
	q, err := RenderStatement(s)
	if err != nil {
		return stmt.Result{}, err
	}

	txConfig := configFor(ctx, OpInspect, 0)
	queryCtx, cancel := context.WithTimeout(ctx, txConfig.Timeout)
	defer cancel()

	var eager *neo4j.EagerResult
	n.monitor.MonitorQueryExecution(queryCtx, s.Name, txConfig.Timeout, func() error {
		eager, err = ExecuteWithRouting(queryCtx, n.client.Driver(), q.Query, q.Params, RoutingForOperation(operationOf(s)), n.client.Database())
		return err
	})
	if err != nil {
		return stmt.Result{}, fmt.Errorf("query %s failed: %w", s.Name, err)
	}
	return toResult(eager.Keys, eager.Records), nil
}

// FindNodes looks nodes up by label and exact property values
func (n *Neo4jBackend) FindNodes(ctx context.Context, label string, filter map[string]any) ([]Node, error) {
	res, err := n.Query(ctx, stmt.Single(OpFind+"."+strings.ToLower(label), stmt.FindNodes{Label: label, Filter: filter}, false))
	if err != nil {
		return nil, err
	}
	return NodesFromResult(res)
}

// Clear deletes every node in the database
func (n *Neo4jBackend) Clear(ctx context.Context) error {
	_, err := n.Execute(ctx, []stmt.Statement{stmt.Single(OpClear, stmt.ClearAll{}, false)})
	return err
}

// HealthCheck verifies the connection
func (n *Neo4jBackend) HealthCheck(ctx context.Context) error {
	return n.client.HealthCheck(ctx)
}

// Close closes the Neo4j driver connection
func (n *Neo4jBackend) Close(ctx context.Context) error {
	return n.client.Close(ctx)
}

// operationOf maps a statement name such as "commit.primary" to its
// transaction config operation.
func operationOf(s stmt.Statement) string {
	op, _, _ := strings.Cut(s.Name, ".")
	return op
}

func toResult(keys []string, records []*neo4j.Record) stmt.Result {
	res := stmt.Result{Columns: keys, Rows: make([]map[string]any, 0, len(records))}
	for _, r := range records {
		res.Rows = append(res.Rows, r.AsMap())
	}
	return res
}
