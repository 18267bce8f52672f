package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// RoutingMode defines read/write routing for cluster deployments
//
// In Neo4j clusters (Causal Cluster or Aura):
// - READ queries route to read replicas (reduces load on leader)
// - WRITE queries route to leader (only leader can write)
//
// For local single-node deployments, routing has no effect.
type RoutingMode string

const (
	// RoutingRead routes to read replicas (for queries)
	RoutingRead RoutingMode = "read"

	// RoutingWrite routes to cluster leader (for writes)
	RoutingWrite RoutingMode = "write"
)

// ExecuteWithRouting executes a query with explicit routing
// This is a wrapper around ExecuteQuery that adds routing hints
func ExecuteWithRouting(
	ctx context.Context,
	driver neo4j.DriverWithContext,
	query string,
	params map[string]any,
	mode RoutingMode,
	database string,
) (*neo4j.EagerResult, error) {
	options := []neo4j.ExecuteQueryConfigurationOption{
		neo4j.ExecuteQueryWithDatabase(database),
	}

	switch mode {
	case RoutingRead:
		options = append(options, neo4j.ExecuteQueryWithReadersRouting())
	case RoutingWrite:
		options = append(options, neo4j.ExecuteQueryWithWritersRouting())
	}

	return neo4j.ExecuteQuery(ctx, driver, query, params,
		neo4j.EagerResultTransformer,
		options...)
}

// SessionWithRouting creates a session with explicit routing
// Use this when you need more control over transactions
func SessionWithRouting(
	ctx context.Context,
	driver neo4j.DriverWithContext,
	mode RoutingMode,
	database string,
) neo4j.SessionWithContext {
	config := neo4j.SessionConfig{
		DatabaseName: database,
	}

	switch mode {
	case RoutingRead:
		config.AccessMode = neo4j.AccessModeRead
	case RoutingWrite:
		config.AccessMode = neo4j.AccessModeWrite
	}

	return driver.NewSession(ctx, config)
}

// RoutingForOperation returns RoutingRead for read-only operations. Unknown
// operations go to the leader.
func RoutingForOperation(operation string) RoutingMode {
	switch operation {
	case OpInspect, OpFind, OpHealthCheck:
		return RoutingRead
	default:
		return RoutingWrite
	}
}
