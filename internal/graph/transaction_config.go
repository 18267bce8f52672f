package graph

import (
	"context"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Operation names used to select a transaction config.
const (
	OpCommit      = "commit"
	OpBootstrap   = "bootstrap"
	OpInspect     = "inspect"
	OpFind        = "find"
	OpClear       = "clear"
	OpHealthCheck = "health_check"
)

// TransactionConfig defines timeout and metadata for transactions
//
// Transaction metadata is logged by Neo4j and visible in query.log
// This helps with debugging slow commits and categorizing operations.
type TransactionConfig struct {
	Timeout  time.Duration
	Metadata map[string]any
}

// DefaultTransactionConfigs returns recommended configs per operation type
func DefaultTransactionConfigs() map[string]TransactionConfig {
	return map[string]TransactionConfig{
		// One batch of commands plus the head advance
		OpCommit: {
			Timeout: 2 * time.Minute,
			Metadata: map[string]any{
				"operation": OpCommit,
				"type":      "write",
			},
		},

		OpBootstrap: {
			Timeout: 30 * time.Second,
			Metadata: map[string]any{
				"operation": OpBootstrap,
				"type":      "write",
			},
		},

		// History inspection (log, show, status)
		OpInspect: {
			Timeout: 30 * time.Second,
			Metadata: map[string]any{
				"operation": OpInspect,
				"type":      "read",
			},
		},

		OpClear: {
			Timeout: 5 * time.Minute, // Large graphs take a while to detach
			Metadata: map[string]any{
				"operation": OpClear,
				"type":      "write",
			},
		},

		// Health checks
		OpHealthCheck: {
			Timeout: 5 * time.Second, // Health checks must be fast
			Metadata: map[string]any{
				"operation": OpHealthCheck,
				"type":      "read",
			},
		},
	}
}

// AsNeo4jConfig converts to Neo4j transaction config functions
// Use with ExecuteRead/ExecuteWrite
func (tc TransactionConfig) AsNeo4jConfig() []func(*neo4j.TransactionConfig) {
	configs := []func(*neo4j.TransactionConfig){}

	if tc.Timeout > 0 {
		configs = append(configs, neo4j.WithTxTimeout(tc.Timeout))
	}

	if len(tc.Metadata) > 0 {
		configs = append(configs, neo4j.WithTxMetadata(tc.Metadata))
	}

	return configs
}

// GetConfigForOperation retrieves the appropriate transaction config
// Returns default config if operation not found
func GetConfigForOperation(operation string) TransactionConfig {
	configs := DefaultTransactionConfigs()
	if config, ok := configs[operation]; ok {
		return config
	}

	return TransactionConfig{
		Timeout: 60 * time.Second,
		Metadata: map[string]any{
			"operation": operation,
			"type":      "unknown",
		},
	}
}

// WithCustomMetadata creates a config with custom metadata
func (tc TransactionConfig) WithCustomMetadata(key string, value any) TransactionConfig {
	newConfig := TransactionConfig{
		Timeout:  tc.Timeout,
		Metadata: make(map[string]any, len(tc.Metadata)+1),
	}
	for k, v := range tc.Metadata {
		newConfig.Metadata[k] = v
	}
	newConfig.Metadata[key] = value
	return newConfig
}

// WithTimeout creates a config with a custom timeout
// A zero timeout keeps the current one.
func (tc TransactionConfig) WithTimeout(timeout time.Duration) TransactionConfig {
	if timeout <= 0 {
		return tc
	}
	return TransactionConfig{
		Timeout:  timeout,
		Metadata: tc.Metadata,
	}
}

type correlationKey struct{}

// WithCorrelationID tags ctx so stores can attach id to transaction metadata
// and log lines.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id set by WithCorrelationID, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// configFor resolves the transaction config for a call: the operation
// default, the override timeout and the correlation id from ctx.
func configFor(ctx context.Context, operation string, override time.Duration) TransactionConfig {
	cfg := GetConfigForOperation(operation).WithTimeout(override)
	if id := CorrelationID(ctx); id != "" {
		cfg = cfg.WithCustomMetadata("correlation_id", id)
	}
	return cfg
}
