package graph

import (
	"context"
	"fmt"
	"time"
)

// PoolStats represents connection pool statistics
//
// Note: The Neo4j Go driver doesn't expose detailed pool statistics directly.
// For production monitoring, use Neo4j's built-in metrics endpoint.
type PoolStats struct {
	MaxPoolSize int
	Database    string
}

// GetPoolStats retrieves current connection pool statistics
func (c *Client) GetPoolStats() PoolStats {
	return PoolStats{
		MaxPoolSize: c.maxPoolSize,
		Database:    c.database,
	}
}

// RecommendedPoolSize returns recommended pool size based on expected concurrency
func RecommendedPoolSize(expectedConcurrentRequests int) int {
	// pool_size = concurrent_requests * 1.5, clamped to [10, 100]
	recommended := expectedConcurrentRequests * 3 / 2

	if recommended < 10 {
		return 10
	}
	if recommended > 100 {
		return 100
	}
	return recommended
}

// PoolHealthStatus represents the health of the connection pool
type PoolHealthStatus struct {
	Healthy       bool
	Message       string
	LastCheckTime time.Time
	Stats         PoolStats
}

// CheckPoolHealth performs a health check and reports how long it took
func (c *Client) CheckPoolHealth(ctx context.Context) (*PoolHealthStatus, error) {
	startTime := time.Now()
	err := c.HealthCheck(ctx)

	status := &PoolHealthStatus{
		LastCheckTime: time.Now(),
		Stats:         c.GetPoolStats(),
	}

	if err != nil {
		status.Healthy = false
		status.Message = fmt.Sprintf("Health check failed: %v", err)
		return status, err
	}

	// >1s for a connectivity check indicates a saturated pool or network trouble
	checkDuration := time.Since(startTime)
	if checkDuration > time.Second {
		status.Healthy = false
		status.Message = fmt.Sprintf("Health check slow: %v (threshold: 1s)", checkDuration)
		return status, fmt.Errorf("health check slow")
	}

	status.Healthy = true
	status.Message = fmt.Sprintf("Pool healthy (check took %v)", checkDuration)
	return status, nil
}

// PoolHealth exposes CheckPoolHealth on the backend
func (n *Neo4jBackend) PoolHealth(ctx context.Context) (*PoolHealthStatus, error) {
	return n.client.CheckPoolHealth(ctx)
}
