package graph

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const defaultMaxPoolSize = 50

// ClientConfig holds connection settings for a Neo4j client.
type ClientConfig struct {
	URI         string
	User        string
	Password    string
	Database    string
	MaxPoolSize int
}

// Client wraps the Neo4j driver with pool configuration and health checks
type Client struct {
	driver      neo4j.DriverWithContext
	logger      *slog.Logger
	database    string
	maxPoolSize int
}

// NewClient creates a Neo4j client and verifies connectivity
// Security: credentials come from config, env or the OS keychain, never literals
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.URI == "" || cfg.User == "" || cfg.Password == "" {
		return nil, fmt.Errorf("neo4j credentials missing: uri=%s, user=%s", cfg.URI, cfg.User)
	}
	if cfg.Database == "" {
		cfg.Database = "neo4j"
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = defaultMaxPoolSize
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.User, cfg.Password, ""),
		func(config *neo4j.Config) {
			// Connection pool settings
			config.MaxConnectionPoolSize = cfg.MaxPoolSize
			config.ConnectionAcquisitionTimeout = 60 * time.Second
			config.MaxConnectionLifetime = 3600 * time.Second // recycle connections hourly
			config.ConnectionLivenessCheckTimeout = 5 * time.Second

			config.SocketConnectTimeout = 5 * time.Second
			config.SocketKeepalive = true
		})
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	// Fail fast on startup
	if err := driver.VerifyConnectivity(ctx); err != nil {
		driver.Close(ctx)
		return nil, fmt.Errorf("failed to connect to neo4j at %s: %w", cfg.URI, err)
	}

	logger := slog.Default().With("component", "neo4j")
	logger.Info("neo4j client connected",
		"uri", cfg.URI,
		"user", cfg.User,
		"database", cfg.Database,
		"max_pool_size", cfg.MaxPoolSize)

	return &Client{
		driver:      driver,
		logger:      logger,
		database:    cfg.Database,
		maxPoolSize: cfg.MaxPoolSize,
	}, nil
}

// Close closes the Neo4j driver connection
func (c *Client) Close(ctx context.Context) error {
	if err := c.driver.Close(ctx); err != nil {
		return fmt.Errorf("failed to close neo4j driver: %w", err)
	}
	c.logger.Info("neo4j client closed")
	return nil
}

// HealthCheck verifies Neo4j connectivity
func (c *Client) HealthCheck(ctx context.Context) error {
	cfg := GetConfigForOperation(OpHealthCheck)
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := c.driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j health check failed: %w", err)
	}
	return nil
}

// Driver returns the underlying Neo4j driver
func (c *Client) Driver() neo4j.DriverWithContext {
	return c.driver
}

// Database returns the configured database name
func (c *Client) Database() string {
	return c.database
}
