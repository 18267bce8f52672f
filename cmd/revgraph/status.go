package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/graph"
	"github.com/rohankatakam/revgraph/internal/logging"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, store health and the revision chain",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "revgraph status\n")
	fmt.Fprintf(out, "%s\n", strings.Repeat("═", 50))

	fmt.Fprintf(out, "\nConfiguration:\n")
	fmt.Fprintf(out, "  Mode: %s (%s)\n", config.DetectMode(), config.DetectMode().Description())
	fmt.Fprintf(out, "  Backend: %s\n", cfg.Backend)
	switch cfg.Backend {
	case config.BackendNeo4j:
		fmt.Fprintf(out, "  Neo4j: %s (database %s, user %s)\n", cfg.Neo4j.URI, cfg.Neo4j.Database, cfg.Neo4j.User)
	case config.BackendLocal:
		fmt.Fprintf(out, "  Local graph: %s\n", cfg.Local.Path)
	}
	fmt.Fprintf(out, "  Commit timeout: %s\n", cfg.Commit.Timeout)
	if path := logging.GetLogFilePath(); path != "" {
		fmt.Fprintf(out, "  Log file: %s\n", path)
	}

	if result := cfg.Validate(config.ValidationContextInspect); result.HasErrors() {
		fmt.Fprintf(out, "\n%s", result.Error())
		return nil
	}

	fmt.Fprintf(out, "\nStore:\n")
	repo, store, closeStore, err := openRepository(ctx, cfg, 1)
	if err != nil {
		fmt.Fprintf(out, "  Status: ❌ %v\n", err)
		return nil
	}
	defer closeStore()

	if hc, ok := baseStore(store).(graph.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			fmt.Fprintf(out, "  Health: ❌ %v\n", err)
		} else {
			fmt.Fprintf(out, "  Health: ✅ reachable\n")
		}
	}
	if nb, ok := baseStore(store).(*graph.Neo4jBackend); ok {
		if pool, err := nb.PoolHealth(ctx); err == nil {
			fmt.Fprintf(out, "  Pool: max %d connections, %s\n", pool.Stats.MaxPoolSize, pool.Message)
		}
	}

	chain, err := repo.Revisions(ctx)
	if err != nil {
		fmt.Fprintf(out, "  Chain: ❌ %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "  HEAD: %d\n", repo.Head())
	fmt.Fprintf(out, "  Root entity: %s\n", repo.RootEntity())
	fmt.Fprintf(out, "  Revisions: %d\n", len(chain))

	fmt.Fprintf(out, "\nDead-letter queue:\n")
	q, err := openQueue(cfg)
	if err != nil {
		fmt.Fprintf(out, "  Status: ❌ %v\n", err)
		return nil
	}
	defer q.Close()
	stats, err := q.GetStats(ctx, cfg.Queue.MaxRetries)
	if err != nil {
		fmt.Fprintf(out, "  Status: ❌ %v\n", err)
		return nil
	}
	fmt.Fprintf(out, "  Entries: %d (%d retryable, %d exhausted)\n",
		stats.TotalEntries, stats.RetryableEntries, stats.ExhaustedRetries)
	return nil
}
