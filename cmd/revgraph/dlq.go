package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/dlq"
	"github.com/rohankatakam/revgraph/internal/plan"
)

var (
	dlqLimit     int
	dlqOlderThan time.Duration
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect and retry rejected plans",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rejected plans, most recent first",
	RunE:  runDLQList,
}

var dlqRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Re-apply every retryable plan",
	Long: `Re-apply every queued plan whose retry count is below queue.max_retries.
Plans are replayed at most queue.retry_rate per second. A plan that commits is
removed from the queue; one that fails again has its retry count raised.`,
	RunE: runDLQRetry,
}

var dlqDropCmd = &cobra.Command{
	Use:   "drop <id>",
	Short: "Remove a plan from the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runDLQDrop,
}

var dlqPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove plans older than --older-than",
	RunE:  runDLQPurge,
}

func init() {
	dlqListCmd.Flags().IntVarP(&dlqLimit, "limit", "n", 20, "show at most n entries (0 = all)")
	dlqPurgeCmd.Flags().DurationVar(&dlqOlderThan, "older-than", 30*24*time.Hour, "age threshold")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
	dlqCmd.AddCommand(dlqDropCmd)
	dlqCmd.AddCommand(dlqPurgeCmd)
}

func runDLQList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	entries, err := q.GetRecentFailures(ctx, dlqLimit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Dead-letter queue is empty")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLAN\tPARENT\tRETRIES\tERROR\tUPDATED")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d/%d\t%s\t%s\n",
			e.ID, e.Name, e.Parent, e.RetryCount, cfg.Queue.MaxRetries, e.ErrorType,
			e.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func runDLQRetry(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := cfg.Check(config.ValidationContextCommit); err != nil {
		return err
	}

	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	repo, _, closeStore, err := openRepository(ctx, cfg, 1)
	if err != nil {
		return err
	}
	defer closeStore()

	out := cmd.OutOrStdout()
	res, err := q.Retry(ctx, cfg.Queue.MaxRetries, cfg.Queue.RetryRate, func(ctx context.Context, e dlq.Entry) error {
		p, err := plan.Parse(e.Body)
		if err != nil {
			return err
		}
		result, err := commitPlan(ctx, repo, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "✓ %s (%s) committed as revision %d\n", e.ID, e.Name, result.Revision)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d resolved, %d still failing\n", res.Resolved, res.Failed)
	return nil
}

func runDLQDrop(cmd *cobra.Command, args []string) error {
	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	if err := q.MarkResolved(context.Background(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Dropped %s\n", args[0])
	return nil
}

func runDLQPurge(cmd *cobra.Command, args []string) error {
	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer q.Close()

	n, err := q.PurgeOld(context.Background(), dlqOlderThan)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Purged %d entries older than %s\n", n, dlqOlderThan)
	return nil
}
