package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/history"
	"github.com/rohankatakam/revgraph/internal/plan"
)

var (
	dryRun  bool
	noQueue bool
)

var applyCmd = &cobra.Command{
	Use:   "apply <plan.yaml>",
	Short: "Commit a plan as one revision",
	Long: `Build a batch from a YAML plan and commit it on top of the plan's parent
revision (HEAD by default). The whole plan is applied atomically.

A plan rejected by the store (stale parent, missing entity, database error) is
stored in the dead-letter queue; see 'revgraph dlq'.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the pending commands without committing")
	applyCmd.Flags().BoolVar(&noQueue, "no-queue", false, "do not store rejected plans in the dead-letter queue")
}

func runApply(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := cfg.Check(config.ValidationContextCommit); err != nil {
		return err
	}

	p, raw, err := plan.Load(args[0])
	if err != nil {
		return err
	}

	repo, _, closeStore, err := openRepository(ctx, cfg, 1)
	if err != nil {
		return err
	}
	defer closeStore()

	out := cmd.OutOrStdout()
	if dryRun {
		if _, err := p.Build(repo); err != nil {
			return err
		}
		printPending(out, repo)
		repo.Discard()
		return nil
	}

	result, err := commitPlan(ctx, repo, p)
	if err != nil {
		if !noQueue && isRejection(err) {
			queueRejected(ctx, filepath.Base(args[0]), raw, result.Parent, err)
		}
		return err
	}

	printResult(out, result)
	return nil
}

// planResult describes one committed plan.
type planResult struct {
	Parent   int64
	Revision int64
	Created  map[string]int64
	Commands int
}

// commitPlan builds p into a fresh batch and commits it. The batch is
// discarded when building or committing fails.
func commitPlan(ctx context.Context, repo *history.Repository, p *plan.Plan) (planResult, error) {
	var res planResult

	if err := repo.Refresh(ctx); err != nil {
		return res, err
	}
	parent, err := p.ResolveParent(repo.Head())
	if err != nil {
		return res, err
	}
	res.Parent = parent

	repo.Discard()
	aliases, err := p.Build(repo)
	if err != nil {
		repo.Discard()
		return res, err
	}
	res.Commands = len(repo.Pending())

	rev, mapping, err := repo.Commit(ctx, parent)
	if err != nil {
		repo.Discard()
		return res, err
	}
	res.Revision = rev
	res.Created = plan.Resolved(aliases, mapping)
	logger.WithFields(logrus.Fields{
		"parent":   parent,
		"revision": rev,
		"commands": res.Commands,
	}).Debug("plan committed")
	return res, nil
}

// isRejection reports whether err came from the store refusing a commit, as
// opposed to a plan that could not be built.
func isRejection(err error) bool {
	return stderrors.Is(err, errors.ErrStaleParent) || stderrors.Is(err, errors.ErrTransactionRejected)
}

func queueRejected(ctx context.Context, name string, raw []byte, parent int64, cause error) {
	q, err := openQueue(cfg)
	if err != nil {
		logger.WithError(err).Warn("Could not open dead-letter queue, plan not stored")
		return
	}
	defer q.Close()

	entry, err := q.Enqueue(ctx, name, raw, parent, cause, map[string]any{"backend": cfg.Backend})
	if err != nil {
		logger.WithError(err).Warn("Could not store rejected plan")
		return
	}
	logger.WithField("id", entry.ID).Warn("Plan stored in dead-letter queue")
}

func printPending(out io.Writer, repo *history.Repository) {
	pending := repo.Pending()
	fmt.Fprintf(out, "%d pending command(s) on HEAD %d:\n", len(pending), repo.Head())
	for _, e := range pending {
		fmt.Fprintf(out, "  %3d  %-6s  %-10s  %-8s  %s\n", e.Seq, e.Type, e.Kind, e.Target, e.Payload)
	}
}

func printResult(out io.Writer, res planResult) {
	fmt.Fprintf(out, "✓ Revision %d committed on %d (%d command(s))\n", res.Revision, res.Parent, res.Commands)
	aliases := make([]string, 0, len(res.Created))
	for a := range res.Created {
		aliases = append(aliases, a)
	}
	sort.Strings(aliases)
	for _, a := range aliases {
		fmt.Fprintf(out, "  %s → %d\n", a, res.Created[a])
	}
}
