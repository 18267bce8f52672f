package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/history"
	"github.com/rohankatakam/revgraph/internal/stmt"
)

var (
	logWorkers int
	logLimit   int
)

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "List revisions, newest first",
	Long: `List the revision chain from HEAD back to the first revision, with the
number of commands that produced each revision.`,
	RunE: runLog,
}

func init() {
	logCmd.Flags().IntVar(&logWorkers, "workers", 4, "concurrent command reads")
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "show at most n revisions (0 = all)")
}

// revisionSummary is one line of `revgraph log`.
type revisionSummary struct {
	history.Revision
	Commands []history.Command
}

func runLog(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := cfg.Check(config.ValidationContextInspect); err != nil {
		return err
	}
	if logWorkers < 1 {
		logWorkers = 1
	}

	repo, _, closeStore, err := openRepository(ctx, cfg, logWorkers)
	if err != nil {
		return err
	}
	defer closeStore()

	summaries, err := summarize(ctx, repo, logWorkers)
	if err != nil {
		return err
	}
	printLog(cmd.OutOrStdout(), summaries, logLimit)
	return nil
}

// summarize reads the chain and, concurrently, the commands recorded against
// each revision. Commands recorded against revision r produced r's successor,
// so they are attached to the successor in the result.
func summarize(ctx context.Context, repo *history.Repository, workers int) ([]revisionSummary, error) {
	chain, err := repo.Revisions(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]revisionSummary, len(chain))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, rev := range chain {
		out[i].Revision = rev
		if !rev.HasPredecessor {
			continue
		}
		i, pred := i, rev.Predecessor
		g.Go(func() error {
			cmds, err := repo.Commands(gctx, pred)
			if err != nil {
				return err
			}
			out[i].Commands = cmds
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func printLog(out io.Writer, summaries []revisionSummary, limit int) {
	shown := 0
	for i := len(summaries) - 1; i >= 0; i-- {
		if limit > 0 && shown == limit {
			break
		}
		s := summaries[i]
		marker := "  "
		if s.IsHead {
			marker = "* "
		}
		switch {
		case !s.HasPredecessor:
			fmt.Fprintf(out, "%srevision %d  (initial)\n", marker, s.ID)
		default:
			creates, deletes, modifies := countByType(s.Commands)
			fmt.Fprintf(out, "%srevision %d  parent %d  %d command(s): +%d -%d ~%d\n",
				marker, s.ID, s.Predecessor, len(s.Commands), creates, deletes, modifies)
		}
		shown++
	}
}

func countByType(cmds []history.Command) (creates, deletes, modifies int) {
	for _, c := range cmds {
		switch c.Type {
		case stmt.CommandCreate:
			creates++
		case stmt.CommandDelete:
			deletes++
		case stmt.CommandModify:
			modifies++
		}
	}
	return
}
