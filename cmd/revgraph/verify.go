package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/errors"
)

var verifyWorkers int

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the stored graph against the revision chain",
	Long: `Count HEAD, REVISION, COMMAND and data nodes in the store and compare them
with what the revision chain accounts for. Exits non-zero when a check fails.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().IntVar(&verifyWorkers, "workers", 4, "concurrent command reads")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := cfg.Check(config.ValidationContextInspect); err != nil {
		return err
	}

	repo, _, closeStore, err := openRepository(ctx, cfg, verifyWorkers)
	if err != nil {
		return err
	}
	defer closeStore()

	checks, err := repo.Verify(ctx, verifyWorkers)
	if err != nil {
		return err
	}

	failed := 0
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tEXPECTED\tACTUAL\tSTATUS\t")
	for _, c := range checks {
		status := "✓"
		if !c.Passed {
			status = "✗"
			failed++
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n", c.Name, c.Expected, c.Actual, status, c.Detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return errors.InternalErrorf("%d consistency check(s) failed", failed)
	}
	return nil
}
