package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/history"
)

var showCmd = &cobra.Command{
	Use:   "show <revision>",
	Short: "Show the commands that produced a revision",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if err := cfg.Check(config.ValidationContextInspect); err != nil {
		return err
	}
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errors.ValidationErrorf("invalid revision %q", args[0])
	}

	repo, _, closeStore, err := openRepository(ctx, cfg, 1)
	if err != nil {
		return err
	}
	defer closeStore()

	chain, err := repo.Revisions(ctx)
	if err != nil {
		return err
	}
	var rev *history.Revision
	for i := range chain {
		if chain[i].ID == target {
			rev = &chain[i]
			break
		}
	}
	if rev == nil {
		return errors.ValidationErrorf("revision %d is not part of the chain", target)
	}

	out := cmd.OutOrStdout()
	if !rev.HasPredecessor {
		fmt.Fprintf(out, "revision %d is the initial revision\n", rev.ID)
		return nil
	}
	cmds, err := repo.Commands(ctx, rev.Predecessor)
	if err != nil {
		return err
	}
	printCommands(out, *rev, cmds)
	return nil
}

func printCommands(out io.Writer, rev history.Revision, cmds []history.Command) {
	head := ""
	if rev.IsHead {
		head = " (HEAD)"
	}
	fmt.Fprintf(out, "revision %d%s  parent %d\n\n", rev.ID, head, rev.Predecessor)

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTYPE\tKIND\tENTITY\tPAYLOAD")
	for _, c := range cmds {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", c.Seq, c.Type, orDash(c.Kind), c.Entity, c.Payload)
	}
	w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
