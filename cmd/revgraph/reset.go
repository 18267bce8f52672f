package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/errors"
)

var confirmReset bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every node in the store",
	Long: `Delete every node and relationship in the configured store, including the
revision chain. The next command bootstraps a new chain. Requires --yes.`,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVar(&confirmReset, "yes", false, "confirm deletion")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !confirmReset {
		return errors.ValidationErrorf("reset deletes all data in the %s store; pass --yes to confirm", cfg.Backend)
	}
	if err := cfg.Check(config.ValidationContextInit); err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg, 1)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	if err := store.Clear(ctx); err != nil {
		return err
	}
	logger.WithField("backend", cfg.Backend).Warn("Store cleared")
	fmt.Fprintln(cmd.OutOrStdout(), "✓ Store cleared")
	return nil
}
