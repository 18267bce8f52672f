package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rohankatakam/revgraph/internal/config"
)

var forget bool

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store the Neo4j password",
	Long: `Prompt for the Neo4j password and store it in the OS keychain, or in
~/.config/revgraph/credentials.yaml when no keychain is available.

The NEO4J_PASSWORD environment variable always takes precedence.`,
	RunE: runLogin,
}

func init() {
	loginCmd.Flags().BoolVar(&forget, "forget", false, "remove the stored password instead")
}

func runLogin(cmd *cobra.Command, args []string) error {
	cm := config.NewCredentialManager()
	out := cmd.OutOrStdout()

	if forget {
		if err := cm.Forget(); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Stored Neo4j password removed")
		return nil
	}

	src := config.NewKeyringManager().PasswordSource(cfg)
	if src.Source == "env" {
		fmt.Fprintln(out, "NEO4J_PASSWORD is set in the environment; it overrides any stored password.")
	}

	if _, err := cm.Prompt(); err != nil {
		return err
	}
	logger.WithField("mode", cm.Mode()).Debug("neo4j password stored")
	return nil
}
