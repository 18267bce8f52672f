package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect revgraph configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging the config file, .env files and
environment variables. Secrets are masked.`,
	RunE: runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration for every command",
	RunE:  runConfigValidate,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	data, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprint(out, string(data))

	src := config.NewKeyringManager().PasswordSource(cfg)
	fmt.Fprintf(out, "\n# neo4j password source: %s (%s)\n", src.Source, src.Recommended)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	result := cfg.Validate(config.ValidationContextAll)
	out := cmd.OutOrStdout()
	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  ⚠️  %s\n", w)
	}
	fmt.Fprintln(out, "✓ Configuration is valid")
	return nil
}
