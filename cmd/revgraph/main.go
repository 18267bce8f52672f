package main

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/revgraph/internal/config"
	"github.com/rohankatakam/revgraph/internal/errors"
	"github.com/rohankatakam/revgraph/internal/logging"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	cfgFile string
	verbose bool

	profileStore bool
	logger  *logrus.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		var rerr *errors.Error
		if logging.IsDebugEnabled() && stderrors.As(err, &rerr) {
			fmt.Fprintln(os.Stderr, rerr.DetailedString())
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "revgraph",
	Short: "revgraph - versioned entity trees on a graph database",
	Long: `revgraph records changes to a tree of entities as an append-only chain of
revisions stored in Neo4j or in a local file. Each commit applies a batch of
create, delete and modify commands atomically and moves HEAD forward.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logrus.New()
		logger.SetOutput(os.Stderr)
		if verbose {
			logger.SetLevel(logrus.DebugLevel)
		} else {
			logger.SetLevel(logrus.InfoLevel)
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			logger.WithError(err).Warn("Failed to load config, using defaults")
			cfg = config.Default()
		}

		return logging.Initialize(loggingConfig(cfg, verbose))
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Close()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: .revgraph/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&profileStore, "profile", false, "log store call timings on exit")

	rootCmd.SetVersionTemplate(`revgraph {{.Version}}
Build time: ` + BuildTime + `
Git commit: ` + GitCommit + `
`)

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(resetCmd)
}

// loggingConfig maps the log section onto the component logger. Component
// logs stay at WARN unless a lower level is configured or --verbose is set.
func loggingConfig(c *config.Config, verbose bool) logging.Config {
	var lc logging.Config
	if c.Log.File == config.LogFileAuto {
		lc = logging.DefaultConfig(verbose)
		lc.JSONFormat = lc.JSONFormat || c.Log.JSON
	} else {
		lc = logging.ConsoleConfig(logging.ParseLevel(c.Log.Level))
		lc.OutputFile = c.Log.File
		lc.JSONFormat = c.Log.JSON
	}

	switch level := logging.ParseLevel(c.Log.Level); {
	case verbose:
		lc.Level = logging.DEBUG
		lc.AddSource = true
	case level == logging.INFO:
		lc.Level = logging.WARN
	default:
		lc.Level = level
	}
	return lc
}
