// dialectica runs multi-model dialectic sessions: several AI models draft,
// critique, and reconcile documents across a five-stage pipeline, with a
// human signing off between stages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dialectica/internal/logging"
)

var (
	configPath string
	workspace  string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "dialectica",
	Short: "dialectica - multi-model dialectic document pipeline",
	Long: `dialectica orchestrates a panel of AI models through a dialectic
pipeline: thesis, antithesis, synthesis, parenthesis, paralysis.

Each stage fans out into a job DAG per model; every document the models
produce is stored on disk with full lineage, and the user reviews and
submits feedback between stages.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		if err := logging.Initialize(workspace); err != nil {
			return fmt.Errorf("failed to initialize category logging: %w", err)
		}
		if verbose {
			if err := logging.EnableDebug("debug"); err != nil {
				return fmt.Errorf("failed to enable debug logging: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: $DIALECTICA_CONFIG or ~/.dialectica/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(
		initCmd,
		projectsCmd,
		startCmd,
		sessionsCmd,
		generateCmd,
		submitCmd,
		statusCmd,
		showCmd,
		searchCmd,
		usageCmd,
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
