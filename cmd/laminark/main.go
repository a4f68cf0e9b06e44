// Package main implements the laminark CLI - a persistent, project-scoped
// memory and knowledge-graph store for a coding assistant.
//
// # File Index
//
//   - main.go       - Entry point, rootCmd, global flags, init()
//   - cmd_hook.go   - hookCmd (observe, tool-use) - ephemeral observation/usage capture
//   - cmd_recall.go - recallCmd - hybrid search
//   - cmd_resume.go - resumeCmd, stashCmd (create, freeze), printObservations()
//   - cmd_status.go - statusCmd
//   - cmd_service.go - serviceCmd, runService() - long-lived background loop
//   - cmd_init.go   - initCmd, runInit()
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/noobynull/laminark/internal/config"
	"github.com/noobynull/laminark/internal/logging"
)

var (
	// Global flags.
	verbose     bool
	workspace   string
	projectPath string
	opTimeout   time.Duration

	logger *zap.Logger
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "laminark",
	Short: "laminark - persistent project memory for a coding assistant",
	Long: `laminark ingests raw tool-use events, curates them into a durable
memory, extracts a knowledge graph of entities and relations, and serves
hybrid keyword + vector recall, all scoped to one project at a time.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = cfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		if err := logging.Initialize(config.DefaultConfigDir()); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to initialize file logging: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace directory (default: current)")
	rootCmd.PersistentFlags().StringVarP(&projectPath, "project", "p", "", "project directory to scope memory to (default: workspace)")
	rootCmd.PersistentFlags().DurationVar(&opTimeout, "timeout", 30*time.Second, "operation timeout")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default: "+"$LAMINARK_HOME/config.yaml)")

	rootCmd.AddCommand(
		hookCmd,
		recallCmd,
		resumeCmd,
		stashCmd,
		statusCmd,
		serviceCmd,
		initCmd,
	)
}

// resolveProjectDir returns the directory laminark should scope memory
// to: --project if given, else --workspace, else the current directory.
func resolveProjectDir() (string, error) {
	dir := projectPath
	if dir == "" {
		dir = workspace
	}
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Abs(dir)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
