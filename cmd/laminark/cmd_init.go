package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/noobynull/laminark/internal/config"
	"github.com/noobynull/laminark/internal/store"
)

var initForce bool

// initCmd performs the cold-start setup for a new project: writes a
// default config.yaml if one doesn't exist yet and opens the store
// once so the schema migrations run immediately, rather than on the
// first hook invocation.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "write a default config and create the memory database",
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := configPath
	if dir == "" {
		dir = filepath.Join(config.DefaultConfigDir(), "config.yaml")
	}

	if _, err := os.Stat(dir); err == nil && !initForce {
		fmt.Printf("config already exists at %s (use --force to overwrite)\n", dir)
	} else {
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
		cfg := config.DefaultConfig()
		if err := cfg.Save(dir); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Printf("wrote default config to %s\n", dir)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	s, err := store.Open(cfg.Store.DatabasePath, cfg.Store.RequireVector)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	fmt.Printf("memory database ready at %s (vector capability: %v)\n", cfg.Store.DatabasePath, s.HasVectorCapability())
	return nil
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config.yaml")
}
