package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noobynull/laminark/internal/store"
)

var (
	hookContent   string
	hookTitle     string
	hookSource    string
	hookSessionID string
	hookKind      string

	hookToolName    string
	hookToolSuccess bool
	hookToolType    string
	hookToolScope   string
)

// hookCmd is the entry point an ephemeral tool-use hook process calls:
// construct a store handle, write one row, exit. It never starts the
// curation loop or the embedder - those live in the long-running
// service - so a hook invocation stays fast even under WAL contention.
var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "record a single observation or tool-usage event from a hook process",
}

var hookObserveCmd = &cobra.Command{
	Use:   "observe",
	Short: "insert one unclassified observation",
	RunE: func(cmd *cobra.Command, args []string) error {
		if hookContent == "" {
			return fmt.Errorf("--content is required")
		}

		s, hash, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		obs, err := s.Record(ctx, store.ObservationInput{
			ProjectHash: hash,
			Content:     hookContent,
			Title:       hookTitle,
			Source:      hookSource,
			SessionID:   hookSessionID,
			Kind:        hookKind,
		})
		if err != nil {
			return fmt.Errorf("record observation: %w", err)
		}

		fmt.Printf("recorded observation %d\n", obs.ID)
		return nil
	},
}

var hookToolUseCmd = &cobra.Command{
	Use:   "tool-use",
	Short: "record one tool invocation outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		if hookToolName == "" {
			return fmt.Errorf("--name is required")
		}

		s, hash, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		desc := store.ToolDescriptor{Name: hookToolName, ToolType: hookToolType, Scope: hookToolScope}
		if err := s.RecordUsage(ctx, hash, desc, hookToolSuccess); err != nil {
			return fmt.Errorf("record tool usage: %w", err)
		}

		fmt.Printf("recorded usage: %s success=%v\n", hookToolName, hookToolSuccess)
		return nil
	},
}

func init() {
	hookObserveCmd.Flags().StringVar(&hookContent, "content", "", "observation content (required)")
	hookObserveCmd.Flags().StringVar(&hookTitle, "title", "", "short title")
	hookObserveCmd.Flags().StringVar(&hookSource, "source", "", "source identifier (e.g. hook:Edit, file path)")
	hookObserveCmd.Flags().StringVar(&hookSessionID, "session", "", "session id")
	hookObserveCmd.Flags().StringVar(&hookKind, "kind", "change", "observation kind")

	hookToolUseCmd.Flags().StringVar(&hookToolName, "name", "", "tool name (required)")
	hookToolUseCmd.Flags().BoolVar(&hookToolSuccess, "success", true, "whether the invocation succeeded")
	hookToolUseCmd.Flags().StringVar(&hookToolType, "type", "", "tool type")
	hookToolUseCmd.Flags().StringVar(&hookToolScope, "scope", store.ToolScopeProject, "tool scope: global, project, plugin")

	hookCmd.AddCommand(hookObserveCmd, hookToolUseCmd)
}
