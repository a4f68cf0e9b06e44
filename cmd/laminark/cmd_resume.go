package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noobynull/laminark/internal/store"
)

var (
	threadTopic   string
	threadSummary string
	threadStatus  string
)

// stashCmd manages topic threads: creating one and freezing its working
// set into a snapshot. It has no subcommand for adding observations to a
// thread.
var stashCmd = &cobra.Command{
	Use:   "stash",
	Short: "manage topic threads (create, freeze)",
}

var stashCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "start a new active topic thread",
	RunE: func(cmd *cobra.Command, args []string) error {
		if threadTopic == "" {
			return fmt.Errorf("--topic is required")
		}
		s, hash, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		thread, err := s.CreateThread(ctx, hash, threadTopic)
		if err != nil {
			return err
		}
		fmt.Printf("created thread %d: %s\n", thread.ID, thread.TopicLabel)
		return nil
	},
}

var stashFreezeCmd = &cobra.Command{
	Use:   "freeze [thread-id]",
	Short: "freeze a thread's working set into a snapshot and mark it stashed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		var threadID int64
		if _, err := fmt.Sscanf(args[0], "%d", &threadID); err != nil {
			return fmt.Errorf("invalid thread id: %s", args[0])
		}
		if err := s.Stash(ctx, threadID, threadSummary); err != nil {
			return err
		}
		fmt.Printf("stashed thread %d\n", threadID)
		return nil
	},
}

// resumeCmd lists and replays stashed topic threads.
var resumeCmd = &cobra.Command{
	Use:   "resume [thread-id]",
	Short: "list stashed threads, or resume one and print its frozen observations",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, hash, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		if len(args) == 0 {
			threads, err := s.ListThreads(ctx, hash, threadStatus)
			if err != nil {
				return err
			}
			for _, t := range threads {
				fmt.Printf("[%d] %-10s %s (%d snapshot rows)\n", t.ID, t.Status, t.TopicLabel, len(t.ObservationSnapshots))
			}
			return nil
		}

		var threadID int64
		if _, err := fmt.Sscanf(args[0], "%d", &threadID); err != nil {
			return fmt.Errorf("invalid thread id: %s", args[0])
		}

		observations, err := s.Resume(ctx, threadID)
		if err != nil {
			return err
		}
		printObservations(observations)
		return nil
	},
}

func printObservations(observations []*store.Observation) {
	for _, o := range observations {
		fmt.Printf("[%d] %s: %s\n", o.ID, o.Source, o.Content)
	}
}

func init() {
	stashCreateCmd.Flags().StringVar(&threadTopic, "topic", "", "topic label (required)")
	stashFreezeCmd.Flags().StringVar(&threadSummary, "summary", "", "short summary captured at stash time")
	resumeCmd.Flags().StringVar(&threadStatus, "status", "", "filter listing by status: active, stashed, resumed")

	stashCmd.AddCommand(stashCreateCmd, stashFreezeCmd)
}
