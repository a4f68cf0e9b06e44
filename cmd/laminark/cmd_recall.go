package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noobynull/laminark/internal/store"
)

var (
	recallLimit               int
	recallSessionID           string
	recallKind                string
	recallSince               string
	recallIncludeUnclassified bool
)

// recallCmd runs a hybrid lexical + vector search scoped to the
// current project.
var recallCmd = &cobra.Command{
	Use:   "recall [query]",
	Short: "search project memory for matching observations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, hash, cfg, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		var since time.Time
		if recallSince != "" {
			since, err = time.Parse(time.RFC3339, recallSince)
			if err != nil {
				return fmt.Errorf("parse --since: %w", err)
			}
		}

		opts := store.SearchOptions{
			SessionID:           recallSessionID,
			Kind:                recallKind,
			Since:               since,
			IncludeUnclassified: recallIncludeUnclassified,
		}.WithDefaults(cfg.Search.RRFK, cfg.Search.CandidateMultiplier, cfg.Search.SnippetMaxLen, recallLimit)

		results, err := s.Search(ctx, hash, args[0], nil, opts)
		if err != nil {
			return fmt.Errorf("search: %w", err)
		}

		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		for _, r := range results {
			fmt.Printf("[%d] %.4f %s\n    %s\n", r.Observation.ID, r.FusedScore, r.Observation.Source, r.Snippet)
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().IntVar(&recallLimit, "limit", 10, "maximum results to return")
	recallCmd.Flags().StringVar(&recallSessionID, "session", "", "restrict results to a session id")
	recallCmd.Flags().StringVar(&recallKind, "kind", "", "restrict results to an observation kind")
	recallCmd.Flags().StringVar(&recallSince, "since", "", "restrict results to observations created at or after this RFC3339 timestamp")
	recallCmd.Flags().BoolVar(&recallIncludeUnclassified, "include-unclassified", false, "also search observations the curation pipeline hasn't classified yet")
}
