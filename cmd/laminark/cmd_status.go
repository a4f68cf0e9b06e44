package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// statusCmd reports project-scoped counts and store capabilities.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "show observation counts, tool registry state, and store capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, hash, _, err := openStore()
		if err != nil {
			return err
		}
		defer s.Close()

		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		count, err := s.Count(ctx, hash)
		if err != nil {
			return err
		}
		unclassified, err := s.ListUnclassified(ctx, hash, 10_000)
		if err != nil {
			return err
		}
		threads, err := s.ListThreads(ctx, hash, "")
		if err != nil {
			return err
		}
		tools, err := s.ListTools(ctx, hash)
		if err != nil {
			return err
		}

		fmt.Printf("project hash:        %s\n", hash)
		fmt.Printf("observations:        %d\n", count)
		fmt.Printf("unclassified:        %d\n", len(unclassified))
		fmt.Printf("topic threads:       %d\n", len(threads))
		fmt.Printf("registered tools:    %d\n", len(tools))
		fmt.Printf("vector capability:   %v\n", s.HasVectorCapability())

		if err := s.IntegrityCheck(); err != nil {
			fmt.Printf("integrity check:     FAILED: %v\n", err)
		} else {
			fmt.Printf("integrity check:     ok\n")
		}
		return nil
	},
}
