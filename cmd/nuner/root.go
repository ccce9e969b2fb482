package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pnptcn/nuner/internal/backend"
	"github.com/pnptcn/nuner/internal/config"
	"github.com/pnptcn/nuner/pkg/graph"
	"github.com/pnptcn/nuner/pkg/store"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nuner",
		Short: "Merge entity/relationship extraction batches into a graph store",
		Long: `nuner merges batches of extracted nodes and edges into a graph backend
(postgres, neo4j, redis or badger). Merging is idempotent: records are matched
by id, or by display name when fuzzy matching is enabled, and updated in place.

Settings come from the environment and an optional YAML file (--config).`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (overlays environment)")

	rootCmd.AddCommand(newMergeCmd())
	rootCmd.AddCommand(newReplayCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newSchemaCmd())
	rootCmd.AddCommand(newMigrateCmd())
	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// openClient opens the configured backend. The caller closes the returned
// backend.
func openClient(cmd *cobra.Command, cfg *config.Config) (*graph.GraphClient, store.Backend, error) {
	b, err := backend.Open(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
		Backend:        b,
		FuzzyMatch:     cfg.FuzzyMatch,
		FuzzyThreshold: cfg.Threshold(),
		RepairPayloads: cfg.RepairPayloads,
	})
	if err != nil {
		b.Close(cmd.Context())
		return nil, nil, err
	}
	return client, b, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
