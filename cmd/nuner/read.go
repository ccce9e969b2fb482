package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/pnptcn/nuner/pkg/graph"
)

func newSearchCmd() *cobra.Command {
	searchCmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Find nodes whose id or label contains QUERY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, b, err := openClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer b.Close(context.Background())

			nodes, err := client.Search(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(cmd, nodes)
		},
	}
	searchCmd.Flags().Int("limit", 50, "Maximum number of nodes (0 for all)")
	return searchCmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count stored nodes and edges",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client, b, err := openClient(cmd, cfg)
			if err != nil {
				return err
			}
			defer b.Close(context.Background())

			stats, err := client.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the batch payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd, graph.PayloadSchema())
		},
	}
}
