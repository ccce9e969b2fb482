package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pnptcn/nuner/internal/storage"
	"github.com/pnptcn/nuner/pkg/graph"
	"github.com/pnptcn/nuner/pkg/logger"
)

func newMergeCmd() *cobra.Command {
	mergeCmd := &cobra.Command{
		Use:   "merge FILE...",
		Short: "Merge batch files into the graph",
		Long: `Merge one or more batch files ("-" reads stdin) and print a report per batch.
The batch id defaults to the file name without extension.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runMerge,
	}
	mergeCmd.Flags().String("batch-id", "", "Batch id (single file only)")
	mergeCmd.Flags().Bool("repair", false, "Repair unparseable payloads before rejecting them")
	return mergeCmd
}

func runMerge(cmd *cobra.Command, args []string) error {
	batchID, _ := cmd.Flags().GetString("batch-id")
	repair, _ := cmd.Flags().GetBool("repair")
	if batchID != "" && len(args) > 1 {
		return fmt.Errorf("--batch-id needs exactly one file, got %d", len(args))
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg.RepairPayloads = cfg.RepairPayloads || repair

	client, b, err := openClient(cmd, cfg)
	if err != nil {
		return err
	}
	defer b.Close(context.Background())

	failed := 0
	for _, path := range args {
		raw, err := readInput(cmd, path)
		if err != nil {
			return err
		}
		id := batchID
		if id == "" {
			id = batchIDFromPath(path)
		}

		report, err := client.MergeBatch(cmd.Context(), id, raw)
		if err != nil {
			logger.Error("Batch did not merge", "file", path, "err", err)
			failed++
		}
		if err := printJSON(cmd, report); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d batches did not merge", failed, len(args))
	}
	return nil
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return raw, nil
}

func batchIDFromPath(path string) string {
	if path == "-" {
		return ""
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func newReplayCmd() *cobra.Command {
	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Merge archived payloads again",
		Long: `Merge payloads kept in the archive bucket, such as malformed batches after
the producer was fixed or dead-lettered batches after an outage. Payload
repair is enabled for replays.`,
		Args: cobra.NoArgs,
		RunE: runReplay,
	}
	replayCmd.Flags().String("prefix", storage.MalformedPrefix+"/", "Archive key prefix to replay")
	replayCmd.Flags().Bool("dry-run", false, "List matching keys without merging")
	return replayCmd
}

type replayResult struct {
	Key     string       `json:"key"`
	BatchID string       `json:"batch_id"`
	Status  graph.Status `json:"status"`
	Error   string       `json:"error,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	prefix, _ := cmd.Flags().GetString("prefix")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if !cfg.Archive.Enabled() {
		return fmt.Errorf("replay requires AWS_BUCKET")
	}
	cfg.RepairPayloads = true

	archive, err := storage.NewArchive(cmd.Context(), cfg.Archive)
	if err != nil {
		return err
	}
	keys, err := archive.List(cmd.Context(), prefix)
	if err != nil {
		return err
	}
	if dryRun {
		return printJSON(cmd, keys)
	}

	client, b, err := openClient(cmd, cfg)
	if err != nil {
		return err
	}
	defer b.Close(context.Background())

	results := make([]replayResult, 0, len(keys))
	for _, key := range keys {
		res := replayResult{Key: key, BatchID: batchIDFromPath(key)}
		raw, err := archive.Get(cmd.Context(), key)
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		report, err := client.MergeBatch(cmd.Context(), res.BatchID, raw)
		res.Status = report.Status
		if err != nil {
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return printJSON(cmd, results)
}
