package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/transitflow/transitflow/pkg/tui"
	"github.com/transitflow/transitflow/pkg/writer"
)

var inspectLimit int

var inspectCmd = &cobra.Command{
	Use:   "inspect <key>",
	Short: "Decode a stored artifact and print its records",
	Long: `Read one artifact from the configured storage backend and print its
identity and records.

Examples:
  transitflow inspect antonplatz/departures/2024-01-15T07:00:00Z.parquet
  transitflow inspect --backend local --limit 0 m13/antonplatz/arrivals/2024-01-15T07:00:00Z.parquet`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().IntVarP(&inspectLimit, "limit", "n", 20, "Maximum records to print (0 = all)")
}

func runInspect(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store, err := a.store(ctx)
	if err != nil {
		return err
	}

	key := args[0]
	rc, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	art, err := writer.Decode(ctx, data)
	if err != nil {
		return err
	}

	tui.RenderArtifact(cmd.OutOrStdout(), key, int64(len(data)), art, inspectLimit)
	return nil
}
