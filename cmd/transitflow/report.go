package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/transitflow/transitflow/pkg/report"
	"github.com/transitflow/transitflow/pkg/tui"
)

var xlsxPath string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Aggregate stored artifacts into punctuality figures",
	Long: `Scan every artifact under the configured prefix and print record counts,
punctuality rate and delay statistics per station, endpoint and line.

Examples:
  transitflow report --backend local
  transitflow report --prefix m13/antonplatz --xlsx antonplatz.xlsx`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also export the report to this Excel file")
}

func runReport(cmd *cobra.Command, args []string) error {
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

	rep, err := report.NewBuilder(store, a.logger).Build(ctx, a.cfg.Storage.Prefix)
	if err != nil {
		return err
	}
	tui.RenderReport(cmd.OutOrStdout(), rep)

	if xlsxPath == "" {
		return nil
	}
	f, err := os.Create(xlsxPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", xlsxPath, err)
	}
	if err := rep.WriteXLSX(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  exported %d rows to %s\n", len(rep.Rows), xlsxPath)
	return nil
}
