package main

import (
	"github.com/spf13/cobra"

	"github.com/transitflow/transitflow/pkg/tui"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the configured station names to upstream ids",
	Long: `Look up every configured station and print the id it resolves to.
Pinned ids are printed as configured. An unknown or ambiguous name fails
with the candidate ids listed.`,
	RunE: runResolve,
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	client, err := a.client()
	if err != nil {
		return err
	}
	res, closeCache := a.resolver(ctx, client)
	defer closeCache()

	table, err := res.ResolveAll(ctx, a.cfg.Stations)
	if err != nil {
		return err
	}
	tui.RenderStations(cmd.OutOrStdout(), table.Stations())
	return nil
}
