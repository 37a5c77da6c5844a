package main

import (
	"fmt"
	"text/tabwriter"

	"quantcore/internal/strategy"

	"github.com/spf13/cobra"
)

func newStrategiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "校验并列出策略目录中的策略",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			path := cfg.Executor.CatalogPath
			if p, _ := cmd.Flags().GetString("catalog"); p != "" {
				path = p
			}
			catalog, err := strategy.NewCatalog(path, false)
			if err != nil {
				return err
			}
			exec := strategy.NewExecutor(nil, nil, nil)
			report := exec.Load(catalog.Snapshot().Strategies)

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tCAPITAL\tMIN CAPITAL")
			for _, info := range exec.Strategies() {
				fmt.Fprintf(tw, "%s\t%s\t%.0f\t%.0f\n", info.ID, info.Type, info.Ledger.Allocated, info.MinCapital)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			for _, id := range report.Skipped {
				fmt.Fprintf(out, "skipped: %s (disabled)\n", id)
			}
			for _, f := range report.Failures {
				fmt.Fprintf(out, "failed: %s: %v\n", f.StrategyID, f.Err)
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d strategies failed to load", len(report.Failures))
			}
			return nil
		},
	}
	cmd.Flags().String("catalog", "", "覆盖配置中的策略目录路径")
	return cmd
}
