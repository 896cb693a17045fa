package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/ngmend/ngmend/internal/db"
	"github.com/ngmend/ngmend/internal/report"
)

func reportCmd() *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "report [run-id]",
		Short: "Show the change log for a run (latest by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			store := db.NewStore(storeDB)
			ctx := cmd.Context()

			var run db.RunSummary
			if len(args) == 1 {
				run, err = store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
			} else {
				var ok bool
				run, ok, err = store.LatestRun(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("no runs recorded yet")
				}
			}

			fixes, err := store.RunFixes(ctx, run.RunID)
			if err != nil {
				return err
			}
			md := report.Markdown(report.Input{Run: run, Fixes: fixes})

			if raw {
				fmt.Fprint(cmd.OutOrStdout(), md)
				return nil
			}
			rendered, err := glamour.Render(md, "auto")
			if err != nil {
				// Terminal rendering is cosmetic; fall back to plain markdown.
				fmt.Fprint(cmd.OutOrStdout(), md)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), rendered)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print plain markdown without terminal styling")
	return cmd
}
