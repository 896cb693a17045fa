package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngmend/ngmend/internal/config"
	"github.com/ngmend/ngmend/internal/db"
	"github.com/ngmend/ngmend/internal/loop"
)

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Manage upgrade runs",
	}
	cmd.AddCommand(runsListCmd())
	cmd.AddCommand(runsPruneCmd())
	return cmd
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded upgrade runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, _, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			runs, err := db.NewStore(storeDB).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN ID\tSTARTED\tTARGET\tSTATUS\tATTEMPTS")
			for _, r := range runs {
				status := r.Status
				if r.RolledBack {
					status += " (rolled back)"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", r.RunID, r.CreatedAt, r.TargetVersion, status, r.Attempts)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func runsPruneCmd() *cobra.Command {
	var keepLast, keepDays int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune old runs from the database",
		RunE: func(cmd *cobra.Command, args []string) error {
			storeDB, projectRoot, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()

			policy := config.RetentionPolicy{KeepLast: keepLast, KeepDays: keepDays}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				cfg, err := loadConfig(projectRoot)
				if err != nil {
					return err
				}
				policy = cfg.Retention
			}
			if policy.KeepLast <= 0 && policy.KeepDays <= 0 {
				return fmt.Errorf("set --keep-last or --keep-days (or configure retention in %s/config.json)", stateDirName)
			}

			stateDir := filepath.Join(projectRoot, stateDirName)
			lock, err := loop.AcquireSessionLock(stateDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			n := pruneRuns(cmd.Context(), db.NewStore(storeDB), stateDir, policy)
			log.Info().Msgf("deleted %d runs", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&keepLast, "keep-last", 0, "keep the newest N runs")
	cmd.Flags().IntVar(&keepDays, "keep-days", 0, "delete runs older than N days")
	return cmd
}

// pruneRuns applies the retention policy to the database and removes
// report directories for runs that no longer exist.
func pruneRuns(ctx context.Context, store *db.Store, stateDir string, policy config.RetentionPolicy) int {
	var total int
	if policy.KeepLast > 0 {
		n, err := store.PruneRuns(ctx, policy.KeepLast)
		if err != nil {
			log.Warn().Err(err).Msg("prune by count failed")
		}
		total += n
	}
	if policy.KeepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -policy.KeepDays)
		n, err := store.PruneRunsOlderThan(ctx, cutoff)
		if err != nil {
			log.Warn().Err(err).Msg("prune by age failed")
		}
		total += n
	}
	if total > 0 {
		pruneRunDirs(ctx, store, stateDir)
	}
	return total
}

// pruneRunDirs removes .ngmend/runs/<id> directories whose run record is gone.
func pruneRunDirs(ctx context.Context, store *db.Store, stateDir string) {
	runsDir := filepath.Join(stateDir, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		status, err := store.GetRunStatus(ctx, e.Name())
		if err != nil {
			log.Warn().Err(err).Str("run", e.Name()).Msg("prune run dir: lookup failed")
			continue
		}
		if status != "" {
			continue
		}
		if err := os.RemoveAll(filepath.Join(runsDir, e.Name())); err != nil {
			log.Warn().Err(err).Str("run", e.Name()).Msg("prune run dir failed")
		}
	}
}
