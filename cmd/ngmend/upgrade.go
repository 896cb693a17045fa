package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngmend/ngmend/internal/agentfix"
	"github.com/ngmend/ngmend/internal/buildtool"
	"github.com/ngmend/ngmend/internal/db"
	"github.com/ngmend/ngmend/internal/fixcache"
	"github.com/ngmend/ngmend/internal/llm"
	"github.com/ngmend/ngmend/internal/loop"
	"github.com/ngmend/ngmend/internal/report"
	"github.com/ngmend/ngmend/internal/schematic"
)

func upgradeCmd() *cobra.Command {
	var allowDirty bool
	cmd := &cobra.Command{
		Use:          "upgrade",
		Short:        "Build the project and fix upgrade errors until it compiles",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			storeDB, projectRoot, closeFn, err := openDB()
			if err != nil {
				return err
			}
			defer closeFn()
			store := db.NewStore(storeDB)

			cfg, err := loadConfig(projectRoot)
			if err != nil {
				return err
			}

			if loop.GitAvailable(ctx, projectRoot) {
				if loop.GitDirty(ctx, projectRoot) && !allowDirty && !cfg.AllowDirty {
					return fmt.Errorf("work tree has uncommitted changes; commit or stash them first (or pass --allow-dirty)")
				}
			} else {
				log.Warn().Msg("not a git repository; fixes cannot be reviewed with git diff")
			}

			stateDir := filepath.Join(projectRoot, stateDirName)
			lock, err := loop.AcquireSessionLock(stateDir)
			if err != nil {
				return err
			}
			defer lock.Release()

			builder, err := buildtool.NewRunner(projectRoot, cfg.Build)
			if err != nil {
				return err
			}

			var cache loop.FixCache
			if cfg.Cache.Enabled {
				c, err := fixcache.New(filepath.Join(stateDir, "cache"), cfg.Cache.MaxAge)
				if err != nil {
					return fmt.Errorf("open fix cache: %w", err)
				}
				cache = c
			}

			client, err := llm.NewClient(cfg.LLM)
			if err != nil {
				return err
			}
			agent := agentfix.NewEngine(client, cfg.Agent, projectRoot, cfg.TargetVersion)
			schematics := schematic.NewRunner(projectRoot, cfg.Build.Timeout)

			driver := loop.NewDriver(cfg.Loop, projectRoot, cfg.TargetVersion, builder, schematics, cache, agent, store)
			result, runErr := driver.Run(ctx)

			if result.RunID != "" {
				writeReport(ctx, store, stateDir, result.RunID)
			}
			if n := pruneRuns(ctx, store, stateDir, cfg.Retention); n > 0 {
				log.Debug().Int("pruned", n).Msg("old runs pruned")
			}
			if runErr != nil {
				return runErr
			}

			switch {
			case result.Success:
				fmt.Printf("build is clean after %d attempt(s); run id %s\n", result.Attempts, result.RunID)
			case result.RolledBack:
				fmt.Printf("fixes regressed the build and were rolled back; run id %s\n", result.RunID)
				return fmt.Errorf("upgrade rolled back")
			default:
				fmt.Printf("%d error(s) remain after %d attempt(s); see ngmend report %s\n",
					len(result.Unresolved), result.Attempts, result.RunID)
				return fmt.Errorf("upgrade incomplete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&allowDirty, "allow-dirty", false, "run even when the git work tree is dirty")
	return cmd
}

// writeReport renders the run's change log to .ngmend/runs/<id>/report.md.
// Report failures never fail the upgrade itself.
func writeReport(ctx context.Context, store *db.Store, stateDir, runID string) {
	run, err := store.GetRun(ctx, runID)
	if err != nil {
		log.Warn().Err(err).Msg("report: read run failed")
		return
	}
	fixes, err := store.RunFixes(ctx, runID)
	if err != nil {
		log.Warn().Err(err).Msg("report: read fixes failed")
		return
	}
	dir := filepath.Join(stateDir, "runs", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Msg("report: create run dir failed")
		return
	}
	md := report.Markdown(report.Input{Run: run, Fixes: fixes})
	if err := os.WriteFile(filepath.Join(dir, "report.md"), []byte(md), 0o644); err != nil {
		log.Warn().Err(err).Msg("report: write failed")
	}
}
