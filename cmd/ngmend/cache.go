package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ngmend/ngmend/internal/fixcache"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the fix response cache",
	}
	cmd.AddCommand(cacheStatsCmd())
	cmd.AddCommand(cacheClearCmd())
	return cmd
}

func openCache() (*fixcache.Cache, error) {
	projectRoot, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	maxAge := 168 * time.Hour
	if cfg, err := loadConfig(projectRoot); err == nil && cfg.Cache.MaxAge > 0 {
		maxAge = cfg.Cache.MaxAge
	}
	return fixcache.New(filepath.Join(projectRoot, stateDirName, "cache"), maxAge)
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many fixes are cached",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			n, err := cache.Size()
			if err != nil {
				return err
			}
			fmt.Printf("%d cached fix(es)\n", n)
			return nil
		},
	}
}

func cacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all cached fixes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cache, err := openCache()
			if err != nil {
				return err
			}
			n, err := cache.Clear()
			if err != nil {
				return err
			}
			fmt.Printf("removed %d cached fix(es)\n", n)
			return nil
		},
	}
}
