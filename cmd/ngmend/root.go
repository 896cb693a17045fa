package main

import (
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ngmend/ngmend/internal/logging"
)

var (
	cfgFile string
	debug   bool
	rootCmd = &cobra.Command{
		Use:   "ngmend",
		Short: "ngmend repairs Angular major-version upgrade build failures",
	}
)

// Execute runs the root command.
func Execute() error {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", filepath.Join(".ngmend", "config.json"), "config file path")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		logging.Init(debug)
		// API keys commonly live in the project's .env during development.
		_ = godotenv.Load()
	}
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(upgradeCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(cacheCmd())
	return rootCmd.Execute()
}
