package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/ngmend/ngmend/internal/loop"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ngmend in the current project",
		Long:  "Initialize ngmend by creating the .ngmend state directory and installing a default config.",
		RunE: func(cmd *cobra.Command, args []string) error {
			projectRoot, err := os.Getwd()
			if err != nil {
				return err
			}

			if !loop.GitAvailable(cmd.Context(), projectRoot) {
				return fmt.Errorf("current directory is not a git repository")
			}
			if _, err := os.Stat(filepath.Join(projectRoot, "package.json")); err != nil {
				return fmt.Errorf("no package.json here; run ngmend init inside the Angular workspace root")
			}

			stateDir := filepath.Join(projectRoot, stateDirName)
			log.Info().Str("dir", stateDir).Msg("creating state directory")
			for _, sub := range []string{"cache", "locks", "runs"} {
				if err := os.MkdirAll(filepath.Join(stateDir, sub), 0o755); err != nil {
					return fmt.Errorf("create %s dir: %w", sub, err)
				}
			}

			configPath := filepath.Join(stateDir, "config.json")
			if _, err := os.Stat(configPath); err == nil {
				log.Info().Msg("config.json already exists, skipping")
			} else {
				log.Info().Str("path", configPath).Msg("installing default config")
				defaultConfig := map[string]any{
					"target_version": "20",
					"build": map[string]any{
						"build_cmd": []string{"npx", "ng", "build"},
						"timeout":   "10m",
					},
					"loop": map[string]any{
						"max_attempts":         5,
						"regression_threshold": 2,
					},
					"agent": map[string]any{
						"max_iterations": 8,
						"max_tokens":     60000,
						"shell_timeout":  "30s",
					},
					"llm": map[string]any{
						"provider": "anthropic",
					},
					"cache": map[string]any{
						"enabled": true,
						"max_age": "168h",
					},
					"retention": map[string]any{
						"keep_last": 20,
						"keep_days": 30,
					},
				}
				data, err := json.MarshalIndent(defaultConfig, "", "  ")
				if err != nil {
					return fmt.Errorf("marshal default config: %w", err)
				}
				if err := os.WriteFile(configPath, data, 0o644); err != nil {
					return fmt.Errorf("write default config: %w", err)
				}
			}

			fmt.Println("ngmend initialized successfully")
			return nil
		},
	}
}
