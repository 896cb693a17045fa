package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/ngmend/ngmend/internal/config"
)

func loadConfig(projectRoot string) (config.Config, error) {
	path := cfgFile
	if path == "" {
		path = filepath.Join(stateDirName, "config.json")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(projectRoot, path)
	}

	cfg := config.Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// No config file means defaults; upgrade still needs an API key from
		// the environment.
		return cfg, nil
	}

	viper.SetConfigFile(path)
	viper.SetConfigType("json")
	if err := viper.ReadInConfig(); err != nil {
		return config.Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := config.ValidateSettings(viper.AllSettings()); err != nil {
		return config.Config{}, err
	}
	if err := viper.Unmarshal(&cfg); err != nil {
		return config.Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Loop.MaxAttempts <= 0 {
		return config.Config{}, fmt.Errorf("loop.max_attempts must be > 0")
	}
	if cfg.TargetVersion == "" {
		return config.Config{}, fmt.Errorf("target_version is required")
	}
	return cfg, nil
}
