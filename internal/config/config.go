// Package config provides configuration loading and management for ngmend.
package config

import (
	"time"

	"github.com/ngmend/ngmend/internal/agentfix"
	"github.com/ngmend/ngmend/internal/buildtool"
	"github.com/ngmend/ngmend/internal/llm"
	"github.com/ngmend/ngmend/internal/loop"
)

// Config is the root configuration.
type Config struct {
	TargetVersion string           `json:"target_version"        mapstructure:"target_version"`
	AllowDirty    bool             `json:"allow_dirty,omitempty" mapstructure:"allow_dirty"`
	Build         buildtool.Config `json:"build"                 mapstructure:"build"`
	Loop          loop.Config      `json:"loop"                  mapstructure:"loop"`
	Agent         agentfix.Config  `json:"agent"                 mapstructure:"agent"`
	LLM           llm.Config       `json:"llm"                   mapstructure:"llm"`
	Cache         CacheConfig      `json:"cache"                 mapstructure:"cache"`
	Retention     RetentionPolicy  `json:"retention"             mapstructure:"retention"`
}

// CacheConfig controls the on-disk fix response cache.
type CacheConfig struct {
	Enabled bool          `json:"enabled"           mapstructure:"enabled"`
	MaxAge  time.Duration `json:"max_age,omitempty" mapstructure:"max_age"`
}

// RetentionPolicy defines how many old runs to keep.
type RetentionPolicy struct {
	KeepLast int `json:"keep_last,omitempty" mapstructure:"keep_last"`
	KeepDays int `json:"keep_days,omitempty" mapstructure:"keep_days"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		TargetVersion: "20",
		Build:         buildtool.DefaultConfig(),
		Loop:          loop.DefaultConfig(),
		Agent:         agentfix.DefaultConfig(),
		LLM:           llm.Config{Provider: "anthropic"},
		Cache:         CacheConfig{Enabled: true, MaxAge: 168 * time.Hour},
		Retention:     RetentionPolicy{KeepLast: 20, KeepDays: 30},
	}
}
