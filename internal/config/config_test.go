package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "20", cfg.TargetVersion)
	assert.Equal(t, []string{"npx", "ng", "build"}, cfg.Build.BuildCmd)
	assert.Equal(t, 5, cfg.Loop.MaxAttempts)
	assert.Equal(t, 2, cfg.Loop.RegressionThreshold)
	assert.Equal(t, 8, cfg.Agent.MaxIterations)
	assert.Equal(t, 60000, cfg.Agent.MaxTokens)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 7*24*time.Hour, cfg.Cache.MaxAge)
	assert.Equal(t, 20, cfg.Retention.KeepLast)
	assert.Equal(t, 30, cfg.Retention.KeepDays)
}

func TestValidateSettingsAccepted(t *testing.T) {
	settings := map[string]any{
		"target_version": "19",
		"build": map[string]any{
			"build_cmd": []any{"npx", "ng", "build", "--configuration", "production"},
			"timeout":   "15m",
		},
		"loop": map[string]any{
			"max_attempts":         7,
			"regression_threshold": 3,
		},
		"llm": map[string]any{
			"provider": "gemini",
			"model":    "gemini-2.5-pro",
		},
	}
	require.NoError(t, ValidateSettings(settings))
}

func TestValidateSettingsRejectsUnknownKey(t *testing.T) {
	err := ValidateSettings(map[string]any{"target": "20"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema validation failed")
}

func TestValidateSettingsRejectsBadTypes(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"target_version": 20,
	})
	require.Error(t, err)

	err = ValidateSettings(map[string]any{
		"llm": map[string]any{"provider": "openrouter"},
	})
	require.Error(t, err)

	err = ValidateSettings(map[string]any{
		"loop": map[string]any{"max_attempts": 0},
	})
	require.Error(t, err)
}
