package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeminiRequiresAPIKey(t *testing.T) {
	_, err := newGeminiClient(Config{
		Provider:  "gemini",
		APIKeyEnv: "NGMEND_TEST_UNSET_KEY",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestGeminiDefaultModel(t *testing.T) {
	t.Setenv(defaultGeminiKeyEnv, "test-key")
	c, err := newGeminiClient(Config{Provider: "gemini"})
	require.NoError(t, err)
	assert.Equal(t, defaultGeminiModel, c.model)

	var _ Client = c
}
