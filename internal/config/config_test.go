package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "dialectica", cfg.Name)
	assert.Equal(t, "gemini", cfg.Models.Provider)
	assert.Equal(t, 4, cfg.Workers.Count)
	assert.False(t, cfg.Embedding.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfigSaveLoad(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Workers.Count = 8
	cfg.Models.CallTimeout = "90s"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, loaded.Workers.Count)
	assert.Equal(t, 90*time.Second, loaded.GetCallTimeout())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Storage.DatabasePath, cfg.Storage.DatabasePath)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("GEMINI_API_KEY sets key and default provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gm-key")

		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "gm-key", cfg.Models.APIKey)
		assert.Equal(t, "gemini", cfg.Models.Provider)
	})

	t.Run("GEMINI_API_KEY does not override existing provider", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gm-key")

		cfg := &Config{Models: ModelsConfig{Provider: "custom"}}
		cfg.applyEnvOverrides()
		assert.Equal(t, "custom", cfg.Models.Provider)
	})

	t.Run("GOOGLE_API_KEY is a fallback only", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "primary")
		t.Setenv("GOOGLE_API_KEY", "fallback")

		cfg := &Config{}
		cfg.applyEnvOverrides()
		assert.Equal(t, "primary", cfg.Models.APIKey)
	})

	t.Run("DIALECTICA_DB overrides database path", func(t *testing.T) {
		t.Setenv("DIALECTICA_DB", "/tmp/other.db")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		assert.Equal(t, "/tmp/other.db", cfg.Storage.DatabasePath)
	})
}

func TestValidate(t *testing.T) {
	t.Run("zero workers rejected", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Workers.Count = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("enabled embedding requires a model", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Embedding.Enabled = true
		cfg.Embedding.Model = ""
		assert.Error(t, cfg.Validate())
	})
}

func TestDurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 5*time.Minute, cfg.GetCallTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.GetPollInterval())
	assert.Equal(t, 500*time.Millisecond, cfg.GetBackoffBase())
}
