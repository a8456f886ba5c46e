package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	v := NewViper()
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "cloud", s.Provider)
	assert.Equal(t, []string{"cloud"}, s.ProviderChain())
	assert.Equal(t, "en", s.Language)
	assert.InDelta(t, 0.35, s.Temperature, 1e-9)
	assert.Equal(t, 45*time.Second, s.Timeout())
	assert.Equal(t, 1400*time.Millisecond, s.RetryBackoff())
	assert.Equal(t, 2, s.RetryAttempts)
	assert.Equal(t, 16, s.MaxTurnsPerPhase)
	assert.Equal(t, 140, s.GlobalMaxTurns)
	assert.True(t, s.NewDialogPerPhase)
	assert.True(t, s.SmartForgetting)
	assert.False(t, s.PrioritizeMissingRoles)
	assert.Equal(t, CheckpointBackendFile, s.CheckpointBackend)
	assert.Equal(t, EventsBackendMemory, s.Events.Backend)
	assert.Contains(t, s.Providers, "ollama")
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kickoff.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: local
backup_providers: [cloud, local]
language: RU
deterministic_mode: true
temperature: 0.9
context_window_turns: 1
retry_attempts: 0
events:
  backend: redis
providers:
  local:
    base_url: http://localhost:11434/v1
    models:
      default: qwen2
      architect: llama3.1
  cloud:
    vendor: openai
    base_url: https://api.openai.com/v1
`), 0o644))

	t.Setenv("KICKOFF_GLOBAL_MAX_TURNS", "30")
	t.Setenv("KICKOFF_EVENTS_REDIS_ADDR", "redis:6380")

	v := NewViper()
	require.NoError(t, ReadConfig(v, path))
	s, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, []string{"local", "cloud"}, s.ProviderChain())
	assert.Equal(t, "ru", s.Language)
	assert.Equal(t, 0.0, s.Temperature)
	assert.Equal(t, 2, s.ContextWindowTurns)
	assert.Equal(t, 1, s.RetryAttempts)
	assert.Equal(t, 30, s.GlobalMaxTurns)
	assert.Equal(t, EventsBackendRedis, s.Events.Backend)
	assert.Equal(t, "redis:6380", s.Events.RedisAddr)
	assert.Equal(t, "OPENAI_API_KEY", s.Providers["local"].APIKeyEnv)
	assert.Equal(t, "unknown", s.Providers["local"].Vendor)
	assert.Equal(t, "llama3.1", s.Providers["local"].Models["architect"])
}

func TestReadConfigMissingExplicitFile(t *testing.T) {
	v := NewViper()
	require.Error(t, ReadConfig(v, filepath.Join(t.TempDir(), "nope.yaml")))
}

func TestValidate(t *testing.T) {
	s := Defaults()
	s.Language = "de"
	require.ErrorContains(t, s.Sanitized().Validate(), "language")

	s = Defaults()
	s.Provider = "azure"
	require.ErrorContains(t, s.Sanitized().Validate(), "unknown provider 'azure'. Available: cloud, ollama")

	s = Defaults()
	s.BackupProviders = []string{"ollama", "zeta,alpha"}
	require.ErrorContains(t, s.Sanitized().Validate(), "unknown backup provider(s): alpha, zeta")

	s = Defaults()
	s.CheckpointBackend = "postgres"
	require.Error(t, s.Sanitized().Validate())

	s = Defaults()
	s.Events.Backend = "kafka"
	require.Error(t, s.Sanitized().Validate())

	require.NoError(t, Defaults().Sanitized().Validate())
}

func TestYAMLDump(t *testing.T) {
	b, err := Defaults().YAML()
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(b, &back))
	assert.Equal(t, "cloud", back["provider"])
	assert.Equal(t, 16, back["max_turns_per_phase"])
	events, ok := back["events"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "kickoff.meeting", events["topic"])
}
