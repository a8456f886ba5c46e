// Package config resolves kickoff runtime settings from a config file,
// KICKOFF_* environment variables and command line flags.
package config

import (
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	CheckpointBackendFile   = "file"
	CheckpointBackendSQLite = "sqlite"

	EventsBackendMemory = "memory"
	EventsBackendRedis  = "redis"

	defaultAPIKeyEnv = "OPENAI_API_KEY"
)

// Provider is one OpenAI-compatible endpoint. Models maps roles (or
// "default") to model names.
type Provider struct {
	Vendor    string            `mapstructure:"vendor" yaml:"vendor"`
	BaseURL   string            `mapstructure:"base_url" yaml:"base_url"`
	APIKeyEnv string            `mapstructure:"api_key_env" yaml:"api_key_env"`
	Models    map[string]string `mapstructure:"models" yaml:"models"`
}

// APIKey reads the key from the provider's environment variable.
func (p Provider) APIKey() string {
	return os.Getenv(p.APIKeyEnv)
}

type Events struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	Topic     string `mapstructure:"topic" yaml:"topic"`
}

type Settings struct {
	Provider        string   `mapstructure:"provider" yaml:"provider"`
	BackupProviders []string `mapstructure:"backup_providers" yaml:"backup_providers"`
	Language        string   `mapstructure:"language" yaml:"language"`
	Channel         string   `mapstructure:"channel" yaml:"channel"`

	DeterministicMode   bool    `mapstructure:"deterministic_mode" yaml:"deterministic_mode"`
	Temperature         float64 `mapstructure:"temperature" yaml:"temperature"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	RetryAttempts       int     `mapstructure:"retry_attempts" yaml:"retry_attempts"`
	RetryBackoffSeconds float64 `mapstructure:"retry_backoff_seconds" yaml:"retry_backoff_seconds"`

	NewDialogPerPhase      bool `mapstructure:"new_dialog_per_phase" yaml:"new_dialog_per_phase"`
	SmartForgetting        bool `mapstructure:"smart_forgetting" yaml:"smart_forgetting"`
	ContextWindowTurns     int  `mapstructure:"context_window_turns" yaml:"context_window_turns"`
	PhaseMemoryLimit       int  `mapstructure:"phase_memory_limit" yaml:"phase_memory_limit"`
	MaxContextTokens       int  `mapstructure:"max_context_tokens" yaml:"max_context_tokens"`
	MaxTurnsPerPhase       int  `mapstructure:"max_turns_per_phase" yaml:"max_turns_per_phase"`
	GlobalMaxTurns         int  `mapstructure:"global_max_turns" yaml:"global_max_turns"`
	PrioritizeMissingRoles bool `mapstructure:"prioritize_missing_roles" yaml:"prioritize_missing_roles"`

	OutputDir         string `mapstructure:"output_dir" yaml:"output_dir"`
	LogsDir           string `mapstructure:"logs_dir" yaml:"logs_dir"`
	HTMLExport        bool   `mapstructure:"html_export" yaml:"html_export"`
	CheckpointBackend string `mapstructure:"checkpoint_backend" yaml:"checkpoint_backend"`
	CheckpointDir     string `mapstructure:"checkpoint_dir" yaml:"checkpoint_dir"`
	CheckpointDB      string `mapstructure:"checkpoint_db" yaml:"checkpoint_db"`

	Events    Events              `mapstructure:"events" yaml:"events"`
	Providers map[string]Provider `mapstructure:"providers" yaml:"providers"`
}

// DefaultProviders is used when the config file declares none.
func DefaultProviders() map[string]Provider {
	return map[string]Provider{
		"cloud": {
			Vendor:    "openai",
			BaseURL:   "https://api.openai.com/v1",
			APIKeyEnv: defaultAPIKeyEnv,
			Models:    map[string]string{"default": "gpt-4o-mini"},
		},
		"ollama": {
			Vendor:    "ollama",
			BaseURL:   "http://localhost:11434/v1",
			APIKeyEnv: "OLLAMA_API_KEY",
			Models:    map[string]string{"default": "llama3.1"},
		},
	}
}

func Defaults() Settings {
	return Settings{
		Provider:               "cloud",
		BackupProviders:        []string{},
		Language:               phases.LanguageEnglish,
		Channel:                "auto",
		Temperature:            0.35,
		TimeoutSeconds:         45,
		RetryAttempts:          2,
		RetryBackoffSeconds:    1.4,
		NewDialogPerPhase:      true,
		SmartForgetting:        true,
		ContextWindowTurns:     6,
		PhaseMemoryLimit:       2,
		MaxContextTokens:       6000,
		MaxTurnsPerPhase:       16,
		GlobalMaxTurns:         140,
		OutputDir:              "output",
		LogsDir:                "logs",
		CheckpointBackend:      CheckpointBackendFile,
		CheckpointDir:          "checkpoints",
		CheckpointDB:           "checkpoints/kickoff.db",
		Events: Events{
			Backend:   EventsBackendMemory,
			RedisAddr: "localhost:6379",
			Topic:     "kickoff.meeting",
		},
		Providers: DefaultProviders(),
	}
}

// Sanitized returns a copy with lower bounds applied and blanks defaulted.
// Deterministic mode forces temperature 0.
func (s Settings) Sanitized() Settings {
	d := Defaults()
	out := s

	out.Provider = strings.TrimSpace(out.Provider)
	if out.Provider == "" {
		out.Provider = d.Provider
	}
	backups := make([]string, 0, len(out.BackupProviders))
	for _, b := range out.BackupProviders {
		for _, name := range strings.Split(b, ",") {
			name = strings.TrimSpace(name)
			if name != "" && name != out.Provider {
				backups = append(backups, name)
			}
		}
	}
	out.BackupProviders = backups

	out.Language = strings.ToLower(strings.TrimSpace(out.Language))
	if out.Language == "" {
		out.Language = d.Language
	}
	if out.Channel == "" {
		out.Channel = d.Channel
	}

	if out.DeterministicMode {
		out.Temperature = 0
	}
	if out.TimeoutSeconds <= 0 {
		out.TimeoutSeconds = d.TimeoutSeconds
	}
	if out.RetryAttempts < 1 {
		out.RetryAttempts = 1
	}
	if out.RetryBackoffSeconds < 0.1 {
		out.RetryBackoffSeconds = 0.1
	}
	if out.ContextWindowTurns < 2 {
		out.ContextWindowTurns = 2
	}
	if out.PhaseMemoryLimit < 0 {
		out.PhaseMemoryLimit = 0
	}
	if out.MaxContextTokens < 0 {
		out.MaxContextTokens = 0
	}
	if out.MaxTurnsPerPhase <= 0 {
		out.MaxTurnsPerPhase = d.MaxTurnsPerPhase
	}
	if out.GlobalMaxTurns <= 0 {
		out.GlobalMaxTurns = d.GlobalMaxTurns
	}

	if out.OutputDir == "" {
		out.OutputDir = d.OutputDir
	}
	if out.LogsDir == "" {
		out.LogsDir = d.LogsDir
	}
	out.CheckpointBackend = strings.ToLower(strings.TrimSpace(out.CheckpointBackend))
	if out.CheckpointBackend == "" {
		out.CheckpointBackend = d.CheckpointBackend
	}
	if out.CheckpointDir == "" {
		out.CheckpointDir = d.CheckpointDir
	}
	if out.CheckpointDB == "" {
		out.CheckpointDB = d.CheckpointDB
	}

	out.Events.Backend = strings.ToLower(strings.TrimSpace(out.Events.Backend))
	if out.Events.Backend == "" {
		out.Events.Backend = d.Events.Backend
	}
	if out.Events.RedisAddr == "" {
		out.Events.RedisAddr = d.Events.RedisAddr
	}
	if out.Events.Topic == "" {
		out.Events.Topic = d.Events.Topic
	}

	if len(out.Providers) == 0 {
		out.Providers = DefaultProviders()
	} else {
		providers := make(map[string]Provider, len(out.Providers))
		for name, p := range out.Providers {
			if p.APIKeyEnv == "" {
				p.APIKeyEnv = defaultAPIKeyEnv
			}
			if p.Vendor == "" {
				p.Vendor = "unknown"
			}
			providers[name] = p
		}
		out.Providers = providers
	}
	return out
}

// Validate reports the first configuration error. Call it on sanitized settings.
func (s Settings) Validate() error {
	if s.Language != phases.LanguageEnglish && s.Language != phases.LanguageRussian {
		return errors.Errorf("language must be 'en' or 'ru', got %q", s.Language)
	}
	if _, ok := s.Providers[s.Provider]; !ok {
		return errors.Errorf("unknown provider '%s'. Available: %s", s.Provider, strings.Join(s.providerNames(), ", "))
	}
	unknown := []string{}
	for _, b := range s.BackupProviders {
		if _, ok := s.Providers[b]; !ok {
			unknown = append(unknown, b)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return errors.Errorf("unknown backup provider(s): %s. Available: %s",
			strings.Join(unknown, ", "), strings.Join(s.providerNames(), ", "))
	}
	switch s.CheckpointBackend {
	case CheckpointBackendFile, CheckpointBackendSQLite:
	default:
		return errors.Errorf("checkpoint_backend must be '%s' or '%s', got %q",
			CheckpointBackendFile, CheckpointBackendSQLite, s.CheckpointBackend)
	}
	switch s.Events.Backend {
	case EventsBackendMemory, EventsBackendRedis:
	default:
		return errors.Errorf("events.backend must be '%s' or '%s', got %q",
			EventsBackendMemory, EventsBackendRedis, s.Events.Backend)
	}
	return nil
}

func (s Settings) providerNames() []string {
	names := make([]string, 0, len(s.Providers))
	for name := range s.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderChain is the primary provider followed by the backups, in order.
func (s Settings) ProviderChain() []string {
	return append([]string{s.Provider}, s.BackupProviders...)
}

func (s Settings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s Settings) RetryBackoff() time.Duration {
	return time.Duration(s.RetryBackoffSeconds * float64(time.Second))
}

// YAML renders the settings the way `config show` prints them.
func (s Settings) YAML() ([]byte, error) {
	b, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "marshal settings")
	}
	return b, nil
}
