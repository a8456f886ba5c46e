package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	EnvPrefix  = "KICKOFF"
	configName = "kickoff"
)

// NewViper returns a viper instance with defaults registered and KICKOFF_*
// environment lookup enabled. Nested keys map to env names with "_"
// (events.backend -> KICKOFF_EVENTS_BACKEND).
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// SetDefaults registers every scalar key so env overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("provider", d.Provider)
	v.SetDefault("backup_providers", d.BackupProviders)
	v.SetDefault("language", d.Language)
	v.SetDefault("channel", d.Channel)
	v.SetDefault("deterministic_mode", d.DeterministicMode)
	v.SetDefault("temperature", d.Temperature)
	v.SetDefault("timeout_seconds", d.TimeoutSeconds)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("retry_backoff_seconds", d.RetryBackoffSeconds)
	v.SetDefault("new_dialog_per_phase", d.NewDialogPerPhase)
	v.SetDefault("smart_forgetting", d.SmartForgetting)
	v.SetDefault("context_window_turns", d.ContextWindowTurns)
	v.SetDefault("phase_memory_limit", d.PhaseMemoryLimit)
	v.SetDefault("max_context_tokens", d.MaxContextTokens)
	v.SetDefault("max_turns_per_phase", d.MaxTurnsPerPhase)
	v.SetDefault("global_max_turns", d.GlobalMaxTurns)
	v.SetDefault("prioritize_missing_roles", d.PrioritizeMissingRoles)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("logs_dir", d.LogsDir)
	v.SetDefault("html_export", d.HTMLExport)
	v.SetDefault("checkpoint_backend", d.CheckpointBackend)
	v.SetDefault("checkpoint_dir", d.CheckpointDir)
	v.SetDefault("checkpoint_db", d.CheckpointDB)
	v.SetDefault("events.backend", d.Events.Backend)
	v.SetDefault("events.redis_addr", d.Events.RedisAddr)
	v.SetDefault("events.topic", d.Events.Topic)
}

// ReadConfig loads configFile, or looks for kickoff.yaml in the working
// directory and $HOME/.kickoff when configFile is empty. A missing default
// file is not an error.
func ReadConfig(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.kickoff")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile == "" && errors.As(err, &notFound) {
			log.Debug().Msg("no kickoff config file found, using defaults")
			return nil
		}
		return errors.Wrap(err, "read config")
	}
	log.Debug().Str("config_file", v.ConfigFileUsed()).Msg("loaded config file")
	return nil
}

// Load decodes, sanitizes and validates the settings held by v.
func Load(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, errors.Wrap(err, "decode settings")
	}
	s = s.Sanitized()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
