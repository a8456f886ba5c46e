// Package cmds holds the kickoff cobra commands and the wiring that turns
// resolved settings into a running meeting.
package cmds

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/kickoff/pkg/agents"
	"github.com/go-go-golems/kickoff/pkg/config"
	"github.com/go-go-golems/kickoff/pkg/controller"
	"github.com/go-go-golems/kickoff/pkg/events"
	"github.com/go-go-golems/kickoff/pkg/export"
	"github.com/go-go-golems/kickoff/pkg/interaction"
	"github.com/go-go-golems/kickoff/pkg/llm"
	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/go-go-golems/kickoff/pkg/persistence/checkpoints"
	"github.com/go-go-golems/kickoff/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// App carries what every subcommand needs to resolve its settings.
type App struct {
	Viper      *viper.Viper
	ConfigFile *string
}

// Settings reads the config file and returns validated settings, with any
// flags bound to the viper instance applied.
func (a *App) Settings() (config.Settings, error) {
	file := ""
	if a.ConfigFile != nil {
		file = *a.ConfigFile
	}
	if err := config.ReadConfig(a.Viper, file); err != nil {
		return config.Settings{}, err
	}
	return config.Load(a.Viper)
}

func controllerConfig(s config.Settings) controller.Config {
	cfg := controller.DefaultConfig()
	cfg.ContextWindowTurns = s.ContextWindowTurns
	cfg.NewDialogPerPhase = s.NewDialogPerPhase
	cfg.SmartForgetting = s.SmartForgetting
	cfg.PhaseMemoryLimit = s.PhaseMemoryLimit
	cfg.MaxContextTokens = s.MaxContextTokens
	cfg.PrioritizeMissingRoles = s.PrioritizeMissingRoles
	cfg.MaxTurnsPerPhase = s.MaxTurnsPerPhase
	cfg.GlobalMaxTurns = s.GlobalMaxTurns
	return cfg
}

// buildProviders resolves the provider chain into llm providers.
func buildProviders(s config.Settings) ([]llm.Provider, error) {
	out := make([]llm.Provider, 0, len(s.BackupProviders)+1)
	for _, name := range s.ProviderChain() {
		p, ok := s.Providers[name]
		if !ok {
			return nil, errors.Errorf("unknown provider %q", name)
		}
		if p.APIKey() == "" {
			log.Warn().Str("provider", name).Str("env", p.APIKeyEnv).Msg("provider api key is not set")
		}
		out = append(out, llm.NewProvider(name, p.BaseURL, p.APIKey(), p.Models))
	}
	return out, nil
}

func newLLMClient(s config.Settings) (*llm.FailoverClient, error) {
	providers, err := buildProviders(s)
	if err != nil {
		return nil, err
	}
	return llm.NewFailoverClient(providers,
		llm.WithRetryAttempts(s.RetryAttempts),
		llm.WithBackoff(s.RetryBackoff()),
		llm.WithTimeout(s.Timeout()),
		llm.WithTemperature(float32(s.Temperature)),
		llm.WithDeterministic(s.DeterministicMode),
	)
}

func openStore(s config.Settings) (checkpoints.Store, error) {
	switch s.CheckpointBackend {
	case config.CheckpointBackendSQLite:
		if err := os.MkdirAll(filepath.Dir(s.CheckpointDB), 0o755); err != nil {
			return nil, errors.Wrap(err, "create checkpoint db dir")
		}
		dsn, err := checkpoints.SQLiteDSNForFile(s.CheckpointDB)
		if err != nil {
			return nil, err
		}
		return checkpoints.NewSQLiteStore(dsn)
	default:
		return checkpoints.NewFileStore(s.CheckpointDir)
	}
}

func eventsConfig(s config.Settings) events.Config {
	return events.Config{
		Backend:   s.Events.Backend,
		Topic:     s.Events.Topic,
		RedisAddr: s.Events.RedisAddr,
	}
}

// session is one fully wired meeting: controller, store and event bus.
type session struct {
	settings config.Settings
	channel  interaction.Channel
	ctrl     *controller.Controller
	store    checkpoints.Store
	bus      *events.Bus
}

func newSession(s config.Settings, ch interaction.Channel) (*session, error) {
	client, err := newLLMClient(s)
	if err != nil {
		return nil, err
	}
	registry, err := agents.NewDefaultRegistry(client, s.Language)
	if err != nil {
		return nil, err
	}
	store, err := openStore(s)
	if err != nil {
		return nil, err
	}
	bus, err := events.NewBus(eventsConfig(s), events.NewWatermillLogger(log.Logger))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	opts := []controller.Option{
		controller.WithCheckpointStore(store),
		controller.WithPublisher(bus),
	}
	if counter, err := tokens.NewTiktokenCounter(tokens.DefaultEncoding); err != nil {
		log.Warn().Err(err).Msg("token counter unavailable, context will not be trimmed by tokens")
	} else {
		opts = append(opts, controller.WithTokenCounter(counter))
	}

	ctrl, err := controller.New(controllerConfig(s), registry, ch, opts...)
	if err != nil {
		_ = bus.Close()
		_ = store.Close()
		return nil, err
	}
	return &session{settings: s, channel: ch, ctrl: ctrl, store: store, bus: bus}, nil
}

func (s *session) Close() error {
	busErr := s.bus.Close()
	if err := s.store.Close(); err != nil {
		return err
	}
	return busErr
}

func (s *session) meetingOptions() []meeting.Option {
	return []meeting.Option{meeting.WithLanguage(s.settings.Language)}
}

// loadCheckpoint finds the checkpoint named by id, or the latest one of
// project when id is empty.
func loadCheckpoint(ctx context.Context, store checkpoints.Store, id, project string) (checkpoints.Record, error) {
	if id != "" {
		return store.Load(ctx, id)
	}
	if project == "" {
		return checkpoints.Record{}, errors.New("either --checkpoint or --project is required")
	}
	return store.Latest(ctx, checkpoints.Slugify(project))
}

// finish exports the plan or draft and the transcript log, then reports the
// paths on the channel.
func finish(ch interaction.Channel, s config.Settings, state *meeting.State, now time.Time) (export.Result, error) {
	exporter, err := export.NewExporter(s.OutputDir,
		export.WithHTML(s.HTMLExport),
		export.WithClock(func() time.Time { return now }),
	)
	if err != nil {
		return export.Result{}, err
	}
	finalized := state.IsFullyApproved()
	res, err := exporter.Export(state, finalized)
	if err != nil {
		return export.Result{}, err
	}
	logPath, err := export.WriteTranscriptLog(state, s.LogsDir, now)
	if err != nil {
		return export.Result{}, err
	}

	ch.Display("\n=== Meeting completed ===")
	if !finalized {
		ch.Display("Meeting did not complete all approved Waterfall phases.")
		ch.Display("Exported draft artifacts instead of final plan.")
	}
	ch.Display("Markdown plan: " + res.MarkdownPath)
	ch.Display("Structured JSON: " + res.JSONPath)
	if res.HTMLPath != "" {
		ch.Display("HTML plan: " + res.HTMLPath)
	}
	ch.Display("Transcript log: " + logPath)
	log.Info().
		Bool("finalized", finalized).
		Str("markdown", res.MarkdownPath).
		Str("transcript", filepath.Base(logPath)).
		Msg("meeting exported")
	return res, nil
}

func describeOutcome(out controller.Outcome) string {
	return fmt.Sprintf("status=%s fully_approved=%t reason=%s", out.Status, out.FullyApproved, out.Reason)
}
