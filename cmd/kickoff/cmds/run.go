package cmds

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-go-golems/kickoff/pkg/config"
	"github.com/go-go-golems/kickoff/pkg/controller"
	"github.com/go-go-golems/kickoff/pkg/events"
	"github.com/go-go-golems/kickoff/pkg/interaction"
	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/go-go-golems/kickoff/pkg/persistence/checkpoints"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

// meetingFlags maps command line flags to the settings keys they override.
var meetingFlags = map[string]string{
	"language":            "language",
	"provider":            "provider",
	"channel":             "channel",
	"html":                "html_export",
	"deterministic":       "deterministic_mode",
	"max-turns-per-phase": "max_turns_per_phase",
	"global-max-turns":    "global_max_turns",
	"checkpoint-backend":  "checkpoint_backend",
}

func addMeetingFlags(fs *pflag.FlagSet) {
	d := config.Defaults()
	fs.String("language", d.Language, "Meeting language (en or ru)")
	fs.String("provider", d.Provider, "Primary LLM provider")
	fs.String("channel", d.Channel, "Interaction channel (auto, terminal or form)")
	fs.Bool("html", d.HTMLExport, "Also export the plan as HTML")
	fs.Bool("deterministic", d.DeterministicMode, "Use temperature 0 for every completion")
	fs.Int("max-turns-per-phase", d.MaxTurnsPerPhase, "Turn cap for each phase")
	fs.Int("global-max-turns", d.GlobalMaxTurns, "Turn cap for the whole meeting")
	fs.String("checkpoint-backend", d.CheckpointBackend, "Checkpoint backend (file or sqlite)")
}

// bindFlags binds only flags that were set, so unset flags never shadow the
// config file.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	var err error
	fs.Visit(func(f *pflag.Flag) {
		key, ok := keys[f.Name]
		if !ok || err != nil {
			return
		}
		err = v.BindPFlag(key, f)
	})
	return errors.Wrap(err, "bind flags")
}

func NewRunCommand(app *App) *cobra.Command {
	var name, description string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new kickoff meeting",
		Long: "Start a new kickoff meeting. Without --name and --description the " +
			"project is asked for interactively.",
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(app.Viper, cmd.Flags(), meetingFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Settings()
			if err != nil {
				return err
			}
			ch, err := interaction.New(s.Channel)
			if err != nil {
				return err
			}
			sess, err := newSession(s, ch)
			if err != nil {
				return err
			}
			defer func() {
				if err := sess.Close(); err != nil {
					log.Warn().Err(err).Msg("could not close session")
				}
			}()

			var state *meeting.State
			if name == "" && description == "" {
				state, err = sess.ctrl.Intake(sess.meetingOptions()...)
				if err != nil {
					return err
				}
			} else {
				state = sess.ctrl.NewSession(name, description, sess.meetingOptions()...)
			}
			return sess.run(cmd.Context(), state)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Project name")
	cmd.Flags().StringVar(&description, "description", "", "Initial project description")
	addMeetingFlags(cmd.Flags())
	return cmd
}

func NewResumeCommand(app *App) *cobra.Command {
	var id, project string
	var fromPhase int

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a meeting from a checkpoint",
		Long: "Resume a meeting from the checkpoint given by --checkpoint, or from the " +
			"latest checkpoint of --project. --from-phase N (1-based) restarts that " +
			"phase from scratch, dropping its and later phases' transcript.",
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlags(app.Viper, cmd.Flags(), meetingFlags)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := app.Settings()
			if err != nil {
				return err
			}
			ch, err := interaction.New(s.Channel)
			if err != nil {
				return err
			}
			sess, err := newSession(s, ch)
			if err != nil {
				return err
			}
			defer func() {
				if err := sess.Close(); err != nil {
					log.Warn().Err(err).Msg("could not close session")
				}
			}()

			state, err := restoreState(cmd.Context(), sess.store, id, project, fromPhase)
			if err != nil {
				if errors.Is(err, meeting.ErrInvalidPhaseIndex) {
					return err
				}
				ch.Display(fmt.Sprintf("Could not load checkpoint: %v", err))
				ch.Display("Starting a fresh session.")
				state, err = sess.ctrl.Intake(sess.meetingOptions()...)
				if err != nil {
					return err
				}
			} else {
				ch.Display(fmt.Sprintf("Resuming '%s' at phase '%s' (turn %d).",
					state.ProjectName(), state.CurrentPhase(), state.TotalTurns()))
			}
			return sess.run(cmd.Context(), state)
		},
	}

	cmd.Flags().StringVar(&id, "checkpoint", "", "Checkpoint id")
	cmd.Flags().StringVar(&project, "project", "", "Resume the latest checkpoint of this project")
	cmd.Flags().IntVar(&fromPhase, "from-phase", 0, "Restart from this phase number (1-based); 0 continues where the meeting stopped")
	addMeetingFlags(cmd.Flags())
	return cmd
}

// restoreState loads a checkpoint and prepares it for another run.
func restoreState(ctx context.Context, store checkpoints.Store, id, project string, fromPhase int) (*meeting.State, error) {
	rec, err := loadCheckpoint(ctx, store, id, project)
	if err != nil {
		return nil, err
	}
	state, err := checkpoints.Restore(rec)
	if err != nil {
		return nil, err
	}
	if fromPhase > 0 {
		if err := state.ResumeFromPhase(fromPhase - 1); err != nil {
			return nil, err
		}
	} else {
		state.Resume()
	}
	log.Info().
		Str("checkpoint", rec.ID).
		Str("phase", state.CurrentPhase()).
		Int("turn", state.TotalTurns()).
		Msg("restored meeting state")
	return state, nil
}

// run drives the controller while mirroring meeting events to the debug
// log, then exports the result. SIGINT and SIGTERM interrupt the meeting.
func (s *session) run(ctx context.Context, state *meeting.State) error {
	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	mirrorCtx, stopMirror := context.WithCancel(context.WithoutCancel(ctx))
	defer stopMirror()
	// gochannel only delivers to subscribers that exist before Publish.
	msgs, err := s.bus.Subscribe(mirrorCtx)
	if err != nil {
		return err
	}

	var outcome controller.Outcome
	g, gctx := errgroup.WithContext(mirrorCtx)
	g.Go(func() error {
		return events.Mirror(gctx, msgs, events.LogHandler(log.Logger))
	})
	g.Go(func() error {
		defer stopMirror()
		var err error
		outcome, err = s.ctrl.Run(runCtx, state)
		return err
	})
	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "meeting failed")
	}
	log.Info().Str("session_id", state.SessionID()).Msg(describeOutcome(outcome))

	_, err = finish(s.channel, s.settings, state, time.Now())
	return err
}
