// Package controller drives a kickoff meeting through the Waterfall phases:
// the facilitator picks speakers, guardrails correct its choices, the human
// approves every converged phase and progress is checkpointed along the way.
package controller

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/kickoff/pkg/agents"
	"github.com/go-go-golems/kickoff/pkg/artifacts"
	"github.com/go-go-golems/kickoff/pkg/events"
	"github.com/go-go-golems/kickoff/pkg/interaction"
	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/go-go-golems/kickoff/pkg/persistence/checkpoints"
	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/go-go-golems/kickoff/pkg/tokens"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Stages of the orchestration state machine.
const (
	StageRunning               = "running"
	StagePhaseLimitRecovery    = "phase_limit_recovery"
	StageAwaitingHumanApproval = "awaiting_human_approval"
	StageInterrupted           = "interrupted"
	StageCompleted             = "completed"
)

// Outcome statuses.
const (
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusAborted     = "aborted"
)

// Outcome describes how Run ended. Errors are reserved for failures; an
// interrupted or aborted meeting is a normal outcome.
type Outcome struct {
	Status        string
	FullyApproved bool
	Reason        string
}

type Controller struct {
	cfg       Config
	phases    *phases.Manager
	agents    *agents.Registry
	channel   interaction.Channel
	store     checkpoints.Store
	publisher events.Publisher
	counter   tokens.Counter
	stage     string
}

type Option func(*Controller)

func WithCheckpointStore(s checkpoints.Store) Option {
	return func(c *Controller) { c.store = s }
}

func WithPublisher(p events.Publisher) Option {
	return func(c *Controller) {
		if p != nil {
			c.publisher = p
		}
	}
}

func WithTokenCounter(tc tokens.Counter) Option {
	return func(c *Controller) { c.counter = tc }
}

func WithPhaseManager(pm *phases.Manager) Option {
	return func(c *Controller) {
		if pm != nil {
			c.phases = pm
		}
	}
}

func New(cfg Config, registry *agents.Registry, ch interaction.Channel, opts ...Option) (*Controller, error) {
	if registry == nil {
		return nil, errors.New("controller: nil agent registry")
	}
	if ch == nil {
		return nil, errors.New("controller: nil interaction channel")
	}
	if _, ok := registry.Get(phases.RoleFacilitator); !ok {
		return nil, errors.New("controller: no facilitator agent registered")
	}
	c := &Controller{
		cfg:       cfg.Sanitized(),
		phases:    phases.NewManager(),
		agents:    registry,
		channel:   ch,
		publisher: events.NopPublisher{},
		stage:     StageRunning,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Stage returns the current state machine stage.
func (c *Controller) Stage() string { return c.stage }

// NewSession creates a meeting with the configured turn limits and records
// the project description as the stakeholder's opening turn.
func (c *Controller) NewSession(projectName, description string, opts ...meeting.Option) *meeting.State {
	name := strings.TrimSpace(projectName)
	if name == "" {
		name = "Untitled Project"
	}
	opts = append([]meeting.Option{
		meeting.WithMaxTurnsPerPhase(c.cfg.MaxTurnsPerPhase),
		meeting.WithGlobalMaxTurns(c.cfg.GlobalMaxTurns),
	}, opts...)
	state := meeting.New(name, strings.TrimSpace(description), opts...)
	state.AddTranscript(phases.RoleHumanStakeholder, state.ProjectDescription())
	return state
}

// Intake asks the human for the project name and description.
func (c *Controller) Intake(opts ...meeting.Option) (*meeting.State, error) {
	c.channel.Display("=== Waterfall Kickoff Multi-Agent Simulator ===")
	name, err := c.channel.PromptText("Project name", false)
	if err != nil {
		return nil, err
	}
	description, err := c.channel.PromptText("Initial project description", false)
	if err != nil {
		return nil, err
	}
	return c.NewSession(name, description, opts...), nil
}

// Run drives state until every phase is approved, the meeting is stopped or
// a fatal error occurs. Interrupts (the sentinel or ctx cancellation) end in
// an Outcome with Status interrupted.
func (c *Controller) Run(ctx context.Context, state *meeting.State) (Outcome, error) {
	c.stage = StageRunning
	c.checkpoint(ctx, state, checkpoints.ReasonSessionStart)

	outcome, err := c.runPhases(ctx, state)
	if err != nil {
		if isInterrupt(err) {
			return c.interrupt(ctx, state), nil
		}
		log.Error().Err(err).Str("phase", state.CurrentPhase()).Msg("meeting failed")
		c.checkpoint(context.WithoutCancel(ctx), state, checkpoints.ReasonAborted)
		return Outcome{}, err
	}

	outcome.FullyApproved = state.IsFullyApproved()
	reason := checkpoints.ReasonAborted
	if outcome.Status == StatusCompleted {
		reason = checkpoints.ReasonCompleted
		c.stage = StageCompleted
	}
	c.checkpoint(ctx, state, reason)
	c.publish(ctx, state, events.Event{
		Type:    events.TypeMeetingFinished,
		Message: outcome.Reason,
		Data:    map[string]any{"status": outcome.Status, "fully_approved": outcome.FullyApproved},
	})
	return outcome, nil
}

func isInterrupt(err error) bool {
	return errors.Is(err, interaction.ErrInterrupted) || errors.Is(err, context.Canceled)
}

func (c *Controller) interrupt(ctx context.Context, state *meeting.State) Outcome {
	c.stage = StageInterrupted
	state.Interrupt()
	c.channel.Display("\nMeeting interrupted by user.")
	log.Info().Str("phase", state.CurrentPhase()).Int("turn", state.TotalTurns()).Msg("meeting interrupted")

	ctx = context.WithoutCancel(ctx)
	c.checkpoint(ctx, state, checkpoints.ReasonInterrupted)
	c.publish(ctx, state, events.Event{Type: events.TypeMeetingFinished, Message: "interrupted",
		Data: map[string]any{"status": StatusInterrupted}})
	return Outcome{Status: StatusInterrupted, FullyApproved: state.IsFullyApproved(), Reason: "interrupted by user"}
}

func (c *Controller) runPhases(ctx context.Context, state *meeting.State) (Outcome, error) {
	for state.CanContinueMeeting() {
		// a restored phase_approved checkpoint still points at the approved phase
		if ps := state.CurrentPhaseState(); ps.Converged && ps.ApprovedByHuman {
			if !state.TransitionToNextPhase() {
				return Outcome{Status: StatusCompleted, Reason: "all phases approved"}, nil
			}
			continue
		}
		phase := state.CurrentPhase()
		c.stage = StageRunning
		c.channel.Display(fmt.Sprintf("\n--- Phase: %s ---", phase))
		log.Info().Str("phase", phase).Int("turn", state.TotalTurns()).Msg("entering phase")

		converged := state.CurrentPhaseState().Converged
		if !converged {
			var err error
			converged, err = c.runSinglePhase(ctx, state)
			if err != nil {
				return Outcome{}, err
			}
		}

		if !converged {
			c.stage = StagePhaseLimitRecovery
			c.checkpoint(ctx, state, checkpoints.ReasonPhaseNotConverged)
			if !state.CanContinueMeeting() {
				break
			}
			extended, err := c.recoverPhaseLimit(ctx, state)
			if err != nil {
				return Outcome{}, err
			}
			if extended {
				continue
			}
			c.channel.Display(fmt.Sprintf("Phase '%s' did not converge within configured turn limit.", phase))
			return Outcome{Status: StatusAborted, Reason: fmt.Sprintf("phase '%s' did not converge", phase)}, nil
		}

		c.stage = StageAwaitingHumanApproval
		approved, err := c.channel.PromptYesNo(fmt.Sprintf("Approve phase '%s'", phase))
		if err != nil {
			return Outcome{}, err
		}
		state.ApproveCurrentPhase(approved)
		if !approved {
			state.ReopenCurrentPhase()
			c.checkpoint(ctx, state, checkpoints.ReasonPhaseRejected)
			c.publish(ctx, state, events.Event{Type: events.TypePhaseRejected})
			c.channel.Display(fmt.Sprintf("Phase '%s' rejected. Continuing discussion in same phase.", phase))
			continue
		}

		c.checkpoint(ctx, state, checkpoints.ReasonPhaseApproved)
		c.publish(ctx, state, events.Event{Type: events.TypePhaseApproved})
		for _, line := range recapLines(state.CurrentPhaseState()) {
			c.channel.Display(line)
		}

		if !state.TransitionToNextPhase() {
			return Outcome{Status: StatusCompleted, Reason: "all phases approved"}, nil
		}
	}

	if state.IsFullyApproved() {
		return Outcome{Status: StatusCompleted, Reason: "all phases approved"}, nil
	}
	c.channel.Display(fmt.Sprintf("Global turn limit reached (%d).", state.GlobalMaxTurns()))
	return Outcome{Status: StatusAborted, Reason: "global turn limit reached"}, nil
}

// recoverPhaseLimit asks the human to extend an exhausted phase.
func (c *Controller) recoverPhaseLimit(ctx context.Context, state *meeting.State) (bool, error) {
	ps := state.CurrentPhaseState()
	extend, err := c.channel.PromptYesNo(fmt.Sprintf(
		"Phase '%s' reached its turn limit (%d). Extend this phase by %d turns and continue?",
		ps.Name, ps.MaxTurns, c.cfg.RecoveryExtendTurns))
	if err != nil || !extend {
		return false, err
	}
	if !state.ExtendCurrentPhaseTurnLimit(c.cfg.RecoveryExtendTurns, c.cfg.MaxExtensions) {
		c.channel.Display(fmt.Sprintf("Phase '%s' reached max extension limit.", ps.Name))
		return false, nil
	}
	ps = state.CurrentPhaseState()
	c.channel.Display(fmt.Sprintf("Turn limit for phase '%s' extended to %d.", ps.Name, ps.MaxTurns))
	c.publish(ctx, state, events.Event{Type: events.TypePhaseExtended,
		Data: map[string]any{"max_turns": ps.MaxTurns, "extension_count": ps.ExtensionCount, "by": "human"}})
	return true, nil
}

// runSinglePhase loops facilitator and speaker turns until the phase
// converges or a turn cap is hit.
func (c *Controller) runSinglePhase(ctx context.Context, state *meeting.State) (bool, error) {
	for state.CanContinueMeeting() && state.CanContinuePhase() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		phase := state.CurrentPhase()

		decision, err := c.facilitatorDecision(ctx, state)
		if err != nil {
			return false, err
		}
		speaker := decision.SelectedSpeaker
		instruction := decision.Instruction

		missing := missingRequiredRoles(c.phases, state)
		if decision.Converged && len(missing) > 0 {
			decision.Converged = false
			speaker = missing[0]
			instruction = missingRoleInstruction(speaker)
			c.guardrail(ctx, state, fmt.Sprintf(
				"[Guardrail] Convergence blocked: required specialist perspectives still missing for phase '%s': %s",
				phase, strings.Join(missing, ", ")), map[string]any{"missing_roles": missing})
		}

		resolved, notice := resolveSpeaker(c.phases, phase, speaker)
		if notice != "" {
			c.guardrail(ctx, state, notice, map[string]any{"selected": speaker, "fallback": resolved})
		}
		speaker = resolved

		if c.cfg.PrioritizeMissingRoles && len(missing) > 0 &&
			!contains(missing, speaker) && speaker != phases.RoleHumanStakeholder {
			speaker = missing[0]
			instruction = missingRoleInstruction(speaker)
			c.guardrail(ctx, state,
				"[Guardrail] Prioritizing missing required role before further iteration: "+speaker,
				map[string]any{"missing_roles": missing})
		}

		if c.shouldAutoExtend(state.CurrentPhaseState(), decision.ReadinessScore) &&
			state.ExtendCurrentPhaseTurnLimit(c.cfg.AutoExtendTurns, c.cfg.MaxExtensions) {
			ps := state.CurrentPhaseState()
			c.guardrail(ctx, state, fmt.Sprintf(
				"[Guardrail] Low convergence readiness (%d) near cap; auto-extended phase '%s' by %d turns to %d.",
				decision.ReadinessScore, phase, c.cfg.AutoExtendTurns, ps.MaxTurns), nil)
			c.publish(ctx, state, events.Event{Type: events.TypePhaseExtended,
				Data: map[string]any{"max_turns": ps.MaxTurns, "extension_count": ps.ExtensionCount, "by": "auto"}})
		}

		if c.shouldForceHumanCheckpoint(state, speaker, decision.ReadinessScore) {
			speaker = phases.RoleHumanStakeholder
			instruction = humanReviewInstruction
			c.guardrail(ctx, state,
				"[Guardrail] Near phase turn limit; routing next turn to human for checkpoint review.", nil)
		}

		if speaker == phases.RoleHumanStakeholder {
			err = c.humanTurn(ctx, state, instruction)
		} else {
			err = c.agentTurn(ctx, state, speaker, instruction)
		}
		if err != nil {
			return false, err
		}

		if decision.Converged {
			c.converge(ctx, state, decision)
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) facilitatorDecision(ctx context.Context, state *meeting.State) (Decision, error) {
	phase := state.CurrentPhase()
	ps := state.CurrentPhaseState()
	facilitator, _ := c.agents.Get(phases.RoleFacilitator)

	instruction := fmt.Sprintf(
		"%s\n"+
			"Current phase turn count: %d/%d\n"+
			"Global turn count: %d/%d\n"+
			"Allowed speakers for this phase: %s\n"+
			"Select selected_speaker ONLY from allowed speakers above (or human_stakeholder).\n"+
			"Use your reasoning to decide next speaker and whether the phase is converged.\n"+
			"Provide readiness_score (0-100) indicating how close this phase is to converged and review-ready.\n"+
			"Recent transcript:\n%s",
		phases.ContextPrompt(phase, state.Language()),
		ps.TurnCount, ps.MaxTurns,
		state.TotalTurns(), state.GlobalMaxTurns(),
		strings.Join(c.phases.AllowedRolesForPhase(phase), ", "),
		facilitatorWindow(state, c.cfg.FacilitatorWindowTurns),
	)

	turn, err := facilitator.Respond(ctx, phase, instruction, c.contextMessages(state))
	if err != nil {
		return Decision{}, err
	}
	c.appendTurn(ctx, state, phases.RoleFacilitator, turn.Content)

	d := parseDecision(turn.Content, state.CurrentPhaseState(), c.phases.FallbackRoleForPhase(phase))
	for _, line := range facilitatorLines(d, turn.Content) {
		c.channel.Display(line)
	}
	log.Debug().
		Str("phase", phase).
		Str("selected_speaker", d.SelectedSpeaker).
		Int("readiness", d.ReadinessScore).
		Bool("estimated", d.Estimated).
		Bool("converged", d.Converged).
		Msg("facilitator decision")
	return d, nil
}

func (c *Controller) humanTurn(ctx context.Context, state *meeting.State, instruction string) error {
	draft := state.CurrentPhaseState().DraftArtifact
	if len(draft) == 0 {
		c.channel.Display("\n[Info] No consolidated phase artifact is currently available for review yet.")
	} else {
		c.channel.Display("\n[Phase Draft Artifact For Review]")
		c.channel.Display(RenderPayload(map[string]any(draft)))
	}
	c.channel.Display("\n[Facilitator -> Human] " + instruction)
	answer, err := c.channel.PromptText(fmt.Sprintf("Your response (or '%s' to stop)", interaction.DefaultInterruptSentinel), true)
	if err != nil {
		return err
	}
	c.appendTurn(ctx, state, phases.RoleHumanStakeholder, strings.TrimSpace(answer))
	return nil
}

func (c *Controller) agentTurn(ctx context.Context, state *meeting.State, role, instruction string) error {
	phase := state.CurrentPhase()
	if !c.phases.IsRoleAllowed(phase, role) {
		role = c.phases.FallbackRoleForPhase(phase)
	}
	agent, ok := c.agents.Get(role)
	if !ok {
		return errors.Errorf("no agent registered for role %q", role)
	}

	turn, err := agent.Respond(ctx, phase, instruction, c.contextMessages(state))
	if err != nil {
		return err
	}
	speaker := turn.Role
	if speaker == "" {
		speaker = role
	}

	payload := ParseObject(turn.Content)
	c.channel.Display(fmt.Sprintf("[%s]", speaker))
	if payload == nil {
		c.channel.Display(turn.Content)
	} else {
		c.channel.Display(RenderPayload(payload))
	}
	c.channel.Display("")

	c.appendTurn(ctx, state, speaker, turn.Content)
	if len(payload) > 0 {
		if _, ok := payload["role"]; !ok {
			payload["role"] = speaker
		}
		if _, ok := payload["phase"]; !ok {
			payload["phase"] = phase
		}
		state.UpdatePhaseDraft(artifacts.Payload(payload))
	}
	return nil
}

func (c *Controller) converge(ctx context.Context, state *meeting.State, d Decision) {
	ps := state.CurrentPhaseState()
	artifact := map[string]any{
		"phase":          ps.Name,
		"summary":        d.PhaseSummary,
		"artifact_check": d.ArtifactCheck,
		"document":       ps.DraftArtifact,
	}
	state.MarkPhaseConverged(artifact)
	c.channel.Display(fmt.Sprintf("Convergence detected for phase '%s'.", ps.Name))
	c.channel.Display("Phase summary: " + d.PhaseSummary)
	log.Info().Str("phase", ps.Name).Int("turn", state.TotalTurns()).Msg("phase converged")
	c.publish(ctx, state, events.Event{Type: events.TypePhaseConverged, Message: d.PhaseSummary})
}

func (c *Controller) appendTurn(ctx context.Context, state *meeting.State, speaker, content string) {
	state.AddTranscript(speaker, content)
	c.publish(ctx, state, events.Event{
		Type:    events.TypeTurnAppended,
		Turn:    state.TotalTurns(),
		Speaker: speaker,
		Message: content,
	})
}

func (c *Controller) guardrail(ctx context.Context, state *meeting.State, message string, data map[string]any) {
	c.channel.Display(message)
	log.Warn().Str("phase", state.CurrentPhase()).Int("turn", state.TotalTurns()).Msg(message)
	c.publish(ctx, state, events.Event{Type: events.TypeGuardrail, Message: message, Data: data})
}

func (c *Controller) publish(ctx context.Context, state *meeting.State, e events.Event) {
	e.SessionID = state.SessionID()
	if e.Phase == "" {
		e.Phase = state.CurrentPhase()
	}
	if err := c.publisher.Publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("type", e.Type).Msg("could not publish meeting event")
	}
}

// checkpoint saves state when a store is configured. Failures are logged and
// do not stop the meeting.
func (c *Controller) checkpoint(ctx context.Context, state *meeting.State, reason string) {
	if c.store == nil {
		return
	}
	rec, err := c.store.Save(ctx, state, reason)
	if err != nil {
		log.Warn().Err(err).Str("reason", reason).Msg("could not save checkpoint")
		return
	}
	c.publish(ctx, state, events.Event{
		Type:    events.TypeCheckpointSaved,
		Message: rec.ID,
		Data:    map[string]any{"reason": reason},
	})
}
