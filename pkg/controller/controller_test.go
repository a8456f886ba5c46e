package controller

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/go-go-golems/kickoff/pkg/agents"
	"github.com/go-go-golems/kickoff/pkg/events"
	"github.com/go-go-golems/kickoff/pkg/interaction"
	"github.com/go-go-golems/kickoff/pkg/llm"
	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/go-go-golems/kickoff/pkg/persistence/checkpoints"
	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type agentCall struct {
	phase       string
	instruction string
	context     []llm.Message
}

// scriptedAgent replays its replies in order and then repeats the last one.
type scriptedAgent struct {
	role    string
	replies []string
	err     error
	calls   []agentCall
}

func (a *scriptedAgent) Role() string { return a.role }

func (a *scriptedAgent) Respond(ctx context.Context, phase, instruction string, msgs []llm.Message) (agents.Turn, error) {
	if err := ctx.Err(); err != nil {
		return agents.Turn{}, err
	}
	a.calls = append(a.calls, agentCall{phase: phase, instruction: instruction, context: msgs})
	if a.err != nil {
		return agents.Turn{}, a.err
	}
	i := len(a.calls) - 1
	if i >= len(a.replies) {
		i = len(a.replies) - 1
	}
	return agents.Turn{Role: a.role, Phase: phase, Content: a.replies[i]}, nil
}

type fakeChannel struct {
	displayed   []string
	prompts     []string
	texts       []string
	textErr     error
	yesNo       []bool
	yesNoPrompt []string
}

func (c *fakeChannel) Display(text string) { c.displayed = append(c.displayed, text) }

func (c *fakeChannel) PromptText(prompt string, allowInterrupt bool) (string, error) {
	c.prompts = append(c.prompts, prompt)
	if c.textErr != nil && allowInterrupt {
		return "", c.textErr
	}
	if len(c.texts) == 0 {
		return "ok", nil
	}
	v := c.texts[0]
	c.texts = c.texts[1:]
	return v, nil
}

// PromptYesNo answers "no" once the script runs out.
func (c *fakeChannel) PromptYesNo(prompt string) (bool, error) {
	c.yesNoPrompt = append(c.yesNoPrompt, prompt)
	if len(c.yesNo) == 0 {
		return false, nil
	}
	v := c.yesNo[0]
	c.yesNo = c.yesNo[1:]
	return v, nil
}

func (c *fakeChannel) shown(substr string) bool {
	for _, d := range c.displayed {
		if strings.Contains(d, substr) {
			return true
		}
	}
	return false
}

type recordingStore struct {
	reasons []string
}

func (s *recordingStore) Save(_ context.Context, _ *meeting.State, reason string) (checkpoints.Record, error) {
	s.reasons = append(s.reasons, reason)
	return checkpoints.Record{ID: fmt.Sprintf("%s_%d", reason, len(s.reasons)), Reason: reason}, nil
}

func (s *recordingStore) Load(context.Context, string) (checkpoints.Record, error) {
	return checkpoints.Record{}, checkpoints.ErrNotFound
}

func (s *recordingStore) Latest(context.Context, string) (checkpoints.Record, error) {
	return checkpoints.Record{}, checkpoints.ErrNotFound
}

func (s *recordingStore) List(context.Context, checkpoints.Query) ([]checkpoints.Record, error) {
	return nil, nil
}

func (s *recordingStore) Close() error { return nil }

func (s *recordingStore) count(reason string) int {
	n := 0
	for _, r := range s.reasons {
		if r == reason {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) count(typ string) int {
	n := 0
	for _, e := range p.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

type harness struct {
	ctrl   *Controller
	ch     *fakeChannel
	store  *recordingStore
	pub    *recordingPublisher
	agents map[string]*scriptedAgent
}

func newHarness(t *testing.T, cfg Config, facilitator ...string) *harness {
	t.Helper()
	h := &harness{
		ch:     &fakeChannel{},
		store:  &recordingStore{},
		pub:    &recordingPublisher{},
		agents: map[string]*scriptedAgent{},
	}
	reg := agents.NewRegistry()
	add := func(role string, replies ...string) {
		a := &scriptedAgent{role: role, replies: replies}
		h.agents[role] = a
		reg.Register(a)
	}
	add(phases.RoleFacilitator, facilitator...)
	for _, role := range phases.SpecialistRoles {
		switch role {
		case phases.RoleBusinessAnalyst:
			add(role, `{"requirements":["login","reports"]}`)
		case phases.RoleProductManager:
			add(role, `Here is my take: {"decisions":["ship v1 in Q3"]} thanks`)
		default:
			add(role, `{"notes":["ok"]}`)
		}
	}

	ctrl, err := New(cfg, reg, h.ch,
		WithCheckpointStore(h.store),
		WithPublisher(h.pub),
	)
	require.NoError(t, err)
	h.ctrl = ctrl
	return h
}

func (h *harness) session(phaseNames ...string) *meeting.State {
	return h.ctrl.NewSession("CRM", "Sales CRM", meeting.WithPhases(phaseNames))
}

func limits(maxTurns int) Config {
	cfg := DefaultConfig()
	cfg.MaxTurnsPerPhase = maxTurns
	return cfg
}

const (
	pickBA        = `{"selected_speaker":"business_analyst","instruction":"List requirements","readiness_score":40}`
	pickPM        = `{"selected_speaker":"product_manager","instruction":"Confirm scope","readiness_score":40}`
	convergeOnPM  = `{"selected_speaker":"product_manager","converged":true,"phase_summary":"Scope agreed","readiness_score":90}`
	convergeOnBA  = `{"selected_speaker":"business_analyst","converged":true,"phase_summary":"ok","readiness_score":90}`
	steadyBA      = `{"selected_speaker":"business_analyst","readiness_score":60}`
	lowReadyBA    = `{"selected_speaker":"business_analyst","readiness_score":30}`
	rgPhase       = phases.RequirementsGathering
	blockedPrefix = "[Guardrail] Convergence blocked: required specialist perspectives still missing for phase 'Requirements Gathering': "
)

func TestRunConvergesAfterRequiredRolesSpeak(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pickBA, convergeOnPM)
	h.ch.yesNo = []bool{true}
	state := h.session(rgPhase)

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: StatusCompleted, FullyApproved: true, Reason: "all phases approved"}, out)
	assert.Equal(t, StageCompleted, h.ctrl.Stage())

	// human, fac, BA, fac (blocked), PM, fac, PM
	assert.Equal(t, 7, state.TotalTurns())
	assert.True(t, h.ch.shown(blockedPrefix+"product_manager"))
	require.Len(t, h.agents[phases.RoleProductManager].calls, 2)
	assert.Equal(t, missingRoleInstruction(phases.RoleProductManager), h.agents[phases.RoleProductManager].calls[0].instruction)

	assert.True(t, h.ch.shown("Convergence detected for phase 'Requirements Gathering'."))
	assert.True(t, h.ch.shown("Phase summary: Scope agreed"))
	assert.True(t, h.ch.shown("=== Phase Recap: Requirements Gathering ==="))
	assert.True(t, h.ch.shown("- functional_requirements: 2 items"))
	assert.Equal(t, []string{"Approve phase 'Requirements Gathering'"}, h.ch.yesNoPrompt)

	ps, ok := state.PhaseState(rgPhase)
	require.True(t, ok)
	assert.True(t, ps.Converged)
	assert.True(t, ps.ApprovedByHuman)
	assert.Equal(t, "Scope agreed", ps.Artifact["summary"])
	doc, ok := ps.Artifact["document"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"login", "reports"}, doc["functional_requirements"])
	assert.Equal(t, []string{"ship v1 in Q3"}, doc["success_criteria"])

	assert.Equal(t, []string{
		checkpoints.ReasonSessionStart,
		checkpoints.ReasonPhaseApproved,
		checkpoints.ReasonCompleted,
	}, h.store.reasons)
	assert.Equal(t, 6, h.pub.count(events.TypeTurnAppended))
	assert.Equal(t, 1, h.pub.count(events.TypeGuardrail))
	assert.Equal(t, 1, h.pub.count(events.TypePhaseConverged))
	assert.Equal(t, 1, h.pub.count(events.TypePhaseApproved))
	assert.Equal(t, 1, h.pub.count(events.TypeMeetingFinished))
	assert.Equal(t, 3, h.pub.count(events.TypeCheckpointSaved))
	for _, e := range h.pub.events {
		assert.Equal(t, state.SessionID(), e.SessionID)
	}
}

func TestInvalidSpeakerFallsBackAndDeclinedRecoveryAborts(t *testing.T) {
	h := newHarness(t, limits(3), `{"selected_speaker":"chef","readiness_score":60}`)
	state := h.session(phases.SystemDesign)

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, out.Status)
	assert.False(t, out.FullyApproved)

	assert.True(t, h.ch.shown("[Guardrail] Facilitator selected invalid role 'chef'. Using 'architect' for phase 'System Design'."))
	assert.Len(t, h.agents[phases.RoleArchitect].calls, 1)
	assert.Equal(t, []string{"Phase 'System Design' reached its turn limit (3). Extend this phase by 10 turns and continue?"}, h.ch.yesNoPrompt)
	assert.True(t, h.ch.shown("Phase 'System Design' did not converge within configured turn limit."))
	assert.Equal(t, []string{
		checkpoints.ReasonSessionStart,
		checkpoints.ReasonPhaseNotConverged,
		checkpoints.ReasonAborted,
	}, h.store.reasons)
}

func TestRecoveryExtensionsAreBounded(t *testing.T) {
	h := newHarness(t, limits(4), steadyBA)
	h.ch.yesNo = []bool{true, true, true, true}
	state := h.session(rgPhase)

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, out.Status)

	assert.True(t, h.ch.shown("Turn limit for phase 'Requirements Gathering' extended to 14."))
	assert.True(t, h.ch.shown("Turn limit for phase 'Requirements Gathering' extended to 34."))
	assert.True(t, h.ch.shown("Phase 'Requirements Gathering' reached max extension limit."))

	ps := state.CurrentPhaseState()
	assert.Equal(t, 3, ps.ExtensionCount)
	assert.Equal(t, 34, ps.MaxTurns)
	assert.Equal(t, 35, ps.TurnCount)
	assert.Equal(t, 4, h.store.count(checkpoints.ReasonPhaseNotConverged))
	assert.Equal(t, 3, h.pub.count(events.TypePhaseExtended))
}

func TestRejectedPhaseIsReopened(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pickBA, pickPM, convergeOnBA)
	h.ch.yesNo = []bool{false, true}
	state := h.session(rgPhase)

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.True(t, out.FullyApproved)

	assert.True(t, h.ch.shown("Phase 'Requirements Gathering' rejected. Continuing discussion in same phase."))
	assert.Equal(t, []string{
		checkpoints.ReasonSessionStart,
		checkpoints.ReasonPhaseRejected,
		checkpoints.ReasonPhaseApproved,
		checkpoints.ReasonCompleted,
	}, h.store.reasons)

	ps := state.CurrentPhaseState()
	assert.True(t, ps.ApprovedByHuman)
	assert.Len(t, ps.RawContributions, 4)
	assert.Equal(t, 9, state.TotalTurns())
}

func TestInterruptFromHumanPrompt(t *testing.T) {
	h := newHarness(t, DefaultConfig(), `{"selected_speaker":"human","readiness_score":10}`)
	h.ch.textErr = interaction.ErrInterrupted
	state := h.session(rgPhase)

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, out.Status)
	assert.True(t, state.Interrupted())
	assert.Equal(t, StageInterrupted, h.ctrl.Stage())
	assert.True(t, h.ch.shown("[Info] No consolidated phase artifact is currently available for review yet."))
	assert.True(t, h.ch.shown("Meeting interrupted by user."))
	assert.Equal(t, []string{checkpoints.ReasonSessionStart, checkpoints.ReasonInterrupted}, h.store.reasons)
	assert.Equal(t, 2, state.TotalTurns())
}

func TestCancelledContextIsAnInterrupt(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pickBA)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.ctrl.Run(ctx, h.session(rgPhase))
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, out.Status)
	assert.Equal(t, checkpoints.ReasonInterrupted, h.store.reasons[len(h.store.reasons)-1])
}

func TestForcedHumanCheckpointNearCap(t *testing.T) {
	h := newHarness(t, limits(6),
		`{"selected_speaker":"business_analyst","readiness_score":70}`,
		`{"selected_speaker":"product_manager","readiness_score":70}`,
		`{"selected_speaker":"business_analyst","readiness_score":70}`,
	)
	h.ch.texts = []string{" Looks good "}
	state := h.session(rgPhase)

	_, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)

	assert.True(t, h.ch.shown("[Guardrail] Near phase turn limit; routing next turn to human for checkpoint review."))
	assert.True(t, h.ch.shown("[Phase Draft Artifact For Review]"))
	assert.True(t, h.ch.shown("[Facilitator -> Human] "+humanReviewInstruction))
	assert.Len(t, h.agents[phases.RoleBusinessAnalyst].calls, 1)

	tr := state.Transcript()
	require.Len(t, tr, 7)
	assert.Equal(t, phases.RoleHumanStakeholder, tr[6].Speaker)
	assert.Equal(t, "Looks good", tr[6].Content)
}

func TestLowReadinessAutoExtendsUpToTheBudget(t *testing.T) {
	h := newHarness(t, limits(4), lowReadyBA)
	state := h.session(rgPhase)

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, out.Status)

	assert.True(t, h.ch.shown("[Guardrail] Low convergence readiness (30) near cap; auto-extended phase 'Requirements Gathering' by 5 turns to 9."))
	ps := state.CurrentPhaseState()
	assert.Equal(t, 3, ps.ExtensionCount)
	assert.Equal(t, 19, ps.MaxTurns)
	assert.Equal(t, []string{"Phase 'Requirements Gathering' reached its turn limit (19). Extend this phase by 10 turns and continue?"}, h.ch.yesNoPrompt)
}

func TestPrioritizeMissingRoles(t *testing.T) {
	cfg := limits(3)
	cfg.PrioritizeMissingRoles = true
	h := newHarness(t, cfg, `{"selected_speaker":"ux_designer","readiness_score":60}`)

	_, err := h.ctrl.Run(context.Background(), h.session(rgPhase))
	require.NoError(t, err)

	assert.True(t, h.ch.shown("[Guardrail] Prioritizing missing required role before further iteration: business_analyst"))
	assert.Empty(t, h.agents[phases.RoleUXDesigner].calls)
	require.Len(t, h.agents[phases.RoleBusinessAnalyst].calls, 1)
	assert.Equal(t, missingRoleInstruction(phases.RoleBusinessAnalyst), h.agents[phases.RoleBusinessAnalyst].calls[0].instruction)
}

func TestProviderExhaustionIsFatal(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pickBA)
	h.agents[phases.RoleBusinessAnalyst].err = &llm.ExhaustedError{Calls: 3, Last: errors.New("boom")}

	_, err := h.ctrl.Run(context.Background(), h.session(rgPhase))
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrProvidersExhausted))
	assert.Equal(t, []string{checkpoints.ReasonSessionStart, checkpoints.ReasonAborted}, h.store.reasons)
}

func TestConvergedPhaseGoesStraightToApproval(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pickBA)
	h.ch.yesNo = []bool{true}
	state := h.session(rgPhase)
	state.MarkPhaseConverged(map[string]any{"summary": "restored"})

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Empty(t, h.agents[phases.RoleFacilitator].calls)
}

func TestApprovedPhasesAreNotAskedAgain(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pickBA)
	state := h.session(rgPhase)
	state.MarkPhaseConverged(map[string]any{"summary": "restored"})
	state.ApproveCurrentPhase(true)

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, Outcome{Status: StatusCompleted, FullyApproved: true, Reason: "all phases approved"}, out)
	assert.Empty(t, h.ch.yesNoPrompt)
	assert.Empty(t, h.agents[phases.RoleFacilitator].calls)
	assert.Equal(t, []string{checkpoints.ReasonSessionStart, checkpoints.ReasonCompleted}, h.store.reasons)

	h = newHarness(t, DefaultConfig(), convergeOnBA)
	h.ch.yesNo = []bool{true}
	state = h.session(rgPhase, phases.SystemDesign)
	state.MarkPhaseConverged(map[string]any{"summary": "restored"})
	state.ApproveCurrentPhase(true)
	require.True(t, state.TransitionToNextPhase())
	state.MarkPhaseConverged(map[string]any{"summary": "design"})
	state.ApproveCurrentPhase(true)
	require.True(t, state.IsFullyApproved())

	out, err = h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)
	assert.Empty(t, h.ch.yesNoPrompt)
}

func TestApprovedPhaseAdvancesToTheNextOne(t *testing.T) {
	h := newHarness(t, limits(2), steadyBA)
	state := h.session(rgPhase, phases.SystemDesign)
	state.MarkPhaseConverged(map[string]any{"summary": "restored"})
	state.ApproveCurrentPhase(true)

	out, err := h.ctrl.Run(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, StatusAborted, out.Status)
	assert.Equal(t, phases.SystemDesign, state.CurrentPhase())
	assert.Equal(t, []string{"Phase 'System Design' reached its turn limit (2). Extend this phase by 10 turns and continue?"}, h.ch.yesNoPrompt)
	for _, call := range h.agents[phases.RoleFacilitator].calls {
		assert.Equal(t, phases.SystemDesign, call.phase)
	}
}

func TestFacilitatorInstructionCarriesCounters(t *testing.T) {
	h := newHarness(t, limits(3), steadyBA)
	_, err := h.ctrl.Run(context.Background(), h.session(rgPhase))
	require.NoError(t, err)

	calls := h.agents[phases.RoleFacilitator].calls
	require.NotEmpty(t, calls)
	ins := calls[0].instruction
	assert.Contains(t, ins, "Current Waterfall phase: Requirements Gathering")
	assert.Contains(t, ins, "Current phase turn count: 1/3")
	assert.Contains(t, ins, "Global turn count: 1/140")
	assert.Contains(t, ins, "Allowed speakers for this phase: business_analyst, human_stakeholder, product_manager, security_specialist, ux_designer")
	assert.Contains(t, ins, "Recent transcript:\nhuman_stakeholder: Sales CRM")
}

func TestNewRequiresFacilitator(t *testing.T) {
	_, err := New(DefaultConfig(), agents.NewRegistry(), &fakeChannel{})
	require.Error(t, err)
	_, err = New(DefaultConfig(), nil, &fakeChannel{})
	require.Error(t, err)
}

func TestIntake(t *testing.T) {
	h := newHarness(t, DefaultConfig(), pickBA)
	h.ch.texts = []string{"  ", "A billing portal"}
	state, err := h.ctrl.Intake(meeting.WithPhases([]string{rgPhase}))
	require.NoError(t, err)
	assert.Equal(t, "Untitled Project", state.ProjectName())
	tr := state.Transcript()
	require.Len(t, tr, 1)
	assert.Equal(t, phases.RoleHumanStakeholder, tr[0].Speaker)
	assert.Equal(t, "A billing portal", tr[0].Content)
}
