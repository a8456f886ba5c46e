package meeting

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-go-golems/kickoff/pkg/artifacts"
	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func newTestState(opts ...Option) *State {
	opts = append([]Option{WithClock(fixedClock()), WithSessionID("session-1")}, opts...)
	return New("Billing Portal", "Self-service invoices", opts...)
}

func TestNewStateDefaults(t *testing.T) {
	s := newTestState()
	assert.Equal(t, phases.Waterfall(), s.Phases())
	assert.Equal(t, phases.RequirementsGathering, s.CurrentPhase())
	assert.Equal(t, 0, s.TotalTurns())
	assert.Equal(t, 16, s.CurrentPhaseState().MaxTurns)
	assert.Equal(t, "en", s.Language())
	assert.True(t, s.CanContinueMeeting())
	assert.True(t, s.CanContinuePhase())
	assert.False(t, s.IsFullyApproved())
}

func TestAddTranscriptMonotonic(t *testing.T) {
	s := newTestState()
	speakers := []string{"facilitator", "business_analyst", "facilitator", "product_manager"}
	for i, sp := range speakers {
		s.AddTranscript(sp, fmt.Sprintf("message %d", i))
		require.Equal(t, i+1, s.TotalTurns())
		require.Len(t, s.Transcript(), i+1)
	}
	require.True(t, s.TransitionToNextPhase())
	s.AddTranscript("architect", "design")

	for i, e := range s.Transcript() {
		assert.Equal(t, i+1, e.Turn)
	}
	for _, phase := range s.Phases() {
		ps, ok := s.PhaseState(phase)
		require.True(t, ok)
		assert.Equal(t, len(s.PhaseEntries(phase)), ps.TurnCount, phase)
	}
	assert.Equal(t, "2026-03-01T09:00:02Z", s.Transcript()[0].TimestampUTC)
}

func TestCanContinueLimits(t *testing.T) {
	s := newTestState(WithMaxTurnsPerPhase(2), WithGlobalMaxTurns(3))
	s.AddTranscript("facilitator", "a")
	assert.True(t, s.CanContinuePhase())
	s.AddTranscript("business_analyst", "b")
	assert.False(t, s.CanContinuePhase())
	assert.True(t, s.CanContinueMeeting())

	s.TransitionToNextPhase()
	s.AddTranscript("facilitator", "c")
	assert.False(t, s.CanContinueMeeting())

	other := newTestState()
	other.Interrupt()
	assert.False(t, other.CanContinueMeeting())
	other.Resume()
	assert.True(t, other.CanContinueMeeting())
}

func TestExtensionBound(t *testing.T) {
	s := newTestState()
	for i := 0; i < DefaultMaxExtensions; i++ {
		require.True(t, s.ExtendCurrentPhaseTurnLimit(10, DefaultMaxExtensions))
	}
	atBound := s.CurrentPhaseState().MaxTurns
	assert.Equal(t, 46, atBound)

	assert.False(t, s.ExtendCurrentPhaseTurnLimit(10, DefaultMaxExtensions))
	assert.False(t, s.ExtendCurrentPhaseTurnLimit(5, DefaultMaxExtensions))
	assert.Equal(t, atBound, s.CurrentPhaseState().MaxTurns)
	assert.Equal(t, 3, s.CurrentPhaseState().ExtensionCount)

	fresh := newTestState()
	assert.False(t, fresh.ExtendCurrentPhaseTurnLimit(0, DefaultMaxExtensions))
	assert.False(t, fresh.ExtendCurrentPhaseTurnLimit(-4, DefaultMaxExtensions))
	assert.Equal(t, 0, fresh.CurrentPhaseState().ExtensionCount)
}

func TestUpdatePhaseDraftReplaysHistory(t *testing.T) {
	s := newTestState()
	s.UpdatePhaseDraft(nil)
	s.UpdatePhaseDraft(artifacts.Payload{})
	assert.Empty(t, s.CurrentPhaseState().RawContributions)

	s.UpdatePhaseDraft(artifacts.Payload{"role": "business_analyst", "requirements": []any{"R1"}})
	s.UpdatePhaseDraft(artifacts.Payload{"role": "product_manager", "decisions": []any{"Ship in Q3"}})

	ps := s.CurrentPhaseState()
	require.Len(t, ps.RawContributions, 2)
	assert.Equal(t, artifacts.Build(phases.RequirementsGathering, ps.RawContributions), ps.DraftArtifact)
	assert.Equal(t, []string{"R1"}, ps.DraftArtifact["functional_requirements"])
}

func TestConvergeApproveAndReopen(t *testing.T) {
	s := newTestState()
	s.UpdatePhaseDraft(artifacts.Payload{"role": "business_analyst", "requirements": []any{"R1"}})
	s.MarkPhaseConverged(map[string]any{"summary": "done"})
	s.ApproveCurrentPhase(false)
	s.ReopenCurrentPhase()

	ps := s.CurrentPhaseState()
	assert.False(t, ps.Converged)
	assert.False(t, ps.ApprovedByHuman)
	assert.Empty(t, ps.Artifact)
	assert.Len(t, ps.RawContributions, 1)
	assert.NotEmpty(t, ps.DraftArtifact)
}

func TestPhaseSnapshotsAreDeepCopies(t *testing.T) {
	s := newTestState()
	s.UpdatePhaseDraft(artifacts.Payload{"role": "business_analyst", "requirements": []any{"R1"}})
	s.MarkPhaseConverged(map[string]any{
		"summary":  "done",
		"document": map[string]any{"items": []any{"a"}},
	})

	ps := s.CurrentPhaseState()
	ps.Artifact["document"].(map[string]any)["items"] = []any{"changed"}
	ps.DraftArtifact["functional_requirements"].([]string)[0] = "changed"
	ps.RawContributions[0]["requirements"].([]any)[0] = "changed"

	fresh, ok := s.PhaseState(phases.RequirementsGathering)
	require.True(t, ok)
	assert.Equal(t, []any{"a"}, fresh.Artifact["document"].(map[string]any)["items"])
	assert.Equal(t, []string{"R1"}, fresh.DraftArtifact["functional_requirements"])
	assert.Equal(t, []any{"R1"}, fresh.RawContributions[0]["requirements"])
}

func TestFullyApprovedAndTransition(t *testing.T) {
	s := newTestState()
	for i := range s.Phases() {
		s.MarkPhaseConverged(map[string]any{"summary": i})
		s.ApproveCurrentPhase(true)
		moved := s.TransitionToNextPhase()
		assert.Equal(t, i < len(s.Phases())-1, moved)
	}
	assert.Equal(t, len(s.Phases())-1, s.CurrentPhaseIndex())
	assert.True(t, s.IsFullyApproved())
}

func TestResumeFromPhaseTruncates(t *testing.T) {
	s := newTestState()
	s.AddTranscript("human_stakeholder", "intro")
	s.AddTranscript("business_analyst", "reqs")
	s.MarkPhaseConverged(map[string]any{"summary": "rg"})
	s.ApproveCurrentPhase(true)
	s.TransitionToNextPhase()
	s.AddTranscript("architect", "design")
	s.AddTranscript("backend_engineer", "apis")
	s.MarkPhaseConverged(map[string]any{"summary": "sd"})
	s.TransitionToNextPhase()
	s.AddTranscript("product_manager", "plan")
	s.Interrupt()

	require.NoError(t, s.ResumeFromPhase(1))

	assert.Equal(t, 1, s.CurrentPhaseIndex())
	assert.Equal(t, phases.SystemDesign, s.CurrentPhase())
	assert.False(t, s.Interrupted())
	assert.Equal(t, 2, s.TotalTurns())
	tr := s.Transcript()
	require.Len(t, tr, 2)
	for i, e := range tr {
		assert.Equal(t, i+1, e.Turn)
		assert.Equal(t, phases.RequirementsGathering, e.Phase)
	}

	rg, _ := s.PhaseState(phases.RequirementsGathering)
	assert.Equal(t, 2, rg.TurnCount)
	assert.True(t, rg.Converged)
	assert.True(t, rg.ApprovedByHuman)

	for _, name := range s.Phases()[1:] {
		ps, _ := s.PhaseState(name)
		assert.Equal(t, 0, ps.TurnCount, name)
		assert.False(t, ps.Converged, name)
		assert.False(t, ps.ApprovedByHuman, name)
		assert.Equal(t, 16, ps.MaxTurns, name)
	}
}

func TestResumeFromPhaseZeroClearsEverything(t *testing.T) {
	s := newTestState()
	s.AddTranscript("business_analyst", "x")
	require.NoError(t, s.ResumeFromPhase(0))
	assert.Equal(t, 0, s.TotalTurns())
	assert.Empty(t, s.Transcript())
}

func TestResumeFromPhaseInvalidIndex(t *testing.T) {
	s := newTestState()
	for _, idx := range []int{-1, 6, 100} {
		err := s.ResumeFromPhase(idx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidPhaseIndex))
	}
}

func TestRecentTranscript(t *testing.T) {
	s := newTestState()
	for i := 0; i < 5; i++ {
		s.AddTranscript("business_analyst", fmt.Sprint(i))
	}
	recent := s.RecentTranscript(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].Content)
	assert.Len(t, s.RecentTranscript(50), 5)
	assert.Empty(t, s.RecentTranscript(0))
}
