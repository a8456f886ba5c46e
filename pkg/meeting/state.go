// Package meeting holds the mutable record of a kickoff session: phase
// progression, turn counters, the transcript and per-phase artifacts.
//
// A *State is owned by a single caller (the controller). Every mutation goes
// through a method; accessors return copies.
package meeting

import (
	"time"

	"github.com/go-go-golems/kickoff/pkg/artifacts"
	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	DefaultMaxTurnsPerPhase = 16
	DefaultGlobalMaxTurns   = 140
	DefaultMaxExtensions    = 3
)

// ErrInvalidPhaseIndex is returned by ResumeFromPhase for out-of-range indexes.
var ErrInvalidPhaseIndex = errors.New("invalid phase index")

type TranscriptEntry struct {
	Turn         int    `json:"turn"`
	Phase        string `json:"phase"`
	Speaker      string `json:"speaker"`
	Content      string `json:"content"`
	TimestampUTC string `json:"timestamp_utc"`
}

type PhaseState struct {
	Name             string              `json:"name"`
	TurnCount        int                 `json:"turn_count"`
	MaxTurns         int                 `json:"max_turns"`
	ExtensionCount   int                 `json:"extension_count"`
	Converged        bool                `json:"converged"`
	RawContributions []artifacts.Payload `json:"raw_contributions"`
	DraftArtifact    artifacts.Document  `json:"draft_artifact"`
	Artifact         map[string]any      `json:"artifact"`
	ApprovedByHuman  bool                `json:"approved_by_human"`
}

// RemainingTurns is max_turns minus turn_count.
func (p PhaseState) RemainingTurns() int {
	return p.MaxTurns - p.TurnCount
}

func newPhaseState(name string, maxTurns int) *PhaseState {
	return &PhaseState{
		Name:             name,
		MaxTurns:         maxTurns,
		RawContributions: []artifacts.Payload{},
		DraftArtifact:    artifacts.Document{},
		Artifact:         map[string]any{},
	}
}

// clone deep-copies the phase so callers cannot reach the session's maps.
func (p *PhaseState) clone() PhaseState {
	out := *p
	out.RawContributions = make([]artifacts.Payload, 0, len(p.RawContributions))
	for _, c := range p.RawContributions {
		out.RawContributions = append(out.RawContributions, copyMap(c))
	}
	out.DraftArtifact = copyMap(p.DraftArtifact)
	out.Artifact = copyMap(p.Artifact)
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = copyValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = copyMap(e)
		}
		return out
	default:
		return v
	}
}

type State struct {
	sessionID          string
	projectName        string
	projectDescription string
	language           string
	sessionStartedUTC  string

	phases            []string
	maxTurnsPerPhase  int
	globalMaxTurns    int
	currentPhaseIndex int
	totalTurns        int
	interrupted       bool

	transcript  []TranscriptEntry
	phaseStates map[string]*PhaseState

	now func() time.Time
}

type Option func(*State)

func WithLanguage(language string) Option {
	return func(s *State) { s.language = phases.NormalizeLanguage(language) }
}

// WithPhases overrides the phase list. An empty list keeps the Waterfall order.
func WithPhases(names []string) Option {
	return func(s *State) {
		if len(names) > 0 {
			s.phases = append([]string{}, names...)
		}
	}
}

func WithMaxTurnsPerPhase(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.maxTurnsPerPhase = n
		}
	}
}

func WithGlobalMaxTurns(n int) Option {
	return func(s *State) {
		if n > 0 {
			s.globalMaxTurns = n
		}
	}
}

func WithSessionID(id string) Option {
	return func(s *State) {
		if id != "" {
			s.sessionID = id
		}
	}
}

// WithClock replaces time.Now for transcript timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a fresh session positioned at the first phase.
func New(projectName, projectDescription string, opts ...Option) *State {
	s := &State{
		sessionID:          uuid.NewString(),
		projectName:        projectName,
		projectDescription: projectDescription,
		language:           phases.LanguageEnglish,
		phases:             phases.Waterfall(),
		maxTurnsPerPhase:   DefaultMaxTurnsPerPhase,
		globalMaxTurns:     DefaultGlobalMaxTurns,
		transcript:         []TranscriptEntry{},
		now:                time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.sessionStartedUTC = formatTimestamp(s.now())
	s.resetPhaseStates(0)
	return s
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func (s *State) resetPhaseStates(from int) {
	if s.phaseStates == nil {
		s.phaseStates = make(map[string]*PhaseState, len(s.phases))
	}
	for i, name := range s.phases {
		if i < from {
			continue
		}
		s.phaseStates[name] = newPhaseState(name, s.maxTurnsPerPhase)
	}
}

func (s *State) SessionID() string          { return s.sessionID }
func (s *State) ProjectName() string        { return s.projectName }
func (s *State) ProjectDescription() string { return s.projectDescription }
func (s *State) Language() string           { return s.language }
func (s *State) SessionStartedUTC() string  { return s.sessionStartedUTC }
func (s *State) MaxTurnsPerPhase() int      { return s.maxTurnsPerPhase }
func (s *State) GlobalMaxTurns() int        { return s.globalMaxTurns }
func (s *State) CurrentPhaseIndex() int     { return s.currentPhaseIndex }
func (s *State) TotalTurns() int            { return s.totalTurns }
func (s *State) Interrupted() bool          { return s.interrupted }

func (s *State) Phases() []string {
	return append([]string{}, s.phases...)
}

func (s *State) CurrentPhase() string {
	return s.phases[s.currentPhaseIndex]
}

func (s *State) current() *PhaseState {
	return s.phaseStates[s.CurrentPhase()]
}

// CurrentPhaseState returns a snapshot of the active phase.
func (s *State) CurrentPhaseState() PhaseState {
	return s.current().clone()
}

// PhaseState returns a snapshot of the named phase.
func (s *State) PhaseState(name string) (PhaseState, bool) {
	ps, ok := s.phaseStates[name]
	if !ok {
		return PhaseState{}, false
	}
	return ps.clone(), true
}

// Transcript returns a copy of all entries.
func (s *State) Transcript() []TranscriptEntry {
	return append([]TranscriptEntry{}, s.transcript...)
}

// RecentTranscript returns up to n trailing entries.
func (s *State) RecentTranscript(n int) []TranscriptEntry {
	if n <= 0 {
		return []TranscriptEntry{}
	}
	start := len(s.transcript) - n
	if start < 0 {
		start = 0
	}
	return append([]TranscriptEntry{}, s.transcript[start:]...)
}

// PhaseEntries returns the entries recorded during phase, in order.
func (s *State) PhaseEntries(phase string) []TranscriptEntry {
	out := []TranscriptEntry{}
	for _, e := range s.transcript {
		if e.Phase == phase {
			out = append(out, e)
		}
	}
	return out
}

// AddTranscript appends an entry for the current phase and counts the turn.
func (s *State) AddTranscript(speaker, content string) {
	s.totalTurns++
	phase := s.CurrentPhase()
	s.phaseStates[phase].TurnCount++
	s.transcript = append(s.transcript, TranscriptEntry{
		Turn:         s.totalTurns,
		Phase:        phase,
		Speaker:      speaker,
		Content:      content,
		TimestampUTC: formatTimestamp(s.now()),
	})
}

func (s *State) CanContinuePhase() bool {
	ps := s.current()
	return ps.TurnCount < ps.MaxTurns
}

func (s *State) CanContinueMeeting() bool {
	return s.totalTurns < s.globalMaxTurns && !s.interrupted
}

// ExtendCurrentPhaseTurnLimit raises the active phase's turn cap by extra,
// at most maxExtensions times per phase.
func (s *State) ExtendCurrentPhaseTurnLimit(extra, maxExtensions int) bool {
	ps := s.current()
	if extra <= 0 || ps.ExtensionCount >= maxExtensions {
		return false
	}
	ps.MaxTurns += extra
	ps.ExtensionCount++
	return true
}

func (s *State) MarkPhaseConverged(artifact map[string]any) {
	ps := s.current()
	ps.Converged = true
	if artifact == nil {
		artifact = map[string]any{}
	}
	ps.Artifact = artifact
}

// ReopenCurrentPhase clears convergence after a rejection. Contributions and
// the draft stay, so a later convergence folds the whole phase history.
func (s *State) ReopenCurrentPhase() {
	ps := s.current()
	ps.Converged = false
	ps.Artifact = map[string]any{}
}

// UpdatePhaseDraft records a contribution and rebuilds the draft from the
// complete contribution history.
func (s *State) UpdatePhaseDraft(contribution artifacts.Payload) {
	if len(contribution) == 0 {
		return
	}
	ps := s.current()
	ps.RawContributions = append(ps.RawContributions, contribution)
	ps.DraftArtifact = artifacts.Build(ps.Name, ps.RawContributions)
}

func (s *State) ApproveCurrentPhase(approved bool) {
	s.current().ApprovedByHuman = approved
}

func (s *State) TransitionToNextPhase() bool {
	if s.currentPhaseIndex+1 >= len(s.phases) {
		return false
	}
	s.currentPhaseIndex++
	return true
}

func (s *State) IsFullyApproved() bool {
	if len(s.phases) == 0 {
		return false
	}
	for _, name := range s.phases {
		ps := s.phaseStates[name]
		if ps == nil || !ps.Converged || !ps.ApprovedByHuman {
			return false
		}
	}
	return true
}

// Interrupt marks the session as stopped by the human.
func (s *State) Interrupt() {
	s.interrupted = true
}

// Resume clears the interrupted flag so a restored session continues where
// it stopped.
func (s *State) Resume() {
	s.interrupted = false
}

// ResumeFromPhase rewinds the session so that phase index is re-entered from
// scratch. Transcript entries of earlier phases are kept and renumbered.
func (s *State) ResumeFromPhase(index int) error {
	if index < 0 || index >= len(s.phases) {
		return errors.Wrapf(ErrInvalidPhaseIndex, "resume from phase %d (have %d phases)", index, len(s.phases))
	}

	position := make(map[string]int, len(s.phases))
	for i, name := range s.phases {
		position[name] = i
	}

	kept := make([]TranscriptEntry, 0, len(s.transcript))
	counts := map[string]int{}
	for _, e := range s.transcript {
		pos, ok := position[e.Phase]
		if !ok || pos >= index {
			continue
		}
		e.Turn = len(kept) + 1
		kept = append(kept, e)
		counts[e.Phase]++
	}
	s.transcript = kept
	s.totalTurns = len(kept)

	for i, name := range s.phases {
		if i >= index {
			break
		}
		if ps := s.phaseStates[name]; ps != nil {
			ps.TurnCount = counts[name]
		}
	}
	s.resetPhaseStates(index)
	s.interrupted = false
	s.currentPhaseIndex = index
	return nil
}
