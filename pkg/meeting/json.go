package meeting

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/go-go-golems/kickoff/pkg/artifacts"
	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Snapshot is the serialized form of a State.
type Snapshot struct {
	SessionID          string                `json:"session_id"`
	ProjectName        string                `json:"project_name"`
	ProjectDescription string                `json:"project_description"`
	Language           string                `json:"language"`
	SessionStartedUTC  string                `json:"session_started_utc"`
	Phases             []string              `json:"phases"`
	CurrentPhase       string                `json:"current_phase"`
	CurrentPhaseIndex  int                   `json:"current_phase_index"`
	MaxTurnsPerPhase   int                   `json:"max_turns_per_phase"`
	GlobalMaxTurns     int                   `json:"global_max_turns"`
	TotalTurns         int                   `json:"total_turns"`
	Interrupted        bool                  `json:"interrupted"`
	PhaseStates        map[string]PhaseState `json:"phase_states"`
	Transcript         []TranscriptEntry     `json:"transcript"`
}

func (s *State) Snapshot() Snapshot {
	states := make(map[string]PhaseState, len(s.phaseStates))
	for name, ps := range s.phaseStates {
		states[name] = ps.clone()
	}
	return Snapshot{
		SessionID:          s.sessionID,
		ProjectName:        s.projectName,
		ProjectDescription: s.projectDescription,
		Language:           s.language,
		SessionStartedUTC:  s.sessionStartedUTC,
		Phases:             s.Phases(),
		CurrentPhase:       s.CurrentPhase(),
		CurrentPhaseIndex:  s.currentPhaseIndex,
		MaxTurnsPerPhase:   s.maxTurnsPerPhase,
		GlobalMaxTurns:     s.globalMaxTurns,
		TotalTurns:         s.totalTurns,
		Interrupted:        s.interrupted,
		PhaseStates:        states,
		Transcript:         s.Transcript(),
	}
}

func (s *State) ToJSON() ([]byte, error) {
	b, err := json.Marshal(s.Snapshot())
	if err != nil {
		return nil, errors.Wrap(err, "marshal meeting state")
	}
	return b, nil
}

// FromJSON restores a State from a checkpoint payload. Only a document that is
// not a JSON object is rejected; missing or malformed fields fall back to
// defaults so older and partial checkpoints still load.
func FromJSON(data []byte, opts ...Option) (*State, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode meeting state")
	}
	if doc == nil {
		return nil, errors.New("decode meeting state: not an object")
	}

	s := &State{
		sessionID:          stringField(doc, "session_id"),
		projectName:        stringField(doc, "project_name"),
		projectDescription: stringField(doc, "project_description"),
		language:           phases.NormalizeLanguage(stringField(doc, "language")),
		sessionStartedUTC:  stringField(doc, "session_started_utc"),
		maxTurnsPerPhase:   positiveIntField(doc, "max_turns_per_phase", DefaultMaxTurnsPerPhase),
		globalMaxTurns:     positiveIntField(doc, "global_max_turns", DefaultGlobalMaxTurns),
		interrupted:        boolField(doc, "interrupted"),
		now:                time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.sessionID == "" {
		s.sessionID = uuid.NewString()
	}
	if s.sessionStartedUTC == "" {
		s.sessionStartedUTC = formatTimestamp(s.now())
	}

	rawStates, _ := doc["phase_states"].(map[string]any)
	s.phases = decodePhaseList(doc["phases"], rawStates)

	s.phaseStates = make(map[string]*PhaseState, len(s.phases))
	for _, name := range s.phases {
		raw, _ := rawStates[name].(map[string]any)
		s.phaseStates[name] = decodePhaseState(name, raw, s.maxTurnsPerPhase)
	}

	s.transcript = decodeTranscript(doc["transcript"])

	idx, ok := intValue(doc["current_phase_index"])
	if !ok {
		idx = -1
		if name := stringField(doc, "current_phase"); name != "" {
			for i, p := range s.phases {
				if p == name {
					idx = i
				}
			}
		}
	}
	if idx < 0 || idx >= len(s.phases) {
		idx = 0
	}
	s.currentPhaseIndex = idx

	total, _ := intValue(doc["total_turns"])
	if total <= 0 {
		total = len(s.transcript)
	}
	s.totalTurns = total

	return s, nil
}

func decodePhaseList(v any, rawStates map[string]any) []string {
	var out []string
	seen := map[string]struct{}{}
	if list, ok := v.([]any); ok {
		for _, item := range list {
			name, ok := item.(string)
			if !ok || name == "" {
				continue
			}
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	if len(out) > 0 {
		return out
	}

	if len(rawStates) > 0 {
		order := map[string]int{}
		for i, p := range phases.Waterfall() {
			order[p] = i
		}
		for name := range rawStates {
			if name != "" {
				out = append(out, name)
			}
		}
		sort.Slice(out, func(i, j int) bool {
			oi, iKnown := order[out[i]]
			oj, jKnown := order[out[j]]
			switch {
			case iKnown && jKnown:
				return oi < oj
			case iKnown != jKnown:
				return iKnown
			default:
				return out[i] < out[j]
			}
		})
		if len(out) > 0 {
			return out
		}
	}

	return phases.Waterfall()
}

func decodePhaseState(name string, raw map[string]any, defaultMaxTurns int) *PhaseState {
	ps := newPhaseState(name, defaultMaxTurns)
	if raw == nil {
		return ps
	}
	if n, ok := intValue(raw["turn_count"]); ok && n > 0 {
		ps.TurnCount = n
	}
	ps.MaxTurns = positiveIntField(raw, "max_turns", defaultMaxTurns)
	if n, ok := intValue(raw["extension_count"]); ok && n > 0 {
		ps.ExtensionCount = n
	}
	ps.Converged = boolField(raw, "converged")
	ps.ApprovedByHuman = boolField(raw, "approved_by_human")

	if list, ok := raw["raw_contributions"].([]any); ok {
		for _, item := range list {
			if p, ok := item.(map[string]any); ok && len(p) > 0 {
				ps.RawContributions = append(ps.RawContributions, p)
			}
		}
	}
	if draft, ok := raw["draft_artifact"].(map[string]any); ok {
		ps.DraftArtifact = draft
	} else if len(ps.RawContributions) > 0 {
		ps.DraftArtifact = artifacts.Build(name, ps.RawContributions)
	}
	if art, ok := raw["artifact"].(map[string]any); ok {
		ps.Artifact = art
	}
	return ps
}

func decodeTranscript(v any) []TranscriptEntry {
	out := []TranscriptEntry{}
	list, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range list {
		raw, ok := item.(map[string]any)
		if !ok {
			continue
		}
		turn, ok := intValue(raw["turn"])
		if !ok || turn <= 0 {
			turn = len(out) + 1
		}
		out = append(out, TranscriptEntry{
			Turn:         turn,
			Phase:        stringField(raw, "phase"),
			Speaker:      stringField(raw, "speaker"),
			Content:      stringField(raw, "content"),
			TimestampUTC: stringField(raw, "timestamp_utc"),
		})
	}
	return out
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func positiveIntField(m map[string]any, key string, def int) int {
	if n, ok := intValue(m[key]); ok && n > 0 {
		return n
	}
	return def
}

func intValue(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
