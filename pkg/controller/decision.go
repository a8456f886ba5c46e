package controller

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-go-golems/kickoff/pkg/meeting"
)

const defaultInstruction = "Provide concise phase contribution for convergence."

// Decision is the facilitator's routing verdict for one turn.
type Decision struct {
	SelectedSpeaker   string
	Instruction       string
	Converged         bool
	ConvergenceReason string
	ReadinessScore    int
	ArtifactCheck     map[string]any
	PhaseSummary      string

	// Raw is the parsed reply, nil when the reply held no JSON object.
	Raw map[string]any
	// Estimated is set when ReadinessScore was computed, not reported.
	Estimated bool
}

// ParseObject decodes text as a JSON object. When the full text does not
// parse, the span from the first '{' to the last '}' is tried. Anything that
// is not an object yields nil.
func ParseObject(text string) map[string]any {
	text = strings.TrimSpace(text)
	var v any
	if err := json.Unmarshal([]byte(text), &v); err == nil {
		m, _ := v.(map[string]any)
		return m
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &m); err != nil {
		return nil
	}
	return m
}

// parseDecision fills a Decision from the facilitator reply. Missing fields
// get deterministic defaults: the phase fallback role, the generic
// instruction and an estimated readiness score.
func parseDecision(text string, phase meeting.PhaseState, fallbackRole string) Decision {
	raw := ParseObject(text)
	d := Decision{Raw: raw}

	if v, ok := raw["selected_speaker"]; ok {
		d.SelectedSpeaker = stringValue(v)
	} else {
		d.SelectedSpeaker = fallbackRole
	}
	d.Instruction = defaultInstruction
	if v, ok := raw["instruction"]; ok {
		d.Instruction = stringValue(v)
	}
	d.Converged = truthy(raw["converged"])
	d.ConvergenceReason = stringValue(raw["convergence_reason"])
	d.PhaseSummary = stringValue(raw["phase_summary"])
	if check, ok := raw["artifact_check"].(map[string]any); ok {
		d.ArtifactCheck = check
	} else {
		d.ArtifactCheck = map[string]any{}
	}

	if score, ok := numberValue(raw["readiness_score"]); ok && !math.IsNaN(score) {
		d.ReadinessScore = int(math.Max(0, math.Min(100, score)))
	} else {
		d.ReadinessScore = estimateReadiness(d.ArtifactCheck, phase)
		d.Estimated = true
	}
	return d
}

// estimateReadiness scores a phase from the artifact check and turn progress:
// 25 base, +35 when complete, up to +30 for progress, -12 per missing item
// (at most -60), clamped to [0,100].
func estimateReadiness(check map[string]any, phase meeting.PhaseState) int {
	complete := 0
	if truthy(check["complete"]) {
		complete = 35
	}
	missing, _ := check["missing_items"].([]any)
	penalty := len(missing) * 12
	if penalty > 60 {
		penalty = 60
	}
	maxTurns := phase.MaxTurns
	if maxTurns < 1 {
		maxTurns = 1
	}
	ratio := math.Min(float64(phase.TurnCount)/float64(maxTurns), 1)
	progress := int(ratio * 30)
	return clamp(25+complete+progress-penalty, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true
		}
		return false
	case float64:
		return t != 0
	default:
		return false
	}
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
