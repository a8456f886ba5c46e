package controller

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-go-golems/kickoff/pkg/meeting"
)

// RenderPayload prints a decoded JSON value as an indented bullet list.
// Object keys are sorted.
func RenderPayload(v any) string {
	return renderPayload(v, 0)
}

func renderPayload(v any, level int) string {
	indent := strings.Repeat("  ", level)
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			switch t[k].(type) {
			case map[string]any, []any, []string:
				lines = append(lines, fmt.Sprintf("%s- %s:", indent, k), renderPayload(t[k], level+1))
			default:
				lines = append(lines, fmt.Sprintf("%s- %s: %v", indent, k, t[k]))
			}
		}
		return strings.Join(lines, "\n")
	case []string:
		items := make([]any, len(t))
		for i, s := range t {
			items[i] = s
		}
		return renderPayload(items, level)
	case []any:
		if len(t) == 0 {
			return indent + "- (none)"
		}
		lines := make([]string, 0, len(t))
		for _, item := range t {
			switch item.(type) {
			case map[string]any, []any, []string:
				lines = append(lines, indent+"-", renderPayload(item, level+1))
			default:
				lines = append(lines, fmt.Sprintf("%s- %v", indent, item))
			}
		}
		return strings.Join(lines, "\n")
	default:
		return fmt.Sprintf("%s%v", indent, v)
	}
}

func facilitatorLines(d Decision, rawText string) []string {
	if d.Raw == nil {
		return []string{fmt.Sprintf("[facilitator] %s\n", rawText)}
	}
	lines := []string{
		"[facilitator]",
		"- Next speaker: " + orDefault(d.SelectedSpeaker, "(not specified)"),
		"- Instruction: " + orDefault(d.Instruction, "(no instruction)"),
		fmt.Sprintf("- Convergence readiness: %d/100", d.ReadinessScore),
	}
	if complete, ok := d.ArtifactCheck["complete"]; ok && complete != nil {
		lines = append(lines, fmt.Sprintf("- Artifact completeness: %v", complete))
	}
	if missing, ok := d.ArtifactCheck["missing_items"].([]any); ok && len(missing) > 0 {
		lines = append(lines, "- Missing items before convergence:")
		for _, item := range missing {
			lines = append(lines, fmt.Sprintf("  - %v", item))
		}
	}
	lines = append(lines, fmt.Sprintf("- Converged: %t", d.Converged))
	if d.ConvergenceReason != "" {
		lines = append(lines, "- Convergence reason: "+d.ConvergenceReason)
	}
	return append(lines, "")
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func recapLines(ps meeting.PhaseState) []string {
	lines := []string{
		fmt.Sprintf("\n=== Phase Recap: %s ===", ps.Name),
		fmt.Sprintf("Approved by human: %t", ps.ApprovedByHuman),
		fmt.Sprintf("Converged: %t", ps.Converged),
	}
	if summary := stringValue(ps.Artifact["summary"]); summary != "" {
		lines = append(lines, "Summary: "+summary)
	}
	if doc := documentOf(ps.Artifact); len(doc) > 0 {
		lines = append(lines, "Key artifact sections:")
		keys := make([]string, 0, len(doc))
		for k := range doc {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			switch v := doc[k].(type) {
			case []string:
				lines = append(lines, fmt.Sprintf("- %s: %d items", k, len(v)))
			case []any:
				lines = append(lines, fmt.Sprintf("- %s: %d items", k, len(v)))
			case map[string]any:
				lines = append(lines, fmt.Sprintf("- %s: %d fields", k, len(v)))
			default:
				lines = append(lines, fmt.Sprintf("- %s: included", k))
			}
		}
	}
	return append(lines, "===============================\n")
}

func documentOf(artifact map[string]any) map[string]any {
	switch d := artifact["document"].(type) {
	case map[string]any:
		return d
	default:
		return nil
	}
}
