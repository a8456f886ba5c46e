// Package artifacts folds structured role contributions into the consolidated
// document a phase is expected to produce.
package artifacts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is a structured contribution parsed from an agent reply. Model
// output is untyped, so every field is read defensively.
type Payload = map[string]any

// Document is a built phase artifact.
type Document = map[string]any

const (
	KeyPhase             = "phase"
	KeySchemaFields      = "schema_fields"
	KeyContributionCount = "contribution_count"
	KeyRaw               = "raw"

	unknownRole = "unknown"
)

// legacy formatter role, folded into document_monitor
const documentFormatter = "document_formatter"

// Build folds contributions into the document for phase. Only the latest
// payload per role is used. The result is a pure function of its input.
func Build(phase string, contributions []Payload) Document {
	schema := SchemaFields(phase)
	doc := Document{
		KeyPhase:             phase,
		KeySchemaFields:      schema,
		KeyContributionCount: len(contributions),
	}

	rs, ok := rules[phase]
	if !ok {
		raw := Payload{}
		if len(contributions) > 0 && contributions[len(contributions)-1] != nil {
			raw = contributions[len(contributions)-1]
		}
		doc[KeyRaw] = raw
		return doc
	}

	latest := latestByRole(contributions)
	for _, r := range rs {
		values := make([]any, 0, len(r.sources))
		for _, s := range r.sources {
			values = append(values, latest[s.role][s.field])
		}
		doc[r.name] = Merge(values...)
	}

	for _, f := range schema {
		if _, ok := doc[f]; !ok {
			doc[f] = []string{}
		}
	}
	return doc
}

// RoleOf returns the role a payload is tagged with.
func RoleOf(p Payload) string {
	if p == nil {
		return unknownRole
	}
	v, ok := p["role"]
	if !ok || v == nil {
		return unknownRole
	}
	return fmt.Sprint(v)
}

func latestByRole(contributions []Payload) map[string]Payload {
	out := map[string]Payload{}
	for _, p := range contributions {
		out[RoleOf(p)] = p
	}
	if _, ok := out[monitor]; !ok {
		if f, ok := out[documentFormatter]; ok {
			out[monitor] = f
		}
	}
	return out
}

// AsList coerces an untyped value into a list of non-blank strings.
func AsList(v any) []string {
	switch t := v.(type) {
	case nil:
		return []string{}
	case string:
		if strings.TrimSpace(t) == "" {
			return []string{}
		}
		return []string{t}
	case []string:
		out := make([]string, 0, len(t))
		for _, s := range t {
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s := stringify(item)
			if strings.TrimSpace(s) != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return []string{stringify(t)}
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// Merge concatenates the coerced values, dropping duplicates while keeping
// first-seen order.
func Merge(values ...any) []string {
	merged := []string{}
	seen := map[string]struct{}{}
	for _, v := range values {
		for _, item := range AsList(v) {
			if _, ok := seen[item]; ok {
				continue
			}
			seen[item] = struct{}{}
			merged = append(merged, item)
		}
	}
	return merged
}
