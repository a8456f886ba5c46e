package controller

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/kickoff/pkg/llm"
	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/go-go-golems/kickoff/pkg/tokens"
)

// contextMessages builds the agent context window: an optional memory of
// approved phases followed by the most recent transcript entries, trimmed
// oldest-first to the token budget.
func (c *Controller) contextMessages(state *meeting.State) []llm.Message {
	var entries []meeting.TranscriptEntry
	if c.cfg.NewDialogPerPhase {
		entries = state.PhaseEntries(state.CurrentPhase())
	} else {
		entries = state.Transcript()
	}
	if n := c.cfg.ContextWindowTurns; len(entries) > n {
		entries = entries[len(entries)-n:]
	}

	items := make([]string, 0, len(entries)+1)
	if c.cfg.SmartForgetting {
		if mem := phaseMemory(state, c.cfg.PhaseMemoryLimit); mem != "" {
			items = append(items, mem)
		}
	}
	for _, e := range entries {
		items = append(items, fmt.Sprintf("%s: %s", e.Speaker, e.Content))
	}
	items = tokens.TrimToBudget(c.counter, items, c.cfg.MaxContextTokens)

	out := make([]llm.Message, 0, len(items))
	for _, it := range items {
		out = append(out, llm.Message{Role: llm.MessageRoleUser, Content: it})
	}
	return out
}

// phaseMemory summarizes up to limit of the latest approved phases before the
// current one.
func phaseMemory(state *meeting.State, limit int) string {
	if limit <= 0 {
		return ""
	}
	lines := []string{}
	names := state.Phases()[:state.CurrentPhaseIndex()]
	for _, name := range names {
		ps, ok := state.PhaseState(name)
		if !ok || !ps.Converged || !ps.ApprovedByHuman {
			continue
		}
		summary := stringValue(ps.Artifact["summary"])
		if summary == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", name, summary))
	}
	if len(lines) == 0 {
		return ""
	}
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return "Approved phase memory:\n" + strings.Join(lines, "\n")
}

func facilitatorWindow(state *meeting.State, n int) string {
	lines := []string{}
	for _, e := range state.RecentTranscript(n) {
		lines = append(lines, fmt.Sprintf("%s: %s", e.Speaker, e.Content))
	}
	return strings.Join(lines, "\n")
}
