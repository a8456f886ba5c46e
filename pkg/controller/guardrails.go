package controller

import (
	"fmt"
	"strings"

	"github.com/go-go-golems/kickoff/pkg/meeting"
	"github.com/go-go-golems/kickoff/pkg/phases"
)

const (
	humanReviewInstruction = "Please review the current phase draft artifact, confirm what is acceptable, " +
		"and list any final must-have corrections before convergence."
)

var roleAliases = map[string]string{
	"requirements_engineer": phases.RoleBusinessAnalyst,
	"requirement_engineer":  phases.RoleBusinessAnalyst,
	"solution_architect":    phases.RoleArchitect,
	"system_designer":       phases.RoleArchitect,
	"security_engineer":     phases.RoleSecuritySpecialist,
	"devops":                phases.RoleDevOpsEngineer,
	"frontend":              phases.RoleFrontendEngineer,
	"backend":               phases.RoleBackendEngineer,
	"qa":                    phases.RoleQAEngineer,
	"ux":                    phases.RoleUXDesigner,
	"human":                 phases.RoleHumanStakeholder,
	"stakeholder":           phases.RoleHumanStakeholder,
}

// NormalizeRole lowercases name, turns spaces and hyphens into underscores
// and applies the alias table.
func NormalizeRole(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	if alias, ok := roleAliases[n]; ok {
		return alias
	}
	return n
}

// resolveSpeaker maps the facilitator's choice to a role allowed in phase.
// The returned notice is empty unless the fallback role had to be used.
func resolveSpeaker(pm *phases.Manager, phase, selected string) (string, string) {
	role := NormalizeRole(selected)
	if role == phases.RoleHumanStakeholder || pm.IsRoleAllowed(phase, role) {
		return role, ""
	}
	fallback := pm.FallbackRoleForPhase(phase)
	return fallback, fmt.Sprintf(
		"[Guardrail] Facilitator selected invalid role '%s'. Using '%s' for phase '%s'.",
		selected, fallback, phase,
	)
}

// missingRequiredRoles lists required roles that have not spoken in the
// current phase. Facilitator and human entries do not count.
func missingRequiredRoles(pm *phases.Manager, state *meeting.State) []string {
	phase := state.CurrentPhase()
	required := pm.RequiredRolesForPhase(phase)
	if len(required) == 0 {
		return nil
	}
	spoken := map[string]bool{}
	for _, e := range state.PhaseEntries(phase) {
		if e.Speaker != phases.RoleFacilitator && e.Speaker != phases.RoleHumanStakeholder {
			spoken[e.Speaker] = true
		}
	}
	missing := []string{}
	for _, role := range required {
		if !spoken[role] {
			missing = append(missing, role)
		}
	}
	return missing
}

func missingRoleInstruction(role string) string {
	return fmt.Sprintf(
		"Provide your role-specific perspective for this phase and include key decisions, "+
			"risks, and compromises from the viewpoint of %s.", role)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func (c *Controller) shouldAutoExtend(ps meeting.PhaseState, readiness int) bool {
	if ps.RemainingTurns() > 1 {
		return false
	}
	return readiness < c.cfg.AutoExtendBelow && ps.ExtensionCount < c.cfg.MaxExtensions
}

// shouldForceHumanCheckpoint routes a nearly exhausted, nearly ready phase to
// the human when the last two non-facilitator turns were both agents.
func (c *Controller) shouldForceHumanCheckpoint(state *meeting.State, speaker string, readiness int) bool {
	if speaker == phases.RoleHumanStakeholder {
		return false
	}
	ps := state.CurrentPhaseState()
	if ps.RemainingTurns() > 2 || readiness < c.cfg.HumanCheckpointFrom {
		return false
	}
	entries := state.PhaseEntries(ps.Name)
	recent := []meeting.TranscriptEntry{}
	for i := len(entries) - 1; i >= 0 && len(recent) < 2; i-- {
		if entries[i].Speaker != phases.RoleFacilitator {
			recent = append(recent, entries[i])
		}
	}
	if len(recent) < 2 {
		return false
	}
	for _, e := range recent {
		if e.Speaker == phases.RoleHumanStakeholder {
			return false
		}
	}
	return true
}
