package phases

import "sort"

// Waterfall phase names, in execution order.
const (
	RequirementsGathering  = "Requirements Gathering"
	SystemDesign           = "System Design"
	ImplementationPlanning = "Implementation Planning"
	TestingStrategy        = "Testing Strategy"
	DeploymentPlanning     = "Deployment Planning"
	MaintenanceStrategy    = "Maintenance Strategy"
)

var waterfall = []string{
	RequirementsGathering,
	SystemDesign,
	ImplementationPlanning,
	TestingStrategy,
	DeploymentPlanning,
	MaintenanceStrategy,
}

// preferredFallback is used whenever a phase allows it.
const preferredFallback = RoleBusinessAnalyst

// Waterfall returns a copy of the ordered phase list.
func Waterfall() []string {
	out := make([]string, len(waterfall))
	copy(out, waterfall)
	return out
}

// Manager answers role questions about the fixed Waterfall phases.
// It holds no mutable state after construction and is safe to share.
type Manager struct {
	allowed  map[string]map[string]struct{}
	required map[string][]string
}

func NewManager() *Manager {
	m := &Manager{
		allowed:  map[string]map[string]struct{}{},
		required: map[string][]string{},
	}

	m.register(RequirementsGathering,
		[]string{RoleProductManager, RoleBusinessAnalyst, RoleUXDesigner, RoleSecuritySpecialist, RoleHumanStakeholder},
		[]string{RoleBusinessAnalyst, RoleProductManager},
	)
	m.register(SystemDesign,
		[]string{RoleArchitect, RoleBackendEngineer, RoleFrontendEngineer, RoleDevOpsEngineer, RoleSecuritySpecialist, RoleUXDesigner},
		[]string{RoleArchitect, RoleBackendEngineer, RoleSecuritySpecialist},
	)
	m.register(ImplementationPlanning,
		[]string{RoleProductManager, RoleArchitect, RoleBackendEngineer, RoleFrontendEngineer, RoleDevOpsEngineer, RoleQAEngineer},
		[]string{RoleBackendEngineer, RoleFrontendEngineer, RoleProductManager},
	)
	m.register(TestingStrategy,
		[]string{RoleQAEngineer, RoleBackendEngineer, RoleFrontendEngineer, RoleSecuritySpecialist, RoleDevOpsEngineer, RoleBusinessAnalyst},
		[]string{RoleQAEngineer, RoleSecuritySpecialist},
	)
	m.register(DeploymentPlanning,
		[]string{RoleDevOpsEngineer, RoleArchitect, RoleSecuritySpecialist, RoleQAEngineer, RoleBackendEngineer, RoleFrontendEngineer},
		[]string{RoleDevOpsEngineer, RoleSecuritySpecialist},
	)
	m.register(MaintenanceStrategy,
		[]string{RoleProductManager, RoleBusinessAnalyst, RoleDevOpsEngineer, RoleQAEngineer, RoleSecuritySpecialist, RoleHumanStakeholder},
		[]string{RoleDevOpsEngineer, RoleProductManager},
	)

	return m
}

func (m *Manager) register(phase string, allowed []string, required []string) {
	set := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		set[r] = struct{}{}
	}
	m.allowed[phase] = set

	req := make([]string, 0, len(required))
	for _, r := range required {
		if _, ok := set[r]; ok {
			req = append(req, r)
		}
	}
	sort.Strings(req)
	m.required[phase] = req
}

// Phases returns the ordered phase list.
func (m *Manager) Phases() []string {
	return Waterfall()
}

// Index returns the position of phase in the Waterfall order, or -1.
func (m *Manager) Index(phase string) int {
	for i, p := range waterfall {
		if p == phase {
			return i
		}
	}
	return -1
}

func (m *Manager) IsRoleAllowed(phase, role string) bool {
	_, ok := m.allowed[phase][role]
	return ok
}

// AllowedRolesForPhase returns the sorted allowed roles; empty for unknown phases.
func (m *Manager) AllowedRolesForPhase(phase string) []string {
	set := m.allowed[phase]
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// RequiredRolesForPhase returns the roles that must have spoken in a phase
// before convergence is accepted.
func (m *Manager) RequiredRolesForPhase(phase string) []string {
	req := m.required[phase]
	out := make([]string, len(req))
	copy(out, req)
	return out
}

// FallbackRoleForPhase returns the role used when a requested speaker cannot
// take the turn. Unknown phases yield "".
func (m *Manager) FallbackRoleForPhase(phase string) string {
	if m.IsRoleAllowed(phase, preferredFallback) {
		return preferredFallback
	}
	allowed := m.AllowedRolesForPhase(phase)
	if len(allowed) == 0 {
		return ""
	}
	return allowed[0]
}
