package artifacts

import "github.com/go-go-golems/kickoff/pkg/phases"

type source struct {
	role  string
	field string
}

type fieldRule struct {
	name    string
	sources []source
}

func from(role string, fields ...string) []source {
	out := make([]source, 0, len(fields))
	for _, f := range fields {
		out = append(out, source{role: role, field: f})
	}
	return out
}

func sources(groups ...[]source) []source {
	var out []source
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

const (
	ba      = phases.RoleBusinessAnalyst
	pm      = phases.RoleProductManager
	ux      = phases.RoleUXDesigner
	sec     = phases.RoleSecuritySpecialist
	arch    = phases.RoleArchitect
	backend = phases.RoleBackendEngineer
	front   = phases.RoleFrontendEngineer
	devops  = phases.RoleDevOpsEngineer
	qa      = phases.RoleQAEngineer
	monitor = phases.RoleDocumentMonitor
)

// rules maps each phase to its ordered schema. Every field lists the
// (role, payload field) pairs merged into it, in merge order.
var rules = map[string][]fieldRule{
	phases.RequirementsGathering: {
		{"functional_requirements", from(ba, "requirements")},
		{"non_functional_requirements", sources(from(ba, "non_functional_requirements"), from(sec, "security_controls"), from(ux, "design_constraints"))},
		{"constraints", sources(from(ba, "constraints"), from(ux, "design_constraints"))},
		{"formatted_specification", sources(from(monitor, "formatted_specification", "document_sections"), from(ba, "requirements"))},
		{"coverage_good", sources(from(monitor, "coverage_good"), from(ux, "ux_points"))},
		{"coverage_gaps", sources(from(monitor, "coverage_gaps"), from(sec, "threats"))},
		{"open_questions", sources(from(ba, "clarifications"), from(pm, "open_risks"), from(monitor, "coverage_gaps"))},
		{"stakeholders", from(pm, "insights")},
		{"success_criteria", from(pm, "decisions")},
	},
	phases.SystemDesign: {
		{"architecture_overview", from(arch, "architecture_points")},
		{"component_boundaries", sources(from(arch, "architecture_points"), from(front, "frontend_plan"))},
		{"integration_strategy", sources(from(arch, "architecture_points"), from(backend, "dependencies"), from(devops, "controls"))},
		{"data_flows", sources(from(arch, "architecture_points"), from(backend, "backend_plan"))},
		{"security_architecture", from(sec, "security_controls", "threats")},
		{"design_risks", sources(from(arch, "risks"), from(backend, "risks"), from(front, "risks"), from(devops, "risks"))},
	},
	phases.ImplementationPlanning: {
		{"work_breakdown", sources(from(backend, "backend_plan"), from(front, "frontend_plan"))},
		{"timeline_milestones", from(pm, "decisions")},
		{"resource_plan", sources(from(devops, "controls"), from(pm, "insights"))},
		{"dependency_plan", sources(from(backend, "dependencies"), from(front, "dependencies"))},
		{"raci_outline", from(pm, "decisions")},
		{"change_control", from(devops, "controls")},
	},
	phases.TestingStrategy: {
		{"test_levels", from(qa, "test_strategy")},
		{"acceptance_criteria", from(qa, "quality_gates")},
		{"quality_gates", from(qa, "quality_gates")},
		{"test_data_strategy", from(qa, "test_strategy")},
		{"defect_management", sources(from(qa, "risks"), from(sec, "risks"))},
	},
	phases.DeploymentPlanning: {
		{"environment_strategy", from(devops, "devops_plan")},
		{"release_strategy", from(devops, "controls")},
		{"rollback_plan", from(devops, "controls", "risks")},
		{"observability_plan", from(devops, "controls")},
		{"operational_readiness", sources(from(sec, "security_controls"), from(devops, "devops_plan"))},
	},
	phases.MaintenanceStrategy: {
		{"support_model", sources(from(devops, "devops_plan"), from(pm, "insights"))},
		{"incident_response", sources(from(devops, "controls"), from(qa, "quality_gates"))},
		{"sla_slo", sources(from(pm, "decisions"), from(qa, "quality_gates"))},
		{"continuous_improvement", sources(from(pm, "open_risks"), from(qa, "risks"))},
		{"monitoring_governance", from(devops, "controls")},
	},
}

// SchemaFields returns the ordered artifact fields of a phase, or an empty
// list for unknown phases.
func SchemaFields(phase string) []string {
	rs := rules[phase]
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.name)
	}
	return out
}

// Schemas returns the registered schema for every phase.
func Schemas() map[string][]string {
	out := make(map[string][]string, len(rules))
	for phase := range rules {
		out[phase] = SchemaFields(phase)
	}
	return out
}
