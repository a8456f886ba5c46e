package phases

// Canonical participant roles. Agents, the phase tables and the controller all
// speak in these identifiers.
const (
	RoleFacilitator        = "facilitator"
	RoleHumanStakeholder   = "human_stakeholder"
	RoleProductManager     = "product_manager"
	RoleBusinessAnalyst    = "business_analyst"
	RoleArchitect          = "architect"
	RoleBackendEngineer    = "backend_engineer"
	RoleFrontendEngineer   = "frontend_engineer"
	RoleDevOpsEngineer     = "devops_engineer"
	RoleQAEngineer         = "qa_engineer"
	RoleUXDesigner         = "ux_designer"
	RoleSecuritySpecialist = "security_specialist"
	RoleDocumentMonitor    = "document_monitor"
)

// SpecialistRoles lists the LLM-backed roles that can be routed a turn.
var SpecialistRoles = []string{
	RoleProductManager,
	RoleBusinessAnalyst,
	RoleArchitect,
	RoleBackendEngineer,
	RoleFrontendEngineer,
	RoleDevOpsEngineer,
	RoleQAEngineer,
	RoleUXDesigner,
	RoleSecuritySpecialist,
}
