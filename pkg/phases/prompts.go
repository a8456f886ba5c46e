package phases

import "fmt"

const (
	LanguageEnglish = "en"
	LanguageRussian = "ru"
)

var artifactRequirements = map[string]map[string]string{
	LanguageEnglish: {
		RequirementsGathering:  "Formal requirements specification with functional/non-functional requirements and constraints.",
		SystemDesign:           "Architecture specification, component boundaries, and integration strategy.",
		ImplementationPlanning: "Implementation breakdown, timeline, resource plan, and execution dependencies.",
		TestingStrategy:        "Comprehensive test strategy including unit/integration/system/UAT and acceptance criteria.",
		DeploymentPlanning:     "Release plan, environment strategy, DevOps rollout, rollback, and observability.",
		MaintenanceStrategy:    "Operations model, incident handling, post-release governance, and improvement loop.",
	},
	LanguageRussian: {
		RequirementsGathering:  "Формальная спецификация требований (функциональные/нефункциональные требования и ограничения).",
		SystemDesign:           "Архитектурная спецификация, границы компонентов и стратегия интеграции.",
		ImplementationPlanning: "Декомпозиция реализации, график, план ресурсов и зависимости выполнения.",
		TestingStrategy:        "Комплексная стратегия тестирования (unit/integration/system/UAT) и критерии приемки.",
		DeploymentPlanning:     "План релиза, стратегия окружений, rollout/rollback и наблюдаемость.",
		MaintenanceStrategy:    "Операционная модель, обработка инцидентов, пострелизное управление и цикл улучшений.",
	},
}

// NormalizeLanguage maps anything that is not "ru" to English.
func NormalizeLanguage(language string) string {
	if language == LanguageRussian {
		return LanguageRussian
	}
	return LanguageEnglish
}

// ArtifactRequirement describes the document a phase must produce.
func ArtifactRequirement(phase, language string) string {
	return artifactRequirements[NormalizeLanguage(language)][phase]
}

// ContextPrompt is the scope reminder sent with every facilitator and agent
// request for a phase.
func ContextPrompt(phase, language string) string {
	artifact := ArtifactRequirement(phase, language)
	if NormalizeLanguage(language) == LanguageRussian {
		return fmt.Sprintf(
			"Текущая фаза Waterfall: %s. Строго оставайся в рамках этой фазы. Обязательный артефакт этой фазы: %s",
			phase, artifact,
		)
	}
	return fmt.Sprintf(
		"Current Waterfall phase: %s. Strictly stay within this phase scope. Required artifact for this phase: %s",
		phase, artifact,
	)
}
