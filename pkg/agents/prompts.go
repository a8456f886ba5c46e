package agents

import (
	"embed"
	"strings"

	"github.com/go-go-golems/kickoff/pkg/phases"
	"github.com/pkg/errors"
)

//go:embed prompts/*.txt
var promptsFS embed.FS

const russianSuffix = "\n\nВедите обсуждение на русском языке. Ключи JSON оставляйте на английском."

// SystemPrompt returns the system prompt for role in the meeting language.
func SystemPrompt(role, language string) (string, error) {
	b, err := promptsFS.ReadFile("prompts/" + role + ".txt")
	if err != nil {
		return "", errors.Wrapf(err, "no prompt for role %q", role)
	}
	prompt := strings.TrimSpace(string(b))
	if phases.NormalizeLanguage(language) == phases.LanguageRussian {
		prompt += russianSuffix
	}
	return prompt, nil
}
