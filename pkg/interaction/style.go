package interaction

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type theme struct {
	header    lipgloss.Style
	guardrail lipgloss.Style
	speaker   lipgloss.Style
	info      lipgloss.Style
	prompt    lipgloss.Style
}

func newTheme(w io.Writer) theme {
	r := lipgloss.NewRenderer(w)
	return theme{
		header:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		guardrail: r.NewStyle().Foreground(lipgloss.Color("208")),
		speaker:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("112")),
		info:      r.NewStyle().Faint(true),
		prompt:    r.NewStyle().Bold(true),
	}
}

// render styles a display line based on its leading marker.
func (t theme) render(text string) string {
	trimmed := strings.TrimLeft(text, "\n")
	switch {
	case strings.HasPrefix(trimmed, "---"), strings.HasPrefix(trimmed, "==="):
		return t.header.Render(text)
	case strings.HasPrefix(trimmed, "[Guardrail]"):
		return t.guardrail.Render(text)
	case strings.HasPrefix(trimmed, "[Info]"):
		return t.info.Render(text)
	case strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") && !strings.Contains(trimmed, "\n"):
		return t.speaker.Render(text)
	default:
		return text
	}
}
