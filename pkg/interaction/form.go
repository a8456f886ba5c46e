package interaction

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
)

// FormChannel asks through huh forms. Ctrl-C inside a form counts as the
// interrupt sentinel where interrupts are allowed.
type FormChannel struct {
	out      io.Writer
	theme    theme
	sentinel string
	run      func(*huh.Form) error
}

var _ Channel = (*FormChannel)(nil)

func NewFormChannel(out io.Writer) *FormChannel {
	return &FormChannel{
		out:      out,
		theme:    newTheme(out),
		sentinel: DefaultInterruptSentinel,
		run:      func(f *huh.Form) error { return f.Run() },
	}
}

func (c *FormChannel) Display(text string) {
	_, _ = fmt.Fprintln(c.out, c.theme.render(text))
}

func (c *FormChannel) PromptText(prompt string, allowInterrupt bool) (string, error) {
	var answer string
	description := ""
	if allowInterrupt {
		description = fmt.Sprintf("Type %s or press ctrl+c to stop the meeting.", c.sentinel)
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewText().
				Title(strings.TrimSpace(prompt)).
				Description(description).
				Value(&answer),
		),
	).WithTheme(huh.ThemeCharm())

	if err := c.run(form); err != nil {
		return "", c.mapError(err, allowInterrupt)
	}
	if allowInterrupt && IsInterrupt(answer, c.sentinel) {
		return "", ErrInterrupted
	}
	return strings.TrimSpace(answer), nil
}

func (c *FormChannel) PromptYesNo(prompt string) (bool, error) {
	var answer bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(strings.TrimSpace(prompt)).
				Affirmative("Yes").
				Negative("No").
				Value(&answer),
		),
	).WithTheme(huh.ThemeCharm())

	if err := c.run(form); err != nil {
		return false, c.mapError(err, true)
	}
	return answer, nil
}

func (c *FormChannel) mapError(err error, allowInterrupt bool) error {
	if errors.Is(err, huh.ErrUserAborted) && allowInterrupt {
		return ErrInterrupted
	}
	return errors.Wrap(err, "run form")
}
