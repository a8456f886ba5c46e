package interaction

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/tcnksm/go-input"
)

// TerminalChannel prompts line by line. It works with pipes as well as ttys.
type TerminalChannel struct {
	out      io.Writer
	ui       *input.UI
	theme    theme
	sentinel string
}

var _ Channel = (*TerminalChannel)(nil)

func NewTerminalChannel(in io.Reader, out io.Writer) *TerminalChannel {
	return &TerminalChannel{
		out:      out,
		ui:       &input.UI{Writer: out, Reader: in},
		theme:    newTheme(out),
		sentinel: DefaultInterruptSentinel,
	}
}

func (c *TerminalChannel) Display(text string) {
	_, _ = fmt.Fprintln(c.out, c.theme.render(text))
}

func (c *TerminalChannel) PromptText(prompt string, allowInterrupt bool) (string, error) {
	query := c.theme.prompt.Render(prompt)
	if allowInterrupt {
		query += fmt.Sprintf("\n(type %s to stop the meeting)", c.sentinel)
	}
	answer, err := c.ui.Ask(query, &input.Options{
		HideOrder: true,
		Loop:      false,
	})
	if err != nil {
		return "", c.mapError(err, allowInterrupt)
	}
	if allowInterrupt && IsInterrupt(answer, c.sentinel) {
		return "", ErrInterrupted
	}
	return answer, nil
}

func (c *TerminalChannel) PromptYesNo(prompt string) (bool, error) {
	answer, err := c.ui.Ask(c.theme.prompt.Render(prompt)+" [y/n]", &input.Options{
		Required:  true,
		Loop:      true,
		HideOrder: true,
		ValidateFunc: func(answer string) error {
			if _, ok := ParseYesNo(answer); !ok {
				return errors.Errorf("please enter 'y' or 'n'")
			}
			return nil
		},
	})
	if err != nil {
		return false, c.mapError(err, true)
	}
	v, _ := ParseYesNo(answer)
	return v, nil
}

func (c *TerminalChannel) mapError(err error, allowInterrupt bool) error {
	if errors.Is(err, input.ErrInterrupted) && allowInterrupt {
		return ErrInterrupted
	}
	return errors.Wrap(err, "read answer")
}
