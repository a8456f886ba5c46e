// Package interaction is the human side of the meeting: showing progress and
// asking for free text or yes/no answers.
package interaction

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
)

// DefaultInterruptSentinel stops the meeting when typed at an interruptible prompt.
const DefaultInterruptSentinel = "/interrupt"

// ErrInterrupted signals an orderly stop requested by the human. It is not a
// failure and is handled at the top of the run loop only.
var ErrInterrupted = errors.New("meeting interrupted by user")

type Channel interface {
	Display(text string)
	// PromptText blocks until the human answers. With allowInterrupt, the
	// interrupt sentinel yields ErrInterrupted.
	PromptText(prompt string, allowInterrupt bool) (string, error)
	// PromptYesNo repeats the question until the answer parses.
	PromptYesNo(prompt string) (bool, error)
}

// IsInterrupt reports whether answer is the sentinel, ignoring case and
// surrounding whitespace.
func IsInterrupt(answer, sentinel string) bool {
	if sentinel == "" {
		sentinel = DefaultInterruptSentinel
	}
	return strings.EqualFold(strings.TrimSpace(answer), sentinel)
}

// ParseYesNo returns the answer and whether it was recognised.
func ParseYesNo(answer string) (value bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "д", "да":
		return true, true
	case "n", "no", "н", "нет":
		return false, true
	default:
		return false, false
	}
}

const (
	KindAuto     = "auto"
	KindTerminal = "terminal"
	KindForm     = "form"
)

// New picks a channel implementation. "auto" uses forms when both stdin and
// stdout are terminals and plain line prompts otherwise.
func New(kind string) (Channel, error) {
	switch kind {
	case KindTerminal:
		return NewTerminalChannel(os.Stdin, os.Stdout), nil
	case KindForm:
		return NewFormChannel(os.Stdout), nil
	case KindAuto, "":
		if isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
			return NewFormChannel(os.Stdout), nil
		}
		return NewTerminalChannel(os.Stdin, os.Stdout), nil
	default:
		return nil, errors.Errorf("unknown channel kind %q", kind)
	}
}
