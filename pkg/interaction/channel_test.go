package interaction

import (
	"bytes"
	"strings"
	"testing"

	"github.com/charmbracelet/huh"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYesNo(t *testing.T) {
	for _, in := range []string{"y", "Y", " yes ", "YES", "да"} {
		v, ok := ParseYesNo(in)
		assert.True(t, ok, in)
		assert.True(t, v, in)
	}
	for _, in := range []string{"n", "No", "нет"} {
		v, ok := ParseYesNo(in)
		assert.True(t, ok, in)
		assert.False(t, v, in)
	}
	for _, in := range []string{"", "maybe", "yess"} {
		_, ok := ParseYesNo(in)
		assert.False(t, ok, in)
	}
}

func TestIsInterrupt(t *testing.T) {
	assert.True(t, IsInterrupt("/interrupt", ""))
	assert.True(t, IsInterrupt("  /INTERRUPT \n", DefaultInterruptSentinel))
	assert.False(t, IsInterrupt("/interrupted", DefaultInterruptSentinel))
	assert.True(t, IsInterrupt("/stop", "/stop"))
}

func TestTerminalDisplayWritesLine(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminalChannel(strings.NewReader(""), &out)
	c.Display("[Guardrail] something")
	assert.Equal(t, "[Guardrail] something\n", out.String())
}

func TestTerminalPromptTextInterrupt(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminalChannel(strings.NewReader("/interrupt\n"), &out)
	_, err := c.PromptText("Your input", true)
	require.ErrorIs(t, err, ErrInterrupted)
}

func TestTerminalPromptTextReturnsAnswer(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminalChannel(strings.NewReader("/interrupt\n"), &out)
	answer, err := c.PromptText("Project name", false)
	require.NoError(t, err)
	assert.Equal(t, "/interrupt", answer)
}

func TestTerminalPromptYesNo(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminalChannel(strings.NewReader("yes\n"), &out)
	v, err := c.PromptYesNo("Approve phase")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestFormChannelMapsAbortToInterrupt(t *testing.T) {
	var out bytes.Buffer
	c := NewFormChannel(&out)
	c.run = func(*huh.Form) error { return huh.ErrUserAborted }

	_, err := c.PromptText("Your input", true)
	require.ErrorIs(t, err, ErrInterrupted)

	_, err = c.PromptText("Project name", false)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInterrupted))

	_, err = c.PromptYesNo("Approve phase")
	require.ErrorIs(t, err, ErrInterrupted)
}

func TestNewRejectsUnknownKind(t *testing.T) {
	_, err := New("carrier-pigeon")
	require.Error(t, err)

	ch, err := New(KindTerminal)
	require.NoError(t, err)
	assert.IsType(t, &TerminalChannel{}, ch)
}
