// Package llm is the completion adapter used by role agents. It speaks the
// OpenAI chat completions protocol and fails over across an ordered chain of
// providers (a cloud endpoint, a local Ollama server, ...).
package llm

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

const (
	MessageRoleSystem    = openai.ChatMessageRoleSystem
	MessageRoleUser      = openai.ChatMessageRoleUser
	MessageRoleAssistant = openai.ChatMessageRoleAssistant

	// DefaultModelKey selects the model used for roles without an explicit mapping.
	DefaultModelKey = "default"
	fallbackModel   = "gpt-4o-mini"
)

// ErrProvidersExhausted matches the error returned once every provider and
// retry has failed.
var ErrProvidersExhausted = errors.New("all llm providers exhausted")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client generates one role-scoped reply.
type Client interface {
	Complete(ctx context.Context, role string, messages []Message) (string, error)
}

// ExhaustedError carries the last provider failure.
type ExhaustedError struct {
	Calls int
	Last  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s after %d calls: %v", ErrProvidersExhausted.Error(), e.Calls, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

func (e *ExhaustedError) Is(target error) bool { return target == ErrProvidersExhausted }

// Provider is one OpenAI-compatible endpoint with a role to model mapping.
type Provider struct {
	Name     string
	Models   map[string]string
	JSONMode bool

	client *openai.Client
}

// NewProvider builds a provider. An empty baseURL targets api.openai.com.
func NewProvider(name, baseURL, apiKey string, models map[string]string) Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return Provider{
		Name:   name,
		Models: models,
		client: openai.NewClientWithConfig(cfg),
	}
}

// ModelFor returns the model configured for role.
func (p Provider) ModelFor(role string) string {
	if m := p.Models[role]; m != "" {
		return m
	}
	if m := p.Models[DefaultModelKey]; m != "" {
		return m
	}
	return fallbackModel
}

type FailoverClient struct {
	providers   []Provider
	attempts    int
	backoff     time.Duration
	timeout     time.Duration
	temperature float32
	sleep       func(ctx context.Context, d time.Duration) error
}

var _ Client = (*FailoverClient)(nil)

type Option func(*FailoverClient)

func WithRetryAttempts(n int) Option {
	return func(c *FailoverClient) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithBackoff sets the base delay; the n-th retry of a provider waits n*d.
func WithBackoff(d time.Duration) Option {
	return func(c *FailoverClient) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *FailoverClient) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithTemperature(t float32) Option {
	return func(c *FailoverClient) { c.temperature = t }
}

// WithDeterministic forces temperature 0 when on.
func WithDeterministic(on bool) Option {
	return func(c *FailoverClient) {
		if on {
			c.temperature = 0
		}
	}
}

func NewFailoverClient(providers []Provider, opts ...Option) (*FailoverClient, error) {
	if len(providers) == 0 {
		return nil, errors.New("llm: no providers configured")
	}
	c := &FailoverClient{
		providers:   providers,
		attempts:    2,
		backoff:     1400 * time.Millisecond,
		timeout:     45 * time.Second,
		temperature: 0.35,
		sleep:       sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Complete tries every provider in order, each up to the configured number of
// attempts. Cancellation of ctx stops immediately and is returned as is.
func (c *FailoverClient) Complete(ctx context.Context, role string, messages []Message) (string, error) {
	var lastErr error
	calls := 0
	for _, p := range c.providers {
		for attempt := 1; attempt <= c.attempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			calls++
			text, err := c.completeOnce(ctx, p, role, messages)
			if err == nil {
				return text, nil
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = err
			log.Warn().Err(err).
				Str("provider", p.Name).
				Str("role", role).
				Int("attempt", attempt).
				Msg("llm completion failed")

			if attempt < c.attempts {
				if err := c.sleep(ctx, time.Duration(attempt)*c.backoff); err != nil {
					return "", err
				}
			}
		}
	}
	return "", &ExhaustedError{Calls: calls, Last: lastErr}
}

func (c *FailoverClient) completeOnce(ctx context.Context, p Provider, role string, messages []Message) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	temperature := c.temperature
	if temperature == 0 {
		// go-openai tags ChatCompletionRequest.Temperature with omitempty, so
		// 0 would not be sent and the server default (1.0) would apply.
		temperature = math.SmallestNonzeroFloat32
	}
	req := openai.ChatCompletionRequest{
		Model:       p.ModelFor(role),
		Messages:    toOpenAI(messages),
		Temperature: temperature,
	}
	if p.JSONMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := p.client.CreateChatCompletion(callCtx, req)
	if err != nil {
		return "", errors.Wrapf(err, "provider %s", p.Name)
	}
	if len(resp.Choices) == 0 {
		return "", errors.Errorf("provider %s: empty completion", p.Name)
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAI(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}
