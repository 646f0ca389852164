// Package local emulates the agent platform on top of plain chat
// completions. Agent and thread handles live in a SQLite database, and a
// run replays the thread through an llm.Provider with a bounded tool loop.
package local

import (
	"context"
	"fmt"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"

	"github.com/selune-dev/selune/pkg/llm"
	"github.com/selune-dev/selune/pkg/platform"
)

const maxToolTurns = 10

// Platform implements platform.Client without a remote service.
type Platform struct {
	store      *handleStore
	provider   llm.Provider
	invoker    platform.ToolInvoker
	maxRetries int
	retryBase  time.Duration
}

// Option configures a Platform.
type Option func(*Platform)

// WithRetryBase overrides the first retry delay (production default 1s).
func WithRetryBase(d time.Duration) Option {
	return func(p *Platform) { p.retryBase = d }
}

// New opens the handle store at dbPath and returns a local platform backed
// by provider. invoker may be nil when no local tools are registered.
func New(dbPath string, provider llm.Provider, invoker platform.ToolInvoker, opts ...Option) (*Platform, error) {
	store, err := newHandleStore(dbPath)
	if err != nil {
		return nil, err
	}

	p := &Platform{
		store:      store,
		provider:   provider,
		invoker:    invoker,
		maxRetries: 3,
		retryBase:  time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Close releases the handle store.
func (p *Platform) Close() error {
	return p.store.close()
}

// CreateAgent records the agent definition and returns its handle.
func (p *Platform) CreateAgent(ctx context.Context, spec platform.AgentSpec) (string, error) {
	suffix, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate agent id: %w", err)
	}
	id := "agent_" + suffix

	if err := p.store.insertAgent(id, spec); err != nil {
		return "", err
	}
	log.Debug().Str("agent_id", id).Str("model", spec.Model).Msg("Created local agent")
	return id, nil
}

// DeleteAgent removes the agent definition.
func (p *Platform) DeleteAgent(ctx context.Context, agentID string) error {
	return p.store.deleteAgent(agentID)
}

// CreateThread records a new empty thread and returns its handle.
func (p *Platform) CreateThread(ctx context.Context) (string, error) {
	suffix, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("failed to generate thread id: %w", err)
	}
	id := "thread_" + suffix

	if err := p.store.insertThread(id); err != nil {
		return "", err
	}
	return id, nil
}

// DeleteThread removes the thread and its messages.
func (p *Platform) DeleteThread(ctx context.Context, threadID string) error {
	return p.store.deleteThread(threadID)
}

// AddMessage appends a message to the thread history.
func (p *Platform) AddMessage(ctx context.Context, threadID, role, content string) error {
	exists, err := p.store.threadExists(threadID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("thread not found: %s", threadID)
	}
	return p.store.appendMessage(threadID, role, content)
}

// Run replays the thread through the provider, executing tool calls until
// the model answers with plain text. Provider failures that survive the
// retry policy surface as a failed outcome rather than a transport error.
func (p *Platform) Run(ctx context.Context, params platform.RunParams) (*platform.RunOutcome, error) {
	agent, err := p.store.getAgent(params.AgentID)
	if err != nil {
		return nil, err
	}
	history, err := p.store.threadHistory(params.ThreadID)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history))
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	text, err := p.executeWithTools(ctx, agent, messages, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn().Err(err).Str("thread_id", params.ThreadID).Msg("Local run failed")
		return &platform.RunOutcome{Status: platform.StatusFailed, Reason: err.Error()}, nil
	}

	if text != "" {
		if err := p.store.appendMessage(params.ThreadID, "assistant", text); err != nil {
			return nil, err
		}
	}
	return &platform.RunOutcome{Status: platform.StatusCompleted, Text: text}, nil
}

// SaveFile is unsupported: chat completions never produce file output.
func (p *Platform) SaveFile(ctx context.Context, fileID, destPath string) error {
	return fmt.Errorf("local platform does not generate files (file %s)", fileID)
}

func (p *Platform) executeWithTools(ctx context.Context, agent *agentRow, messages []llm.Message, params platform.RunParams) (string, error) {
	currentMessages := messages

	// Maximum turns to prevent infinite loops
	for turn := 0; turn < maxToolTurns; turn++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		req := llm.Request{
			Model:        agent.Model,
			Messages:     currentMessages,
			Tools:        agent.Tools,
			Temperature:  agent.Temperature,
			MaxTokens:    params.MaxCompletionTokens,
			SystemPrompt: agent.Instructions,
		}

		response, err := p.callWithRetry(ctx, req)
		if err != nil {
			return "", err
		}

		if len(response.ToolCalls) == 0 {
			return response.Content, nil
		}

		currentMessages = append(currentMessages, llm.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})

		for _, toolCall := range response.ToolCalls {
			var result string
			if p.invoker != nil {
				result = p.invoker.Invoke(ctx, toolCall.Name, toolCall.Arguments)
			} else {
				result = "tool not found: " + toolCall.Name
			}

			log.Debug().
				Str("tool", toolCall.Name).
				Int("turn", turn).
				Msg("Executed tool call")
			currentMessages = append(currentMessages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: toolCall.ID,
			})
		}
	}

	return "", fmt.Errorf("maximum tool execution turns exceeded")
}

// callWithRetry retries transient provider errors with exponential backoff.
func (p *Platform) callWithRetry(ctx context.Context, req llm.Request) (*llm.Response, error) {
	var lastErr error

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		response, err := p.provider.Call(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err

		if !llm.IsRetryableError(err) {
			return nil, err
		}
		if attempt == p.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := p.retryBase * (1 << attempt)
		log.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after provider error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", p.maxRetries, lastErr)
}
