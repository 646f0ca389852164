package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/selune-dev/selune/pkg/tools"
)

// Message is one chat-completion message.
type Message struct {
	Role       string                 `json:"role"`
	Content    string                 `json:"content"`
	ToolCalls  []ToolCall             `json:"tool_calls,omitempty"`
	ToolCallID string                 `json:"tool_call_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request contains the parameters for one completion call.
type Request struct {
	Model        string
	Messages     []Message
	Tools        []tools.Spec
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// Response contains the completion result.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     *TokenUsage
}

// Provider is an interface for LLM API providers
type Provider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// NewProvider creates a provider by name.
func NewProvider(name, apiKey string) (Provider, error) {
	switch name {
	case "openai":
		return NewOpenAIProvider(apiKey), nil
	case "anthropic":
		return NewAnthropicProvider(apiKey), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

// IsRetryableError checks if an error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()

	// Network errors
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "timeout") {
		return true
	}

	// Rate limits
	if strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(msg, code) {
			return true
		}
	}

	return false
}
