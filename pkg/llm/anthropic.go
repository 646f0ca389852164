package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for Anthropic Claude
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey string) *AnthropicProvider {
	return &AnthropicProvider{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Call makes an API call to Anthropic Claude
func (p *AnthropicProvider) Call(ctx context.Context, request Request) (*Response, error) {
	anthropicMessages := []anthropic.MessageParam{}

	for _, msg := range request.Messages {
		if msg.Role == "system" {
			continue // System messages handled separately
		}

		// Tool results
		if msg.Role == "tool" {
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
			continue
		}

		// Assistant messages with tool calls
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			blocks := []anthropic.ContentBlockParamUnion{}
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, tc.Arguments, tc.Name))
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: blocks,
			})
			continue
		}

		if msg.Role == "user" {
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		} else if msg.Role == "assistant" {
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  anthropicMessages,
		MaxTokens: int64(maxTokens),
	}

	if request.SystemPrompt != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: request.SystemPrompt},
		}
	}

	if request.Temperature > 0 {
		reqParams.Temperature = anthropic.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		toolParams := []anthropic.ToolUnionParam{}
		for _, spec := range request.Tools {
			toolParam := anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: spec.InputSchema["properties"],
				},
			}

			if required, ok := spec.InputSchema["required"].([]string); ok {
				toolParam.InputSchema.Required = required
			}

			toolParams = append(toolParams, anthropic.ToolUnionParam{OfTool: &toolParam})
		}
		reqParams.Tools = toolParams
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return nil, err
	}

	content := ""
	toolCalls := []ToolCall{}

	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if err := json.Unmarshal([]byte(b.JSON.Input.Raw()), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool input: %w", err)
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}

	return &Response{
		Content:   content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}
