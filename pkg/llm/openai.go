package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider for OpenAI
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Call makes an API call to OpenAI
func (p *OpenAIProvider) Call(ctx context.Context, request Request) (*Response, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(request.SystemPrompt))
	}

	for _, msg := range request.Messages {
		if msg.Role == "system" {
			continue // Already handled above
		}

		switch msg.Role {
		case "user":
			messages = append(messages, openai.UserMessage(msg.Content))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				toolCalls := []openai.ChatCompletionMessageToolCall{}
				for _, tc := range msg.ToolCalls {
					argsJSON, err := json.Marshal(tc.Arguments)
					if err != nil {
						return nil, fmt.Errorf("failed to marshal tool arguments: %w", err)
					}

					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCall{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunction{
							Name:      tc.Name,
							Arguments: string(argsJSON),
						},
					})
				}

				assistantMsg := openai.ChatCompletionMessage{
					Role:      "assistant",
					Content:   msg.Content,
					ToolCalls: toolCalls,
				}
				messages = append(messages, assistantMsg.ToParam())
			} else {
				messages = append(messages, openai.AssistantMessage(msg.Content))
			}
		case "tool":
			messages = append(messages, openai.ToolMessage(msg.ToolCallID, msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	if len(request.Tools) > 0 {
		toolParams := []openai.ChatCompletionToolParam{}
		for _, spec := range request.Tools {
			toolParams = append(toolParams, openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.InputSchema),
				},
			})
		}
		params.Tools = toolParams
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]

	toolCalls := []ToolCall{}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
		}

		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return &Response{
		Content:   choice.Message.Content,
		ToolCalls: toolCalls,
		Usage: &TokenUsage{
			InputTokens:  int(response.Usage.PromptTokens),
			OutputTokens: int(response.Usage.CompletionTokens),
		},
	}, nil
}
