package directory

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/selune-dev/selune/pkg/llm"
	"github.com/selune-dev/selune/pkg/session"
)

const (
	placeholderTitle = "New conversation"

	summarizePrompt = "Summarize the conversation so far into a 6-word or less title. " +
		"Do not use any quotation marks or punctuation. " +
		"Do not include any other commentary or description."

	summaryMaxTokens = 64
	headlineMaxRunes = 30
)

// Summarizer produces a short human-readable title for a conversation.
// Implementations never return an error: a title is always available.
type Summarizer interface {
	Summarize(ctx context.Context, turns []session.Turn) string
}

// LLMSummarizer titles conversations with a small model. On any provider
// failure it falls back to the headline heuristic.
type LLMSummarizer struct {
	provider llm.Provider
	model    string
	fallback HeadlineSummarizer
}

// NewLLMSummarizer creates a model-backed summarizer.
func NewLLMSummarizer(provider llm.Provider, model string) *LLMSummarizer {
	return &LLMSummarizer{provider: provider, model: model}
}

func (s *LLMSummarizer) Summarize(ctx context.Context, turns []session.Turn) string {
	messages := make([]llm.Message, 0, len(turns)+1)
	for _, turn := range turns {
		if turn.Role == session.RoleUser {
			messages = append(messages, llm.Message{Role: session.RoleUser, Content: turn.Content})
		}
	}
	if len(messages) == 0 {
		return placeholderTitle
	}
	messages = append(messages, llm.Message{Role: session.RoleUser, Content: summarizePrompt})

	resp, err := s.provider.Call(ctx, llm.Request{
		Model:     s.model,
		Messages:  messages,
		MaxTokens: summaryMaxTokens,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Summarizer call failed, using headline")
		return s.fallback.Summarize(ctx, turns)
	}

	title := strings.TrimSpace(resp.Content)
	if title == "" {
		return s.fallback.Summarize(ctx, turns)
	}
	return title
}

// HeadlineSummarizer titles a conversation with the opening of its first
// user turn. Zero-cost, used standalone or as the LLM fallback.
type HeadlineSummarizer struct{}

func (HeadlineSummarizer) Summarize(_ context.Context, turns []session.Turn) string {
	for _, turn := range turns {
		if turn.Role != session.RoleUser {
			continue
		}
		text := strings.TrimSpace(turn.Content)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > headlineMaxRunes {
			return string(runes[:headlineMaxRunes]) + "..."
		}
		return text
	}
	return placeholderTitle
}
