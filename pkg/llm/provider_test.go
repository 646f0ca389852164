package llm

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	p, err := NewProvider("openai", "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = NewProvider("anthropic", "sk-ant-test")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = NewProvider("gemini", "key")
	assert.Error(t, err)
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limit status", errors.New("request failed with status 429"), true},
		{"rate limit text", errors.New("rate limit exceeded"), true},
		{"server error", errors.New("upstream returned 503"), true},
		{"timeout", errors.New("dial tcp: i/o timeout"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"auth failure", errors.New("invalid api key (401)"), false},
		{"bad request", errors.New("400 bad request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableError(tt.err))
		})
	}
}
