package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "selune.log")

	l, err := New(Config{
		Level:   "debug",
		File:    logFile,
		Console: false,
	})
	require.NoError(t, err)
	defer l.Close()

	zl := l.GetZerolog()
	zl.Info().Str("component", "test").Msg("hello")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), "hello")
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	l, err := New(Config{Level: "nonsense", Console: false})
	require.NoError(t, err)
	defer l.Close()

	assert.Equal(t, "info", l.GetZerolog().GetLevel().String())
}

func TestRedactor(t *testing.T) {
	r := NewRedactor()

	tests := []struct {
		name  string
		input string
	}{
		{"openai key", "using key sk-abcdefghijklmnopqrstuvwxyz123456"},
		{"anthropic key", "key=sk-ant-REDACTED"},
		{"bearer token", "Authorization: Bearer abc.def.ghi"},
		{"generic secret", `secret="super-sensitive-value"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.Redact(tt.input)
			assert.Contains(t, out, "[REDACTED]")
		})
	}
}

func TestRedactor_LeavesPlainTextAlone(t *testing.T) {
	r := NewRedactor()
	assert.Equal(t, "session saved", r.Redact("session saved"))
}
