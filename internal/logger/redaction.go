package logger

import (
	"io"
	"regexp"
)

// Redactor redacts sensitive information from logs
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Provider API keys
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),

			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Search subscription keys
			regexp.MustCompile(`Ocp-Apim-Subscription-Key["\s:=]+[a-zA-Z0-9]+`),

			// Auth tokens
			regexp.MustCompile(`token["\s:=]+[a-zA-Z0-9._-]{20,}`),

			// Generic secrets
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
			regexp.MustCompile(`api_key["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	return w.writer.Write([]byte(redacted))
}
