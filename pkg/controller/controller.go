// Package controller owns the session lifecycle: lazy provisioning of the
// remote agent and thread, the submit round trip, and durable persistence
// of every completed exchange.
package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/selune-dev/selune/pkg/llm"
	"github.com/selune-dev/selune/pkg/platform"
	"github.com/selune-dev/selune/pkg/session"
	"github.com/selune-dev/selune/pkg/tools"
)

const noResponseFallback = "No response from agent"

// Settings describes the agent every session of this controller provisions.
type Settings struct {
	AgentName           string
	Model               string
	Instructions        string
	Temperature         float64
	EnabledTools        []string
	HostedTools         []string
	MaxPromptTokens     int
	MaxCompletionTokens int
}

// Session is a loaded conversation: the durable record plus its id.
type Session struct {
	ID     string
	Record *session.Record
}

// Controller drives conversations against the agent platform.
type Controller struct {
	store      *session.Store
	client     platform.Client
	registry   *tools.Registry
	settings   Settings
	maxRetries int
	retryBase  time.Duration
}

// Option configures a Controller.
type Option func(*Controller)

// WithRetryBase overrides the first retry delay (production default 1s).
func WithRetryBase(d time.Duration) Option {
	return func(c *Controller) { c.retryBase = d }
}

// New creates a Controller. registry may be nil when no local tools exist.
func New(store *session.Store, client platform.Client, registry *tools.Registry, settings Settings, opts ...Option) *Controller {
	c := &Controller{
		store:      store,
		client:     client,
		registry:   registry,
		settings:   settings,
		maxRetries: 3,
		retryBase:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartOrResume loads the persisted record for id. A brand new id yields an
// empty session; the platform is not touched either way.
func (c *Controller) StartOrResume(id string) (*Session, error) {
	rec, err := c.store.Load(id)
	if err != nil {
		return nil, err
	}
	return &Session{ID: id, Record: rec}, nil
}

// Submit appends the user turn, runs the exchange against the platform, and
// persists the whole record once the round trip is over. Remote failures of
// any kind come back as the assistant turn's content; an error return means
// the exchange could not be persisted locally.
func (c *Controller) Submit(ctx context.Context, sess *Session, text string) (*session.Turn, error) {
	sess.Record.Turns = append(sess.Record.Turns, session.Turn{
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: time.Now().UTC(),
	})

	assistant := c.roundTrip(ctx, sess, text)
	assistant.Role = session.RoleAssistant
	assistant.Timestamp = time.Now().UTC()
	sess.Record.Turns = append(sess.Record.Turns, assistant)

	if err := c.store.Save(sess.ID, sess.Record); err != nil {
		return nil, fmt.Errorf("failed to persist session %s: %w", sess.ID, err)
	}

	saved := &sess.Record.Turns[len(sess.Record.Turns)-1]
	return saved, nil
}

// Reset deletes the remote agent and thread (best effort) and clears the
// in-memory conversation. The persisted record is left as it was.
func (c *Controller) Reset(ctx context.Context, sess *Session) {
	if sess.Record.AgentID != "" {
		if err := c.client.DeleteAgent(ctx, sess.Record.AgentID); err != nil {
			log.Warn().Err(err).Str("agent_id", sess.Record.AgentID).Msg("Failed to delete remote agent")
		}
	}
	if sess.Record.ThreadID != "" {
		if err := c.client.DeleteThread(ctx, sess.Record.ThreadID); err != nil {
			log.Warn().Err(err).Str("thread_id", sess.Record.ThreadID).Msg("Failed to delete remote thread")
		}
	}

	sess.Record.AgentID = ""
	sess.Record.ThreadID = ""
	sess.Record.Turns = nil
}

// roundTrip performs the remote exchange and always produces an assistant
// turn; errors become its content.
func (c *Controller) roundTrip(ctx context.Context, sess *Session, text string) session.Turn {
	if err := c.ensureProvisioned(ctx, sess); err != nil {
		return session.Turn{Content: "Run failed: " + err.Error()}
	}

	rec := sess.Record
	err := c.withRetry(ctx, "add message", func() error {
		return c.client.AddMessage(ctx, rec.ThreadID, session.RoleUser, text)
	})
	if err != nil {
		return session.Turn{Content: "Run failed: " + err.Error()}
	}

	var outcome *platform.RunOutcome
	err = c.withRetry(ctx, "run", func() error {
		var runErr error
		outcome, runErr = c.client.Run(ctx, platform.RunParams{
			AgentID:             rec.AgentID,
			ThreadID:            rec.ThreadID,
			MaxPromptTokens:     c.settings.MaxPromptTokens,
			MaxCompletionTokens: c.settings.MaxCompletionTokens,
		})
		return runErr
	})
	if err != nil {
		return session.Turn{Content: "Run failed: " + err.Error()}
	}

	if outcome.Status == platform.StatusFailed {
		log.Warn().
			Str("session_id", sess.ID).
			Str("reason", outcome.Reason).
			Msg("Run failed")
		return session.Turn{Content: "Run failed: " + outcome.Reason}
	}
	if outcome.Text == "" {
		return session.Turn{Content: noResponseFallback}
	}
	return c.assembleTurn(ctx, sess.ID, outcome)
}

// ensureProvisioned creates the remote agent and thread on first submit.
// Either both handles end up set or neither does.
func (c *Controller) ensureProvisioned(ctx context.Context, sess *Session) error {
	if sess.Record.Provisioned() {
		return nil
	}

	spec := platform.AgentSpec{
		Name:         c.settings.AgentName,
		Model:        c.settings.Model,
		Instructions: c.settings.Instructions,
		Temperature:  c.settings.Temperature,
		HostedTools:  c.settings.HostedTools,
	}
	if c.registry != nil {
		spec.Tools = c.registry.Specs(c.settings.EnabledTools)
	}

	var agentID string
	err := c.withRetry(ctx, "create agent", func() error {
		var createErr error
		agentID, createErr = c.client.CreateAgent(ctx, spec)
		return createErr
	})
	if err != nil {
		return err
	}

	var threadID string
	err = c.withRetry(ctx, "create thread", func() error {
		var createErr error
		threadID, createErr = c.client.CreateThread(ctx)
		return createErr
	})
	if err != nil {
		// Roll back so the session never holds a lone agent handle.
		if delErr := c.client.DeleteAgent(ctx, agentID); delErr != nil {
			log.Warn().Err(delErr).Str("agent_id", agentID).Msg("Failed to roll back agent")
		}
		return err
	}

	sess.Record.AgentID = agentID
	sess.Record.ThreadID = threadID
	log.Info().
		Str("session_id", sess.ID).
		Str("agent_id", agentID).
		Str("thread_id", threadID).
		Msg("Provisioned remote agent and thread")
	return nil
}

// assembleTurn combines the run's text, citations, saved images, and code
// snippets into the assistant turn.
func (c *Controller) assembleTurn(ctx context.Context, sessionID string, outcome *platform.RunOutcome) session.Turn {
	turn := session.Turn{Content: outcome.Text}

	if len(outcome.Annotations) > 0 {
		var lines []string
		for _, ann := range outcome.Annotations {
			lines = append(lines, fmt.Sprintf("- %s: %s", ann.Text, ann.URL))
			turn.Citations = append(turn.Citations, session.Citation{Label: ann.Text, URL: ann.URL})
		}
		turn.Content += "\n\n### Citations:\n" + strings.Join(lines, "\n")
	}

	for _, img := range outcome.Images {
		path, err := c.saveImage(ctx, sessionID, img.FileID)
		if err != nil {
			log.Warn().Err(err).Str("file_id", img.FileID).Msg("Failed to save generated image")
			continue
		}
		turn.Content += fmt.Sprintf("\n\n![image](%s)", filepath.ToSlash(path))
		turn.Attachments = append(turn.Attachments, session.Artifact{
			Kind:       session.ArtifactImage,
			PayloadRef: path,
		})
	}

	for _, snippet := range outcome.CodeSnippets {
		turn.Content += "\n\n**Used Code Snippet:**\n```python\n" + snippet + "\n```"
		if path, err := c.saveSnippet(sessionID, snippet); err == nil {
			turn.Attachments = append(turn.Attachments, session.Artifact{
				Kind:       session.ArtifactCode,
				PayloadRef: path,
			})
		} else {
			log.Warn().Err(err).Msg("Failed to save code snippet")
		}
	}

	return turn
}

func (c *Controller) saveImage(ctx context.Context, sessionID, fileID string) (string, error) {
	dir := c.store.ArtifactsDir(sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("code_interpreter_result_%s.png", shortHex()))
	if err := c.client.SaveFile(ctx, fileID, path); err != nil {
		return "", err
	}
	return path, nil
}

func (c *Controller) saveSnippet(sessionID, snippet string) (string, error) {
	dir := c.store.ArtifactsDir(sessionID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create artifacts directory: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("code_interpreter_input_%s.py", shortHex()))
	if err := os.WriteFile(path, []byte(snippet), 0600); err != nil {
		return "", fmt.Errorf("failed to write snippet: %w", err)
	}
	return path, nil
}

// withRetry retries transient platform errors with exponential backoff.
func (c *Controller) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !llm.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries-1 {
			break
		}

		// Exponential backoff: 1s, 2s, 4s
		delay := c.retryBase * (1 << attempt)
		log.Info().
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying after platform error")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
