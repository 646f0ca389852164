// Package platform defines the narrow contract the session controller has
// with a remote conversational-agent service: agent and thread lifecycle,
// message append, and a run that may auto-invoke registered tools.
package platform

import (
	"context"

	"github.com/selune-dev/selune/pkg/tools"
)

// Run terminal statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// AgentSpec describes an agent to provision.
type AgentSpec struct {
	Name         string
	Model        string
	Instructions string
	Temperature  float64
	Tools        []tools.Spec
	// HostedTools names platform-native tools ("bing_grounding",
	// "code_interpreter") that run service-side, if the backend has them.
	HostedTools []string
}

// RunParams parameterizes one run on an existing agent and thread.
type RunParams struct {
	AgentID             string
	ThreadID            string
	MaxPromptTokens     int
	MaxCompletionTokens int
}

// Annotation is a grounding citation attached to assistant text.
type Annotation struct {
	Text string
	URL  string
}

// GeneratedFile references service-side file output from a run.
type GeneratedFile struct {
	FileID string
}

// RunOutcome is the normalized result of a terminal run.
type RunOutcome struct {
	Status       string
	Reason       string // populated when Status is StatusFailed
	Text         string // last assistant message text; empty if none
	Annotations  []Annotation
	Images       []GeneratedFile
	CodeSnippets []string
}

// ToolInvoker executes a named tool and always yields displayable text.
// *tools.Registry satisfies this.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, args map[string]interface{}) string
}

// Client is the remote agent platform contract. Implementations return an
// error only for transport-level problems; semantic run failures surface as
// a RunOutcome with StatusFailed.
type Client interface {
	CreateAgent(ctx context.Context, spec AgentSpec) (string, error)
	DeleteAgent(ctx context.Context, agentID string) error

	CreateThread(ctx context.Context) (string, error)
	DeleteThread(ctx context.Context, threadID string) error

	AddMessage(ctx context.Context, threadID, role, content string) error
	Run(ctx context.Context, params RunParams) (*RunOutcome, error)

	// SaveFile downloads a run-generated file to a local path.
	SaveFile(ctx context.Context, fileID, destPath string) error
}
