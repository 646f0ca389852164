// Package rest implements platform.Client against an Assistants-style
// REST API: agents, threads, polled runs with tool-output submission, and
// file content download.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selune-dev/selune/pkg/platform"
	"github.com/selune-dev/selune/pkg/tools"
)

// Client talks to an Assistants-style HTTP API.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	invoker      platform.ToolInvoker
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval changes the run polling interval.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// NewClient creates a REST platform client. invoker executes local tool
// calls when a run stops for required action; it may be nil when the agent
// has no local tools.
func NewClient(baseURL, apiKey string, invoker platform.ToolInvoker, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		invoker:      invoker,
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type assistantObject struct {
	ID string `json:"id"`
}

type threadObject struct {
	ID string `json:"id"`
}

type runObject struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	LastError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_error"`
	RequiredAction *struct {
		SubmitToolOutputs struct {
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"submit_tool_outputs"`
	} `json:"required_action"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type messageList struct {
	Data []messageObject `json:"data"`
}

type messageObject struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text *struct {
		Value       string `json:"value"`
		Annotations []struct {
			Text        string `json:"text"`
			URLCitation *struct {
				URL   string `json:"url"`
				Title string `json:"title"`
			} `json:"url_citation"`
		} `json:"annotations"`
	} `json:"text"`
	ImageFile *struct {
		FileID string `json:"file_id"`
	} `json:"image_file"`
}

type runStepList struct {
	Data []struct {
		StepDetails struct {
			ToolCalls []struct {
				Type            string `json:"type"`
				CodeInterpreter *struct {
					Input string `json:"input"`
				} `json:"code_interpreter"`
			} `json:"tool_calls"`
		} `json:"step_details"`
	} `json:"data"`
}

// CreateAgent provisions an assistant and returns its id.
func (c *Client) CreateAgent(ctx context.Context, spec platform.AgentSpec) (string, error) {
	body := map[string]interface{}{
		"name":         spec.Name,
		"model":        spec.Model,
		"instructions": spec.Instructions,
		"temperature":  spec.Temperature,
		"tools":        wireTools(spec),
	}

	var out assistantObject
	if err := c.do(ctx, http.MethodPost, "/assistants", body, &out); err != nil {
		return "", fmt.Errorf("failed to create agent: %w", err)
	}
	return out.ID, nil
}

// DeleteAgent removes an assistant.
func (c *Client) DeleteAgent(ctx context.Context, agentID string) error {
	if err := c.do(ctx, http.MethodDelete, "/assistants/"+agentID, nil, nil); err != nil {
		return fmt.Errorf("failed to delete agent %s: %w", agentID, err)
	}
	return nil
}

// CreateThread opens a new empty thread.
func (c *Client) CreateThread(ctx context.Context) (string, error) {
	var out threadObject
	if err := c.do(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &out); err != nil {
		return "", fmt.Errorf("failed to create thread: %w", err)
	}
	return out.ID, nil
}

// DeleteThread removes a thread and its messages.
func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	if err := c.do(ctx, http.MethodDelete, "/threads/"+threadID, nil, nil); err != nil {
		return fmt.Errorf("failed to delete thread %s: %w", threadID, err)
	}
	return nil
}

// AddMessage appends a message to a thread.
func (c *Client) AddMessage(ctx context.Context, threadID, role, content string) error {
	body := map[string]interface{}{
		"role":    role,
		"content": content,
	}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil); err != nil {
		return fmt.Errorf("failed to add message to thread %s: %w", threadID, err)
	}
	return nil
}

// Run starts a run, drives it to a terminal status (submitting local tool
// outputs along the way), and normalizes the result.
func (c *Client) Run(ctx context.Context, params platform.RunParams) (*platform.RunOutcome, error) {
	body := map[string]interface{}{
		"assistant_id": params.AgentID,
	}
	if params.MaxPromptTokens > 0 {
		body["max_prompt_tokens"] = params.MaxPromptTokens
	}
	if params.MaxCompletionTokens > 0 {
		body["max_completion_tokens"] = params.MaxCompletionTokens
	}

	var run runObject
	base := "/threads/" + params.ThreadID + "/runs"
	if err := c.do(ctx, http.MethodPost, base, body, &run); err != nil {
		return nil, fmt.Errorf("failed to start run: %w", err)
	}

	run, err := c.pollRun(ctx, params.ThreadID, run)
	if err != nil {
		return nil, err
	}

	if run.Status != "completed" {
		reason := run.Status
		if run.LastError != nil && run.LastError.Message != "" {
			reason = run.LastError.Message
		}
		log.Warn().
			Str("thread_id", params.ThreadID).
			Str("status", run.Status).
			Str("reason", reason).
			Msg("Run ended without completing")
		return &platform.RunOutcome{Status: platform.StatusFailed, Reason: reason}, nil
	}

	outcome := &platform.RunOutcome{Status: platform.StatusCompleted}
	if err := c.collectMessages(ctx, params.ThreadID, outcome); err != nil {
		return nil, err
	}
	if err := c.collectCodeSnippets(ctx, params.ThreadID, run.ID, outcome); err != nil {
		// Snippets are supplementary output; the run itself succeeded.
		log.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to fetch run steps")
	}
	return outcome, nil
}

func (c *Client) pollRun(ctx context.Context, threadID string, run runObject) (runObject, error) {
	path := "/threads/" + threadID + "/runs/" + run.ID
	for {
		switch run.Status {
		case "completed", "failed", "cancelled", "expired", "incomplete":
			return run, nil
		case "requires_action":
			if err := c.submitToolOutputs(ctx, threadID, run); err != nil {
				return run, err
			}
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		run = runObject{}
		if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
			return run, fmt.Errorf("failed to poll run: %w", err)
		}
	}
}

func (c *Client) submitToolOutputs(ctx context.Context, threadID string, run runObject) error {
	calls := run.RequiredAction.SubmitToolOutputs.ToolCalls
	outputs := make([]map[string]interface{}, 0, len(calls))
	for _, call := range calls {
		args := map[string]interface{}{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				log.Warn().Err(err).Str("tool", call.Function.Name).Msg("Malformed tool arguments")
			}
		}

		var result string
		if c.invoker != nil {
			result = c.invoker.Invoke(ctx, call.Function.Name, args)
		} else {
			result = "tool not found: " + call.Function.Name
		}

		log.Debug().
			Str("tool", call.Function.Name).
			Str("tool_call_id", call.ID).
			Msg("Submitting tool output")
		outputs = append(outputs, map[string]interface{}{
			"tool_call_id": call.ID,
			"output":       result,
		})
	}

	body := map[string]interface{}{"tool_outputs": outputs}
	path := "/threads/" + threadID + "/runs/" + run.ID + "/submit_tool_outputs"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("failed to submit tool outputs: %w", err)
	}
	return nil
}

func (c *Client) collectMessages(ctx context.Context, threadID string, outcome *platform.RunOutcome) error {
	var list messageList
	path := "/threads/" + threadID + "/messages?order=desc&limit=20"
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return fmt.Errorf("failed to list messages: %w", err)
	}

	for _, msg := range list.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, block := range msg.Content {
			switch {
			case block.Type == "text" && block.Text != nil:
				outcome.Text = block.Text.Value
				for _, ann := range block.Text.Annotations {
					if ann.URLCitation == nil {
						continue
					}
					label := ann.URLCitation.Title
					if label == "" {
						label = ann.Text
					}
					outcome.Annotations = append(outcome.Annotations, platform.Annotation{
						Text: label,
						URL:  ann.URLCitation.URL,
					})
				}
			case block.Type == "image_file" && block.ImageFile != nil:
				outcome.Images = append(outcome.Images, platform.GeneratedFile{
					FileID: block.ImageFile.FileID,
				})
			}
		}
		// Only the latest assistant message belongs to this run.
		break
	}
	return nil
}

func (c *Client) collectCodeSnippets(ctx context.Context, threadID, runID string, outcome *platform.RunOutcome) error {
	var steps runStepList
	path := "/threads/" + threadID + "/runs/" + runID + "/steps"
	if err := c.do(ctx, http.MethodGet, path, nil, &steps); err != nil {
		return err
	}
	for _, step := range steps.Data {
		for _, call := range step.StepDetails.ToolCalls {
			if call.Type == "code_interpreter" && call.CodeInterpreter != nil && call.CodeInterpreter.Input != "" {
				outcome.CodeSnippets = append(outcome.CodeSnippets, call.CodeInterpreter.Input)
			}
		}
	}
	return nil
}

// SaveFile downloads a generated file's content to destPath.
func (c *Client) SaveFile(ctx context.Context, fileID, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download file %s: %w", fileID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("file download returned status %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read file content: %w", err)
	}
	if err := os.WriteFile(destPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("api-key", c.apiKey)
}

func wireTools(spec platform.AgentSpec) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(spec.Tools)+len(spec.HostedTools))
	for _, hosted := range spec.HostedTools {
		out = append(out, map[string]interface{}{"type": hosted})
	}
	for _, t := range spec.Tools {
		out = append(out, map[string]interface{}{
			"type":     "function",
			"function": functionPayload(t),
		})
	}
	return out
}

func functionPayload(t tools.Spec) map[string]interface{} {
	return map[string]interface{}{
		"name":        t.Name,
		"description": t.Description,
		"parameters":  t.InputSchema,
	}
}
