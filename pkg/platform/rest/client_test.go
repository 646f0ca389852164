package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selune-dev/selune/pkg/platform"
	"github.com/selune-dev/selune/pkg/tools"
)

type recordingInvoker struct {
	mu    sync.Mutex
	calls []string
	reply string
}

func (r *recordingInvoker) Invoke(_ context.Context, name string, args map[string]interface{}) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, name)
	return r.reply
}

// fakeAssistantsServer implements just enough of the wire API for tests.
type fakeAssistantsServer struct {
	t *testing.T

	mu           sync.Mutex
	pollCount    int
	runStatuses  []string
	toolOutputs  []map[string]interface{}
	messagesBody string
	stepsBody    string
	lastError    string
}

func (f *fakeAssistantsServer) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/assistants":
			json.NewEncoder(w).Encode(map[string]string{"id": "asst_1"})
		case r.Method == http.MethodDelete && r.URL.Path == "/assistants/asst_1":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/threads":
			json.NewEncoder(w).Encode(map[string]string{"id": "thread_1"})
		case r.Method == http.MethodDelete && r.URL.Path == "/threads/thread_1":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/messages":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs":
			json.NewEncoder(w).Encode(f.runPayload())
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/runs/run_1":
			f.pollCount++
			json.NewEncoder(w).Encode(f.runPayload())
		case r.Method == http.MethodPost && r.URL.Path == "/threads/thread_1/runs/run_1/submit_tool_outputs":
			var body struct {
				ToolOutputs []map[string]interface{} `json:"tool_outputs"`
			}
			require.NoError(f.t, json.NewDecoder(r.Body).Decode(&body))
			f.toolOutputs = append(f.toolOutputs, body.ToolOutputs...)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/messages":
			w.Write([]byte(f.messagesBody))
		case r.Method == http.MethodGet && r.URL.Path == "/threads/thread_1/runs/run_1/steps":
			w.Write([]byte(f.stepsBody))
		case r.Method == http.MethodGet && r.URL.Path == "/files/file_9/content":
			w.Write([]byte("png-bytes"))
		default:
			http.NotFound(w, r)
		}
	}
}

func (f *fakeAssistantsServer) runPayload() map[string]interface{} {
	status := f.runStatuses[0]
	if len(f.runStatuses) > 1 {
		f.runStatuses = f.runStatuses[1:]
	}

	payload := map[string]interface{}{"id": "run_1", "status": status}
	if status == "requires_action" {
		payload["required_action"] = map[string]interface{}{
			"submit_tool_outputs": map[string]interface{}{
				"tool_calls": []map[string]interface{}{
					{
						"id": "call_1",
						"function": map[string]interface{}{
							"name":      "search_web",
							"arguments": `{"search_term":"go"}`,
						},
					},
				},
			},
		}
	}
	if status == "failed" && f.lastError != "" {
		payload["last_error"] = map[string]string{"code": "server_error", "message": f.lastError}
	}
	return payload
}

func newTestClient(t *testing.T, f *fakeAssistantsServer, invoker platform.ToolInvoker) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", invoker, WithPollInterval(time.Millisecond))
}

func TestCreateAgentAndThread(t *testing.T) {
	f := &fakeAssistantsServer{t: t, runStatuses: []string{"completed"}}
	client := newTestClient(t, f, nil)

	agentID, err := client.CreateAgent(context.Background(), platform.AgentSpec{
		Name:         "selune",
		Model:        "gpt-4o",
		Instructions: "You are a helpful agent",
		Tools: []tools.Spec{
			{Name: "search_web", Description: "Search", InputSchema: map[string]interface{}{"type": "object"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "asst_1", agentID)

	threadID, err := client.CreateThread(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "thread_1", threadID)

	require.NoError(t, client.AddMessage(context.Background(), threadID, "user", "hello"))
	require.NoError(t, client.DeleteThread(context.Background(), threadID))
	require.NoError(t, client.DeleteAgent(context.Background(), agentID))
}

func TestRunCompletedCollectsOutput(t *testing.T) {
	f := &fakeAssistantsServer{
		t:           t,
		runStatuses: []string{"queued", "in_progress", "completed"},
		messagesBody: `{"data":[
			{"role":"assistant","content":[
				{"type":"text","text":{"value":"Answer text","annotations":[
					{"text":"[1]","url_citation":{"url":"https://example.com","title":"Example"}}
				]}},
				{"type":"image_file","image_file":{"file_id":"file_9"}}
			]},
			{"role":"user","content":[{"type":"text","text":{"value":"question"}}]}
		]}`,
		stepsBody: `{"data":[{"step_details":{"tool_calls":[
			{"type":"code_interpreter","code_interpreter":{"input":"print(1)"}}
		]}}]}`,
	}
	client := newTestClient(t, f, nil)

	outcome, err := client.Run(context.Background(), platform.RunParams{
		AgentID:  "asst_1",
		ThreadID: "thread_1",
	})
	require.NoError(t, err)

	assert.Equal(t, platform.StatusCompleted, outcome.Status)
	assert.Equal(t, "Answer text", outcome.Text)
	require.Len(t, outcome.Annotations, 1)
	assert.Equal(t, "Example", outcome.Annotations[0].Text)
	assert.Equal(t, "https://example.com", outcome.Annotations[0].URL)
	require.Len(t, outcome.Images, 1)
	assert.Equal(t, "file_9", outcome.Images[0].FileID)
	assert.Equal(t, []string{"print(1)"}, outcome.CodeSnippets)
}

func TestRunSubmitsToolOutputs(t *testing.T) {
	f := &fakeAssistantsServer{
		t:            t,
		runStatuses:  []string{"requires_action", "completed"},
		messagesBody: `{"data":[{"role":"assistant","content":[{"type":"text","text":{"value":"done"}}]}]}`,
		stepsBody:    `{"data":[]}`,
	}
	invoker := &recordingInvoker{reply: "1. result"}
	client := newTestClient(t, f, invoker)

	outcome, err := client.Run(context.Background(), platform.RunParams{
		AgentID:  "asst_1",
		ThreadID: "thread_1",
	})
	require.NoError(t, err)
	assert.Equal(t, platform.StatusCompleted, outcome.Status)

	assert.Equal(t, []string{"search_web"}, invoker.calls)
	require.Len(t, f.toolOutputs, 1)
	assert.Equal(t, "call_1", f.toolOutputs[0]["tool_call_id"])
	assert.Equal(t, "1. result", f.toolOutputs[0]["output"])
}

func TestRunFailedReturnsReason(t *testing.T) {
	f := &fakeAssistantsServer{
		t:           t,
		runStatuses: []string{"failed"},
		lastError:   "rate limit exceeded",
	}
	client := newTestClient(t, f, nil)

	outcome, err := client.Run(context.Background(), platform.RunParams{
		AgentID:  "asst_1",
		ThreadID: "thread_1",
	})
	require.NoError(t, err)
	assert.Equal(t, platform.StatusFailed, outcome.Status)
	assert.Equal(t, "rate limit exceeded", outcome.Reason)
}

func TestSaveFile(t *testing.T) {
	f := &fakeAssistantsServer{t: t, runStatuses: []string{"completed"}}
	client := newTestClient(t, f, nil)

	dest := filepath.Join(t.TempDir(), "out.png")
	require.NoError(t, client.SaveFile(context.Background(), "file_9", dest))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestTransportErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", nil)
	_, err := client.CreateThread(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}
