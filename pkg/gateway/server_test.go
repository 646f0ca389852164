package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selune-dev/selune/pkg/controller"
	"github.com/selune-dev/selune/pkg/directory"
	"github.com/selune-dev/selune/pkg/platform"
	"github.com/selune-dev/selune/pkg/session"
)

const testSecret = "gateway-secret"

// stubPlatform answers every run with a fixed reply.
type stubPlatform struct {
	reply string
}

func (s *stubPlatform) CreateAgent(context.Context, platform.AgentSpec) (string, error) {
	return "agent_1", nil
}
func (s *stubPlatform) DeleteAgent(context.Context, string) error { return nil }
func (s *stubPlatform) CreateThread(context.Context) (string, error) {
	return "thread_1", nil
}
func (s *stubPlatform) DeleteThread(context.Context, string) error               { return nil }
func (s *stubPlatform) AddMessage(context.Context, string, string, string) error { return nil }
func (s *stubPlatform) Run(context.Context, platform.RunParams) (*platform.RunOutcome, error) {
	return &platform.RunOutcome{Status: platform.StatusCompleted, Text: s.reply}, nil
}
func (s *stubPlatform) SaveFile(context.Context, string, string) error { return nil }

func newTestServer(t *testing.T) (*Server, *httptest.Server, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)

	ctrl := controller.New(store, &stubPlatform{reply: "stub reply"}, nil, controller.Settings{
		AgentName: "selune",
		Model:     "gpt-4o",
	})
	dir := directory.New(store, directory.HeadlineSummarizer{})

	srv, err := NewServer(Config{
		Port:         1,
		SharedSecret: testSecret,
		Controller:   ctrl,
		Directory:    dir,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts, store
}

func authedRequest(t *testing.T, method, url string, body []byte) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(AuthHeader, testSecret)
	return req
}

func TestNewServerValidatesConfig(t *testing.T) {
	_, err := NewServer(Config{Port: 0, SharedSecret: "x"})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8080})
	assert.Error(t, err)
}

func TestRequiresSharedSecret(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/sessions")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthzIsOpen(t *testing.T) {
	_, ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSubmitAndListSessions(t *testing.T) {
	_, ts, _ := newTestServer(t)
	client := ts.Client()

	body, _ := json.Marshal(map[string]string{"text": "hello agent"})
	resp, err := client.Do(authedRequest(t, http.MethodPost, ts.URL+"/api/sessions/s1/messages", body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var turn turnResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&turn))
	assert.Equal(t, session.RoleAssistant, turn.Role)
	assert.Equal(t, "stub reply", turn.Content)
	assert.NotEmpty(t, turn.RequestID)

	listResp, err := client.Do(authedRequest(t, http.MethodGet, ts.URL+"/api/sessions", nil))
	require.NoError(t, err)
	defer listResp.Body.Close()

	var entries []sessionEntry
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].ID)
	assert.Equal(t, "hello agent", entries[0].Title)
	assert.Equal(t, 2, entries[0].Turns)
}

func TestSubmitRejectsEmptyText(t *testing.T) {
	_, ts, _ := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"text": "   "})
	resp, err := ts.Client().Do(authedRequest(t, http.MethodPost, ts.URL+"/api/sessions/s1/messages", body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteSession(t *testing.T) {
	_, ts, store := newTestServer(t)
	client := ts.Client()

	body, _ := json.Marshal(map[string]string{"text": "hello"})
	resp, err := client.Do(authedRequest(t, http.MethodPost, ts.URL+"/api/sessions/s1/messages", body))
	require.NoError(t, err)
	resp.Body.Close()

	delResp, err := client.Do(authedRequest(t, http.MethodDelete, ts.URL+"/api/sessions/s1", nil))
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusOK, delResp.StatusCode)

	ids, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestChatSocketRoundTrip(t *testing.T) {
	_, ts, store := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat?session_id=ws1"
	header := http.Header{}
	header.Set(AuthHeader, testSecret)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"text": "hi over ws"}))

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var turn turnResponse
	require.NoError(t, conn.ReadJSON(&turn))
	assert.Equal(t, session.RoleAssistant, turn.Role)
	assert.Equal(t, "stub reply", turn.Content)

	// The exchange went through the controller and was persisted.
	rec, err := store.Load("ws1")
	require.NoError(t, err)
	assert.Len(t, rec.Turns, 2)
}

func TestChatSocketRequiresSessionID(t *testing.T) {
	_, ts, _ := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/chat"
	header := http.Header{}
	header.Set(AuthHeader, testSecret)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
