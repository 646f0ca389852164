package email

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selune-dev/selune/pkg/tools"
)

func TestSendPostsPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	out := NewSender(srv.URL).Send(context.Background(), "ada@example.com", "Order update", "Your order shipped.")
	assert.Equal(t, "Email sent successfully.", out)
	assert.Equal(t, "ada@example.com", got["to"])
	assert.Equal(t, "Order update", got["subject"])
	assert.Equal(t, "Your order shipped.", got["body"])
}

func TestSendFailureBecomesText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox full", http.StatusBadGateway)
	}))
	defer srv.Close()

	out := NewSender(srv.URL).Send(context.Background(), "a@b.c", "s", "b")
	assert.Contains(t, out, "Failed to send email")
	assert.Contains(t, out, "502")
}

func TestSendWithoutWebhook(t *testing.T) {
	out := NewSender("").Send(context.Background(), "a@b.c", "s", "b")
	assert.Equal(t, "Failed to send email: no email webhook is configured.", out)
}

func TestRegisterTools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	registry := tools.NewRegistry()
	require.NoError(t, RegisterTools(registry, NewSender(srv.URL)))

	out := registry.Invoke(context.Background(), "send_email", map[string]interface{}{
		"to": "a@b.c", "subject": "s", "body": "b",
	})
	assert.Equal(t, "Email sent successfully.", out)

	bad := registry.Invoke(context.Background(), "send_email", map[string]interface{}{"to": "a@b.c"})
	assert.Contains(t, bad, "invalid arguments")
}
