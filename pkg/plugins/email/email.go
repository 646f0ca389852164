// Package email implements the send_email tool as a POST to a configured
// webhook.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selune-dev/selune/pkg/tools"
)

// Sender delivers email through a webhook endpoint.
type Sender struct {
	webhookURL string
	httpClient *http.Client
}

// NewSender creates a Sender posting to webhookURL.
func NewSender(webhookURL string) *Sender {
	return &Sender{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Send posts the message and reports the outcome as text.
func (s *Sender) Send(ctx context.Context, to, subject, body string) string {
	if s.webhookURL == "" {
		return "Failed to send email: no email webhook is configured."
	}

	payload := map[string]string{
		"to":      to,
		"subject": subject,
		"body":    body,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("Failed to send email: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Sprintf("Failed to send email: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("Email webhook request failed")
		return fmt.Sprintf("Failed to send email: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Sprintf("Failed to send email: webhook returned status %d: %s", resp.StatusCode, string(respBody))
	}

	log.Info().Str("to", to).Str("subject", subject).Msg("Email sent")
	return "Email sent successfully."
}

// RegisterTools registers the send_email tool.
func RegisterTools(registry *tools.Registry, sender *Sender) error {
	return registry.Register(tools.Definition{
		Name:        "send_email",
		Description: "Send an email to the given recipient",
		Parameters: []tools.Parameter{
			{Name: "to", Type: "string", Description: "Recipient email address", Required: true},
			{Name: "subject", Type: "string", Description: "Email subject line", Required: true},
			{Name: "body", Type: "string", Description: "Email body text", Required: true},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) string {
			to, _ := args["to"].(string)
			subject, _ := args["subject"].(string)
			body, _ := args["body"].(string)
			return sender.Send(ctx, to, subject, body)
		},
	})
}
