// Package notify delivers email and chat notifications outside the request
// path. Deliveries are best effort: failures are logged and never retried.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultSinkTimeout = 10 * time.Second

type EmailMessage struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html,omitempty"`
}

// EmailSink sends one message and returns the provider's message id.
type EmailSink interface {
	Send(ctx context.Context, msg EmailMessage) (string, error)
}

type ChatMessage struct {
	Channel   string `json:"channel,omitempty"`
	ThreadRef string `json:"thread_ref,omitempty"`
	Text      string `json:"text"`
}

// ChatSink posts a message. An empty ThreadRef starts a new thread; the
// returned reference identifies the thread the message landed in.
type ChatSink interface {
	Post(ctx context.Context, msg ChatMessage) (string, error)
}

// HTTPEmailSink posts messages as JSON to a transactional email endpoint.
type HTTPEmailSink struct {
	Endpoint string
	APIKey   string
	From     string
	Client   *http.Client
}

func (s HTTPEmailSink) Send(ctx context.Context, msg EmailMessage) (string, error) {
	if msg.From == "" {
		msg.From = s.From
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := postJSON(ctx, s.Client, s.Endpoint, s.APIKey, msg, &out); err != nil {
		return "", fmt.Errorf("email to %s: %w", msg.To, err)
	}
	return out.ID, nil
}

// WebhookChatSink posts to an incoming-webhook style chat endpoint.
type WebhookChatSink struct {
	URL     string
	Channel string
	Client  *http.Client
}

func (s WebhookChatSink) Post(ctx context.Context, msg ChatMessage) (string, error) {
	if msg.Channel == "" {
		msg.Channel = s.Channel
	}
	var out struct {
		ThreadRef string `json:"thread_ref"`
		TS        string `json:"ts"`
	}
	if err := postJSON(ctx, s.Client, s.URL, "", msg, &out); err != nil {
		return "", fmt.Errorf("chat post: %w", err)
	}
	switch {
	case out.ThreadRef != "":
		return out.ThreadRef, nil
	case msg.ThreadRef != "":
		return msg.ThreadRef, nil
	}
	return out.TS, nil
}

func postJSON(ctx context.Context, client *http.Client, url, bearer string, body, out any) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("endpoint not configured")
	}
	if client == nil {
		client = &http.Client{Timeout: defaultSinkTimeout}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 1<<16))
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil && len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// LogEmailSink writes messages to the log instead of sending them.
type LogEmailSink struct {
	Log *slog.Logger
}

func (s LogEmailSink) Send(ctx context.Context, msg EmailMessage) (string, error) {
	id := uuid.NewString()
	logger(s.Log).Info("email", "id", id, "to", msg.To, "subject", msg.Subject)
	return id, nil
}

type LogChatSink struct {
	Log *slog.Logger
}

func (s LogChatSink) Post(ctx context.Context, msg ChatMessage) (string, error) {
	ref := msg.ThreadRef
	if ref == "" {
		ref = uuid.NewString()
	}
	logger(s.Log).Info("chat", "thread_ref", ref, "channel", msg.Channel, "text", msg.Text)
	return ref, nil
}

func logger(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
