// Package notify delivers export completion notices to the forensics backend.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/forensiq/wacapture/internal/log"
	"github.com/forensiq/wacapture/internal/metrics"
)

const analyzePath = "/forensics/analyze-internal"

// Statistics summarizes an export for the backend.
type Statistics struct {
	ConversationsProcessed int `json:"conversationsProcessed"`
	MessagesExtracted      int `json:"messagesExtracted"`
}

// Notification is the analyze-internal request payload.
type Notification struct {
	FilePath        string     `json:"filePath"`
	ClientReference string     `json:"clientReference"`
	Source          string     `json:"source"`
	Statistics      Statistics `json:"statistics"`
}

// Client posts export notifications to the backend. Delivery is
// fire-and-forget for the session: the export file on disk is the
// durable artifact, so a failed notification is recorded but never
// retried here.
type Client struct {
	base   string
	source string
	http   *http.Client
}

// New builds a Client for the given backend base URL. source labels the
// messaging platform the export came from.
func New(baseURL, source string) *Client {
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		source: source,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Notify posts the export notice. The returned error classifies the
// failure via the package sentinels; callers record it, they do not retry.
func (c *Client) Notify(ctx context.Context, n Notification) error {
	logger := log.FromContext(ctx).With().Str(log.FieldComponent, "notify").Logger()

	n.Source = c.source
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	url := c.base + analyzePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		metrics.NotificationSent(false)
		sentinel := ErrBackendUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			sentinel = ErrTimeout
		}
		return &NotifyError{Sentinel: sentinel, Operation: "analyze-internal", Err: err}
	}
	defer res.Body.Close() //nolint:errcheck

	if res.StatusCode < 200 || res.StatusCode > 299 {
		metrics.NotificationSent(false)
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		sentinel := ErrBackendRejected
		if res.StatusCode >= 500 {
			sentinel = ErrBackendError
		}
		return &NotifyError{
			Sentinel:  sentinel,
			Operation: "analyze-internal",
			Status:    res.StatusCode,
			Body:      strings.TrimSpace(string(snippet)),
		}
	}

	metrics.NotificationSent(true)
	logger.Info().
		Str(log.FieldBaseURL, c.base).
		Str(log.FieldPath, n.FilePath).
		Int("conversations", n.Statistics.ConversationsProcessed).
		Int("messages", n.Statistics.MessagesExtracted).
		Msg("backend notified")
	return nil
}
