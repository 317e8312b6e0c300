// Package driver abstracts the browser automation of the web messaging
// client. The orchestrator only ever sees this interface; the production
// implementation drives a headless Chromium via go-rod.
package driver

import (
	"context"
	"time"
)

// EventKind identifies a lifecycle event emitted by a driver.
type EventKind string

const (
	// EventLoginCode signals that a fresh QR login code is displayed.
	// The event carries the QR image as a data URL.
	EventLoginCode EventKind = "login_code"
	// EventReady signals that the client is authenticated and usable.
	EventReady EventKind = "ready"
	// EventAuthFailure signals that the platform rejected the login.
	EventAuthFailure EventKind = "auth_failure"
	// EventDisconnected signals that the client lost its connection.
	EventDisconnected EventKind = "disconnected"
)

// Event is a lifecycle notification from the driver to the session owner.
type Event struct {
	Kind    EventKind
	QRImage string // base64 PNG data URL, set for EventLoginCode
	Err     error  // set for EventAuthFailure and EventDisconnected
}

// Conversation is one chat thread as enumerated by the client.
type Conversation struct {
	ID      string
	Name    string
	IsGroup bool
}

// Message is a single message inside a conversation. Body is empty for
// non-text content; Kind then names the content type.
type Message struct {
	Timestamp time.Time
	Sender    string
	Body      string
	Kind      string // "chat" for plain text
}

// IsText reports whether the message carries plain text.
func (m Message) IsText() bool {
	return m.Kind == "" || m.Kind == "chat"
}

// Driver is one login/extraction attempt against the messaging platform.
// A driver is owned by exactly one session and released exactly once.
type Driver interface {
	// Start opens the login page and begins emitting events.
	Start(ctx context.Context) error

	// RequestPairingCode asks the platform for a phone-pairing code as an
	// alternative to the QR login. Callers fall back to QR on error.
	RequestPairingCode(ctx context.Context, phoneNumber string) (string, error)

	// Conversations enumerates up to max conversations in platform order.
	// Only valid after EventReady.
	Conversations(ctx context.Context, max int) ([]Conversation, error)

	// Messages fetches up to max most-recent messages of one conversation.
	Messages(ctx context.Context, conv Conversation, max int) ([]Message, error)

	// Events delivers lifecycle events. The channel is closed by Close.
	Events() <-chan Event

	// Close tears down the browser resources. Safe to call more than once.
	Close(ctx context.Context) error
}

// Factory creates a driver for a new session.
type Factory func(ctx context.Context, sessionID string) (Driver, error)
