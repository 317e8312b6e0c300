package session

import "errors"

var (
	// ErrInvalidRequest rejects malformed start parameters synchronously;
	// no session is created.
	ErrInvalidRequest = errors.New("session: invalid request")

	// ErrNotFound means the session id is unknown or already evicted.
	ErrNotFound = errors.New("session: not found")
)

// Failure reasons recorded in lastError and surfaced via status polling.
// Asynchronous failures never cross the HTTP boundary directly.
const (
	reasonAuthFailure     = "authentication failure reported by driver"
	reasonConnectionLost  = "connection to messaging platform lost"
	reasonAuthTimeout     = "authentication timed out"
	reasonCancelled       = "cancelled by caller"
	reasonShutdown        = "service shutting down"
	reasonPairingFallback = "pairing code generation failed, falling back to QR login"
)
