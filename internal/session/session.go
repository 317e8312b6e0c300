// Package session tracks messaging capture sessions through their lifecycle,
// from login-credential display to export completion, and owns the registry
// the HTTP surface reads from.
package session

import (
	"sync"
	"time"
)

// State is a session lifecycle state.
type State string

const (
	StateInitializing State = "initializing"
	StateQRReady      State = "qr_ready"
	StatePairingReady State = "pairing_code_ready"
	StateConnected    State = "connected"
	StateExtracting   State = "extracting"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
	StateTimeout      State = "timeout"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimeout:
		return true
	}
	return false
}

// AuthMode selects how the user authenticates the capture session.
type AuthMode string

const (
	AuthModeQR      AuthMode = "qr"
	AuthModePairing AuthMode = "pairing-code"
)

// Session is one capture session. All fields behind mu; mutation goes
// through the transition/setter methods so the first terminal transition
// wins and later events become no-ops.
type Session struct {
	mu sync.RWMutex

	id              string
	clientReference string
	authMode        AuthMode
	phoneNumber     string
	createdAt       time.Time

	state      State
	credential string
	lastError  string

	cancel func() // stops the session's actor; set once at spawn
}

func newSession(id, clientRef string, mode AuthMode, phone string) *Session {
	return &Session{
		id:              id,
		clientReference: clientRef,
		authMode:        mode,
		phoneNumber:     phone,
		createdAt:       time.Now(),
		state:           StateInitializing,
	}
}

// Snapshot is a consistent read of a session's observable fields.
type Snapshot struct {
	ID              string
	ClientReference string
	AuthMode        AuthMode
	State           State
	Credential      string
	LastError       string
	CreatedAt       time.Time
}

// Snapshot returns the session's current observable state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ID:              s.id,
		ClientReference: s.clientReference,
		AuthMode:        s.authMode,
		State:           s.state,
		Credential:      s.credential,
		LastError:       s.lastError,
		CreatedAt:       s.createdAt,
	}
}

func (s *Session) ID() string { return s.id }

// transition applies a check-and-set state change: it succeeds only when
// the current state is one of from and not terminal. Whichever transition
// lands first wins; racers observe false and must treat it as "already
// decided elsewhere". Returns the state observed before the attempt.
func (s *Session) transition(to State, from ...State) (State, bool) {
	return s.transitionWithReason(to, "", from...)
}

// transitionWithReason is transition plus an error reason recorded under the
// same lock. Losing the race leaves lastError untouched, so a reason set by
// the winning terminal transition is never overwritten by a late racer.
func (s *Session) transitionWithReason(to State, reason string, from ...State) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return s.state, false
	}
	for _, f := range from {
		if s.state == f {
			s.state = to
			if reason != "" {
				s.lastError = reason
			}
			return f, true
		}
	}
	return s.state, false
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setCredential(v string) {
	s.mu.Lock()
	s.credential = v
	s.mu.Unlock()
}

func (s *Session) clearCredential() {
	s.setCredential("")
}

func (s *Session) setError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}
