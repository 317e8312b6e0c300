package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/forensiq/wacapture/internal/driver"
	"github.com/forensiq/wacapture/internal/extract"
	"github.com/forensiq/wacapture/internal/log"
	"github.com/forensiq/wacapture/internal/metrics"
	"github.com/forensiq/wacapture/internal/notify"
)

// Notifier delivers export completion notices. Satisfied by notify.Client.
type Notifier interface {
	Notify(ctx context.Context, n notify.Notification) error
}

// Config wires a Manager.
type Config struct {
	Factory  driver.Factory
	Notifier Notifier
	Extract  extract.Options

	// Auth deadlines are mode-dependent: pairing allows more time because
	// the user has to type the code on a phone.
	QRTimeout      time.Duration
	PairingTimeout time.Duration

	// Retention keeps terminal sessions pollable before eviction.
	Retention time.Duration
}

// StartParams are the caller-supplied session parameters.
type StartParams struct {
	ClientReference string
	AuthMode        AuthMode
	PhoneNumber     string
}

// Manager owns the registry and runs one actor goroutine per session.
// Driver events are messages consumed by that actor, which is the only
// writer of the session's lifecycle state apart from the cancel path.
type Manager struct {
	cfg      Config
	registry *Registry
	pipeline *extract.Pipeline

	rootCtx  context.Context
	rootStop context.CancelFunc
	wg       sync.WaitGroup
}

var nonTerminalStates = []State{
	StateInitializing, StateQRReady, StatePairingReady, StateConnected, StateExtracting,
}

// NewManager builds a Manager. Shutdown must be called to stop the actors.
func NewManager(cfg Config) *Manager {
	ctx, stop := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		registry: NewRegistry(),
		pipeline: extract.New(cfg.Extract),
		rootCtx:  ctx,
		rootStop: stop,
	}
}

// Registry exposes the session table for read-only listing.
func (m *Manager) Registry() *Registry { return m.registry }

// Start validates params, registers a new session and spawns its actor.
// Validation failures are the only errors reported synchronously; anything
// async lands in the session's lastError instead.
func (m *Manager) Start(ctx context.Context, p StartParams) (Snapshot, error) {
	if p.ClientReference == "" {
		return Snapshot{}, fmt.Errorf("%w: clientReference is required", ErrInvalidRequest)
	}
	switch p.AuthMode {
	case AuthModeQR:
	case AuthModePairing:
		if p.PhoneNumber == "" {
			return Snapshot{}, fmt.Errorf("%w: pairing-code mode requires a phoneNumber", ErrInvalidRequest)
		}
	default:
		return Snapshot{}, fmt.Errorf("%w: unknown authMode %q", ErrInvalidRequest, p.AuthMode)
	}

	s := newSession(uuid.NewString(), p.ClientReference, p.AuthMode, p.PhoneNumber)
	actorCtx, cancel := context.WithCancel(m.rootCtx)
	s.cancel = cancel

	m.registry.insert(s)
	metrics.SessionStarted(string(p.AuthMode))

	m.wg.Add(1)
	go m.run(actorCtx, s)

	log.FromContext(ctx).Info().
		Str(log.FieldSessionID, s.id).
		Str(log.FieldClientRef, p.ClientReference).
		Str(log.FieldAuthMode, string(p.AuthMode)).
		Msg("session started")

	return s.Snapshot(), nil
}

// Status returns the snapshot for id, or ErrNotFound after eviction.
func (m *Manager) Status(id string) (Snapshot, error) {
	s, ok := m.registry.Get(id)
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return s.Snapshot(), nil
}

// List snapshots all registered sessions.
func (m *Manager) List() []Snapshot {
	return m.registry.List()
}

// Cancel forces an immediate transition to failed with a cancellation
// reason, then tears the actor down. Cancellation is cooperative: an
// in-flight driver call finishes, but no further pipeline step runs.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	s, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	if old, ok := s.transitionWithReason(StateFailed, reasonCancelled, nonTerminalStates...); ok {
		metrics.SessionTransition(string(StateFailed))
		log.FromContext(ctx).Info().
			Str(log.FieldSessionID, id).
			Str(log.FieldOldState, string(old)).
			Str(log.FieldNewState, string(StateFailed)).
			Msg("session cancelled")
	}
	s.cancel()
	return nil
}

// Shutdown stops all session actors and waits for them up to ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.rootStop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session manager shutdown: %w", ctx.Err())
	}
}

// run is the per-session actor. It exclusively owns lifecycle mutation
// driven by driver events; the timeout timer and context cancellation are
// its only other inputs.
func (m *Manager) run(ctx context.Context, s *Session) {
	defer m.wg.Done()

	logger := log.WithComponent("session").With().
		Str(log.FieldSessionID, s.id).
		Str(log.FieldClientRef, s.clientReference).
		Logger()
	ctx = logger.WithContext(ctx)

	d, err := m.cfg.Factory(ctx, s.id)
	if err != nil {
		logger.Error().Err(err).Msg("driver creation failed")
		m.fail(ctx, s, fmt.Sprintf("driver creation failed: %v", err))
		m.finish(ctx, s, nil)
		return
	}
	if err := d.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("driver start failed")
		m.fail(ctx, s, fmt.Sprintf("driver start failed: %v", err))
		m.finish(ctx, s, d)
		return
	}

	m.loop(ctx, s, d, logger)
	m.finish(ctx, s, d)
}

func (m *Manager) loop(ctx context.Context, s *Session, d driver.Driver, logger zerolog.Logger) {
	deadline := m.cfg.QRTimeout
	if s.authMode == AuthModePairing {
		deadline = m.cfg.PairingTimeout
	}
	timer := time.NewTimer(deadline)
	defer timer.Stop()

	pairingIssued := false

	for {
		select {
		case <-ctx.Done():
			// Cancel already applied its transition; this covers shutdown.
			m.fail(ctx, s, reasonShutdown)
			return

		case <-timer.C:
			if _, ok := m.applyReason(ctx, s, StateTimeout, reasonAuthTimeout, StateInitializing, StateQRReady, StatePairingReady); ok {
				logger.Warn().Str(log.FieldAuthMode, string(s.authMode)).Msg("authentication deadline expired")
			}
			return

		case ev, open := <-d.Events():
			if !open {
				m.fail(ctx, s, reasonConnectionLost)
				return
			}
			switch ev.Kind {
			case driver.EventLoginCode:
				m.handleLoginCode(ctx, s, d, ev, &pairingIssued)

			case driver.EventReady:
				if _, ok := m.apply(ctx, s, StateConnected, StateQRReady, StatePairingReady); !ok {
					continue
				}
				timer.Stop()
				s.clearCredential()
				m.extract(ctx, s, d)
				return

			case driver.EventAuthFailure:
				reason := reasonAuthFailure
				if ev.Err != nil {
					reason = fmt.Sprintf("%s: %v", reasonAuthFailure, ev.Err)
				}
				m.fail(ctx, s, reason)
				return

			case driver.EventDisconnected:
				m.fail(ctx, s, reasonConnectionLost)
				return
			}
		}
	}
}

// handleLoginCode services a login-code event: issue a pairing code when
// that mode was requested (falling back to QR if generation fails),
// otherwise publish or rotate the QR credential.
func (m *Manager) handleLoginCode(ctx context.Context, s *Session, d driver.Driver, ev driver.Event, pairingIssued *bool) {
	logger := log.FromContext(ctx)

	if s.authMode == AuthModePairing && !*pairingIssued {
		*pairingIssued = true
		codeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		code, err := d.RequestPairingCode(codeCtx, s.phoneNumber)
		cancel()
		if err == nil {
			s.setCredential(code)
			m.apply(ctx, s, StatePairingReady, StateInitializing)
			return
		}
		// Fallback to QR; recorded but not fatal.
		logger.Warn().Err(err).Msg("pairing code generation failed")
		s.setError(reasonPairingFallback)
		s.setCredential(ev.QRImage)
		m.apply(ctx, s, StateQRReady, StateInitializing)
		return
	}

	switch s.State() {
	case StateInitializing:
		s.setCredential(ev.QRImage)
		m.apply(ctx, s, StateQRReady, StateInitializing)
	case StateQRReady:
		// QR rotation: same state, fresh credential.
		s.setCredential(ev.QRImage)
	default:
		// Pairing code already displayed, or past authentication.
	}
}

// extract runs the pipeline and backend notification for a connected
// session. Notification failure is recorded but never downgrades
// completion; the export file on disk is the durable record.
func (m *Manager) extract(ctx context.Context, s *Session, d driver.Driver) {
	logger := log.FromContext(ctx)

	if _, ok := m.apply(ctx, s, StateExtracting, StateConnected); !ok {
		return
	}

	res, err := m.pipeline.Run(ctx, d, s.clientReference, s.id, s.createdAt)
	if err != nil {
		logger.Error().Err(err).Msg("extraction failed")
		m.applyReason(ctx, s, StateFailed, fmt.Sprintf("extraction failed: %v", err), StateExtracting)
		return
	}

	var notifyFailure string
	if m.cfg.Notifier != nil {
		n := notify.Notification{
			FilePath:        res.Path,
			ClientReference: s.clientReference,
			Statistics: notify.Statistics{
				ConversationsProcessed: res.Stats.ConversationsProcessed,
				MessagesExtracted:      res.Stats.MessagesExtracted,
			},
		}
		if err := m.cfg.Notifier.Notify(ctx, n); err != nil {
			logger.Warn().Err(err).Msg("backend notification failed")
			notifyFailure = fmt.Sprintf("backend notification failed: %v", err)
		}
	}

	// The notify failure lands only together with the completed transition.
	// If a cancellation already made the session terminal, its reason stands.
	m.applyReason(ctx, s, StateCompleted, notifyFailure, StateExtracting)
}

// fail moves the session to failed from any non-terminal state.
func (m *Manager) fail(ctx context.Context, s *Session, reason string) {
	m.applyReason(ctx, s, StateFailed, reason, nonTerminalStates...)
}

// apply performs a check-and-set transition with logging and metrics.
func (m *Manager) apply(ctx context.Context, s *Session, to State, from ...State) (State, bool) {
	return m.applyReason(ctx, s, to, "", from...)
}

// applyReason is apply with an error reason that is recorded atomically
// with the winning transition and skipped entirely when losing the race.
func (m *Manager) applyReason(ctx context.Context, s *Session, to State, reason string, from ...State) (State, bool) {
	old, ok := s.transitionWithReason(to, reason, from...)
	if !ok {
		return old, false
	}
	metrics.SessionTransition(string(to))
	log.FromContext(ctx).Info().
		Str(log.FieldSessionID, s.id).
		Str(log.FieldOldState, string(old)).
		Str(log.FieldNewState, string(to)).
		Msg("session state changed")
	return old, true
}

// finish releases the driver exactly once, records terminal metrics and
// schedules eviction after the retention window. Until eviction the
// session stays pollable so slow clients observe the final outcome.
func (m *Manager) finish(ctx context.Context, s *Session, d driver.Driver) {
	logger := log.FromContext(ctx)

	if d != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := d.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("driver release failed")
		}
		cancel()
	}

	snap := s.Snapshot()
	metrics.SessionFinished(string(snap.State), time.Since(snap.CreatedAt))
	logger.Info().
		Str(log.FieldNewState, string(snap.State)).
		Dur("lifetime", time.Since(snap.CreatedAt)).
		Msg("session finished")

	time.AfterFunc(m.cfg.Retention, func() {
		m.registry.remove(s.id)
		metrics.SessionEvicted()
		logger.Debug().Str(log.FieldSessionID, s.id).Msg("session evicted")
	})
}
