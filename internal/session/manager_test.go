package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/forensiq/wacapture/internal/driver"
	"github.com/forensiq/wacapture/internal/driver/drivertest"
	"github.com/forensiq/wacapture/internal/extract"
	"github.com/forensiq/wacapture/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type stubNotifier struct {
	mu    sync.Mutex
	err   error
	calls []notify.Notification
}

func (n *stubNotifier) Notify(_ context.Context, notif notify.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notif)
	return n.err
}

func (n *stubNotifier) Calls() []notify.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Notification(nil), n.calls...)
}

func testConfig(t *testing.T, fake *drivertest.Fake) Config {
	t.Helper()
	return Config{
		Factory: fake.Factory(),
		Extract: extract.Options{
			ExportDir:        t.TempDir(),
			MaxConversations: 20,
			MaxMessages:      100,
			FetchTimeout:     5 * time.Second,
			FetchRPS:         1000,
		},
		QRTimeout:      5 * time.Second,
		PairingTimeout: 5 * time.Second,
		Retention:      time.Hour, // no surprise evictions mid-test
	}
}

func shutdown(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))
}

func waitForState(t *testing.T, m *Manager, id string, want State) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		s, err := m.Status(id)
		if err != nil {
			return false
		}
		snap = s
		return s.State == want
	}, 5*time.Second, 5*time.Millisecond, "session never reached %s (last: %+v)", want, snap)
	return snap
}

func TestStart_PairingWithoutPhoneRejected(t *testing.T) {
	m := NewManager(testConfig(t, drivertest.New()))
	defer shutdown(t, m)

	_, err := m.Start(context.Background(), StartParams{
		ClientReference: "C-1",
		AuthMode:        AuthModePairing,
	})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Equal(t, 0, m.Registry().Len(), "no registry entry on invalid request")
}

func TestStart_UnknownAuthModeRejected(t *testing.T) {
	m := NewManager(testConfig(t, drivertest.New()))
	defer shutdown(t, m)

	_, err := m.Start(context.Background(), StartParams{ClientReference: "C-1", AuthMode: "sms"})
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestQRSession_HappyPath(t *testing.T) {
	fake := drivertest.New()
	fake.Convs = []driver.Conversation{
		{ID: "c1", Name: "Alice"},
		{ID: "c2", Name: "Bob"},
	}
	fake.MsgsByConv = map[string][]driver.Message{
		"c1": {{Timestamp: time.Now(), Sender: "Alice", Body: "hello"}},
		"c2": {{Timestamp: time.Now(), Sender: "Bob", Body: "hey"}, {Timestamp: time.Now(), Sender: "me", Body: "yo"}},
	}

	notifier := &stubNotifier{}
	cfg := testConfig(t, fake)
	cfg.Notifier = notifier
	m := NewManager(cfg)
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-100", AuthMode: AuthModeQR})
	require.NoError(t, err)
	assert.Equal(t, StateInitializing, snap.State)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "data:image/png;base64,AAAA"})
	snap = waitForState(t, m, snap.ID, StateQRReady)
	assert.Equal(t, "data:image/png;base64,AAAA", snap.Credential)

	fake.Emit(driver.Event{Kind: driver.EventReady})
	snap = waitForState(t, m, snap.ID, StateCompleted)
	assert.Empty(t, snap.Credential, "credential cleared after authentication")
	assert.Empty(t, snap.LastError)

	calls := notifier.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "C-100", calls[0].ClientReference)
	assert.Equal(t, 2, calls[0].Statistics.ConversationsProcessed)
	assert.Equal(t, 3, calls[0].Statistics.MessagesExtracted)

	data, err := os.ReadFile(calls[0].FilePath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Total Messages Extracted: 3")

	require.Eventually(t, func() bool { return fake.CloseCalls() == 1 },
		time.Second, 5*time.Millisecond, "driver released exactly once")
}

func TestQRRotation_UpdatesCredential(t *testing.T) {
	fake := drivertest.New()
	m := NewManager(testConfig(t, fake))
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-1", AuthMode: AuthModeQR})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr-1"})
	waitForState(t, m, snap.ID, StateQRReady)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr-2"})
	require.Eventually(t, func() bool {
		s, err := m.Status(snap.ID)
		return err == nil && s.Credential == "qr-2"
	}, time.Second, 5*time.Millisecond)

	s, err := m.Status(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StateQRReady, s.State, "rotation keeps the state")
}

func TestPairingSession_CodeReady(t *testing.T) {
	fake := drivertest.New()
	fake.PairCode = "ABCD-EFGH"
	m := NewManager(testConfig(t, fake))
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{
		ClientReference: "C-2",
		AuthMode:        AuthModePairing,
		PhoneNumber:     "+4915112345678",
	})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr-ignored"})
	snap = waitForState(t, m, snap.ID, StatePairingReady)
	assert.Equal(t, "ABCD-EFGH", snap.Credential)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, []string{"+4915112345678"}, fake.PairCalls())
}

func TestPairingSession_FallsBackToQR(t *testing.T) {
	fake := drivertest.New()
	fake.PairErr = errors.New("pairing entry point not found")
	m := NewManager(testConfig(t, fake))
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{
		ClientReference: "C-3",
		AuthMode:        AuthModePairing,
		PhoneNumber:     "+4915112345678",
	})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr-fallback"})
	snap = waitForState(t, m, snap.ID, StateQRReady)
	assert.Equal(t, "qr-fallback", snap.Credential)
	assert.NotEmpty(t, snap.LastError, "fallback is recorded, not fatal")
}

func TestAuthFailure_FailsSession(t *testing.T) {
	fake := drivertest.New()
	m := NewManager(testConfig(t, fake))
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-4", AuthMode: AuthModeQR})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr"})
	waitForState(t, m, snap.ID, StateQRReady)

	fake.Emit(driver.Event{Kind: driver.EventAuthFailure, Err: errors.New("login rejected")})
	snap = waitForState(t, m, snap.ID, StateFailed)
	assert.Contains(t, snap.LastError, "authentication failure")
}

func TestDisconnect_BeforeConnectedFails(t *testing.T) {
	fake := drivertest.New()
	m := NewManager(testConfig(t, fake))
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-5", AuthMode: AuthModeQR})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventDisconnected})
	snap = waitForState(t, m, snap.ID, StateFailed)
	assert.Contains(t, snap.LastError, "connection")
}

func TestEnumerationFailure_FailsSession(t *testing.T) {
	fake := drivertest.New()
	fake.ConvErr = errors.New("chat list never rendered")
	m := NewManager(testConfig(t, fake))
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-6", AuthMode: AuthModeQR})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr"})
	fake.Emit(driver.Event{Kind: driver.EventReady})

	snap = waitForState(t, m, snap.ID, StateFailed)
	assert.Contains(t, snap.LastError, "extraction failed")
}

func TestNotificationFailure_StillCompletes(t *testing.T) {
	fake := drivertest.New()
	fake.Convs = []driver.Conversation{{ID: "c1", Name: "Alice"}}
	fake.MsgsByConv = map[string][]driver.Message{
		"c1": {{Timestamp: time.Now(), Sender: "Alice", Body: "hi"}},
	}

	notifier := &stubNotifier{err: errors.New("backend unreachable")}
	cfg := testConfig(t, fake)
	cfg.Notifier = notifier
	m := NewManager(cfg)
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-7", AuthMode: AuthModeQR})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr"})
	fake.Emit(driver.Event{Kind: driver.EventReady})

	snap = waitForState(t, m, snap.ID, StateCompleted)
	assert.Contains(t, snap.LastError, "backend notification failed")

	calls := notifier.Calls()
	require.Len(t, calls, 1)
	_, statErr := os.Stat(calls[0].FilePath)
	assert.NoError(t, statErr, "export file survives a failed notification")
}

func TestTimeout_NoReadyBeforeDeadline(t *testing.T) {
	fake := drivertest.New()
	cfg := testConfig(t, fake)
	cfg.QRTimeout = 30 * time.Millisecond
	cfg.Retention = 100 * time.Millisecond
	m := NewManager(cfg)
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-8", AuthMode: AuthModeQR})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr"})
	snap = waitForState(t, m, snap.ID, StateTimeout)
	assert.NotEmpty(t, snap.LastError)

	// Late ready event after the terminal state is a no-op.
	fake.Emit(driver.Event{Kind: driver.EventReady})
	time.Sleep(20 * time.Millisecond)
	s, err := m.Status(snap.ID)
	if err == nil {
		assert.Equal(t, StateTimeout, s.State)
	}

	// Evicted only after the retention window.
	require.Eventually(t, func() bool {
		_, err := m.Status(snap.ID)
		return errors.Is(err, ErrNotFound)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancel_ImmediateAndSticky(t *testing.T) {
	fake := drivertest.New()
	m := NewManager(testConfig(t, fake))
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-9", AuthMode: AuthModeQR})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr"})
	waitForState(t, m, snap.ID, StateQRReady)

	require.NoError(t, m.Cancel(context.Background(), snap.ID))

	// Immediate: the very next poll already observes failed.
	s, err := m.Status(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, s.State)
	assert.Contains(t, s.LastError, "cancelled by caller")

	// A racing ready event never resurrects the session.
	fake.Emit(driver.Event{Kind: driver.EventReady})
	time.Sleep(20 * time.Millisecond)
	s, err = m.Status(snap.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, s.State)

	require.Eventually(t, func() bool { return fake.CloseCalls() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestCancel_MidExtraction_NoExportNoOverwrite(t *testing.T) {
	fake := drivertest.New()
	fake.Convs = []driver.Conversation{
		{ID: "c1", Name: "Alice"},
		{ID: "c2", Name: "Bob"},
	}
	fake.BlockMsgs = make(chan struct{})

	notifier := &stubNotifier{}
	cfg := testConfig(t, fake)
	cfg.Notifier = notifier
	exportDir := cfg.Extract.ExportDir
	m := NewManager(cfg)
	defer shutdown(t, m)

	snap, err := m.Start(context.Background(), StartParams{ClientReference: "C-9", AuthMode: AuthModeQR})
	require.NoError(t, err)

	fake.Emit(driver.Event{Kind: driver.EventLoginCode, QRImage: "qr"})
	waitForState(t, m, snap.ID, StateQRReady)
	fake.Emit(driver.Event{Kind: driver.EventReady})

	// Let the pipeline reach its first blocked message fetch, then cancel.
	require.Eventually(t, func() bool { return fake.MessageCalls() > 0 },
		5*time.Second, 5*time.Millisecond, "extraction never started fetching")
	require.NoError(t, m.Cancel(context.Background(), snap.ID))

	s := waitForState(t, m, snap.ID, StateFailed)
	assert.Equal(t, "cancelled by caller", s.LastError,
		"cancellation reason must survive the aborted extraction")

	// The aborted run leaves no artifact and notifies nobody.
	require.Eventually(t, func() bool { return fake.CloseCalls() == 1 },
		5*time.Second, 5*time.Millisecond)
	entries, err := os.ReadDir(exportDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no export file for a cancelled session")
	assert.Empty(t, notifier.Calls())
}

func TestCancel_UnknownSession(t *testing.T) {
	m := NewManager(testConfig(t, drivertest.New()))
	defer shutdown(t, m)

	err := m.Cancel(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentStarts_RegistryIntact(t *testing.T) {
	cfg := Config{
		Factory: func(context.Context, string) (driver.Driver, error) {
			return drivertest.New(), nil
		},
		Extract: extract.Options{
			ExportDir:        t.TempDir(),
			MaxConversations: 20,
			MaxMessages:      100,
			FetchTimeout:     time.Second,
			FetchRPS:         1000,
		},
		QRTimeout:      5 * time.Second,
		PairingTimeout: 5 * time.Second,
		Retention:      time.Hour,
	}
	m := NewManager(cfg)
	defer shutdown(t, m)

	const n = 10
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := m.Start(context.Background(), StartParams{
				ClientReference: fmt.Sprintf("client-%d", i),
				AuthMode:        AuthModeQR,
			})
			require.NoError(t, err)
			ids[i] = snap.ID
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, m.Registry().Len())
	for i, id := range ids {
		s, err := m.Status(id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("client-%d", i), s.ClientReference)
	}

	seen := make(map[string]bool, n)
	for _, snap := range m.List() {
		seen[snap.ID] = true
	}
	assert.Len(t, seen, n, "all ids distinct")
}
