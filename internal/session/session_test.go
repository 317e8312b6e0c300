package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransition_CheckAndSet(t *testing.T) {
	s := newSession("id-1", "C-1", AuthModeQR, "")

	old, ok := s.transition(StateQRReady, StateInitializing)
	require.True(t, ok)
	assert.Equal(t, StateInitializing, old)
	assert.Equal(t, StateQRReady, s.State())

	// Wrong from-state is a no-op.
	_, ok = s.transition(StateExtracting, StateConnected)
	assert.False(t, ok)
	assert.Equal(t, StateQRReady, s.State())
}

func TestTransition_FirstTerminalWins(t *testing.T) {
	s := newSession("id-2", "C-1", AuthModeQR, "")

	_, ok := s.transition(StateFailed, nonTerminalStates...)
	require.True(t, ok)

	// A racing timeout (or any later transition) is dropped.
	_, ok = s.transition(StateTimeout, nonTerminalStates...)
	assert.False(t, ok)
	_, ok = s.transition(StateCompleted, StateExtracting)
	assert.False(t, ok)
	assert.Equal(t, StateFailed, s.State())
}

func TestTransitionWithReason_LoserLeavesReasonAlone(t *testing.T) {
	s := newSession("id-5", "C-1", AuthModeQR, "")

	_, ok := s.transitionWithReason(StateFailed, "cancelled by caller", nonTerminalStates...)
	require.True(t, ok)

	// A racer losing the terminal race must not touch the recorded reason.
	_, ok = s.transitionWithReason(StateFailed, "extraction failed: boom", nonTerminalStates...)
	assert.False(t, ok)
	_, ok = s.transitionWithReason(StateCompleted, "backend notification failed: dial", StateExtracting)
	assert.False(t, ok)
	assert.Equal(t, "cancelled by caller", s.Snapshot().LastError)
}

func TestStateTerminal(t *testing.T) {
	for _, st := range nonTerminalStates {
		assert.False(t, st.Terminal(), string(st))
	}
	for _, st := range []State{StateCompleted, StateFailed, StateTimeout} {
		assert.True(t, st.Terminal(), string(st))
	}
}

func TestSnapshot_Consistency(t *testing.T) {
	s := newSession("id-3", "C-9", AuthModePairing, "+491511")
	s.setCredential("ABCD-EFGH")
	s.setError("some warning")

	snap := s.Snapshot()
	assert.Equal(t, "id-3", snap.ID)
	assert.Equal(t, "C-9", snap.ClientReference)
	assert.Equal(t, AuthModePairing, snap.AuthMode)
	assert.Equal(t, "ABCD-EFGH", snap.Credential)
	assert.Equal(t, "some warning", snap.LastError)
	assert.False(t, snap.CreatedAt.IsZero())
}

func TestRegistry_InsertGetRemove(t *testing.T) {
	r := NewRegistry()
	s := newSession("id-4", "C-1", AuthModeQR, "")

	_, ok := r.Get("id-4")
	assert.False(t, ok)

	r.insert(s)
	got, ok := r.Get("id-4")
	require.True(t, ok)
	assert.Same(t, s, got)
	assert.Equal(t, 1, r.Len())

	r.remove("id-4")
	_, ok = r.Get("id-4")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}
