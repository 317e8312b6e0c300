package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotify_Success(t *testing.T) {
	var got Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/forensics/analyze-internal", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "whatsapp")
	err := c.Notify(context.Background(), Notification{
		FilePath:        "/var/lib/wacapture/exports/c-100_20260314T093015Z.txt",
		ClientReference: "C-100",
		Statistics:      Statistics{ConversationsProcessed: 3, MessagesExtracted: 42},
	})
	require.NoError(t, err)

	assert.Equal(t, "C-100", got.ClientReference)
	assert.Equal(t, "whatsapp", got.Source)
	assert.Equal(t, 3, got.Statistics.ConversationsProcessed)
	assert.Equal(t, 42, got.Statistics.MessagesExtracted)
}

func TestNotify_StatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		sentinel error
	}{
		{"bad request", http.StatusBadRequest, "missing clientReference", ErrBackendRejected},
		{"not found", http.StatusNotFound, "", ErrBackendRejected},
		{"server error", http.StatusInternalServerError, "boom", ErrBackendError},
		{"bad gateway", http.StatusBadGateway, "", ErrBackendError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			err := New(srv.URL, "whatsapp").Notify(context.Background(), Notification{})
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.sentinel)

			var nErr *NotifyError
			require.ErrorAs(t, err, &nErr)
			assert.Equal(t, tc.status, nErr.Status)
			if tc.body != "" {
				assert.Contains(t, nErr.Body, tc.body)
			}
		})
	}
}

func TestNotify_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on

	err := New(srv.URL, "whatsapp").Notify(context.Background(), Notification{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestNotify_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New(srv.URL, "whatsapp").Notify(ctx, Notification{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestNew_TrimsTrailingSlash(t *testing.T) {
	c := New("http://backend.internal/", "whatsapp")
	assert.Equal(t, "http://backend.internal", c.base)
}
