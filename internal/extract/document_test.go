package extract

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forensiq/wacapture/internal/driver"
)

func TestWriteDocument_Golden(t *testing.T) {
	loc := time.FixedZone("UTC", 0)
	exported := time.Date(2026, 3, 14, 9, 30, 0, 0, loc)
	ts := time.Date(2026, 3, 14, 8, 15, 0, 0, loc)

	doc := Document{
		ExportedAt:      exported,
		ClientReference: "C-100",
		Sections: []Section{
			{
				Conversation: driver.Conversation{ID: "c1", Name: "Alice"},
				Messages: []driver.Message{
					{Timestamp: ts, Sender: "Alice", Body: "hello"},
					{Timestamp: ts.Add(2 * time.Minute), Sender: "me", Body: "", Kind: "media"},
				},
			},
			{
				Conversation: driver.Conversation{ID: "c2", Name: "Project Team", IsGroup: true},
				FetchErr:     errors.New("chat pane did not load"),
			},
		},
	}

	var b strings.Builder
	require.NoError(t, WriteDocument(&b, doc))

	// Expected timestamps go through the same Local() rendering, so the
	// comparison holds in any test timezone.
	want := strings.Join([]string{
		"Conversation Export",
		"===================",
		"Exported At: " + exported.Local().Format("2006-01-02 15:04:05"),
		"Client Reference: C-100",
		"Conversations: 2",
		"",
		"--- Conversation: Alice (individual) ---",
		"[" + ts.Local().Format("2006-01-02 15:04") + "] Alice: hello",
		"[" + ts.Add(2*time.Minute).Local().Format("2006-01-02 15:04") + "] me: [non-text content]",
		"",
		"--- Conversation: Project Team (group) ---",
		"[!] failed to fetch messages: chat pane did not load",
		"",
		"-------------------",
		"Conversations Processed: 2",
		"Total Messages Extracted: 2",
		"",
	}, "\n")

	if diff := cmp.Diff(want, b.String()); diff != "" {
		t.Errorf("document mismatch (-want +got):\n%s", diff)
	}
}

func TestDocumentStats(t *testing.T) {
	doc := Document{
		Sections: []Section{
			{Messages: make([]driver.Message, 3)},
			{FetchErr: errors.New("boom")},
			{Messages: make([]driver.Message, 2)},
		},
	}
	stats := doc.Stats()
	assert.Equal(t, 3, stats.ConversationsProcessed)
	assert.Equal(t, 5, stats.MessagesExtracted)
}
