// Package extract turns a connected driver into a plain-text export artifact.
package extract

import (
	"fmt"
	"io"
	"time"

	"github.com/forensiq/wacapture/internal/driver"
)

// Placeholder written for messages that carry no text body.
const nonTextPlaceholder = "[non-text content]"

// Section is one conversation inside the export document.
type Section struct {
	Conversation driver.Conversation
	Messages     []driver.Message
	FetchErr     error // recorded inline, does not abort the document
}

// Document is the fully assembled export artifact prior to rendering.
type Document struct {
	ExportedAt      time.Time
	ClientReference string
	Sections        []Section
}

// Stats summarizes a rendered document for the backend notification.
type Stats struct {
	ConversationsProcessed int
	MessagesExtracted      int
}

// Stats counts conversations and successfully extracted messages.
func (d Document) Stats() Stats {
	s := Stats{ConversationsProcessed: len(d.Sections)}
	for _, sec := range d.Sections {
		s.MessagesExtracted += len(sec.Messages)
	}
	return s
}

// WriteDocument renders the export document as UTF-8 plain text.
func WriteDocument(w io.Writer, doc Document) error {
	stats := doc.Stats()

	if _, err := fmt.Fprintf(w,
		"Conversation Export\n"+
			"===================\n"+
			"Exported At: %s\n"+
			"Client Reference: %s\n"+
			"Conversations: %d\n",
		doc.ExportedAt.Local().Format("2006-01-02 15:04:05"),
		doc.ClientReference,
		stats.ConversationsProcessed,
	); err != nil {
		return err
	}

	for _, sec := range doc.Sections {
		kind := "individual"
		if sec.Conversation.IsGroup {
			kind = "group"
		}
		if _, err := fmt.Fprintf(w, "\n--- Conversation: %s (%s) ---\n", sec.Conversation.Name, kind); err != nil {
			return err
		}
		if sec.FetchErr != nil {
			if _, err := fmt.Fprintf(w, "[!] failed to fetch messages: %v\n", sec.FetchErr); err != nil {
				return err
			}
			continue
		}
		for _, msg := range sec.Messages {
			body := msg.Body
			if !msg.IsText() {
				body = nonTextPlaceholder
			}
			if _, err := fmt.Fprintf(w, "[%s] %s: %s\n",
				msg.Timestamp.Local().Format("2006-01-02 15:04"),
				msg.Sender,
				body,
			); err != nil {
				return err
			}
		}
	}

	_, err := fmt.Fprintf(w,
		"\n-------------------\n"+
			"Conversations Processed: %d\n"+
			"Total Messages Extracted: %d\n",
		stats.ConversationsProcessed,
		stats.MessagesExtracted,
	)
	return err
}
