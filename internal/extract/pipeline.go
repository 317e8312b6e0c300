package extract

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/forensiq/wacapture/internal/driver"
	"github.com/forensiq/wacapture/internal/log"
	"github.com/forensiq/wacapture/internal/metrics"
)

// Options bounds a pipeline run.
type Options struct {
	ExportDir        string
	MaxConversations int
	MaxMessages      int
	FetchTimeout     time.Duration
	FetchRPS         float64
}

// Result reports where the export landed and what it contains.
type Result struct {
	Path  string
	Stats Stats
}

// Pipeline drains a connected driver into a plain-text export file.
// Fetches are sequential and rate-limited so a single session never
// hammers the remote end.
type Pipeline struct {
	opts    Options
	limiter *rate.Limiter
}

// New builds a pipeline with the given bounds.
func New(opts Options) *Pipeline {
	rps := opts.FetchRPS
	if rps <= 0 {
		rps = 1
	}
	return &Pipeline{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// Run enumerates conversations and fetches their recent messages, then
// writes the export document. A per-conversation fetch failure is recorded
// inline in that conversation's section; a failure enumerating conversations
// is fatal and returns an error with no file written. Cancellation of ctx is
// always fatal: once the caller gave up, no further fetch runs and no
// artifact is written.
func (p *Pipeline) Run(ctx context.Context, d driver.Driver, clientRef, sessionID string, createdAt time.Time) (Result, error) {
	logger := log.FromContext(ctx).With().Str(log.FieldComponent, "extract").Logger()

	convs, err := p.fetchConversations(ctx, d)
	if err != nil {
		return Result{}, fmt.Errorf("enumerate conversations: %w", err)
	}
	logger.Info().Int("conversations", len(convs)).Msg("conversation enumeration complete")

	doc := Document{
		ExportedAt:      time.Now(),
		ClientReference: clientRef,
		Sections:        make([]Section, 0, len(convs)),
	}

	for _, conv := range convs {
		msgs, err := p.fetchMessages(ctx, d, conv)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, fmt.Errorf("extraction aborted: %w", ctx.Err())
			}
			logger.Warn().Err(err).Str("conversation", conv.Name).Msg("message fetch failed")
			metrics.ConversationProcessed(false)
			doc.Sections = append(doc.Sections, Section{Conversation: conv, FetchErr: err})
			continue
		}
		metrics.ConversationProcessed(true)
		metrics.MessagesExtracted(len(msgs))
		doc.Sections = append(doc.Sections, Section{Conversation: conv, Messages: msgs})
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("extraction aborted: %w", err)
	}

	path := filepath.Join(p.opts.ExportDir, ExportFilename(clientRef, sessionID, createdAt))
	if err := writeExport(ctx, path, doc); err != nil {
		metrics.ExportWritten(false)
		return Result{}, err
	}
	metrics.ExportWritten(true)

	stats := doc.Stats()
	logger.Info().
		Str(log.FieldPath, path).
		Int("conversations", stats.ConversationsProcessed).
		Int("messages", stats.MessagesExtracted).
		Msg("export written")

	return Result{Path: path, Stats: stats}, nil
}

func (p *Pipeline) fetchConversations(ctx context.Context, d driver.Driver) ([]driver.Conversation, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()
	return d.Conversations(callCtx, p.opts.MaxConversations)
}

func (p *Pipeline) fetchMessages(ctx context.Context, d driver.Driver, conv driver.Conversation) ([]driver.Message, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()
	return d.Messages(callCtx, conv, p.opts.MaxMessages)
}
