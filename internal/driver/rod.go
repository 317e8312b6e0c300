package driver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	rodinput "github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/forensiq/wacapture/internal/log"
)

// DOM anchors of the web client. Kept in one place because they are the
// first thing to break when the platform ships a UI change.
const (
	selQRContainer = `div[data-ref]`           // login screen; data-ref rotates when the code refreshes
	selQRCanvas    = `div[data-ref] canvas`    // rendered QR image
	selChatList    = `#pane-side`              // present only after authentication
	selChatRows    = `#pane-side [role="listitem"]`
	selPairCode    = `div[data-link-code]`     // pairing code screen
	selPhoneInput  = `form input[type="text"]` // phone number entry
	pairLinkText   = "Log in with phone number"
)

const watchInterval = time.Second

// Options configures the rod-backed driver.
type Options struct {
	Bin        string // browser binary; empty lets the launcher resolve one
	ControlURL string // attach to a running Chrome instead of launching
	Headless   bool
	LoginURL   string
}

// Rod drives the web messaging client through a dedicated headless browser
// page. One Rod instance belongs to exactly one session.
type Rod struct {
	opts   Options
	logger zerolog.Logger

	browser *rod.Browser
	page    *rod.Page

	events    chan Event
	watchStop context.CancelFunc
	watchDone chan struct{}
	closeOnce sync.Once
}

// NewFactory returns a Factory producing rod-backed drivers.
func NewFactory(opts Options) Factory {
	return func(_ context.Context, sessionID string) (Driver, error) {
		return &Rod{
			opts:      opts,
			logger:    log.WithComponent("driver").With().Str(log.FieldSessionID, sessionID).Logger(),
			events:    make(chan Event, 8),
			watchDone: make(chan struct{}),
		}, nil
	}
}

// Start connects to the browser, opens the login page and begins emitting
// lifecycle events.
func (d *Rod) Start(ctx context.Context) error {
	controlURL := d.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(d.opts.Headless)
		if d.opts.Bin != "" {
			l = l.Bin(d.opts.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return fmt.Errorf("launch browser: %w", err)
		}
		controlURL = url
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to browser: %w", err)
	}
	d.browser = browser

	incognito, err := browser.Incognito()
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("incognito context: %w", err)
	}

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}
	d.page = page

	if err := page.Context(ctx).Timeout(30 * time.Second).Navigate(d.opts.LoginURL); err != nil {
		_ = browser.Close()
		return fmt.Errorf("navigate to login page: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.watchStop = cancel
	go d.watch(watchCtx)

	d.logger.Info().
		Str(log.FieldEvent, "driver.start").
		Str("login_url", d.opts.LoginURL).
		Msg("login page opened")
	return nil
}

// watch polls the page and turns DOM state changes into lifecycle events.
// It is the only sender on d.events and therefore owns closing it, so a
// Close racing a pending emit can never hit a closed channel.
func (d *Rod) watch(ctx context.Context) {
	defer func() {
		close(d.events)
		close(d.watchDone)
	}()

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var (
		lastRef string
		ready   bool
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		page := d.page.Context(ctx)

		hasChats, _, err := page.Has(selChatList)
		if err != nil {
			// The page or browser went away under us.
			d.emit(ctx, Event{Kind: EventDisconnected, Err: fmt.Errorf("page lost: %w", err)})
			return
		}
		if hasChats {
			if !ready {
				ready = true
				d.emit(ctx, Event{Kind: EventReady})
			}
			continue
		}
		if ready {
			// Chat list vanished after authentication: logged out remotely.
			d.emit(ctx, Event{Kind: EventDisconnected, Err: fmt.Errorf("client logged out")})
			return
		}

		hasQR, qrEl, err := page.Has(selQRContainer)
		if err != nil || !hasQR {
			continue
		}
		ref, err := qrEl.Attribute("data-ref")
		if err != nil || ref == nil || *ref == lastRef {
			continue
		}
		img, err := d.qrImage(page)
		if err != nil {
			d.logger.Debug().Err(err).Msg("qr capture failed, retrying")
			continue
		}
		lastRef = *ref
		d.emit(ctx, Event{Kind: EventLoginCode, QRImage: img})
	}
}

// qrImage screenshots the QR canvas and returns it as a PNG data URL.
func (d *Rod) qrImage(page *rod.Page) (string, error) {
	canvas, err := page.Element(selQRCanvas)
	if err != nil {
		return "", fmt.Errorf("qr canvas: %w", err)
	}
	png, err := canvas.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
	if err != nil {
		return "", fmt.Errorf("qr screenshot: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

func (d *Rod) emit(ctx context.Context, ev Event) {
	select {
	case d.events <- ev:
	case <-ctx.Done():
	}
}

// RequestPairingCode walks the "log in with phone number" flow and reads the
// code off the screen.
func (d *Rod) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	page := d.page.Context(ctx)

	link, err := page.ElementR("span", pairLinkText)
	if err != nil {
		return "", fmt.Errorf("pairing link not found: %w", err)
	}
	if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return "", fmt.Errorf("open pairing screen: %w", err)
	}

	input, err := page.Element(selPhoneInput)
	if err != nil {
		return "", fmt.Errorf("phone input not found: %w", err)
	}
	if err := input.Input(phoneNumber); err != nil {
		return "", fmt.Errorf("enter phone number: %w", err)
	}
	if err := input.Type(rodinput.Enter); err != nil {
		return "", fmt.Errorf("submit phone number: %w", err)
	}

	codeEl, err := page.Element(selPairCode)
	if err != nil {
		return "", fmt.Errorf("pairing code not shown: %w", err)
	}
	raw, err := codeEl.Attribute("data-link-code")
	if err != nil || raw == nil {
		return "", fmt.Errorf("pairing code attribute missing: %w", err)
	}
	return formatPairingCode(*raw), nil
}

// formatPairingCode normalizes "A,B,C,D,E,F,G,H" into "ABCD-EFGH".
func formatPairingCode(raw string) string {
	code := strings.ReplaceAll(raw, ",", "")
	if len(code) == 8 {
		return code[:4] + "-" + code[4:]
	}
	return code
}

// Conversations scrapes the chat list sidebar, bounded to max rows in the
// order the client presents them.
func (d *Rod) Conversations(ctx context.Context, max int) ([]Conversation, error) {
	page := d.page.Context(ctx)

	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `
		(max) => {
			const rows = Array.from(document.querySelectorAll('#pane-side [role="listitem"]')).slice(0, max);
			return rows.map((row, idx) => {
				const title = row.querySelector('span[title]');
				const group = !!row.querySelector('span[data-icon="default-group"]');
				return {
					id: 'chat_' + idx,
					name: title ? title.getAttribute('title') : ('conversation ' + (idx + 1)),
					group: group,
				};
			});
		}
		`,
		JSArgs:       []interface{}{max},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("enumerate conversations: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal conversation list: %w", err)
	}
	var rows []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Group bool   `json:"group"`
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode conversation list: %w", err)
	}

	out := make([]Conversation, 0, len(rows))
	for _, r := range rows {
		out = append(out, Conversation{ID: r.ID, Name: r.Name, IsGroup: r.Group})
	}
	return out, nil
}

// Messages opens the conversation and scrapes the most recent max messages
// from the message pane.
func (d *Rod) Messages(ctx context.Context, conv Conversation, max int) ([]Message, error) {
	page := d.page.Context(ctx)

	idx, err := chatIndex(conv.ID)
	if err != nil {
		return nil, err
	}
	rows, err := page.Elements(selChatRows)
	if err != nil {
		return nil, fmt.Errorf("chat rows: %w", err)
	}
	if idx >= len(rows) {
		return nil, fmt.Errorf("conversation %q no longer listed", conv.Name)
	}
	if err := rows[idx].Click(proto.InputMouseButtonLeft, 1); err != nil {
		return nil, fmt.Errorf("open conversation %q: %w", conv.Name, err)
	}

	res, err := page.Evaluate(&rod.EvalOptions{
		JS: `
		(max) => {
			const nodes = Array.from(document.querySelectorAll('#main div.copyable-text[data-pre-plain-text]'));
			return nodes.slice(-max).map((node) => {
				const text = node.querySelector('span.selectable-text');
				const media = node.querySelector('img, video, audio, span[data-icon="audio-play"]');
				return {
					meta: node.getAttribute('data-pre-plain-text') || '',
					body: text ? text.innerText : '',
					kind: media && !text ? 'media' : 'chat',
				};
			});
		}
		`,
		JSArgs:       []interface{}{max},
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return nil, fmt.Errorf("scrape messages: %w", err)
	}

	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal message list: %w", err)
	}
	var rowsJSON []struct {
		Meta string `json:"meta"`
		Body string `json:"body"`
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &rowsJSON); err != nil {
		return nil, fmt.Errorf("decode message list: %w", err)
	}

	out := make([]Message, 0, len(rowsJSON))
	for _, r := range rowsJSON {
		ts, sender := parsePrePlainText(r.Meta)
		out = append(out, Message{
			Timestamp: ts,
			Sender:    sender,
			Body:      r.Body,
			Kind:      r.Kind,
		})
	}
	return out, nil
}

// chatIndex recovers the sidebar position from a conversation id.
func chatIndex(id string) (int, error) {
	raw, ok := strings.CutPrefix(id, "chat_")
	if !ok {
		return 0, fmt.Errorf("malformed conversation id %q", id)
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("malformed conversation id %q: %w", id, err)
	}
	return idx, nil
}

// parsePrePlainText decodes the client's "[HH:MM, D/M/YYYY] Sender: " prefix.
// Unparseable prefixes fall back to a zero timestamp and the raw string.
func parsePrePlainText(meta string) (time.Time, string) {
	meta = strings.TrimSpace(meta)
	end := strings.Index(meta, "]")
	if !strings.HasPrefix(meta, "[") || end < 0 {
		return time.Time{}, strings.TrimSuffix(meta, ":")
	}
	stamp := meta[1:end]
	sender := strings.TrimSuffix(strings.TrimSpace(meta[end+1:]), ":")

	ts, err := time.ParseInLocation("15:04, 2/1/2006", stamp, time.Local)
	if err != nil {
		return time.Time{}, sender
	}
	return ts, sender
}

// Events returns the lifecycle event stream.
func (d *Rod) Events() <-chan Event {
	return d.events
}

// Close stops the watcher and tears down the browser. Subsequent calls are
// no-ops.
func (d *Rod) Close(ctx context.Context) error {
	var err error
	d.closeOnce.Do(func() {
		if d.watchStop != nil {
			// The watcher closes d.events on its way out.
			d.watchStop()
			select {
			case <-d.watchDone:
			case <-ctx.Done():
			}
		} else {
			// Start never launched the watcher, so nobody else will close it.
			close(d.events)
		}
		if d.browser != nil {
			err = d.browser.Close()
		}
		d.logger.Info().Str(log.FieldEvent, "driver.close").Msg("browser released")
	})
	return err
}
