// Package drivertest provides a deterministic in-memory driver for tests.
package drivertest

import (
	"context"
	"sync"

	"github.com/forensiq/wacapture/internal/driver"
)

// Fake implements driver.Driver with scripted data and manual event emission.
type Fake struct {
	mu sync.Mutex

	// Scripted behavior, set before use.
	StartErr    error
	PairCode    string
	PairErr     error
	Convs       []driver.Conversation
	ConvErr     error
	MsgsByConv  map[string][]driver.Message
	MsgErrs     map[string]error
	BlockFetch  chan struct{} // when set, Conversations blocks until closed or ctx done
	BlockMsgs   chan struct{} // when set, Messages blocks until closed or ctx done

	events     chan driver.Event
	started    bool
	closed     bool
	closeCalls int
	msgCalls   int
	pairCalls  []string
}

// New returns a Fake with an open event channel.
func New() *Fake {
	return &Fake{events: make(chan driver.Event, 16)}
}

// Emit delivers a lifecycle event to the session owner. Events emitted
// after Close are dropped, mirroring a torn-down browser.
func (f *Fake) Emit(ev driver.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- ev
}

func (f *Fake) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return f.StartErr
	}
	f.started = true
	return nil
}

func (f *Fake) RequestPairingCode(ctx context.Context, phoneNumber string) (string, error) {
	f.mu.Lock()
	f.pairCalls = append(f.pairCalls, phoneNumber)
	f.mu.Unlock()
	if f.PairErr != nil {
		return "", f.PairErr
	}
	return f.PairCode, nil
}

func (f *Fake) Conversations(ctx context.Context, max int) ([]driver.Conversation, error) {
	if f.BlockFetch != nil {
		select {
		case <-f.BlockFetch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.ConvErr != nil {
		return nil, f.ConvErr
	}
	convs := f.Convs
	if len(convs) > max {
		convs = convs[:max]
	}
	return convs, nil
}

func (f *Fake) Messages(ctx context.Context, conv driver.Conversation, max int) ([]driver.Message, error) {
	f.mu.Lock()
	f.msgCalls++
	f.mu.Unlock()
	if f.BlockMsgs != nil {
		select {
		case <-f.BlockMsgs:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := f.MsgErrs[conv.ID]; err != nil {
		return nil, err
	}
	msgs := f.MsgsByConv[conv.ID]
	if len(msgs) > max {
		msgs = msgs[len(msgs)-max:]
	}
	return msgs, nil
}

func (f *Fake) Events() <-chan driver.Event {
	return f.events
}

func (f *Fake) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Started reports whether Start succeeded.
func (f *Fake) Started() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started
}

// CloseCalls returns how many times Close was invoked.
func (f *Fake) CloseCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCalls
}

// MessageCalls returns how many times Messages was invoked.
func (f *Fake) MessageCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgCalls
}

// PairCalls returns the phone numbers passed to RequestPairingCode.
func (f *Fake) PairCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pairCalls...)
}

// Factory returns a driver.Factory handing out exactly this fake.
func (f *Fake) Factory() driver.Factory {
	return func(context.Context, string) (driver.Driver, error) {
		return f, nil
	}
}
