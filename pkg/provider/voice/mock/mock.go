// Package mock provides in-memory test doubles for the voice interfaces.
//
// The mock provider hands out a scriptable call handle: tests push raw
// events with [Handle.Emit], end the stream with [Handle.End], and inspect
// what the system under test sent or whether it closed the call.
package mock

import (
	"context"
	"sync"

	"github.com/verbatim-labs/verbatim/pkg/provider/voice"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// Compile-time assertions that the mocks satisfy the voice interfaces.
var _ voice.Provider = (*Provider)(nil)
var _ voice.CallHandle = (*Handle)(nil)

// Provider is a configurable test double for [voice.Provider].
type Provider struct {
	mu sync.Mutex

	// ConnectErr is returned by Connect when non-nil.
	ConnectErr error

	// handles records every handle Connect produced, in order.
	handles []*Handle

	// configs records the CallConfig of every Connect call.
	configs []voice.CallConfig
}

// Connect implements [voice.Provider]. Each call returns a fresh [Handle].
func (p *Provider) Connect(_ context.Context, cfg voice.CallConfig) (voice.CallHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.configs = append(p.configs, cfg)
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	h := NewHandle("mock-call-1")
	p.handles = append(p.handles, h)
	return h, nil
}

// Handle returns the n-th handle Connect produced, or nil.
func (p *Provider) Handle(n int) *Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n < 0 || n >= len(p.handles) {
		return nil
	}
	return p.handles[n]
}

// Configs returns a copy of the CallConfig of every Connect call.
func (p *Provider) Configs() []voice.CallConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]voice.CallConfig, len(p.configs))
	copy(out, p.configs)
	return out
}

// ConnectCount returns how many times Connect was invoked.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.configs)
}

// Handle is a scriptable test double for [voice.CallHandle].
type Handle struct {
	id     string
	events chan types.Event

	mu sync.Mutex

	// SendTextErr is returned by SendText when non-nil.
	SendTextErr error

	sent    []string
	errVal  error
	closed  bool
	endOnce sync.Once
}

// NewHandle creates a handle with the given call id and an open event stream.
func NewHandle(id string) *Handle {
	return &Handle{
		id:     id,
		events: make(chan types.Event, 64),
	}
}

// Emit pushes a raw event onto the handle's stream.
func (h *Handle) Emit(ev types.Event) {
	h.events <- ev
}

// End closes the event stream, as if the provider hung up. err becomes the
// handle's terminal error; pass nil for a clean hangup. Safe to call
// multiple times.
func (h *Handle) End(err error) {
	h.endOnce.Do(func() {
		h.mu.Lock()
		h.errVal = err
		h.mu.Unlock()
		close(h.events)
	})
}

// Sent returns a copy of every text sent via SendText.
func (h *Handle) Sent() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.sent))
	copy(out, h.sent)
	return out
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// ID implements [voice.CallHandle].
func (h *Handle) ID() string { return h.id }

// Events implements [voice.CallHandle].
func (h *Handle) Events() <-chan types.Event { return h.events }

// SendText implements [voice.CallHandle].
func (h *Handle) SendText(text string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SendTextErr != nil {
		return h.SendTextErr
	}
	h.sent = append(h.sent, text)
	return nil
}

// Err implements [voice.CallHandle].
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.errVal
}

// Close implements [voice.CallHandle]. It also ends the event stream so a
// pump draining Events unblocks.
func (h *Handle) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.End(nil)
	return nil
}
