// Package vapi implements the voice.Provider interface for the Vapi platform.
//
// It establishes a bidirectional WebSocket connection to Vapi's call
// transport and exchanges JSON events. Transcript, status-update, and error
// events from the wire are surfaced verbatim on the handle's event channel;
// classification happens upstream.
package vapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/verbatim-labs/verbatim/pkg/provider/voice"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// Compile-time assertions that Provider and call satisfy the voice interfaces.
var _ voice.Provider = (*Provider)(nil)
var _ voice.CallHandle = (*call)(nil)

const defaultBaseURL = "wss://api.vapi.ai/ws"

// eventBuffer bounds the handle's event channel. Transcript events are small
// and the consumer drains quickly; a modest buffer rides out bursts.
const eventBuffer = 64

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements voice.Provider for Vapi.
type Provider struct {
	apiKey  string
	baseURL string
}

// New creates a new Vapi Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect dials a new Vapi call with the given configuration. The returned
// handle is live immediately after the start message is acknowledged by the
// write succeeding.
func (p *Provider) Connect(ctx context.Context, cfg voice.CallConfig) (voice.CallHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.baseURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + p.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("vapi: dial: %w", err)
	}

	callCtx, callCancel := context.WithCancel(context.Background())
	c := &call{
		conn:   conn,
		events: make(chan types.Event, eventBuffer),
		ctx:    callCtx,
		cancel: callCancel,
	}

	if err := c.sendStart(cfg); err != nil {
		callCancel()
		conn.Close(websocket.StatusInternalError, "start failed")
		return nil, fmt.Errorf("vapi: start call: %w", err)
	}

	go c.receiveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type startMessage struct {
	Type         string         `json:"type"`
	AssistantID  string         `json:"assistantId"`
	Instructions string         `json:"instructions,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type addMessage struct {
	Type    string     `json:"type"`
	Message addPayload `json:"message"`
}

type addPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type endCallMessage struct {
	Type string `json:"type"`
}

// ── call ───────────────────────────────────────────────────────────────────────

type call struct {
	conn   *websocket.Conn
	events chan types.Event

	mu     sync.Mutex
	callID string
	errVal error
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendStart asks the platform to begin the call with the configured agent.
func (c *call) sendStart(cfg voice.CallConfig) error {
	return c.writeJSON(startMessage{
		Type:         "start",
		AssistantID:  cfg.AgentID,
		Instructions: cfg.Instructions,
		Metadata:     cfg.Metadata,
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *call) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("vapi: marshal: %w", err)
	}
	return c.conn.Write(c.ctx, websocket.MessageText, data)
}

// receiveLoop reads events from the WebSocket and forwards them on the event
// channel. It owns the channel: it closes it when it exits.
func (c *call) receiveLoop() {
	defer c.closeEvents()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.setErr(err)
			return
		}

		var ev types.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}

		if ev.Type == "call-start" && ev.ID != "" {
			c.mu.Lock()
			c.callID = ev.ID
			c.mu.Unlock()
		}

		select {
		case c.events <- ev:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *call) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.errVal == nil {
		c.errVal = err
	}
}

func (c *call) closeEvents() {
	c.closeOnce.Do(func() {
		close(c.events)
	})
}

// ── CallHandle methods ─────────────────────────────────────────────────────────

// ID returns the provider's call id, or "" until the call-start event arrives.
func (c *call) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callID
}

// Events returns the channel on which raw provider events arrive.
func (c *call) Events() <-chan types.Event { return c.events }

// SendText injects a respondent text message into the live conversation.
func (c *call) SendText(text string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("vapi: call closed")
	}
	c.mu.Unlock()

	return c.writeJSON(addMessage{
		Type: "add-message",
		Message: addPayload{
			Role:    "user",
			Content: text,
		},
	})
}

// Err returns the error that terminated the call, if any.
func (c *call) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

// Close ends the call and releases all resources. Idempotent.
func (c *call) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// Best effort: the platform also ends the call when the socket drops.
	_ = c.writeJSON(endCallMessage{Type: "end-call"})

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "call ended")
	return nil
}
