// Package voice defines the provider-agnostic interface to a real-time voice
// agent platform.
//
// A provider dials a live call with a configured agent and returns a handle.
// The handle surfaces the provider's raw event stream (transcripts, status
// changes, errors) and accepts injected text messages. Implementations live
// in subpackages (vapi for production, mock for tests).
package voice

import (
	"context"

	"github.com/verbatim-labs/verbatim/pkg/types"
)

// CallConfig describes the call to establish.
type CallConfig struct {
	// AgentID selects the provider-side voice agent for the call.
	AgentID string

	// Instructions overrides or extends the agent's system prompt, e.g.
	// with a rendered discussion guide.
	Instructions string

	// Metadata is attached to the provider call for later correlation.
	Metadata map[string]any
}

// Provider establishes live voice calls.
type Provider interface {
	// Connect dials a new call. The returned handle is live: events begin
	// flowing as soon as the provider accepts the call.
	Connect(ctx context.Context, cfg CallConfig) (CallHandle, error)
}

// CallHandle is a live connection to one voice call.
type CallHandle interface {
	// ID returns the provider's call identifier, when known.
	ID() string

	// Events returns the raw provider event stream. The channel is closed
	// when the call ends, after which Err reports why.
	Events() <-chan types.Event

	// SendText injects a text message into the conversation as the
	// respondent. The agent hears it as if it were spoken.
	SendText(text string) error

	// Err returns the error that terminated the call, or nil for a clean
	// shutdown. Only meaningful after Events is closed.
	Err() error

	// Close ends the call and releases all resources. Idempotent.
	Close() error
}
