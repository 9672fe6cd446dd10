package call

import (
	"errors"
	"strings"
)

// Kind buckets call errors by how the orchestrator should react.
type Kind int

const (
	// KindTransport is a genuine connection or provider failure. The call
	// ends in the failed state.
	KindTransport Kind = iota

	// KindBenignTeardown is an error-shaped event the provider emits during
	// a normal hangup. The call ends cleanly.
	KindBenignTeardown

	// KindConfiguration is a caller mistake (missing credentials, unknown
	// agent). Surfaced before any call state exists.
	KindConfiguration
)

// String returns a log-friendly name for the kind.
func (k Kind) String() string {
	switch k {
	case KindBenignTeardown:
		return "benign_teardown"
	case KindConfiguration:
		return "configuration"
	default:
		return "transport"
	}
}

// ErrCallActive is returned by StartInterview while another call is live.
var ErrCallActive = errors.New("call: interview already in progress")

// ErrNoActiveCall is returned by SendMessage when no call is live.
var ErrNoActiveCall = errors.New("call: no interview in progress")

// ErrEmptyMessage is returned by SendMessage for blank input.
var ErrEmptyMessage = errors.New("call: message text is empty")

// benignPatterns are substrings of provider error messages that accompany a
// normal call teardown rather than a real failure.
var benignPatterns = []string{
	"meeting has ended",
	"meeting ended",
	"ejection",
	"call ended",
	"room was deleted",
}

// ClassifyMessage buckets a raw provider error message.
func ClassifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, p := range benignPatterns {
		if strings.Contains(lower, p) {
			return KindBenignTeardown
		}
	}
	return KindTransport
}
