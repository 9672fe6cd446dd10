// Package types defines the shared types used across all Verbatim packages.
//
// These types form the lingua franca between the voice provider, the
// transcript reconciliation pipeline, the persistence layer, and the call
// orchestrator. They are intentionally minimal; each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// Speaker identifies which side of the interview produced an utterance.
type Speaker string

const (
	// SpeakerModerator is the interviewing side, the AI (or human) moderator.
	SpeakerModerator Speaker = "moderator"

	// SpeakerRespondent is the interviewed side, the study participant.
	SpeakerRespondent Speaker = "respondent"
)

// IsValid reports whether s is a recognised speaker role.
func (s Speaker) IsValid() bool {
	return s == SpeakerModerator || s == SpeakerRespondent
}

// Stage is the lifecycle stage of a transcript result.
type Stage string

const (
	// StageInterim marks a provisional speech-to-text result that the provider
	// may still revise.
	StageInterim Stage = "interim"

	// StageFinal marks a result the provider will not revise further for that
	// utterance.
	StageFinal Stage = "final"
)

// Utterance is one reconciled unit of speech attributed to one speaker.
// It is the element type of the transcript.
type Utterance struct {
	// ID is a stable identifier: the provider-assigned message id when one
	// exists, otherwise a locally generated ULID.
	ID string

	// Text is the utterance content. Never empty; classification discards
	// anything shorter than three characters after trimming.
	Text string

	// Speaker is the normalised speaker role.
	Speaker Speaker

	// Stage records whether this entry is still provisional. Interim entries
	// are overwritten in place by later results from the same speaker.
	Stage Stage

	// CreatedAt is the provider-supplied timestamp, or the local capture time
	// when the provider did not send one.
	CreatedAt time.Time

	// ProviderMessageID is the raw event's id when the provider assigned one.
	// Used as the idempotency key for persistence.
	ProviderMessageID string
}

// Event is a raw inbound provider event. Providers disagree on field names,
// so the bag keeps every shape we have observed; classification resolves the
// ambiguity. The zero value is a discardable non-transcript event.
type Event struct {
	// Type is the provider event type. Only "transcript" events carry speech.
	Type string `json:"type"`

	// ID is the provider-assigned message id, when present.
	ID string `json:"id"`

	// Role is the raw speaker field ("user", "assistant", "system").
	Role string `json:"role"`

	// TranscriptType is "partial" or "final" when the provider reports the
	// transcript stage explicitly. Takes priority over the boolean flags.
	TranscriptType string `json:"transcriptType"`

	// IsFinal and Interim are the fallback stage flags used by providers that
	// do not send TranscriptType. Pointers so absence is distinguishable.
	IsFinal *bool `json:"isFinal"`
	Interim *bool `json:"interim"`

	// The four observed content fields, in priority order.
	Content    string `json:"content"`
	Message    string `json:"message"`
	Text       string `json:"text"`
	Transcript string `json:"transcript"`

	// Timestamp is the provider capture time (RFC 3339), when sent.
	Timestamp string `json:"timestamp"`

	// ErrorMessage is set on error-shaped events.
	ErrorMessage string `json:"error"`
}

// SessionStatus is the lifecycle state of a durable interview session record.
type SessionStatus string

const (
	SessionStarted    SessionStatus = "started"
	SessionInProgress SessionStatus = "in_progress"
	SessionEnded      SessionStatus = "ended"
	SessionFailed     SessionStatus = "failed"
)

// IsValid reports whether s is a recognised session status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case SessionStarted, SessionInProgress, SessionEnded, SessionFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the status ends the session lifecycle.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionEnded || s == SessionFailed
}
