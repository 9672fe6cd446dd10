// Package classify normalises raw voice-provider events into classified
// transcript updates.
//
// Providers deliver transcript events as loosely shaped JSON with several
// competing field conventions for content, stage, and speaker. [Classify]
// resolves these into a single normalised tuple, or decides the event is not
// worth processing at all. It is a pure function of its input; all side
// effects (buffering, transcript mutation, persistence) live downstream.
package classify

import (
	"strings"
	"time"

	"github.com/verbatim-labs/verbatim/pkg/types"
)

// minTextLen is the minimum trimmed content length for an event to be
// admitted. Anything shorter is noise ("uh", stray punctuation, empty
// partials) and never reaches the transcript.
const minTextLen = 3

// eventTypeTranscript is the only provider event type that carries speech.
// Status updates, speech-start markers and the like are ignored entirely.
const eventTypeTranscript = "transcript"

// Classified is the normalised form of one admitted transcript event.
type Classified struct {
	// Speaker is the normalised speaker role.
	Speaker types.Speaker

	// Stage is interim or final.
	Stage types.Stage

	// Text is the trimmed utterance content, at least [minTextLen] long.
	Text string

	// ProviderMessageID is the provider-assigned event id, possibly empty.
	ProviderMessageID string

	// Timestamp is the provider capture time, or the local time the event
	// was classified when the provider sent none.
	Timestamp time.Time
}

// SpeakerKey groups in-flight updates that refine the same utterance: all
// interim events from one speaker share a key until a final event or a
// speaker change closes the sequence out.
func (c Classified) SpeakerKey() string {
	return string(c.Speaker) + "-" + string(c.Stage)
}

// Classify inspects a raw provider event and derives the speaker role,
// transcript stage, content, and timestamp. The second return value is false
// when the event must be discarded: non-transcript event types, and content
// shorter than three characters after trimming.
//
// now supplies the fallback timestamp so callers (and tests) control time.
func Classify(ev types.Event, now time.Time) (Classified, bool) {
	if ev.Type != eventTypeTranscript {
		return Classified{}, false
	}

	text := extractText(ev)
	if len(text) < minTextLen {
		return Classified{}, false
	}

	return Classified{
		Speaker:           normalizeSpeaker(ev.Role),
		Stage:             resolveStage(ev),
		Text:              text,
		ProviderMessageID: ev.ID,
		Timestamp:         resolveTimestamp(ev, now),
	}, true
}

// extractText returns the first non-empty of the observed content fields,
// trimmed. Priority: content, message, text, transcript.
func extractText(ev types.Event) string {
	for _, s := range []string{ev.Content, ev.Message, ev.Text, ev.Transcript} {
		if t := strings.TrimSpace(s); t != "" {
			return t
		}
	}
	return ""
}

// resolveStage determines interim vs final. An explicit transcriptType field
// takes priority; the boolean final/interim flags are the fallback; absent
// any indication the event is treated as final, matching provider behaviour
// for one-shot (non-streaming) transcripts.
func resolveStage(ev types.Event) types.Stage {
	switch ev.TranscriptType {
	case "partial":
		return types.StageInterim
	case "final":
		return types.StageFinal
	}

	if ev.IsFinal != nil {
		if *ev.IsFinal {
			return types.StageFinal
		}
		return types.StageInterim
	}
	if ev.Interim != nil && *ev.Interim {
		return types.StageInterim
	}
	return types.StageFinal
}

// normalizeSpeaker maps the provider's raw role onto the closed speaker set.
// "user" is the person being interviewed; every other role (assistant,
// system, empty) is attributed to the moderator.
func normalizeSpeaker(role string) types.Speaker {
	if role == "user" {
		return types.SpeakerRespondent
	}
	return types.SpeakerModerator
}

// resolveTimestamp parses the provider timestamp when present and sane,
// falling back to now.
func resolveTimestamp(ev types.Event, now time.Time) time.Time {
	if ev.Timestamp == "" {
		return now
	}
	ts, err := time.Parse(time.RFC3339Nano, ev.Timestamp)
	if err != nil {
		return now
	}
	return ts
}
