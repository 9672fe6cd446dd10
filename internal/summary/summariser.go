// Package summary generates a post-call summary of an interview transcript
// and attaches it to the session record.
//
// Summarisation is best effort: it runs after the call has already ended and
// its failure must never fail the teardown path.
package summary

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/verbatim-labs/verbatim/pkg/provider/llm"
	"github.com/verbatim-labs/verbatim/pkg/store"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

const systemPrompt = `You are a qualitative research analyst. Summarise the ` +
	`following moderated interview transcript in at most 150 words. Capture ` +
	`the respondent's key opinions, notable quotes, and overall sentiment. ` +
	`Do not invent details that are not in the transcript.`

// maxTranscriptChars truncates very long transcripts before prompting so the
// request stays well inside the model's context window.
const maxTranscriptChars = 48_000

// Summariser produces and persists interview summaries.
type Summariser struct {
	llm    llm.Provider
	store  store.SessionStore
	logger *slog.Logger
}

// New creates a [Summariser]. A nil logger falls back to [slog.Default].
func New(p llm.Provider, st store.SessionStore, logger *slog.Logger) *Summariser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summariser{llm: p, store: st, logger: logger}
}

// Summarise generates a summary of transcript and writes it to the session
// record. Failures are logged and returned, but callers are expected to
// treat them as non-fatal. Empty transcripts are skipped.
func (s *Summariser) Summarise(ctx context.Context, sessionID string, transcript []types.Utterance) error {
	if len(transcript) == 0 {
		return nil
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: renderTranscript(transcript)},
		},
		Temperature: 0.2,
		MaxTokens:   300,
	})
	if err != nil {
		s.logger.Warn("interview summary generation failed",
			"session_id", sessionID,
			"error", err,
		)
		return fmt.Errorf("summary: generate: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return nil
	}

	if err := s.store.UpdateSession(ctx, sessionID, store.SessionPatch{Summary: text}); err != nil {
		s.logger.Warn("interview summary persistence failed",
			"session_id", sessionID,
			"error", err,
		)
		return fmt.Errorf("summary: persist: %w", err)
	}
	return nil
}

// renderTranscript flattens the transcript into speaker-labelled lines.
func renderTranscript(transcript []types.Utterance) string {
	var b strings.Builder
	for _, u := range transcript {
		b.WriteString(string(u.Speaker))
		b.WriteString(": ")
		b.WriteString(u.Text)
		b.WriteByte('\n')
	}
	text := b.String()
	if len(text) > maxTranscriptChars {
		text = text[len(text)-maxTranscriptChars:]
	}
	return text
}
