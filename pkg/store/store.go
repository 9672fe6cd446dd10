// Package store defines the persistence contracts for interview sessions and
// reconciled transcript messages.
//
// The engine treats storage as a black box: session records mirror the call
// lifecycle, and finalized utterances are written in batches. Implementations
// live in subpackages (postgres for production, mock for tests).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/verbatim-labs/verbatim/pkg/types"
)

// ErrSessionNotFound is returned by [SessionStore.UpdateSession] when the
// session id does not correspond to an existing record. The lifecycle
// manager uses it to invalidate a dead cached id.
var ErrSessionNotFound = errors.New("store: session not found")

// SessionParams describes a new interview session record.
type SessionParams struct {
	// ProjectID is the research project this interview belongs to.
	ProjectID string

	// RespondentID identifies the human respondent being interviewed.
	RespondentID string

	// ProviderCallID is the voice provider's call identifier, when known.
	ProviderCallID string

	// AgentID is the provider-side agent/assistant used for the call.
	AgentID string

	// Metadata holds free-form session attributes (study name, device, …).
	Metadata map[string]any
}

// SessionPatch describes a partial update to a session record. Zero-valued
// fields are left untouched.
type SessionPatch struct {
	// Status transitions the session lifecycle.
	Status types.SessionStatus

	// EndedAt is set together with the ended status.
	EndedAt *time.Time

	// Summary is the auto-generated post-call summary, when available.
	Summary string
}

// SessionStore persists the durable interview session record.
type SessionStore interface {
	// CreateSession inserts a new session record and returns its id.
	CreateSession(ctx context.Context, params SessionParams) (string, error)

	// UpdateSession applies patch to the session identified by id.
	// Returns [ErrSessionNotFound] when no such record exists.
	UpdateSession(ctx context.Context, id string, patch SessionPatch) error
}

// MessageStore persists reconciled final utterances.
type MessageStore interface {
	// SaveMessageBatch writes all msgs for sessionID in one call. The batch
	// either fully succeeds or fails as a whole from the caller's
	// perspective; writes are idempotent on the utterance id so a retried
	// batch never duplicates rows.
	SaveMessageBatch(ctx context.Context, sessionID string, msgs []types.Utterance) error
}

// Store is the full persistence surface consumed by the call orchestrator.
type Store interface {
	SessionStore
	MessageStore
}
