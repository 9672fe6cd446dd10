// Package mock provides in-memory test doubles for the store interfaces.
//
// The mock records every method call for assertion in tests and exposes
// exported fields that control what it returns. It is safe for concurrent
// use via an internal [sync.Mutex].
//
// Typical usage:
//
//	st := &mock.Store{}
//	st.SaveMessageBatchErrs = []error{errors.New("boom")} // fail first call
//
//	// inject st into the system under test …
//
//	if got := st.CallCount("SaveMessageBatch"); got != 2 {
//	    t.Errorf("expected 2 SaveMessageBatch calls, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/verbatim-labs/verbatim/pkg/store"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// Compile-time check that *Store satisfies the full persistence surface.
var _ store.Store = (*Store)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Store is a configurable test double for [store.Store].
type Store struct {
	mu sync.Mutex

	// calls records every method invocation in order.
	calls []Call

	// CreateSessionID is the id returned by CreateSession. Defaults to
	// "session-1" when empty.
	CreateSessionID string

	// CreateSessionErr is returned by CreateSession when non-nil.
	CreateSessionErr error

	// UpdateSessionErr is returned by UpdateSession when non-nil.
	UpdateSessionErr error

	// SaveMessageBatchErrs is consumed one per SaveMessageBatch call; when
	// exhausted the call succeeds. Lets tests fail the first flush and let
	// the retry succeed.
	SaveMessageBatchErrs []error

	// Saved accumulates every utterance from successful batch saves, in
	// order.
	Saved []types.Utterance
}

// Calls returns a copy of all recorded method invocations.
func (m *Store) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times the named method was invoked.
func (m *Store) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls and saved messages without altering
// response configuration.
func (m *Store) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.Saved = nil
}

// SavedMessages returns a copy of all utterances persisted via successful
// batch saves.
func (m *Store) SavedMessages() []types.Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]types.Utterance, len(m.Saved))
	copy(out, m.Saved)
	return out
}

// CreateSession implements [store.SessionStore].
func (m *Store) CreateSession(_ context.Context, params store.SessionParams) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "CreateSession", Args: []any{params}})
	if m.CreateSessionErr != nil {
		return "", m.CreateSessionErr
	}
	if m.CreateSessionID == "" {
		return "session-1", nil
	}
	return m.CreateSessionID, nil
}

// UpdateSession implements [store.SessionStore].
func (m *Store) UpdateSession(_ context.Context, id string, patch store.SessionPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "UpdateSession", Args: []any{id, patch}})
	return m.UpdateSessionErr
}

// SaveMessageBatch implements [store.MessageStore].
func (m *Store) SaveMessageBatch(_ context.Context, sessionID string, msgs []types.Utterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	batch := make([]types.Utterance, len(msgs))
	copy(batch, msgs)
	m.calls = append(m.calls, Call{Method: "SaveMessageBatch", Args: []any{sessionID, batch}})

	if len(m.SaveMessageBatchErrs) > 0 {
		err := m.SaveMessageBatchErrs[0]
		m.SaveMessageBatchErrs = m.SaveMessageBatchErrs[1:]
		if err != nil {
			return err
		}
	}
	m.Saved = append(m.Saved, batch...)
	return nil
}
