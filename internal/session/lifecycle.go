// Package session tracks the durable interview session record across the
// call lifecycle.
//
// A session moves through started, in_progress, and finally ended or failed.
// Status writes are best effort: a storage hiccup must never interrupt a
// live interview, so failures are logged and the call carries on.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verbatim-labs/verbatim/pkg/store"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// Manager creates the session record at call start and moves its status as
// the call progresses. It caches the session id so later transitions do not
// need to thread it through the call path.
//
// All methods are safe for concurrent use.
type Manager struct {
	store  store.SessionStore
	logger *slog.Logger

	mu sync.Mutex
	id string
}

// NewManager creates a [Manager] backed by st. A nil logger falls back to
// [slog.Default].
func NewManager(st store.SessionStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, logger: logger}
}

// Create inserts a new session record in the started state and caches its
// id. On failure no id is cached and later status updates become warning
// no-ops, so a broken store degrades to an unpersisted call rather than a
// dead one.
func (m *Manager) Create(ctx context.Context, params store.SessionParams) (string, error) {
	id, err := m.store.CreateSession(ctx, params)
	if err != nil {
		m.logger.Warn("session record creation failed, call continues unpersisted",
			"project_id", params.ProjectID,
			"error", err,
		)
		return "", fmt.Errorf("session: create: %w", err)
	}

	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
	return id, nil
}

// ID returns the cached session id, or "" when no session record exists.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// UpdateStatus transitions the cached session to status. Terminal statuses
// record the end time. Best effort: failures are logged, and a session id
// the store no longer knows is dropped from the cache so later updates stop
// hammering a dead record.
func (m *Manager) UpdateStatus(ctx context.Context, status types.SessionStatus) {
	m.mu.Lock()
	id := m.id
	m.mu.Unlock()

	if id == "" {
		m.logger.Warn("no session record to update, skipping status change",
			"status", status,
		)
		return
	}

	patch := store.SessionPatch{Status: status}
	if status.IsTerminal() {
		now := time.Now()
		patch.EndedAt = &now
	}

	if err := m.store.UpdateSession(ctx, id, patch); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			m.logger.Warn("session record vanished, dropping cached id",
				"session_id", id,
				"status", status,
			)
			m.mu.Lock()
			if m.id == id {
				m.id = ""
			}
			m.mu.Unlock()
			return
		}
		m.logger.Warn("session status update failed",
			"session_id", id,
			"status", status,
			"error", err,
		)
	}
}

// Clear drops the cached session id. Called when a new call begins so a
// stale id from the previous call cannot leak into it.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
}
