package session

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/verbatim-labs/verbatim/pkg/store"
	"github.com/verbatim-labs/verbatim/pkg/store/mock"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestManager_CreateCachesID(t *testing.T) {
	st := &mock.Store{CreateSessionID: "sess-42"}
	m := NewManager(st, testLogger())

	id, err := m.Create(context.Background(), store.SessionParams{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if id != "sess-42" {
		t.Errorf("id = %q, want sess-42", id)
	}
	if m.ID() != "sess-42" {
		t.Errorf("cached id = %q, want sess-42", m.ID())
	}
}

func TestManager_CreateFailureLeavesNoCachedID(t *testing.T) {
	st := &mock.Store{CreateSessionErr: errors.New("db down")}
	m := NewManager(st, testLogger())

	if _, err := m.Create(context.Background(), store.SessionParams{}); err == nil {
		t.Fatal("expected Create to fail")
	}
	if m.ID() != "" {
		t.Errorf("expected no cached id, got %q", m.ID())
	}

	// Status updates without a session record are silent no-ops.
	m.UpdateStatus(context.Background(), types.SessionInProgress)
	if got := st.CallCount("UpdateSession"); got != 0 {
		t.Errorf("expected no UpdateSession calls, got %d", got)
	}
}

func TestManager_UpdateStatus(t *testing.T) {
	st := &mock.Store{}
	m := NewManager(st, testLogger())

	if _, err := m.Create(context.Background(), store.SessionParams{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	m.UpdateStatus(context.Background(), types.SessionInProgress)

	calls := st.Calls()
	if len(calls) != 2 {
		t.Fatalf("expected create + update, got %d calls", len(calls))
	}
	patch := calls[1].Args[1].(store.SessionPatch)
	if patch.Status != types.SessionInProgress {
		t.Errorf("Status = %q, want in_progress", patch.Status)
	}
	if patch.EndedAt != nil {
		t.Error("EndedAt must stay nil for a non-terminal status")
	}
}

func TestManager_TerminalStatusSetsEndedAt(t *testing.T) {
	for _, status := range []types.SessionStatus{types.SessionEnded, types.SessionFailed} {
		t.Run(string(status), func(t *testing.T) {
			st := &mock.Store{}
			m := NewManager(st, testLogger())

			if _, err := m.Create(context.Background(), store.SessionParams{}); err != nil {
				t.Fatalf("Create: %v", err)
			}
			m.UpdateStatus(context.Background(), status)

			calls := st.Calls()
			patch := calls[len(calls)-1].Args[1].(store.SessionPatch)
			if patch.EndedAt == nil {
				t.Error("expected EndedAt set for terminal status")
			}
		})
	}
}

func TestManager_VanishedSessionDropsCachedID(t *testing.T) {
	st := &mock.Store{UpdateSessionErr: store.ErrSessionNotFound}
	m := NewManager(st, testLogger())

	if _, err := m.Create(context.Background(), store.SessionParams{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	m.UpdateStatus(context.Background(), types.SessionInProgress)

	if m.ID() != "" {
		t.Errorf("expected cached id dropped, got %q", m.ID())
	}

	// Further updates no longer reach the store.
	before := st.CallCount("UpdateSession")
	m.UpdateStatus(context.Background(), types.SessionEnded)
	if got := st.CallCount("UpdateSession"); got != before {
		t.Errorf("expected no further updates, got %d calls", got)
	}
}

func TestManager_TransientUpdateErrorKeepsCachedID(t *testing.T) {
	st := &mock.Store{UpdateSessionErr: errors.New("timeout")}
	m := NewManager(st, testLogger())

	if _, err := m.Create(context.Background(), store.SessionParams{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	m.UpdateStatus(context.Background(), types.SessionInProgress)

	if m.ID() == "" {
		t.Error("a transient store error must not drop the cached id")
	}
}

func TestManager_Clear(t *testing.T) {
	st := &mock.Store{}
	m := NewManager(st, testLogger())

	if _, err := m.Create(context.Background(), store.SessionParams{}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	m.Clear()

	if m.ID() != "" {
		t.Errorf("expected cleared id, got %q", m.ID())
	}
}
