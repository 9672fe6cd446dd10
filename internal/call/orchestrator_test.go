package call

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/verbatim-labs/verbatim/internal/guide"
	voicemock "github.com/verbatim-labs/verbatim/pkg/provider/voice/mock"
	"github.com/verbatim-labs/verbatim/pkg/store"
	storemock "github.com/verbatim-labs/verbatim/pkg/store/mock"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

func testOrchestrator(t *testing.T, vp *voicemock.Provider, st *storemock.Store) *Orchestrator {
	t.Helper()
	o := New(Config{
		Provider:       vp,
		Store:          st,
		DefaultAgentID: "agent-1",
		DebouncePeriod: 10 * time.Millisecond,
		FlushInterval:  10 * time.Millisecond,
		Logger:         slog.New(slog.DiscardHandler),
	})
	t.Cleanup(func() { _ = o.StopInterview(context.Background()) })
	return o
}

func startParams() StartParams {
	return StartParams{
		ProjectID:    "proj-1",
		RespondentID: "resp-1",
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func transcriptEvent(role, transcriptType, text, id string) types.Event {
	return types.Event{
		Type:           "transcript",
		ID:             id,
		Role:           role,
		TranscriptType: transcriptType,
		Transcript:     text,
	}
}

func TestOrchestrator_FullCallFlow(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{CreateSessionID: "sess-1"}
	o := testOrchestrator(t, vp, st)

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	h := vp.Handle(0)
	if h == nil {
		t.Fatal("no call handle created")
	}

	h.Emit(types.Event{Type: "call-start", ID: "call-abc"})
	h.Emit(transcriptEvent("assistant", "final", "Welcome to the study", "m1"))
	h.Emit(transcriptEvent("user", "final", "Happy to be here", "r1"))

	waitFor(t, func() bool { return len(o.Snapshot().Transcript) == 2 })

	snap := o.Snapshot()
	if !snap.Active || snap.SessionID != "sess-1" {
		t.Errorf("snapshot = %+v, want active call with session id", snap)
	}
	if snap.Transcript[0].Speaker != types.SpeakerModerator || snap.Transcript[1].Speaker != types.SpeakerRespondent {
		t.Errorf("unexpected speakers: %+v", snap.Transcript)
	}

	if err := o.StopInterview(context.Background()); err != nil {
		t.Fatalf("StopInterview: %v", err)
	}

	snap = o.Snapshot()
	if snap.Active {
		t.Error("expected inactive after stop")
	}
	if snap.Err != nil {
		t.Errorf("expected clean end, got %v", snap.Err)
	}
	if !h.Closed() {
		t.Error("expected provider handle closed")
	}

	// Both finals were persisted by the teardown flush.
	saved := st.SavedMessages()
	if len(saved) != 2 {
		t.Fatalf("expected 2 persisted messages, got %d", len(saved))
	}
	if saved[0].Text != "Welcome to the study" || saved[1].Text != "Happy to be here" {
		t.Errorf("persisted out of order: %+v", saved)
	}

	// Lifecycle: create, in_progress, ended with end time.
	var statuses []store.SessionPatch
	for _, c := range st.Calls() {
		if c.Method == "UpdateSession" {
			statuses = append(statuses, c.Args[1].(store.SessionPatch))
		}
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 status updates, got %d", len(statuses))
	}
	if statuses[0].Status != types.SessionInProgress {
		t.Errorf("first update = %q, want in_progress", statuses[0].Status)
	}
	if statuses[1].Status != types.SessionEnded || statuses[1].EndedAt == nil {
		t.Errorf("final update = %+v, want ended with end time", statuses[1])
	}
}

func TestOrchestrator_RejectsConcurrentCalls(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if err := o.StartInterview(context.Background(), startParams()); !errors.Is(err, ErrCallActive) {
		t.Errorf("second start = %v, want ErrCallActive", err)
	}
}

func TestOrchestrator_ValidatesParams(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := New(Config{
		Provider: vp,
		Store:    st,
		Logger:   slog.New(slog.DiscardHandler),
	})

	if err := o.StartInterview(context.Background(), startParams()); err == nil {
		t.Error("expected error when no agent id is configured anywhere")
	}

	o = testOrchestrator(t, vp, st)
	if err := o.StartInterview(context.Background(), StartParams{ProjectID: "p"}); err == nil {
		t.Error("expected error for missing respondent id")
	}
	if vp.ConnectCount() != 0 {
		t.Errorf("invalid params must not dial, got %d connects", vp.ConnectCount())
	}
}

func TestOrchestrator_ConnectFailureMarksSessionFailed(t *testing.T) {
	vp := &voicemock.Provider{ConnectErr: errors.New("dial refused")}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	if err := o.StartInterview(context.Background(), startParams()); err == nil {
		t.Fatal("expected connect error")
	}

	calls := st.Calls()
	last := calls[len(calls)-1]
	if last.Method != "UpdateSession" {
		t.Fatalf("expected a status update, got %+v", last)
	}
	if patch := last.Args[1].(store.SessionPatch); patch.Status != types.SessionFailed {
		t.Errorf("status = %q, want failed", patch.Status)
	}

	// A later start attempt is allowed.
	vp.ConnectErr = nil
	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Errorf("retry after failure: %v", err)
	}
}

func TestOrchestrator_SessionCreateFailureDegradesToUnpersisted(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{CreateSessionErr: errors.New("db down")}
	o := testOrchestrator(t, vp, st)

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview must survive session create failure: %v", err)
	}

	h := vp.Handle(0)
	h.Emit(transcriptEvent("user", "final", "still transcribed", "r1"))
	waitFor(t, func() bool { return len(o.Snapshot().Transcript) == 1 })

	if err := o.StopInterview(context.Background()); err != nil {
		t.Fatalf("StopInterview: %v", err)
	}
	if got := st.CallCount("SaveMessageBatch"); got != 0 {
		t.Errorf("expected no persistence without a session record, got %d saves", got)
	}
}

func TestOrchestrator_SendMessage(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	if err := o.SendMessage(context.Background(), "hello"); !errors.Is(err, ErrNoActiveCall) {
		t.Errorf("send without call = %v, want ErrNoActiveCall", err)
	}

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	if err := o.SendMessage(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank send = %v, want ErrEmptyMessage", err)
	}

	if err := o.SendMessage(context.Background(), "I prefer the blue one"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	h := vp.Handle(0)
	if sent := h.Sent(); len(sent) != 1 || sent[0] != "I prefer the blue one" {
		t.Errorf("provider received %v", sent)
	}

	// Echoed into the transcript immediately.
	snap := o.Snapshot()
	if len(snap.Transcript) != 1 || snap.Transcript[0].Text != "I prefer the blue one" {
		t.Fatalf("transcript = %+v, want the echoed message", snap.Transcript)
	}

	// The provider's own transcript event for the injected message arrives
	// moments later and must be suppressed as a duplicate.
	echoAt := snap.Transcript[0].CreatedAt.Format(time.RFC3339Nano)
	h.Emit(types.Event{
		Type:           "transcript",
		Role:           "user",
		TranscriptType: "final",
		Transcript:     "I prefer the blue one",
		Timestamp:      echoAt,
	})

	time.Sleep(50 * time.Millisecond)
	if got := len(o.Snapshot().Transcript); got != 1 {
		t.Errorf("expected provider echo deduplicated, transcript has %d entries", got)
	}
}

func TestOrchestrator_SendTextFailureSkipsEcho(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	vp.Handle(0).SendTextErr = errors.New("socket closed")

	if err := o.SendMessage(context.Background(), "lost message"); err == nil {
		t.Fatal("expected send error")
	}
	if got := len(o.Snapshot().Transcript); got != 0 {
		t.Errorf("failed send must not be echoed, transcript has %d entries", got)
	}
}

func TestOrchestrator_BenignTeardownEndsCleanly(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	h := vp.Handle(0)
	h.Emit(types.Event{Type: "error", ErrorMessage: "Meeting has ended"})
	h.End(nil)

	waitFor(t, func() bool { return !o.Snapshot().Active })

	snap := o.Snapshot()
	if snap.Err != nil {
		t.Errorf("benign teardown must end cleanly, got %v", snap.Err)
	}

	var last store.SessionPatch
	for _, c := range st.Calls() {
		if c.Method == "UpdateSession" {
			last = c.Args[1].(store.SessionPatch)
		}
	}
	if last.Status != types.SessionEnded {
		t.Errorf("status = %q, want ended", last.Status)
	}
}

func TestOrchestrator_TransportErrorMarksFailed(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	h := vp.Handle(0)
	h.End(errors.New("connection reset by peer"))

	waitFor(t, func() bool { return !o.Snapshot().Active })

	if o.Snapshot().Err == nil {
		t.Error("expected terminal error recorded")
	}

	var last store.SessionPatch
	for _, c := range st.Calls() {
		if c.Method == "UpdateSession" {
			last = c.Args[1].(store.SessionPatch)
		}
	}
	if last.Status != types.SessionFailed {
		t.Errorf("status = %q, want failed", last.Status)
	}
}

func TestOrchestrator_StopIsIdempotent(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	if err := o.StopInterview(context.Background()); err != nil {
		t.Errorf("stop without call: %v", err)
	}

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	if err := o.StopInterview(context.Background()); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := o.StopInterview(context.Background()); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestOrchestrator_OnCallEndFires(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	done := make(chan struct{})
	o.OnCallEnd(func() { close(done) })

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}
	vp.Handle(0).End(nil)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("OnCallEnd callback never fired")
	}
}

func TestOrchestrator_GuideRenderedIntoInstructions(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	params := startParams()
	params.Guide = []guide.Item{{Topic: "Unboxing experience"}}

	if err := o.StartInterview(context.Background(), params); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	cfgs := vp.Configs()
	if len(cfgs) != 1 {
		t.Fatalf("expected 1 connect, got %d", len(cfgs))
	}
	if cfgs[0].AgentID != "agent-1" {
		t.Errorf("AgentID = %q, want the configured default", cfgs[0].AgentID)
	}
	if want := "1. Unboxing experience"; !strings.Contains(cfgs[0].Instructions, want) {
		t.Errorf("instructions missing guide topic:\n%s", cfgs[0].Instructions)
	}
}

func TestOrchestrator_OnEventTapSeesRawEvents(t *testing.T) {
	vp := &voicemock.Provider{}
	st := &storemock.Store{}
	o := testOrchestrator(t, vp, st)

	var mu sync.Mutex
	var seen []string
	o.OnEvent(func(ev types.Event) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	})

	if err := o.StartInterview(context.Background(), startParams()); err != nil {
		t.Fatalf("StartInterview: %v", err)
	}

	h := vp.Handle(0)
	h.Emit(types.Event{Type: "call-start", ID: "call-abc"})
	h.Emit(types.Event{Type: "speech-update"})
	h.Emit(transcriptEvent("user", "final", "Tapped as well", "m1"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"call-start", "speech-update", "transcript"}
	for i, typ := range want {
		if seen[i] != typ {
			t.Errorf("seen[%d] = %q, want %q", i, seen[i], typ)
		}
	}
}
