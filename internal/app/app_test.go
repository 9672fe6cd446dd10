package app

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/verbatim-labs/verbatim/internal/config"
	"github.com/verbatim-labs/verbatim/internal/events"
	voicemock "github.com/verbatim-labs/verbatim/pkg/provider/voice/mock"
	storemock "github.com/verbatim-labs/verbatim/pkg/store/mock"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

func testApp(t *testing.T) (*App, *voicemock.Provider, *storemock.Store) {
	t.Helper()

	vp := &voicemock.Provider{}
	st := &storemock.Store{CreateSessionID: "sess-1"}
	logger := slog.New(slog.DiscardHandler)

	cfg := &config.Config{
		Server: config.ServerConfig{ListenAddr: ":0"},
		Voice:  config.VoiceConfig{APIKey: "vk", AgentID: "agent-1"},
		Engine: config.EngineConfig{
			Debounce:      10 * time.Millisecond,
			FlushInterval: 10 * time.Millisecond,
		},
	}

	a, err := New(context.Background(), cfg, logger,
		WithStore(st),
		WithVoiceProvider(vp),
		WithPublisher(events.New(events.Config{Logger: logger})),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Orchestrator().StopInterview(context.Background())
		_ = a.Shutdown(context.Background())
	})
	return a, vp, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_StartInterview(t *testing.T) {
	a, vp, _ := testApp(t)
	h := a.routes()

	rec := doJSON(t, h, "POST", "/v1/interviews", startRequest{
		ProjectID:    "proj-1",
		RespondentID: "resp-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var resp startResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "sess-1" {
		t.Errorf("SessionID = %q", resp.SessionID)
	}
	if vp.ConnectCount() != 1 {
		t.Errorf("expected 1 provider connect, got %d", vp.ConnectCount())
	}

	// A second start while live conflicts.
	rec = doJSON(t, h, "POST", "/v1/interviews", startRequest{
		ProjectID:    "proj-1",
		RespondentID: "resp-2",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second start status = %d, want 409", rec.Code)
	}
}

func TestAPI_StartInterviewBadBody(t *testing.T) {
	a, _, _ := testApp(t)
	h := a.routes()

	req := httptest.NewRequest("POST", "/v1/interviews", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestAPI_StopInterviewIsIdempotent(t *testing.T) {
	a, _, _ := testApp(t)
	h := a.routes()

	rec := doJSON(t, h, "DELETE", "/v1/interviews/active", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("stop without call status = %d, want 204", rec.Code)
	}

	doJSON(t, h, "POST", "/v1/interviews", startRequest{ProjectID: "p", RespondentID: "r"})
	rec = doJSON(t, h, "DELETE", "/v1/interviews/active", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("stop status = %d, want 204", rec.Code)
	}
}

func TestAPI_SendMessage(t *testing.T) {
	a, vp, _ := testApp(t)
	h := a.routes()

	rec := doJSON(t, h, "POST", "/v1/interviews/active/messages", messageRequest{Text: "hello"})
	if rec.Code != http.StatusConflict {
		t.Errorf("send without call status = %d, want 409", rec.Code)
	}

	doJSON(t, h, "POST", "/v1/interviews", startRequest{ProjectID: "p", RespondentID: "r"})

	rec = doJSON(t, h, "POST", "/v1/interviews/active/messages", messageRequest{Text: ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank send status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, h, "POST", "/v1/interviews/active/messages", messageRequest{Text: "typed answer"})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("send status = %d, body %s", rec.Code, rec.Body.String())
	}
	if sent := vp.Handle(0).Sent(); len(sent) != 1 || sent[0] != "typed answer" {
		t.Errorf("provider received %v", sent)
	}
}

func TestAPI_Transcript(t *testing.T) {
	a, vp, _ := testApp(t)
	h := a.routes()

	doJSON(t, h, "POST", "/v1/interviews", startRequest{ProjectID: "p", RespondentID: "r"})

	vp.Handle(0).Emit(types.Event{
		Type:           "transcript",
		Role:           "assistant",
		TranscriptType: "final",
		Transcript:     "Welcome to the session",
		ID:             "m1",
	})

	deadline := time.Now().Add(time.Second)
	var resp transcriptResponse
	for time.Now().Before(deadline) {
		rec := doJSON(t, h, "GET", "/v1/interviews/active/transcript", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("transcript status = %d", rec.Code)
		}
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(resp.Transcript) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if len(resp.Transcript) != 1 {
		t.Fatalf("transcript = %+v", resp)
	}
	if !resp.Active || resp.SessionID != "sess-1" {
		t.Errorf("response = %+v", resp)
	}
	if resp.Transcript[0].Speaker != "moderator" || resp.Transcript[0].Text != "Welcome to the session" {
		t.Errorf("entry = %+v", resp.Transcript[0])
	}
}

func TestAPI_HealthEndpoints(t *testing.T) {
	a, _, _ := testApp(t)
	h := a.routes()

	rec := doJSON(t, h, "GET", "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}

	// No pinger is registered with an injected store; readiness is trivially ok.
	rec = doJSON(t, h, "GET", "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
}
