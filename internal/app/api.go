package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/verbatim-labs/verbatim/internal/call"
	"github.com/verbatim-labs/verbatim/internal/guide"
	"github.com/verbatim-labs/verbatim/pkg/types"
)

// startRequest is the body of POST /v1/interviews.
type startRequest struct {
	ProjectID    string         `json:"project_id"`
	RespondentID string         `json:"respondent_id"`
	AgentID      string         `json:"agent_id,omitempty"`
	Guide        []guide.Item   `json:"guide,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// startResponse is the body of a successful POST /v1/interviews.
type startResponse struct {
	SessionID string `json:"session_id"`
}

// messageRequest is the body of POST /v1/interviews/active/messages.
type messageRequest struct {
	Text string `json:"text"`
}

// transcriptEntry is one utterance in the transcript response.
type transcriptEntry struct {
	ID        string    `json:"id"`
	Speaker   string    `json:"speaker"`
	Stage     string    `json:"stage"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// transcriptResponse is the body of GET /v1/interviews/active/transcript.
type transcriptResponse struct {
	Active     bool              `json:"active"`
	Loading    bool              `json:"loading"`
	SessionID  string            `json:"session_id,omitempty"`
	Error      string            `json:"error,omitempty"`
	Transcript []transcriptEntry `json:"transcript"`
}

// errorResponse is the body of all error replies.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handleStartInterview(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	err := a.orchestrator.StartInterview(r.Context(), call.StartParams{
		ProjectID:    req.ProjectID,
		RespondentID: req.RespondentID,
		AgentID:      req.AgentID,
		Guide:        req.Guide,
		Metadata:     req.Metadata,
	})
	switch {
	case errors.Is(err, call.ErrCallActive):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusCreated, startResponse{SessionID: a.orchestrator.Snapshot().SessionID})
	}
}

func (a *App) handleStopInterview(w http.ResponseWriter, r *http.Request) {
	if err := a.orchestrator.StopInterview(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return
	}

	err := a.orchestrator.SendMessage(r.Context(), req.Text)
	switch {
	case errors.Is(err, call.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, call.ErrNoActiveCall):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (a *App) handleTranscript(w http.ResponseWriter, _ *http.Request) {
	snap := a.orchestrator.Snapshot()

	resp := transcriptResponse{
		Active:     snap.Active,
		Loading:    snap.Loading,
		SessionID:  snap.SessionID,
		Transcript: toTranscriptEntries(snap.Transcript),
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func toTranscriptEntries(utterances []types.Utterance) []transcriptEntry {
	out := make([]transcriptEntry, len(utterances))
	for i, u := range utterances {
		out[i] = transcriptEntry{
			ID:        u.ID,
			Speaker:   string(u.Speaker),
			Stage:     string(u.Stage),
			Text:      u.Text,
			CreatedAt: u.CreatedAt,
		}
	}
	return out
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":"encoding failure"}`, http.StatusInternalServerError)
	}
}
