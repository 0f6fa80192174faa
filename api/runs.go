package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	oasis "github.com/nevindra/runcore"
)

const maxRunBodyBytes = 1 << 20 // 1MB, run inputs are small JSON envelopes

// RunHandlers backs the Run API: create/inspect/list/cancel/delete
// runs, plus the worker-internal emit-message callback the chat surface
// (out of scope here) would subscribe to.
type RunHandlers struct {
	Store oasis.Store

	// Emit is the chat-emitter collaborator invoked by the emit-message
	// callback. Nil means acknowledge without emitting.
	Emit func(ctx context.Context, run oasis.Run)
}

// createRunRequest is POST /runs' body.
type createRunRequest struct {
	Type           string          `json:"type"`
	Title          string          `json:"title,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	ParentRunID    string          `json:"parent_run_id,omitempty"`
	Input          json.RawMessage `json:"input"`
}

func (h RunHandlers) create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRunBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	var req createRunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	if len(req.Input) == 0 {
		req.Input = json.RawMessage("{}")
	}
	if req.ParentRunID != "" {
		if _, err := h.Store.GetRun(r.Context(), req.ParentRunID); err != nil {
			writeError(w, http.StatusNotFound, "parent run not found: "+req.ParentRunID)
			return
		}
	}

	run, err := h.Store.CreateRun(r.Context(), oasis.CreateRunRequest{
		Type:           req.Type,
		Title:          req.Title,
		ConversationID: req.ConversationID,
		ParentRunID:    req.ParentRunID,
		Input:          req.Input,
	})
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h RunHandlers) get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found: "+id)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// validListStatuses guards GET /runs?status= — an unknown value is a 400,
// not an empty result set.
var validListStatuses = map[oasis.RunStatus]bool{
	"":                true,
	oasis.RunQueued:   true,
	oasis.RunRunning:  true,
	oasis.RunSucceeded: true,
	oasis.RunFailed:   true,
	oasis.RunCanceled: true,
}

func (h RunHandlers) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := oasis.RunStatus(q.Get("status"))
	if !validListStatuses[status] {
		writeError(w, http.StatusBadRequest, "invalid status: "+string(status))
		return
	}
	filter := oasis.RunFilter{
		Status: status,
		Limit:  parseIntOr(q.Get("limit"), 50),
		Offset: parseIntOr(q.Get("offset"), 0),
	}

	var (
		runs []oasis.Run
		err  error
	)
	if conv := q.Get("conversation_id"); conv != "" {
		runs, err = h.Store.ListRunsByConversation(r.Context(), conv, filter)
	} else {
		runs, err = h.Store.ListRuns(r.Context(), filter)
	}
	if err != nil {
		writeCodedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type cancelRunRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h RunHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req cancelRunRequest
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxRunBodyBytes))
	if len(body) > 0 {
		_ = json.Unmarshal(body, &req)
	}

	run, ok, err := h.Store.CancelRun(r.Context(), id, req.Reason)
	if err != nil {
		writeCodedError(w, err)
		return
	}
	if !ok {
		if _, getErr := h.Store.GetRun(r.Context(), id); getErr != nil {
			writeError(w, http.StatusNotFound, "run not found: "+id)
			return
		}
		writeError(w, http.StatusBadRequest, "run is not in a cancelable state")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h RunHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Store.DeleteRun(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, "run not found: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// emitMessage is the worker-internal callback asking the chat-emitter
// collaborator to turn a terminal run into a chat message. Idempotent: the
// emitter itself deduplicates, so repeated calls all return 204. Runs whose
// input carries parent_run_id are skipped by the emitter (child runs never
// produce their own chat turn) — that is the emitter's contract, not this
// endpoint's, which only enforces terminality.
func (h RunHandlers) emitMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.Store.GetRun(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "run not found: "+id)
		return
	}
	if !run.Status.Terminal() {
		writeError(w, http.StatusBadRequest, "run is not terminal")
		return
	}
	if h.Emit != nil {
		h.Emit(r.Context(), run)
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseIntOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
