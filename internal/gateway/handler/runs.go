package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"medianalyst/internal/pipeline"
	"medianalyst/internal/types"
)

type createRunRequest struct {
	Brand   string `json:"brand"`
	Product string `json:"product"`
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Reply types.ChatMessage `json:"reply"`
	Run   pipeline.Snapshot `json:"run"`
	Error string            `json:"error,omitempty"`
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) (*pipeline.Run, bool) {
	run, err := h.runs.Get(chi.URLParam(r, "runID"))
	if err != nil {
		h.respondError(w, err, nil)
		return nil, false
	}
	return run, true
}

func (h *Handler) respondRun(w http.ResponseWriter, code int, run *pipeline.Run) {
	h.respondJSON(w, code, run.Snapshot())
}

// CreateRun starts a run and performs the search in the same request.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	var in createRunRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondError(w, err, nil)
		return
	}
	run := h.runs.Create()
	if err := h.engine.Search(r.Context(), run, in.Brand, in.Product); err != nil {
		if errors.Is(err, pipeline.ErrEmptyInput) {
			h.runs.Delete(run.ID())
			h.respondError(w, err, nil)
			return
		}
		h.respondError(w, err, run)
		return
	}
	h.respondRun(w, http.StatusCreated, run)
}

func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	if run, ok := h.run(w, r); ok {
		h.respondRun(w, http.StatusOK, run)
	}
}

// Search repeats the product lookup on an idle run.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var in createRunRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondError(w, err, nil)
		return
	}
	if err := h.engine.Search(r.Context(), run, in.Brand, in.Product); err != nil {
		h.respondError(w, err, run)
		return
	}
	h.respondRun(w, http.StatusOK, run)
}

func (h *Handler) EditProduct(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var edit types.ProductEdit
	if err := decodeJSON(w, r, &edit); err != nil {
		h.respondError(w, err, nil)
		return
	}
	if err := h.engine.EditProduct(run, edit); err != nil {
		h.respondError(w, err, run)
		return
	}
	h.respondRun(w, http.StatusOK, run)
}

func (h *Handler) ConfirmProduct(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if err := h.engine.ConfirmProduct(r.Context(), run); err != nil {
		h.respondError(w, err, run)
		return
	}
	h.respondRun(w, http.StatusOK, run)
}

func (h *Handler) ConfirmReport(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if err := h.engine.ConfirmReport(r.Context(), run); err != nil {
		h.respondError(w, err, run)
		return
	}
	h.respondRun(w, http.StatusOK, run)
}

// Chat sends one message. A failed model call still answers with the error reply
// that was appended to the transcript.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	var in chatRequest
	if err := decodeJSON(w, r, &in); err != nil {
		h.respondError(w, err, nil)
		return
	}
	reply, err := h.engine.SendChat(r.Context(), run, in.Message)
	switch {
	case err == nil:
		h.respondJSON(w, http.StatusOK, chatResponse{Reply: reply, Run: run.Snapshot()})
	case errors.Is(err, pipeline.ErrChatSend):
		h.log.Warn("chat reply failed", "run_id", run.ID(), "error", err)
		h.respondJSON(w, http.StatusBadGateway, chatResponse{Reply: reply, Run: run.Snapshot(), Error: err.Error()})
	default:
		h.respondError(w, err, run)
	}
}

func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if err := h.engine.Reset(run); err != nil {
		h.respondError(w, err, run)
		return
	}
	h.respondRun(w, http.StatusOK, run)
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.history.List(r.Context())
	if err != nil {
		h.respondError(w, err, nil)
		return
	}
	if records == nil {
		records = []types.MedicalAnalysis{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"items": records})
}

type saveHistoryResponse struct {
	Record types.MedicalAnalysis `json:"record"`
	Run    pipeline.Snapshot     `json:"run"`
}

// SaveHistory stores a new snapshot of the report and the current transcript.
func (h *Handler) SaveHistory(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	rec, err := h.engine.SaveToHistory(r.Context(), run)
	if err != nil {
		h.respondError(w, err, run)
		return
	}
	h.respondJSON(w, http.StatusCreated, saveHistoryResponse{Record: rec, Run: run.Snapshot()})
}

func (h *Handler) LoadHistory(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	if err := h.engine.LoadFromHistory(r.Context(), run, chi.URLParam(r, "historyID")); err != nil {
		h.respondError(w, err, run)
		return
	}
	h.respondRun(w, http.StatusOK, run)
}
