package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"medianalyst/internal/analyst"
	"medianalyst/internal/gateway/repository/artifact"
	"medianalyst/internal/gateway/repository/history"
	"medianalyst/internal/gateway/session"
	"medianalyst/internal/logger"
	"medianalyst/internal/pipeline"
	"medianalyst/internal/types"
)

// HistoryLister is the read side of the history store the API exposes.
type HistoryLister interface {
	List(ctx context.Context) ([]types.MedicalAnalysis, error)
}

// ImageEditor edits an uploaded image following a text instruction.
type ImageEditor interface {
	EditImage(ctx context.Context, data []byte, mimeType, instruction string) ([]byte, string, error)
}

type Deps struct {
	Engine    *pipeline.Engine
	Runs      *session.Registry
	History   HistoryLister
	Artifacts artifact.Store
	Images    ImageEditor
	Logger    *logger.Logger
	Now       func() time.Time
}

// Handler serves the JSON and WebSocket API of the gateway.
type Handler struct {
	engine    *pipeline.Engine
	runs      *session.Registry
	history   HistoryLister
	artifacts artifact.Store
	images    ImageEditor
	log       *logger.Logger
	now       func() time.Time
}

func New(d Deps) *Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		engine:    d.Engine,
		runs:      d.Runs,
		history:   d.History,
		artifacts: d.Artifacts,
		images:    d.Images,
		log:       logger.OrNop(d.Logger),
		now:       now,
	}
}

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error   string             `json:"error"`
	Message string             `json:"message"`
	Code    int                `json:"code"`
	Notice  string             `json:"notice,omitempty"`
	Run     *pipeline.Snapshot `json:"run,omitempty"`
}

// StatusFor maps a domain error to its HTTP status.
func StatusFor(err error) int {
	var stepErr *pipeline.StepError
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, pipeline.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrInvalidTransition), errors.Is(err, types.ErrIncompleteReport):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrBusy):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrRunNotFound), errors.Is(err, history.ErrNotFound), errors.Is(err, artifact.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &stepErr), errors.Is(err, pipeline.ErrChatSend), errors.Is(err, analyst.ErrImageGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Error("marshal response failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

// respondError writes err with its mapped status. run, when set, is attached so the
// client can re-render the state it was returned to.
func (h *Handler) respondError(w http.ResponseWriter, err error, run *pipeline.Run) {
	code := StatusFor(err)
	body := errorResponse{Error: http.StatusText(code), Message: err.Error(), Code: code}
	var stepErr *pipeline.StepError
	if errors.As(err, &stepErr) {
		body.Notice = stepErr.Notice()
	}
	if run != nil {
		snap := run.Snapshot()
		body.Run = &snap
	}
	if code >= http.StatusInternalServerError {
		h.log.Warn("request failed", "status", code, "error", err)
	}
	h.respondJSON(w, code, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"runs":   h.runs.Len(),
		"time":   h.now().UTC().Format(time.RFC3339),
	})
}
