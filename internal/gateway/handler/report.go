package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"medianalyst/internal/gateway/repository/artifact"
	"medianalyst/internal/pipeline"
	"medianalyst/internal/report"
)

type exportResponse struct {
	FileName string `json:"fileName"`
	Key      string `json:"key"`
	URL      string `json:"url"`
	JSONKey  string `json:"jsonKey"`
}

func (h *Handler) renderReport(run *pipeline.Run) (string, string, error) {
	rep, err := run.Report()
	if err != nil {
		return "", "", err
	}
	html, err := report.Render(rep, h.now())
	if err != nil {
		return "", "", err
	}
	return html, report.FileName(rep.Product.BrandName, rep.Product.ProductName), nil
}

// DownloadReport serves the HTML report as an attachment.
func (h *Handler) DownloadReport(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	html, name, err := h.renderReport(run)
	if err != nil {
		h.respondError(w, err, run)
		return
	}
	w.Header().Set("Content-Type", artifact.ContentTypeHTML)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(html))
}

// ExportReport stores the HTML report and its JSON source in the artifact store.
func (h *Handler) ExportReport(w http.ResponseWriter, r *http.Request) {
	run, ok := h.run(w, r)
	if !ok {
		return
	}
	html, name, err := h.renderReport(run)
	if err != nil {
		h.respondError(w, err, run)
		return
	}
	rep, _ := run.Report()
	raw, err := json.Marshal(rep)
	if err != nil {
		h.respondError(w, err, nil)
		return
	}

	ctx := r.Context()
	out := exportResponse{
		FileName: name,
		Key:      artifact.ReportKey(run.ID(), name),
		JSONKey:  artifact.ReportKey(run.ID(), "report.json"),
	}
	if err := h.artifacts.Put(ctx, artifact.Object{Key: out.Key, ContentType: artifact.ContentTypeHTML, Data: []byte(html)}); err != nil {
		h.respondError(w, err, nil)
		return
	}
	if err := h.artifacts.Put(ctx, artifact.Object{Key: out.JSONKey, ContentType: artifact.ContentTypeJSON, Data: raw}); err != nil {
		h.respondError(w, err, nil)
		return
	}
	out.URL = h.artifactURL(r, out.Key)
	h.log.Info("report exported", "run_id", run.ID(), "key", out.Key)
	h.respondJSON(w, http.StatusCreated, out)
}

// artifactURL prefers a link served by the store and falls back to the gateway route.
func (h *Handler) artifactURL(r *http.Request, key string) string {
	u, err := h.artifacts.URL(r.Context(), key)
	if err != nil {
		h.log.Warn("artifact url failed", "key", key, "error", err)
	}
	if strings.TrimSpace(u) != "" {
		return u
	}
	return "/api/artifacts/" + key
}

// GetArtifact streams a stored object back.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	obj, err := h.artifacts.Get(r.Context(), key)
	if err != nil {
		h.respondError(w, err, nil)
		return
	}
	w.Header().Set("Content-Type", obj.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(obj.Data)
}

func (h *Handler) ListArtifacts(w http.ResponseWriter, r *http.Request) {
	keys, err := h.artifacts.List(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		h.respondError(w, err, nil)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"keys": keys})
}
