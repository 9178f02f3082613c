package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"medianalyst/internal/gateway/repository/artifact"
)

const maxImageBytes = 10 << 20

// EditImage takes a multipart upload (image, prompt), returns the edited image and
// stores a copy in the artifact store.
func (h *Handler) EditImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBytes+1<<20)
	if err := r.ParseMultipartForm(maxImageBytes); err != nil {
		h.respondError(w, errors.Join(errBadRequest, err), nil)
		return
	}
	prompt := strings.TrimSpace(r.FormValue("prompt"))
	if prompt == "" {
		h.respondError(w, fmt.Errorf("%w: prompt is required", errBadRequest), nil)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: image is required", errBadRequest), nil)
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		h.respondError(w, fmt.Errorf("%w: image is empty", errBadRequest), nil)
		return
	}
	mimeType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		h.respondError(w, fmt.Errorf("%w: unsupported content type %s", errBadRequest, mimeType), nil)
		return
	}

	out, outMime, err := h.images.EditImage(r.Context(), data, mimeType, prompt)
	if err != nil {
		h.respondError(w, err, nil)
		return
	}

	key := artifact.ImageKey(uuid.NewString(), outMime)
	if err := h.artifacts.Put(r.Context(), artifact.Object{Key: key, ContentType: outMime, Data: out}); err != nil {
		h.log.Warn("edited image not stored", "key", key, "error", err)
	} else {
		w.Header().Set("X-Artifact-Key", key)
	}
	w.Header().Set("Content-Type", outMime)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}
