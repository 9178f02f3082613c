package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"medianalyst/internal/logger"
)

// traceHook writes every prompt and reply to dir as numbered text files.
type traceHook struct {
	dir string
	log *logger.Logger

	mu  sync.Mutex
	seq int
}

func newTraceHook(dir string, log *logger.Logger) (*traceHook, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &traceHook{dir: dir, log: logger.OrNop(log)}, nil
}

func (h *traceHook) Before(_ context.Context, phase, prompt string) {
	h.mu.Lock()
	h.seq++
	n := h.seq
	h.mu.Unlock()
	h.write(n, phase, "prompt", prompt)
}

func (h *traceHook) After(_ context.Context, phase, reply string, err error) {
	h.mu.Lock()
	n := h.seq
	h.mu.Unlock()
	if err != nil {
		h.write(n, phase, "error", err.Error())
		return
	}
	h.write(n, phase, "reply", reply)
}

func (h *traceHook) write(n int, phase, kind, body string) {
	name := filepath.Join(h.dir, fmt.Sprintf("%02d_%s.%s.txt", n, phase, kind))
	if err := os.WriteFile(name, []byte(body), 0o644); err != nil {
		h.log.Warn("write trace failed", "file", name, "error", err)
	}
}
