package llm

import (
	"context"
	"time"

	"medianalyst/internal/logger"
)

// MediaOptions configures the decoration of image and chat clients. A zero RPS
// disables the limiter.
type MediaOptions struct {
	RPS    float64
	Burst  int
	Logger *logger.Logger
}

func clientName(c any) string {
	if n, ok := c.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "unknown"
}

// mediaCall runs fn behind the limiter, the context hook and request logging.
func mediaCall(ctx context.Context, rl *rpsLimiter, log *logger.Logger, model, phase, prompt string, fn func() (string, error)) error {
	if err := rl.Acquire(ctx); err != nil {
		return err
	}
	hook := HookFrom(ctx)
	if hook != nil {
		hook.Before(ctx, phase, prompt)
	}
	start := time.Now()
	reply, err := fn()
	if hook != nil {
		hook.After(ctx, phase, reply, err)
	}
	kv := []any{"model", model, "phase", phase, "request_bytes", len(prompt), "elapsed", time.Since(start)}
	if err != nil {
		log.Warn("llm request failed", append(kv, "error", err)...)
		return err
	}
	log.Info("llm request", append(kv, "response_bytes", len(reply))...)
	return nil
}

// WrapImages rate-limits and logs image edits.
func WrapImages(inner ImageEditor, opts MediaOptions) ImageEditor {
	return &mediaImages{
		next: inner,
		name: clientName(inner),
		rl:   newRPSLimiter(opts.RPS, opts.Burst),
		log:  logger.OrNop(opts.Logger),
	}
}

type mediaImages struct {
	next ImageEditor
	name string
	rl   *rpsLimiter
	log  *logger.Logger
}

func (m *mediaImages) Name() string { return m.name }

func (m *mediaImages) EditImage(ctx context.Context, img Image, instruction string) (Image, error) {
	var out Image
	err := mediaCall(ctx, m.rl, m.log, m.name, PhaseImage, instruction, func() (string, error) {
		var err error
		out, err = m.next.EditImage(ctx, img, instruction)
		return out.MIMEType, err
	})
	return out, err
}

// WrapChats rate-limits and logs chat creation and every message of the sessions it
// opens. All sessions share one limiter.
func WrapChats(inner ChatStarter, opts MediaOptions) ChatStarter {
	return &mediaChats{
		next: inner,
		name: clientName(inner),
		rl:   newRPSLimiter(opts.RPS, opts.Burst),
		log:  logger.OrNop(opts.Logger),
	}
}

type mediaChats struct {
	next ChatStarter
	name string
	rl   *rpsLimiter
	log  *logger.Logger
}

func (m *mediaChats) Name() string { return m.name }

func (m *mediaChats) StartChat(ctx context.Context, systemInstruction string) (ChatSession, error) {
	if err := m.rl.Acquire(ctx); err != nil {
		return nil, err
	}
	session, err := m.next.StartChat(ctx, systemInstruction)
	if err != nil {
		m.log.Warn("chat create failed", "model", m.name, "error", err)
		return nil, err
	}
	m.log.Debug("chat created", "model", m.name, "instruction_bytes", len(systemInstruction))
	return &mediaSession{next: session, parent: m}, nil
}

type mediaSession struct {
	next   ChatSession
	parent *mediaChats
}

func (s *mediaSession) Send(ctx context.Context, text string) (string, error) {
	var reply string
	err := mediaCall(ctx, s.parent.rl, s.parent.log, s.parent.name, PhaseChat, text, func() (string, error) {
		var err error
		reply, err = s.next.Send(ctx, text)
		return reply, err
	})
	return reply, err
}
