package llm

import (
	"context"
	"encoding/json"
	"time"

	"medianalyst/internal/logger"
)

// Middleware decorates an LLMClient to inject cross-cutting concerns
// (rate limiting, logging, hooks).
type Middleware func(LLMClient) LLMClient

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner LLMClient, mws ...Middleware) LLMClient {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// -------- Rate Limiting --------

// RateLimit limits request rate. If rps <= 0 the limiter is disabled.
func RateLimit(rps float64, burst int) Middleware {
	return func(next LLMClient) LLMClient {
		return &rateLimited{next: next, rl: newRPSLimiter(rps, burst)}
	}
}

type rateLimited struct {
	next LLMClient
	rl   *rpsLimiter
}

func (c *rateLimited) Name() string { return c.next.Name() }
func (c *rateLimited) Close() error { return c.next.Close() }

func (c *rateLimited) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return nil, err
	}
	return c.next.GenerateJSON(ctx, prompt, input)
}

func (c *rateLimited) GenerateGrounded(ctx context.Context, prompt string, input any) (Grounded, error) {
	if err := c.rl.Acquire(ctx); err != nil {
		return Grounded{}, err
	}
	return c.next.GenerateGrounded(ctx, prompt, input)
}

// -------- Logging --------

// WithLogging logs request size, latency and errors per phase.
func WithLogging(log *logger.Logger) Middleware {
	log = logger.OrNop(log)
	return func(next LLMClient) LLMClient {
		return &logging{next: next, log: log}
	}
}

type logging struct {
	next LLMClient
	log  *logger.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }

func (l *logging) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	start := time.Now()
	raw, err := l.next.GenerateJSON(ctx, prompt, input)
	l.record(ctx, "json", len(ComposePrompt(prompt, input)), len(raw), start, err)
	return raw, err
}

func (l *logging) GenerateGrounded(ctx context.Context, prompt string, input any) (Grounded, error) {
	start := time.Now()
	out, err := l.next.GenerateGrounded(ctx, prompt, input)
	l.record(ctx, "grounded", len(ComposePrompt(prompt, input)), len(out.Text), start, err)
	return out, err
}

func (l *logging) record(ctx context.Context, mode string, reqBytes, respBytes int, start time.Time, err error) {
	kv := []any{
		"model", l.next.Name(),
		"phase", PhaseFrom(ctx),
		"mode", mode,
		"request_bytes", reqBytes,
		"elapsed", time.Since(start),
	}
	if err != nil {
		l.log.Warn("llm request failed", append(kv, "error", err)...)
		return
	}
	l.log.Info("llm request", append(kv, "response_bytes", respBytes)...)
}

// -------- Hooks --------

// WithHooks calls HookFrom(ctx).Before/After around each request.
// If no hook is present in the context, it is a no-op.
func WithHooks() Middleware {
	return func(next LLMClient) LLMClient {
		return &hooked{next: next}
	}
}

type hooked struct{ next LLMClient }

func (h *hooked) Name() string { return h.next.Name() }
func (h *hooked) Close() error { return h.next.Close() }

func (h *hooked) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	hook := HookFrom(ctx)
	if hook != nil {
		hook.Before(ctx, PhaseFrom(ctx), ComposePrompt(prompt, input))
	}
	raw, err := h.next.GenerateJSON(ctx, prompt, input)
	if hook != nil {
		hook.After(ctx, PhaseFrom(ctx), string(raw), err)
	}
	return raw, err
}

func (h *hooked) GenerateGrounded(ctx context.Context, prompt string, input any) (Grounded, error) {
	hook := HookFrom(ctx)
	if hook != nil {
		hook.Before(ctx, PhaseFrom(ctx), ComposePrompt(prompt, input))
	}
	out, err := h.next.GenerateGrounded(ctx, prompt, input)
	if hook != nil {
		hook.After(ctx, PhaseFrom(ctx), out.Text, err)
	}
	return out, err
}
