package llm

import "context"

// PromptHook observes every model request: the composed instruction before the call
// and the raw reply (or error) after it.
type PromptHook interface {
	Before(ctx context.Context, phase, prompt string)
	After(ctx context.Context, phase, reply string, err error)
}

type ctxKeyHook struct{}
type ctxKeyPhase struct{}

// WithPhase tags ctx with the pipeline phase issuing the request ("search", "pathology", ...).
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, ctxKeyPhase{}, phase)
}

// PhaseFrom returns the phase stored in ctx.
func PhaseFrom(ctx context.Context) string {
	if s, ok := ctx.Value(ctxKeyPhase{}).(string); ok {
		return s
	}
	return "unknown"
}

// WithPromptHook attaches hook to ctx; the WithHooks middleware invokes it.
func WithPromptHook(ctx context.Context, hook PromptHook) context.Context {
	return context.WithValue(ctx, ctxKeyHook{}, hook)
}

// HookFrom returns the hook stored in ctx, if any.
func HookFrom(ctx context.Context) PromptHook {
	if h, ok := ctx.Value(ctxKeyHook{}).(PromptHook); ok {
		return h
	}
	return nil
}
