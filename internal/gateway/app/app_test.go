package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medianalyst/internal/gateway/config"
	"medianalyst/internal/llm"
	"medianalyst/internal/logger"
)

func fakeConfig() *config.Config {
	return &config.Config{
		Port:         ":0",
		Env:          "test",
		LLM:          config.LLMConfig{Provider: config.ProviderFake},
		History:      config.HistoryConfig{Backend: "memory"},
		Artifact:     config.ArtifactConfig{Backend: "memory"},
		RateLimit:    config.RateLimitConfig{RPS: 3, Burst: 60},
		RunIdleTTL:   time.Hour,
		MaxRuns:      8,
		ContextRunes: 10000,
	}
}

type phaseHook struct {
	mu     sync.Mutex
	phases []string
}

func (h *phaseHook) Before(_ context.Context, phase, _ string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.phases = append(h.phases, phase)
}

func (h *phaseHook) After(context.Context, string, string, error) {}

func TestNewAnalystWrapsImagesAndChats(t *testing.T) {
	svc, err := NewAnalyst(context.Background(), fakeConfig(), logger.Nop())
	require.NoError(t, err)

	hook := &phaseHook{}
	ctx := llm.WithPromptHook(context.Background(), hook)
	session, err := svc.CreateChatSession(ctx, "系统指令")
	require.NoError(t, err)
	_, err = session.Send(ctx, "你好")
	require.NoError(t, err)
	_, _, err = svc.EditImage(ctx, []byte{0x89, 'P', 'N', 'G'}, "image/png", "去掉背景")
	require.NoError(t, err)

	assert.Equal(t, []string{llm.PhaseChat, llm.PhaseImage}, hook.phases)
}

func TestNewWithConfigAndShutdown(t *testing.T) {
	log := logger.Nop()
	a, err := NewWithConfig(context.Background(), fakeConfig(), log)
	require.NoError(t, err)
	assert.Same(t, log, a.Logger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, a.Shutdown(ctx))
}
