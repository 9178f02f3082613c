package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{
		"PORT", "APP_ENV", "GEMINI_API_KEY", "API_KEY", "LLM_PROVIDER", "LLM_RPS",
		"HISTORY_BACKEND", "HISTORY_FILE", "ARTIFACT_BACKEND", "ARTIFACT_S3_ENDPOINT",
		"ARTIFACT_MINIO_ENDPOINT", "RUN_IDLE_TTL", "PHARMACOLOGY_CONTEXT_RUNES",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom(nil)
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.Port)
	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, ProviderFake, cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.SearchModel)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.AnalysisModel)
	assert.Equal(t, "gemini-2.5-flash-image", cfg.LLM.ImageModel)
	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.ChatModel)
	assert.Equal(t, "file", cfg.History.Backend)
	assert.Equal(t, "memory", cfg.Artifact.Backend)
	assert.Equal(t, 2*time.Hour, cfg.RunIdleTTL)
	assert.Equal(t, 10000, cfg.ContextRunes)
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("HISTORY_BACKEND", "Redis")
	t.Setenv("ARTIFACT_S3_ENDPOINT", "s3.example.com")
	t.Setenv("RUN_IDLE_TTL", "bogus")
	t.Setenv("PHARMACOLOGY_CONTEXT_RUNES", "500")

	cfg, err := LoadFrom([]string{"-port", ":7000"})
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Port)
	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "redis", cfg.History.Backend)
	assert.Equal(t, "s3", cfg.Artifact.Backend)
	assert.Equal(t, 2*time.Hour, cfg.RunIdleTTL)
	assert.Equal(t, 500, cfg.ContextRunes)
}

func TestLoadRejectsUnknownFlag(t *testing.T) {
	clearEnv(t)
	_, err := LoadFrom([]string{"-nope"})
	assert.Error(t, err)
}
