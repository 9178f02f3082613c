package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medianalyst/internal/llm"
)

func TestTraceHookWritesPhases(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "trace")
	hook, err := newTraceHook(dir, nil)
	require.NoError(t, err)

	ctx := llm.WithPromptHook(llm.WithPhase(context.Background(), llm.PhasePathology), hook)
	f := llm.NewFakeClient()
	c := llm.Wrap(f, llm.WithHooks())
	_, err = c.GenerateJSON(ctx, "病理", nil)
	require.NoError(t, err)

	f.Errs[llm.PhasePharmacology] = errors.New("boom")
	_, err = c.GenerateJSON(llm.WithPhase(ctx, llm.PhasePharmacology), "药理", nil)
	require.Error(t, err)

	prompt, err := os.ReadFile(filepath.Join(dir, "01_pathology.prompt.txt"))
	require.NoError(t, err)
	assert.Equal(t, "病理", string(prompt))
	reply, err := os.ReadFile(filepath.Join(dir, "01_pathology.reply.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(reply), "mermaidCode")

	failed, err := os.ReadFile(filepath.Join(dir, "02_pharmacology.error.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(failed), "boom")
}
