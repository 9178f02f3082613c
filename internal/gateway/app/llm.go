package app

import (
	"context"
	"fmt"

	"medianalyst/internal/analyst"
	"medianalyst/internal/gateway/config"
	"medianalyst/internal/llm"
	"medianalyst/internal/logger"
)

// NewAnalyst builds the analysis service for the configured provider. The fake
// provider answers offline with canned replies.
func NewAnalyst(ctx context.Context, cfg *config.Config, log *logger.Logger) (*analyst.Service, error) {
	mws := []llm.Middleware{
		llm.WithHooks(),
		llm.RateLimit(cfg.LLM.RPS, cfg.LLM.Burst),
		llm.WithLogging(log),
	}
	media := llm.MediaOptions{RPS: cfg.LLM.RPS, Burst: cfg.LLM.Burst, Logger: log}

	switch cfg.LLM.Provider {
	case config.ProviderFake:
		log.Warn("llm provider is fake, replies are canned")
		fake := llm.NewFakeClient()
		return analyst.New(analyst.Deps{
			Search:       llm.Wrap(fake, mws...),
			Analysis:     llm.Wrap(fake, mws...),
			Images:       llm.WrapImages(fake, media),
			Chats:        llm.WrapChats(fake, media),
			ContextRunes: cfg.ContextRunes,
			Logger:       log,
		}), nil
	case config.ProviderGemini:
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for provider %q", cfg.LLM.Provider)
		}
		cli, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey)
		if err != nil {
			return nil, fmt.Errorf("init genai client: %w", err)
		}
		log.Info("llm provider ready",
			"search_model", cfg.LLM.SearchModel,
			"analysis_model", cfg.LLM.AnalysisModel,
			"image_model", cfg.LLM.ImageModel,
			"chat_model", cfg.LLM.ChatModel,
		)
		return analyst.New(analyst.Deps{
			Search:       llm.Wrap(llm.NewGeminiClient(cli, cfg.LLM.SearchModel), mws...),
			Analysis:     llm.Wrap(llm.NewGeminiClient(cli, cfg.LLM.AnalysisModel), mws...),
			Images:       llm.WrapImages(llm.NewGeminiClient(cli, cfg.LLM.ImageModel), media),
			Chats:        llm.WrapChats(llm.NewGeminiClient(cli, cfg.LLM.ChatModel), media),
			ContextRunes: cfg.ContextRunes,
			Logger:       log,
		}), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
