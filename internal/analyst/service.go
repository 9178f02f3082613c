package analyst

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medianalyst/internal/llm"
	"medianalyst/internal/llmtool"
	"medianalyst/internal/logger"
	"medianalyst/internal/types"
)

// ErrImageGeneration wraps any failure of the image editing capability.
var ErrImageGeneration = errors.New("analyst: image generation failed")

// Deps wires the model capabilities the service calls.
type Deps struct {
	Search   llm.LLMClient // search-grounded product lookup
	Analysis llm.LLMClient // JSON-mode analyses
	Images   llm.ImageEditor
	Chats    llm.ChatStarter

	ContextRunes int
	Logger       *logger.Logger
}

// Service turns domain inputs into prompts, calls the model once, and decodes the reply.
type Service struct {
	search       llm.LLMClient
	analysis     llm.LLMClient
	images       llm.ImageEditor
	chats        llm.ChatStarter
	contextRunes int
	log          *logger.Logger
}

func New(d Deps) *Service {
	analysis := d.Analysis
	if analysis == nil {
		analysis = d.Search
	}
	runes := d.ContextRunes
	if runes <= 0 {
		runes = DefaultContextRunes
	}
	return &Service{
		search:       d.Search,
		analysis:     analysis,
		images:       d.Images,
		chats:        d.Chats,
		contextRunes: runes,
		log:          logger.OrNop(d.Logger),
	}
}

// SearchProduct looks the product up with web grounding and returns the normalized
// label facts plus their citations.
func (s *Service) SearchProduct(ctx context.Context, brand, product string) (types.ProductInfo, error) {
	ctx = llm.WithPhase(ctx, llm.PhaseSearch)
	out, err := s.search.GenerateGrounded(ctx, SearchPrompt(brand, product), nil)
	if err != nil {
		return types.ProductInfo{}, fmt.Errorf("search product: %w", err)
	}
	var info types.ProductInfo
	if err := llmtool.DecodeObject(out.Text, &info); err != nil {
		return types.ProductInfo{}, fmt.Errorf("search product: %w", err)
	}
	info.Normalize(brand, product)
	info.Sources = nil
	for _, src := range out.Sources {
		info.Sources = append(info.Sources, types.ProductSource{Title: src.Title, URI: src.URI})
	}
	s.log.Debug("product found", "brand", info.BrandName, "product", info.ProductName, "sources", len(info.Sources))
	return info, nil
}

func (s *Service) AnalyzeIngredients(ctx context.Context, p types.ProductInfo) (types.IngredientAnalysis, error) {
	var out types.IngredientAnalysis
	if err := s.decodeJSON(llm.WithPhase(ctx, llm.PhaseIngredients), IngredientPrompt(p), &out); err != nil {
		return types.IngredientAnalysis{}, fmt.Errorf("analyze ingredients: %w", err)
	}
	return out, nil
}

// AnalyzePathology takes the indications text only.
func (s *Service) AnalyzePathology(ctx context.Context, indications string) (types.DiagramAnalysis, error) {
	var out types.DiagramAnalysis
	if err := s.decodeJSON(llm.WithPhase(ctx, llm.PhasePathology), PathologyPrompt(indications), &out); err != nil {
		return types.DiagramAnalysis{}, fmt.Errorf("analyze pathology: %w", err)
	}
	return out, nil
}

func (s *Service) AnalyzePharmacology(ctx context.Context, pathology types.DiagramAnalysis, ing types.IngredientAnalysis, p types.ProductInfo) (types.DiagramAnalysis, error) {
	prompt := PharmacologyPrompt(pathology, ing, p, s.contextRunes)
	var out types.DiagramAnalysis
	if err := s.decodeJSON(llm.WithPhase(ctx, llm.PhasePharmacology), prompt, &out); err != nil {
		return types.DiagramAnalysis{}, fmt.Errorf("analyze pharmacology: %w", err)
	}
	return out, nil
}

func (s *Service) decodeJSON(ctx context.Context, prompt string, v any) error {
	raw, err := s.analysis.GenerateJSON(ctx, prompt, nil)
	if err != nil {
		return err
	}
	return llmtool.DecodeObject(string(raw), v)
}

// EditImage applies instruction to the image and returns the edited bytes and MIME type.
func (s *Service) EditImage(ctx context.Context, data []byte, mimeType, instruction string) ([]byte, string, error) {
	if s.images == nil {
		return nil, "", fmt.Errorf("%w: no image model configured", ErrImageGeneration)
	}
	if len(data) == 0 || strings.TrimSpace(instruction) == "" {
		return nil, "", fmt.Errorf("%w: image and instruction are required", ErrImageGeneration)
	}
	out, err := s.images.EditImage(ctx, llm.Image{Data: data, MIMEType: mimeType}, instruction)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrImageGeneration, err)
	}
	return out.Data, out.MIMEType, nil
}

// CreateChatSession opens a chat whose system instruction carries the report context.
func (s *Service) CreateChatSession(ctx context.Context, systemInstruction string) (llm.ChatSession, error) {
	if s.chats == nil {
		return nil, errors.New("analyst: no chat model configured")
	}
	return s.chats.StartChat(ctx, systemInstruction)
}
