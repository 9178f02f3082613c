package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	genai "google.golang.org/genai"

	"medianalyst/internal/util/jsonutil"
)

// NewGenAIClient opens the shared genai client. An empty apiKey lets the SDK read
// GEMINI_API_KEY / GOOGLE_API_KEY from the environment.
func NewGenAIClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	return genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
}

// GeminiClient is a thin wrapper around the official genai client bound to one model.
// It only focuses on the API call itself. Rate limiting, logging and hooks are
// applied via Middleware.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

func NewGeminiClient(cli *genai.Client, model string) *GeminiClient {
	return &GeminiClient{cli: cli, model: model}
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.model }
func (g *GeminiClient) Close() error { return nil }

// ComposePrompt appends input (when non-nil) to prompt as an [INPUT JSON] block. It is
// the exact text the model receives.
func ComposePrompt(prompt string, input any) string {
	if input == nil {
		return prompt
	}
	in, err := jsonutil.MarshalNoEscapeIndent(input, "  ")
	if err != nil {
		return prompt
	}
	return prompt + "\n\n[INPUT JSON]\n" + string(in)
}

// GenerateJSON asks for application/json and returns the model's JSON text.
func (g *GeminiClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		genai.Text(ComposePrompt(prompt, input)),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"},
	)
	if err != nil {
		return nil, err
	}
	txt := responseText(resp)
	if txt == "" {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(txt), nil
}

// GenerateGrounded enables the Google Search tool. JSON mode cannot be combined with
// tools, so callers parse the text themselves.
func (g *GeminiClient) GenerateGrounded(ctx context.Context, prompt string, input any) (Grounded, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		genai.Text(ComposePrompt(prompt, input)),
		&genai.GenerateContentConfig{
			Tools: []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		},
	)
	if err != nil {
		return Grounded{}, err
	}
	txt := responseText(resp)
	if txt == "" {
		return Grounded{}, ErrEmptyReply
	}
	return Grounded{Text: txt, Sources: groundingSources(resp)}, nil
}

// EditImage sends the image and the instruction to an image-capable model and returns
// the first inline image of the reply.
func (g *GeminiClient) EditImage(ctx context.Context, img Image, instruction string) (Image, error) {
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MIMEType}},
			{Text: instruction},
		},
	}}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return Image{}, err
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p != nil && p.InlineData != nil && len(p.InlineData.Data) > 0 {
				mime := p.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return Image{Data: p.InlineData.Data, MIMEType: mime}, nil
			}
		}
	}
	return Image{}, ErrNoImage
}

// StartChat creates a genai chat whose system instruction carries the report context.
func (g *GeminiClient) StartChat(ctx context.Context, systemInstruction string) (ChatSession, error) {
	chat, err := g.cli.Chats.Create(ctx, g.model, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}
	return &geminiChat{chat: chat}, nil
}

type geminiChat struct {
	chat *genai.Chat
}

func (c *geminiChat) Send(ctx context.Context, text string) (string, error) {
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", err
	}
	return responseText(resp), nil
}

// responseText joins the non-thought text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought || p.Text == "" {
			continue
		}
		b.WriteString(p.Text)
	}
	return strings.TrimSpace(b.String())
}

func groundingSources(resp *genai.GenerateContentResponse) []Source {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var out []Source
	seen := map[string]struct{}{}
	for _, chunk := range resp.Candidates[0].GroundingMetadata.GroundingChunks {
		if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
			continue
		}
		if _, dup := seen[chunk.Web.URI]; dup {
			continue
		}
		seen[chunk.Web.URI] = struct{}{}
		out = append(out, Source{Title: chunk.Web.Title, URI: chunk.Web.URI})
	}
	return out
}
