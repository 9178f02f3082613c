package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Phases issued by the analyst service.
const (
	PhaseSearch       = "search"
	PhaseIngredients  = "ingredients"
	PhasePathology    = "pathology"
	PhasePharmacology = "pharmacology"
	PhaseImage        = "image"
	PhaseChat         = "chat"
)

// FakeCall records one request seen by FakeClient.
type FakeCall struct {
	Phase  string
	Prompt string
}

// FakeClient returns deterministic payloads per phase for offline runs and tests.
// It also implements ImageEditor and ChatStarter.
type FakeClient struct {
	mu sync.Mutex

	// Replies overrides the default payload for a phase (raw model text).
	Replies map[string]string
	// Errs makes a phase fail.
	Errs map[string]error
	// Sources is returned with grounded replies.
	Sources []Source
	// ChatReply answers every chat message; empty means echo.
	ChatReply string
	ChatErr   error
	ImageErr  error

	calls        []FakeCall
	instructions []string
}

func NewFakeClient() *FakeClient {
	return &FakeClient{Replies: map[string]string{}, Errs: map[string]error{}}
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

// Calls returns the recorded requests in order.
func (f *FakeClient) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// Instructions returns the system instructions of every chat started.
func (f *FakeClient) Instructions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.instructions...)
}

func (f *FakeClient) reply(ctx context.Context, prompt string, input any) (string, error) {
	phase := PhaseFrom(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, FakeCall{Phase: phase, Prompt: ComposePrompt(prompt, input)})
	if err := f.Errs[phase]; err != nil {
		return "", err
	}
	if r, ok := f.Replies[phase]; ok {
		return r, nil
	}
	return defaultFakeReply(phase), nil
}

func (f *FakeClient) GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error) {
	txt, err := f.reply(ctx, prompt, input)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(txt), nil
}

func (f *FakeClient) GenerateGrounded(ctx context.Context, prompt string, input any) (Grounded, error) {
	txt, err := f.reply(ctx, prompt, input)
	if err != nil {
		return Grounded{}, err
	}
	f.mu.Lock()
	src := append([]Source(nil), f.Sources...)
	f.mu.Unlock()
	return Grounded{Text: txt, Sources: src}, nil
}

func (f *FakeClient) EditImage(_ context.Context, img Image, _ string) (Image, error) {
	if f.ImageErr != nil {
		return Image{}, f.ImageErr
	}
	out := make([]byte, len(img.Data))
	copy(out, img.Data)
	return Image{Data: out, MIMEType: "image/png"}, nil
}

func (f *FakeClient) StartChat(_ context.Context, systemInstruction string) (ChatSession, error) {
	f.mu.Lock()
	f.instructions = append(f.instructions, systemInstruction)
	f.mu.Unlock()
	return &fakeChat{parent: f}, nil
}

type fakeChat struct {
	parent *FakeClient
	turns  int
}

func (c *fakeChat) Send(_ context.Context, text string) (string, error) {
	c.parent.mu.Lock()
	defer c.parent.mu.Unlock()
	if c.parent.ChatErr != nil {
		return "", c.parent.ChatErr
	}
	c.turns++
	if c.parent.ChatReply != "" {
		return c.parent.ChatReply, nil
	}
	return fmt.Sprintf("（离线回复 #%d）%s", c.turns, text), nil
}

func defaultFakeReply(phase string) string {
	switch phase {
	case PhaseSearch:
		return "```json\n" + `{
  "brandName": "示例品牌",
  "productName": "示例感冒颗粒",
  "ingredients": "麻黄、桂枝、白芍、甘草",
  "indications": "风寒感冒，恶寒发热，无汗",
  "classification": "中成药",
  "attribute": "OTC甲类",
  "drugCategory": "解表剂",
  "insuranceCategory": "乙类",
  "origin": "国产"
}` + "\n```"
	case PhaseIngredients:
		return `{"tcmTable":"| 药材 | 性味 | 归经 |\n|---|---|---|\n| 麻黄 | 辛、微苦，温 | 肺、膀胱 |","tcmRelations":"麻黄为**君药**，桂枝为**臣药**。","tcmSynergy":"麻黄配桂枝，发汗解表之力增强。"}`
	case PhasePathology:
		return `{"explanation":"外感风寒，**卫阳被遏**，营阴郁滞。","mermaidCode":"graph TD\nA[风寒外袭] --> B[卫阳被遏]\nB --> C[恶寒发热]"}`
	case PhasePharmacology:
		return `{"explanation":"全方**发汗解表**，宣肺平喘。","mermaidCode":"graph TD\nA[麻黄] --> B[发汗]\nB --> C[解表]"}`
	default:
		return "{}"
	}
}
