package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrInvalidJSON = errors.New("llm: invalid JSON from model")
	ErrEmptyReply  = errors.New("llm: empty reply from model")
	ErrNoImage     = errors.New("llm: no image data found in response")
)

// Source is a web citation returned with a grounded answer.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Grounded is free text produced with live web search, plus its citations.
type Grounded struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources,omitempty"`
}

// LLMClient is the text capability: JSON-mode generation and search-grounded
// generation. Cross-cutting concerns are added with Middleware.
type LLMClient interface {
	Name() string
	GenerateJSON(ctx context.Context, prompt string, input any) (json.RawMessage, error)
	GenerateGrounded(ctx context.Context, prompt string, input any) (Grounded, error)
	Close() error
}

// Image is raw image bytes with their MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// ImageEditor edits an image according to a text instruction.
type ImageEditor interface {
	EditImage(ctx context.Context, img Image, instruction string) (Image, error)
}

// ChatSession is a stateful conversation; the model side keeps the accumulated turns.
type ChatSession interface {
	Send(ctx context.Context, text string) (string, error)
}

// ChatStarter opens chat sessions seeded with a system instruction.
type ChatStarter interface {
	StartChat(ctx context.Context, systemInstruction string) (ChatSession, error)
}
