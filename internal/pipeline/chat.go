package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"medianalyst/internal/analyst"
	"medianalyst/internal/llm"
	"medianalyst/internal/types"
)

func greeting(productName string) types.ChatMessage {
	return types.ChatMessage{Role: types.RoleModel, Content: analyst.Greeting(productName)}
}

func (e *Engine) startChat(ctx context.Context, report types.Report) (llm.ChatSession, error) {
	start := time.Now()
	session, err := e.analyst.CreateChatSession(ctx, analyst.ChatSystemInstruction(report))
	e.observe(StepChatting, start, err)
	return session, err
}

// SendChat appends the user's message, asks the model, and appends its reply. When the
// model call fails a single error reply is appended and the error is returned; the
// session stays usable.
func (e *Engine) SendChat(ctx context.Context, r *Run, text string) (types.ChatMessage, error) {
	text = strings.TrimSpace(text)
	r.mu.Lock()
	if err := r.checkLocked(ActionSendChat); err != nil {
		r.mu.Unlock()
		return types.ChatMessage{}, err
	}
	if text == "" {
		r.mu.Unlock()
		return types.ChatMessage{}, ErrEmptyInput
	}
	_ = r.beginLocked(ActionSendChat, StepChatting)
	r.transcript = append(r.transcript, types.ChatMessage{Role: types.RoleUser, Content: text})
	session := r.chat
	r.mu.Unlock()

	var reply string
	var err error
	start := time.Now()
	if session == nil {
		err = ErrChatUnavailable
	} else {
		reply, err = session.Send(ctx, text)
	}
	e.observe(StepChatting, start, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.finishLocked(StepChatting)
	if err != nil {
		msg := types.ChatMessage{Role: types.RoleModel, Content: ChatErrorReply}
		r.transcript = append(r.transcript, msg)
		e.log.Warn("chat send failed", "run", r.id, "error", err)
		return msg, fmt.Errorf("%w: %w", ErrChatSend, err)
	}
	if strings.TrimSpace(reply) == "" {
		reply = ChatFallbackReply
	}
	msg := types.ChatMessage{Role: types.RoleModel, Content: reply}
	r.transcript = append(r.transcript, msg)
	return msg, nil
}
