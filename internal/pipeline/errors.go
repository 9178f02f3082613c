package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrBusy              = errors.New("pipeline: a step is already in progress")
	ErrInvalidTransition = errors.New("pipeline: action not allowed in current step")
	ErrEmptyInput        = errors.New("pipeline: input is empty")
	ErrSearchFailed      = errors.New("pipeline: product search failed")
	ErrAnalysisFailed    = errors.New("pipeline: analysis failed")
	ErrChatSend          = errors.New("pipeline: chat send failed")
	ErrChatUnavailable   = errors.New("pipeline: chat session could not be created")
)

// User-facing notices.
const (
	NoticeSearchFailed   = "搜索失败，请重试"
	NoticeAnalysisFailed = "分析过程中断，请重试"
	NoticeChatFailed     = "对话初始化失败，请重试"
	NoticeSaved          = "报告已保存至历史记录"
	NoticeSaveFailed     = "报告保存失败"

	ChatErrorReply    = "Error communicating with AI."
	ChatFallbackReply = "Sorry, I couldn't understand that."
)

// StepError names the step that failed. Kind is ErrSearchFailed, ErrAnalysisFailed or
// ErrChatUnavailable; Err is the underlying cause.
type StepError struct {
	Step Step
	Kind error
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%v (step %s): %v", e.Kind, e.Step, e.Err)
}

func (e *StepError) Is(target error) bool { return target == e.Kind }
func (e *StepError) Unwrap() error        { return e.Err }

// Notice returns the message shown to the user for this failure.
func (e *StepError) Notice() string {
	switch {
	case errors.Is(e.Kind, ErrSearchFailed):
		return NoticeSearchFailed
	case errors.Is(e.Kind, ErrChatUnavailable):
		return NoticeChatFailed
	default:
		return NoticeAnalysisFailed
	}
}

// TransitionError carries the rejected action and the step it was attempted in.
type TransitionError struct {
	Step   Step
	Action Action
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("pipeline: %s not allowed in step %s", e.Action, e.Step)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
