package pipeline

import "fmt"

// Step is a state of the analysis wizard.
type Step int

const (
	StepIdle Step = iota
	StepSearching
	StepReviewProduct
	StepAnalyzingIngredients
	StepAnalyzingPathology
	StepAnalyzingPharmacology
	StepReviewReport
	StepChatting
)

var stepNames = [...]string{
	StepIdle:                  "idle",
	StepSearching:             "searching",
	StepReviewProduct:         "review_product",
	StepAnalyzingIngredients:  "analyzing_ingredients",
	StepAnalyzingPathology:    "analyzing_pathology",
	StepAnalyzingPharmacology: "analyzing_pharmacology",
	StepReviewReport:          "review_report",
	StepChatting:              "chatting",
}

func (s Step) String() string {
	if s < 0 || int(s) >= len(stepNames) {
		return fmt.Sprintf("step(%d)", int(s))
	}
	return stepNames[s]
}

func (s Step) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Step) UnmarshalText(b []byte) error {
	for i, name := range stepNames {
		if name == string(b) {
			*s = Step(i)
			return nil
		}
	}
	return fmt.Errorf("pipeline: unknown step %q", b)
}

// Action is a user-triggered transition.
type Action int

const (
	ActionSearch Action = iota
	ActionEditProduct
	ActionConfirmProduct
	ActionConfirmReport
	ActionSendChat
	ActionLoadHistory
	ActionSaveHistory
	ActionReset
)

func (a Action) String() string {
	switch a {
	case ActionSearch:
		return "search"
	case ActionEditProduct:
		return "edit_product"
	case ActionConfirmProduct:
		return "confirm_product"
	case ActionConfirmReport:
		return "confirm_report"
	case ActionSendChat:
		return "send_chat"
	case ActionLoadHistory:
		return "load_history"
	case ActionSaveHistory:
		return "save_history"
	case ActionReset:
		return "reset"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// accepts reports whether action a is legal while the run rests in step s.
// The Analyzing* and Searching states are only ever held while busy, so nothing
// is accepted there.
func (s Step) accepts(a Action) bool {
	switch s {
	case StepIdle:
		return a == ActionSearch || a == ActionLoadHistory || a == ActionReset
	case StepSearching, StepAnalyzingIngredients, StepAnalyzingPathology, StepAnalyzingPharmacology:
		return false
	case StepReviewProduct:
		return a == ActionEditProduct || a == ActionConfirmProduct || a == ActionLoadHistory || a == ActionReset
	case StepReviewReport:
		return a == ActionConfirmReport || a == ActionSaveHistory || a == ActionLoadHistory || a == ActionReset
	case StepChatting:
		return a == ActionSendChat || a == ActionSaveHistory || a == ActionLoadHistory || a == ActionReset
	}
	return false
}
