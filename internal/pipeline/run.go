package pipeline

import (
	"sync"
	"time"

	"medianalyst/internal/llm"
	"medianalyst/internal/types"
)

// Query is what the user typed on the first screen.
type Query struct {
	Brand   string `json:"brand"`
	Product string `json:"product"`
}

// Run is one wizard session. All fields are guarded by mu; the busy flag is held for
// the whole duration of an external call so that no two calls for one run overlap.
type Run struct {
	id string

	mu           sync.Mutex
	step         Step
	busy         bool
	query        Query
	product      *types.ProductInfo
	ingredients  *types.IngredientAnalysis
	pathology    *types.DiagramAnalysis
	pharmacology *types.DiagramAnalysis
	transcript   []types.ChatMessage
	chat         llm.ChatSession
	historyID    string
	notice       string
	updatedAt    time.Time
}

func NewRun(id string) *Run {
	return &Run{id: id, step: StepIdle, updatedAt: time.Now()}
}

func (r *Run) ID() string { return r.id }

// Snapshot is a read-only copy of a run.
type Snapshot struct {
	ID           string                    `json:"id"`
	Step         Step                      `json:"step"`
	Busy         bool                      `json:"busy"`
	Query        Query                     `json:"query"`
	Product      *types.ProductInfo        `json:"product,omitempty"`
	Ingredients  *types.IngredientAnalysis `json:"ingredientAnalysis,omitempty"`
	Pathology    *types.DiagramAnalysis    `json:"pathology,omitempty"`
	Pharmacology *types.DiagramAnalysis    `json:"pharmacology,omitempty"`
	ChatHistory  []types.ChatMessage       `json:"chatHistory"`
	HistoryID    string                    `json:"historyId,omitempty"`
	Notice       string                    `json:"notice,omitempty"`
	UpdatedAt    time.Time                 `json:"updatedAt"`
}

func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Snapshot{
		ID:          r.id,
		Step:        r.step,
		Busy:        r.busy,
		Query:       r.query,
		ChatHistory: types.CloneTranscript(r.transcript),
		HistoryID:   r.historyID,
		Notice:      r.notice,
		UpdatedAt:   r.updatedAt,
	}
	if r.product != nil {
		p := r.product.Clone()
		s.Product = &p
	}
	if r.ingredients != nil {
		i := *r.ingredients
		s.Ingredients = &i
	}
	if r.pathology != nil {
		d := *r.pathology
		s.Pathology = &d
	}
	if r.pharmacology != nil {
		d := *r.pharmacology
		s.Pharmacology = &d
	}
	return s
}

// Report returns the complete report, or types.ErrIncompleteReport.
func (r *Run) Report() (types.Report, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reportLocked()
}

func (r *Run) reportLocked() (types.Report, error) {
	return types.NewReport(r.product, r.ingredients, r.pathology, r.pharmacology)
}

// IdleSince reports when the run was last touched.
func (r *Run) IdleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updatedAt
}

// Busy reports whether an external call is pending.
func (r *Run) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.busy
}

// beginLocked validates a against the current state, marks the run busy and moves it
// to next. Caller must hold mu.
func (r *Run) beginLocked(a Action, next Step) error {
	if r.busy {
		return ErrBusy
	}
	if !r.step.accepts(a) {
		return &TransitionError{Step: r.step, Action: a}
	}
	r.busy = true
	r.step = next
	r.notice = ""
	r.updatedAt = time.Now()
	return nil
}

// checkLocked validates a synchronous action. Caller must hold mu.
func (r *Run) checkLocked(a Action) error {
	if r.busy {
		return ErrBusy
	}
	if !r.step.accepts(a) {
		return &TransitionError{Step: r.step, Action: a}
	}
	return nil
}

func (r *Run) finishLocked(step Step) {
	r.busy = false
	r.step = step
	r.updatedAt = time.Now()
}

func (r *Run) clearLocked() {
	r.query = Query{}
	r.product = nil
	r.clearAnalysesLocked()
	r.transcript = nil
	r.chat = nil
	r.historyID = ""
	r.notice = ""
}

func (r *Run) clearAnalysesLocked() {
	r.ingredients = nil
	r.pathology = nil
	r.pharmacology = nil
}
