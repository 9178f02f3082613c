package pipeline

import (
	"context"
	"strings"
	"time"

	"medianalyst/internal/llm"
	"medianalyst/internal/logger"
	"medianalyst/internal/types"
)

// Analyst is the generative capability the engine drives.
type Analyst interface {
	SearchProduct(ctx context.Context, brand, product string) (types.ProductInfo, error)
	AnalyzeIngredients(ctx context.Context, p types.ProductInfo) (types.IngredientAnalysis, error)
	AnalyzePathology(ctx context.Context, indications string) (types.DiagramAnalysis, error)
	AnalyzePharmacology(ctx context.Context, pathology types.DiagramAnalysis, ing types.IngredientAnalysis, p types.ProductInfo) (types.DiagramAnalysis, error)
	CreateChatSession(ctx context.Context, systemInstruction string) (llm.ChatSession, error)
}

// HistoryStore persists completed analyses. Append returns the record as stored, which
// may carry a different id than the one passed in.
type HistoryStore interface {
	Append(ctx context.Context, rec types.MedicalAnalysis) (types.MedicalAnalysis, error)
	Get(ctx context.Context, id string) (types.MedicalAnalysis, error)
}

// Observer is notified after every external step.
type Observer interface {
	ObserveStep(step Step, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) ObserveStep(Step, time.Duration, error) {}

// Engine executes transitions on runs. It holds no per-run state.
type Engine struct {
	analyst  Analyst
	history  HistoryStore
	log      *logger.Logger
	observer Observer
	now      func() time.Time
}

type Option func(*Engine)

func WithLogger(l *logger.Logger) Option { return func(e *Engine) { e.log = logger.OrNop(l) } }
func WithObserver(o Observer) Option     { return func(e *Engine) { e.observer = o } }
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(a Analyst, h HistoryStore, opts ...Option) *Engine {
	e := &Engine{
		analyst:  a,
		history:  h,
		log:      logger.Nop(),
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) observe(step Step, start time.Time, err error) {
	e.observer.ObserveStep(step, time.Since(start), err)
}

// Search looks the product up. On failure the run returns to Idle without a product.
func (e *Engine) Search(ctx context.Context, r *Run, brand, product string) error {
	brand, product = strings.TrimSpace(brand), strings.TrimSpace(product)
	r.mu.Lock()
	if err := r.checkLocked(ActionSearch); err != nil {
		r.mu.Unlock()
		return err
	}
	if brand == "" || product == "" {
		r.mu.Unlock()
		return ErrEmptyInput
	}
	_ = r.beginLocked(ActionSearch, StepSearching)
	r.query = Query{Brand: brand, Product: product}
	r.product = nil
	r.mu.Unlock()

	start := time.Now()
	info, err := e.analyst.SearchProduct(ctx, brand, product)
	e.observe(StepSearching, start, err)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.product = nil
		r.notice = NoticeSearchFailed
		r.finishLocked(StepIdle)
		e.log.Warn("product search failed", "run", r.id, "brand", brand, "product", product, "error", err)
		return &StepError{Step: StepSearching, Kind: ErrSearchFailed, Err: err}
	}
	r.product = &info
	r.finishLocked(StepReviewProduct)
	e.log.Info("product found", "run", r.id, "product", info.ProductName, "classification", info.Classification)
	return nil
}

// EditProduct overwrites fields of the reviewed product.
func (e *Engine) EditProduct(r *Run, edit types.ProductEdit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(ActionEditProduct); err != nil {
		return err
	}
	edit.Apply(r.product)
	r.updatedAt = time.Now()
	return nil
}

// ConfirmProduct runs ingredient, pathology and pharmacology analysis in one batch.
// Any failure drops the batch's results and returns the run to ReviewProduct.
func (e *Engine) ConfirmProduct(ctx context.Context, r *Run) error {
	r.mu.Lock()
	if err := r.beginLocked(ActionConfirmProduct, StepAnalyzingIngredients); err != nil {
		r.mu.Unlock()
		return err
	}
	product := r.product.Clone()
	r.clearAnalysesLocked()
	r.mu.Unlock()

	fail := func(step Step, err error) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.clearAnalysesLocked()
		r.notice = NoticeAnalysisFailed
		r.finishLocked(StepReviewProduct)
		e.log.Warn("analysis failed", "run", r.id, "step", step.String(), "error", err)
		return &StepError{Step: step, Kind: ErrAnalysisFailed, Err: err}
	}
	advance := func(next Step, store func()) {
		r.mu.Lock()
		defer r.mu.Unlock()
		store()
		r.step = next
		r.updatedAt = time.Now()
	}

	start := time.Now()
	ing, err := e.analyst.AnalyzeIngredients(ctx, product)
	e.observe(StepAnalyzingIngredients, start, err)
	if err != nil {
		return fail(StepAnalyzingIngredients, err)
	}
	advance(StepAnalyzingPathology, func() { r.ingredients = &ing })

	start = time.Now()
	path, err := e.analyst.AnalyzePathology(ctx, product.Indications)
	e.observe(StepAnalyzingPathology, start, err)
	if err != nil {
		return fail(StepAnalyzingPathology, err)
	}
	advance(StepAnalyzingPharmacology, func() { r.pathology = &path })

	start = time.Now()
	pharm, err := e.analyst.AnalyzePharmacology(ctx, path, ing, product)
	e.observe(StepAnalyzingPharmacology, start, err)
	if err != nil {
		return fail(StepAnalyzingPharmacology, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.pharmacology = &pharm
	r.finishLocked(StepReviewReport)
	e.log.Info("analysis complete", "run", r.id, "product", product.ProductName)
	return nil
}

// ConfirmReport opens the chat and saves the analysis to history. A history failure is
// logged and surfaced as the run notice; the run still enters Chatting.
func (e *Engine) ConfirmReport(ctx context.Context, r *Run) error {
	r.mu.Lock()
	if err := r.beginLocked(ActionConfirmReport, StepReviewReport); err != nil {
		r.mu.Unlock()
		return err
	}
	report, err := r.reportLocked()
	if err != nil {
		r.finishLocked(StepReviewReport)
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	session, err := e.startChat(ctx, report)
	if err != nil {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.notice = NoticeChatFailed
		r.finishLocked(StepReviewReport)
		return &StepError{Step: StepReviewReport, Kind: ErrChatUnavailable, Err: err}
	}

	transcript := []types.ChatMessage{greeting(report.Product.ProductName)}
	rec, saveErr := e.history.Append(ctx, types.NewMedicalAnalysis(report, transcript, e.now()))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat = session
	r.transcript = transcript
	if saveErr != nil {
		r.notice = NoticeSaveFailed
		e.log.Error("save history failed", "run", r.id, "error", saveErr)
	} else {
		r.historyID = rec.ID
		r.notice = NoticeSaved
	}
	r.finishLocked(StepChatting)
	return nil
}

// SaveToHistory stores a new snapshot of the report together with the transcript so far.
// Earlier snapshots are left untouched.
func (e *Engine) SaveToHistory(ctx context.Context, r *Run) (types.MedicalAnalysis, error) {
	r.mu.Lock()
	prev := r.step
	if err := r.beginLocked(ActionSaveHistory, prev); err != nil {
		r.mu.Unlock()
		return types.MedicalAnalysis{}, err
	}
	report, err := r.reportLocked()
	if err != nil {
		r.finishLocked(prev)
		r.mu.Unlock()
		return types.MedicalAnalysis{}, err
	}
	transcript := types.CloneTranscript(r.transcript)
	r.mu.Unlock()

	rec, err := e.history.Append(ctx, types.NewMedicalAnalysis(report, transcript, e.now()))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked(prev)
	if err != nil {
		r.notice = NoticeSaveFailed
		e.log.Error("save history failed", "run", r.id, "error", err)
		return types.MedicalAnalysis{}, err
	}
	r.historyID = rec.ID
	r.notice = NoticeSaved
	e.log.Info("analysis saved", "run", r.id, "history", rec.ID, "messages", len(transcript))
	return rec, nil
}

// LoadFromHistory replaces the run's content with a stored analysis and re-seeds the
// chat from it. The stored transcript is shown but not replayed to the model.
func (e *Engine) LoadFromHistory(ctx context.Context, r *Run, id string) error {
	r.mu.Lock()
	if err := r.checkLocked(ActionLoadHistory); err != nil {
		r.mu.Unlock()
		return err
	}
	prev := r.step
	_ = r.beginLocked(ActionLoadHistory, prev)
	r.mu.Unlock()

	rec, err := e.history.Get(ctx, strings.TrimSpace(id))
	if err == nil {
		var session llm.ChatSession
		session, err = e.startChat(ctx, rec.Report())
		if err == nil {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.clearLocked()
			p := rec.Product.Clone()
			ing, path, pharm := rec.IngredientAnalysis, rec.Pathology, rec.Pharmacology
			r.query = Query{Brand: p.BrandName, Product: p.ProductName}
			r.product, r.ingredients, r.pathology, r.pharmacology = &p, &ing, &path, &pharm
			r.transcript = types.CloneTranscript(rec.ChatHistory)
			r.chat = session
			r.historyID = rec.ID
			r.finishLocked(StepChatting)
			return nil
		}
		err = &StepError{Step: StepChatting, Kind: ErrChatUnavailable, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishLocked(prev)
	return err
}

// Reset returns the run to Idle and drops everything it holds.
func (e *Engine) Reset(r *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkLocked(ActionReset); err != nil {
		return err
	}
	r.clearLocked()
	r.finishLocked(StepIdle)
	return nil
}
