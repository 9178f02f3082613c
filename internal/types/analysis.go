package types

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

var (
	ErrIncompleteReport = errors.New("types: report requires product, ingredient, pathology and pharmacology results")
	ErrEmptyDiagram     = errors.New("types: diagram analysis requires explanation and mermaidCode")
	ErrEmptyIngredients = errors.New("types: ingredient analysis has no content")
)

// IngredientAnalysis holds the markdown sections of the ingredient step. Every field
// is optional; which ones are present depends on the product classification.
type IngredientAnalysis struct {
	TCMTable        string `json:"tcmTable,omitempty"`
	TCMRelations    string `json:"tcmRelations,omitempty"`
	TCMSynergy      string `json:"tcmSynergy,omitempty"`
	WesternTable    string `json:"westernTable,omitempty"`
	CombinedSynergy string `json:"combinedSynergy,omitempty"`
}

// IngredientField names one IngredientAnalysis section.
type IngredientField string

const (
	FieldTCMTable        IngredientField = "tcmTable"
	FieldTCMRelations    IngredientField = "tcmRelations"
	FieldTCMSynergy      IngredientField = "tcmSynergy"
	FieldWesternTable    IngredientField = "westernTable"
	FieldCombinedSynergy IngredientField = "combinedSynergy"
)

// IngredientSection is a non-empty field together with its name.
type IngredientSection struct {
	Field IngredientField
	Body  string
}

// Sections returns the non-empty fields in the fixed report order:
// tcmTable, tcmRelations, tcmSynergy, westernTable, combinedSynergy.
func (a IngredientAnalysis) Sections() []IngredientSection {
	all := []IngredientSection{
		{FieldTCMTable, a.TCMTable},
		{FieldTCMRelations, a.TCMRelations},
		{FieldTCMSynergy, a.TCMSynergy},
		{FieldWesternTable, a.WesternTable},
		{FieldCombinedSynergy, a.CombinedSynergy},
	}
	out := make([]IngredientSection, 0, len(all))
	for _, s := range all {
		if strings.TrimSpace(s.Body) == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}

func (a IngredientAnalysis) Validate() error {
	if len(a.Sections()) == 0 {
		return ErrEmptyIngredients
	}
	return nil
}

// DiagramAnalysis is a markdown explanation plus a mermaid graph description.
type DiagramAnalysis struct {
	Explanation string `json:"explanation"`
	MermaidCode string `json:"mermaidCode"`
}

func (d DiagramAnalysis) Validate() error {
	if strings.TrimSpace(d.Explanation) == "" || strings.TrimSpace(d.MermaidCode) == "" {
		return ErrEmptyDiagram
	}
	return nil
}

// Chat ---------------------------------------------------------------------------

type ChatRole string

const (
	RoleUser  ChatRole = "user"
	RoleModel ChatRole = "model"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// CloneTranscript copies a transcript so later appends never alias the source.
func CloneTranscript(in []ChatMessage) []ChatMessage {
	out := make([]ChatMessage, len(in))
	copy(out, in)
	return out
}

// Report / history record --------------------------------------------------------

// Report is a complete analysis: all four results for one product.
type Report struct {
	Product      ProductInfo        `json:"product"`
	Ingredients  IngredientAnalysis `json:"ingredientAnalysis"`
	Pathology    DiagramAnalysis    `json:"pathology"`
	Pharmacology DiagramAnalysis    `json:"pharmacology"`
}

// NewReport builds a Report, refusing when any part is missing.
func NewReport(p *ProductInfo, i *IngredientAnalysis, pathology, pharmacology *DiagramAnalysis) (Report, error) {
	if p == nil || i == nil || pathology == nil || pharmacology == nil {
		return Report{}, ErrIncompleteReport
	}
	return Report{
		Product:      p.Clone(),
		Ingredients:  *i,
		Pathology:    *pathology,
		Pharmacology: *pharmacology,
	}, nil
}

// MedicalAnalysis is an immutable history record of a completed analysis.
type MedicalAnalysis struct {
	ID                 string             `json:"id"`
	Timestamp          int64              `json:"timestamp"`
	Product            ProductInfo        `json:"product"`
	IngredientAnalysis IngredientAnalysis `json:"ingredientAnalysis"`
	Pathology          DiagramAnalysis    `json:"pathology"`
	Pharmacology       DiagramAnalysis    `json:"pharmacology"`
	ChatHistory        []ChatMessage      `json:"chatHistory"`
}

// NewMedicalAnalysis stamps a record with an id derived from now (unix milliseconds).
func NewMedicalAnalysis(r Report, transcript []ChatMessage, now time.Time) MedicalAnalysis {
	ms := now.UnixMilli()
	return MedicalAnalysis{
		ID:                 strconv.FormatInt(ms, 10),
		Timestamp:          ms,
		Product:            r.Product.Clone(),
		IngredientAnalysis: r.Ingredients,
		Pathology:          r.Pathology,
		Pharmacology:       r.Pharmacology,
		ChatHistory:        CloneTranscript(transcript),
	}
}

// Report returns the analysis part of the record.
func (m MedicalAnalysis) Report() Report {
	return Report{
		Product:      m.Product.Clone(),
		Ingredients:  m.IngredientAnalysis,
		Pathology:    m.Pathology,
		Pharmacology: m.Pharmacology,
	}
}

// CreatedAt converts the millisecond timestamp back to a time.
func (m MedicalAnalysis) CreatedAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}
