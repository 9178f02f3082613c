package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"medianalyst/internal/types"
)

//go:embed report.html.tmpl
var reportTemplate string

var tmpl = template.Must(template.New("report").Parse(reportTemplate))

// TimeLayout formats the generation timestamp.
const TimeLayout = "2006-01-02 15:04:05"

type ingredientSection struct {
	heading string
	inline  bool
}

var ingredientSections = map[types.IngredientField]ingredientSection{
	types.FieldTCMTable:        {heading: "中医解读"},
	types.FieldTCMRelations:    {heading: "君臣佐使", inline: true},
	types.FieldTCMSynergy:      {heading: "组方功效", inline: true},
	types.FieldWesternTable:    {heading: "西医/现代药理"},
	types.FieldCombinedSynergy: {heading: "中西协同"},
}

// IngredientMarkdown concatenates the non-empty ingredient sections in report order.
func IngredientMarkdown(a types.IngredientAnalysis) string {
	var b strings.Builder
	for _, s := range a.Sections() {
		sec := ingredientSections[s.Field]
		if sec.inline {
			fmt.Fprintf(&b, "**%s**: %s\n\n", sec.heading, s.Body)
			continue
		}
		fmt.Fprintf(&b, "### %s\n%s\n\n", sec.heading, s.Body)
	}
	return b.String()
}

type view struct {
	Title        string
	GeneratedAt  string
	Product      types.ProductInfo
	IngredientMD string
	Pathology    types.DiagramAnalysis
	Pharmacology types.DiagramAnalysis
}

// Render builds the self-contained HTML document for a report. Every value is escaped;
// markdown is rendered client side by marked and diagrams by mermaid.
func Render(r types.Report, generatedAt time.Time) (string, error) {
	v := view{
		Title:        strings.TrimSpace(r.Product.BrandName + " " + r.Product.ProductName),
		GeneratedAt:  generatedAt.Format(TimeLayout),
		Product:      r.Product,
		IngredientMD: IngredientMarkdown(r.Ingredients),
		Pathology:    r.Pathology,
		Pharmacology: r.Pharmacology,
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	return buf.String(), nil
}

var unsafeName = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_", "\n", "_", "\r", "_", "\t", "_",
)

// FileName is the download name of a report: <brand>_<product>_解读报告.html.
func FileName(brand, product string) string {
	clean := func(s string) string {
		s = norm.NFC.String(strings.TrimSpace(s))
		return unsafeName.Replace(s)
	}
	return clean(brand) + "_" + clean(product) + "_解读报告.html"
}
