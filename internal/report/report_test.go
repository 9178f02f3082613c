package report

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medianalyst/internal/types"
)

func sampleReport() types.Report {
	return types.Report{
		Product: types.ProductInfo{
			BrandName:         "同仁堂",
			ProductName:       "感冒清热颗粒",
			Ingredients:       "荆芥穗、薄荷",
			Indications:       "风寒感冒，头痛发热",
			Classification:    types.ProductTypeTCM,
			Attribute:         types.AttributeOTCA,
			DrugCategory:      "解表剂",
			InsuranceCategory: types.InsuranceClassA,
			Origin:            "国产",
		},
		Ingredients: types.IngredientAnalysis{
			TCMTable:     "| 荆芥穗 | 辛 |",
			TCMRelations: "荆芥为君",
			WesternTable: "| 挥发油 | 解热 |",
		},
		Pathology:    types.DiagramAnalysis{Explanation: "**外感风寒**", MermaidCode: "graph TD\nA[风寒] --> B[发热]"},
		Pharmacology: types.DiagramAnalysis{Explanation: "**疏风散寒**", MermaidCode: "graph TD\nC{{荆芥}} --> A"},
	}
}

func TestRenderContainsSections(t *testing.T) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	html, err := Render(sampleReport(), at)
	require.NoError(t, err)

	assert.Contains(t, html, "<title>同仁堂 感冒清热颗粒 - 深度解读报告</title>")
	assert.Contains(t, html, "生成时间: 2024-05-01 09:30:00")
	assert.Contains(t, html, "<strong>医保类别:</strong> 甲类")
	assert.Contains(t, html, "### 中医解读")
	assert.Contains(t, html, "**君臣佐使**: 荆芥为君")
	assert.Contains(t, html, "### 西医/现代药理")
	assert.Contains(t, html, "A[风寒] --&gt; B[发热]")
	assert.Contains(t, html, "mermaid.initialize")
	assert.NotContains(t, html, "参考来源")
	assert.Less(t, strings.Index(html, "病理过程解读"), strings.Index(html, "药理作用机制"))
}

func TestRenderOnlyWesternTable(t *testing.T) {
	r := sampleReport()
	r.Ingredients = types.IngredientAnalysis{WesternTable: "| 布洛芬 | COX |"}
	md := IngredientMarkdown(r.Ingredients)
	assert.Equal(t, "### 西医/现代药理\n| 布洛芬 | COX |\n\n", md)

	html, err := Render(r, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, html, "中医解读")
	assert.NotContains(t, html, "君臣佐使")
	assert.NotContains(t, html, "组方功效")
	assert.NotContains(t, html, "中西协同")
}

func TestIngredientMarkdownOrder(t *testing.T) {
	md := IngredientMarkdown(types.IngredientAnalysis{
		CombinedSynergy: "E",
		WesternTable:    "D",
		TCMSynergy:      "C",
		TCMRelations:    "B",
		TCMTable:        "A",
	})
	idx := func(s string) int { return strings.Index(md, s) }
	assert.True(t, idx("A") < idx("B") && idx("B") < idx("C") && idx("C") < idx("D") && idx("D") < idx("E"), md)
}

func TestRenderEscapesValues(t *testing.T) {
	r := sampleReport()
	r.Product.BrandName = "<script>alert(1)</script>"
	html, err := Render(r, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, html, "<script>alert(1)</script>")
	assert.Contains(t, html, "&lt;script&gt;alert(1)&lt;/script&gt;")
}

func TestRenderSources(t *testing.T) {
	r := sampleReport()
	r.Product.Sources = []types.ProductSource{{Title: "国家药监局", URI: "https://www.nmpa.gov.cn/x"}, {URI: "https://example.org/y"}}
	html, err := Render(r, time.Now())
	require.NoError(t, err)
	assert.Contains(t, html, "参考来源")
	assert.Contains(t, html, `href="https://www.nmpa.gov.cn/x"`)
	assert.Contains(t, html, ">https://example.org/y</a>")
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "同仁堂_感冒清热颗粒_解读报告.html", FileName("同仁堂", "感冒清热颗粒"))
	assert.Equal(t, "A_B_C_解读报告.html", FileName(" A/B ", "C"))
	assert.Equal(t, "caf\u00e9_x_解读报告.html", FileName("cafe\u0301", "x"))
}
