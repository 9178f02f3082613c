package analyst

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"medianalyst/internal/llmtool"
	"medianalyst/internal/types"
	"medianalyst/internal/util/jsonutil"
)

// DefaultContextRunes bounds the ingredient context embedded in the pharmacology prompt.
const DefaultContextRunes = 10000

type searchInput struct {
	Brand   string `json:"brand"`
	Product string `json:"product"`
}

// SearchPrompt asks a search-grounded model for the label facts of one product.
func SearchPrompt(brand, product string) string {
	spec := llmtool.StructuredPromptSpec{
		Role:    "你是一名药品信息检索专员，擅长查阅药品说明书、国家医保药品目录（NRDL）及药监局数据库。",
		Purpose: fmt.Sprintf("全网检索品牌“%s”的产品“%s”，整理其说明书要点与监管信息。", brand, product),
		Tasks: []string{
			"查找产品说明书，获取准确的【成分】和【功能主治】。",
			"判断分类：中成药、化学药、生物药、中西结合之一，无法判断时输出“未知”。",
			"判断属性：处方药、OTC甲类、OTC乙类、处方药/OTC双跨、保健品之一，无法判断时输出“未知”。",
			"给出详细的药品分类或治疗领域，例如“内科用药 > 祛暑剂 > 解表祛暑剂”。",
			fmt.Sprintf("专门检索“%s 国家医保目录”核查医保报销类别：该品牌产品明确在目录中时输出“甲类”或“乙类”，自费药、保健品或资料模棱两可时必须输出“无”。", product),
			"查找产品来源（组方来源或原研企业）。",
		},
		OutputFields: []llmtool.PromptField{
			{Name: "brandName", Type: "string", Required: true, Description: "品牌名，沿用输入"},
			{Name: "productName", Type: "string", Required: true, Description: "产品名，沿用输入"},
			{Name: "ingredients", Type: "string", Required: true, Description: "说明书成分"},
			{Name: "indications", Type: "string", Required: true, Description: "说明书功能主治"},
			{Name: "classification", Type: "string", Required: true},
			{Name: "attribute", Type: "string", Required: true},
			{Name: "drugCategory", Type: "string", Required: true},
			{Name: "insuranceCategory", Type: "string", Required: true, Description: "只能是 甲类、乙类 或 无"},
			{Name: "origin", Type: "string", Required: true},
		},
		OutputFormat: "纯 JSON 对象。",
		Language:     "简体中文",
	}
	spec = llmtool.ApplyPresets(spec, llmtool.PresetStrictJSON(), llmtool.PresetNoGuess())
	return llmtool.MustRender(spec, searchInput{Brand: brand, Product: product})
}

type ingredientInput struct {
	ProductName    string `json:"productName"`
	Ingredients    string `json:"ingredients"`
	Classification string `json:"classification"`
}

// IngredientPrompt requests the ingredient tables. The traditional-medicine module is
// skipped for products classified as purely chemical or biological.
func IngredientPrompt(p types.ProductInfo) string {
	tasks := []string{
		"西医解读（所有药品必须包含）：化学药分析化学成分与分子机制；中成药或中西结合须分析主要药材所含的现代药理活性成分、分子靶点及药理作用。输出 Markdown 表格：|名称/药材|核心化学成分|药理靶点|功效作用|临床应用|，写入 westernTable。",
	}
	if p.Classification != types.ProductTypeChemical && p.Classification != types.ProductTypeBiological {
		tasks = append(tasks,
			"中医解读（仅限中成药或中西结合）：输出 Markdown 表格 |名称|类别|性味|归经|功效|临床应用| 写入 tcmTable；分析君臣佐使写入 tcmRelations；分析组方功效和适应症写入 tcmSynergy。",
		)
	}
	tasks = append(tasks, "中西结合或复方制剂：额外分析成分间的协同功效，写入 combinedSynergy。")

	spec := llmtool.StructuredPromptSpec{
		Role:    "你是一名兼通中医药与现代药理学的临床药师。",
		Purpose: "基于产品信息进行成分深度解读。",
		Tasks:   tasks,
		OutputFields: []llmtool.PromptField{
			{Name: "tcmTable", Type: "markdown", Description: "中医药材表格"},
			{Name: "tcmRelations", Type: "markdown", Description: "君臣佐使"},
			{Name: "tcmSynergy", Type: "markdown", Description: "组方功效"},
			{Name: "westernTable", Type: "markdown", Required: true, Description: "现代药理表格（含中药材的现代药理分析）"},
			{Name: "combinedSynergy", Type: "markdown", Description: "协同功效"},
		},
		Rules:    []string{"不适用的字段直接省略，不要输出空字符串。"},
		Language: "简体中文",
	}
	spec = llmtool.ApplyPresets(spec, llmtool.PresetStrictJSON())
	return llmtool.MustRender(spec, ingredientInput{
		ProductName:    p.ProductName,
		Ingredients:    p.Ingredients,
		Classification: string(p.Classification),
	})
}

type pathologyInput struct {
	Indications string `json:"indications"`
}

// PathologyPrompt is built from the indications text alone. No product, brand or
// ingredient reaches the model.
func PathologyPrompt(indications string) string {
	spec := llmtool.StructuredPromptSpec{
		Role:       "你是一位资深病理学家。",
		Purpose:    "仅根据【功能主治】描述进行纯粹的病理学分析。",
		Background: "只分析病症本身，严禁提及任何具体的药物名称、品牌或成分。",
		Tasks: []string{
			"拆解病机：分析功能主治中提及的疾病或症状的发生发展过程。",
			"逻辑关联：区分“本”（病因）与“标”（症状），建立 环境/内因 -> 病机变化 -> 组织器官损伤 -> 临床表现 的完整链条。",
			"文字解读：使用 Markdown，**加粗**关键病理节点和医学术语，分条目阐述病理机制。",
			"流程图：绘制 graph TD，节点仅包含生理或病理名称（如“外感风寒”“肺气失宣”），不要出现“治疗”“药物”等字眼；涉及多系统时使用 subgraph 区分。",
		},
		OutputFields: []llmtool.PromptField{
			{Name: "explanation", Type: "markdown", Required: true, Description: "病理解读"},
			{Name: "mermaidCode", Type: "string", Required: true, Description: "Mermaid 代码（graph TD ...）"},
		},
		Language: "简体中文",
	}
	spec = llmtool.ApplyPresets(spec, llmtool.PresetStrictJSON(), llmtool.PresetMermaid())
	return llmtool.MustRender(spec, pathologyInput{Indications: indications})
}

type pharmacologyInput struct {
	ProductName      string `json:"productName"`
	PathologyMermaid string `json:"pathologyMermaid"`
	IngredientNotes  string `json:"ingredientNotes"`
}

// PharmacologyPrompt maps the product's ingredients onto the pathology diagram.
// limit bounds the ingredient context in runes; <= 0 uses DefaultContextRunes.
func PharmacologyPrompt(pathology types.DiagramAnalysis, ing types.IngredientAnalysis, p types.ProductInfo, limit int) string {
	spec := llmtool.StructuredPromptSpec{
		Role:    "你是一位资深药理学家。",
		Purpose: "将【产品成分】映射到已建立的【病理模型】上。",
		Tasks: []string{
			"药理映射：识别病理图中的关键节点，指出产品中的具体成分或中药组方如何干预这些节点。",
			"文字解读：使用 Markdown，重点解读成分与病理环节的对应关系，例如“**麻黄** 通过 **宣肺平喘** 作用于 **肺气闭郁** 环节”。",
			"流程图重绘：保留原有病理节点（默认色）；插入药理节点，使用六边形 {{}} 与 style fill:#f9f,stroke:#333 表示药物或成分；连线标注作用机制（如 --抑制-->、--促进-->）。",
		},
		OutputFields: []llmtool.PromptField{
			{Name: "explanation", Type: "markdown", Required: true, Description: "药理机制解读"},
			{Name: "mermaidCode", Type: "string", Required: true, Description: "重绘后的 Mermaid 代码"},
		},
		Language: "简体中文",
	}
	spec = llmtool.ApplyPresets(spec, llmtool.PresetStrictJSON(), llmtool.PresetMermaid())
	return llmtool.MustRender(spec, pharmacologyInput{
		ProductName:      p.ProductName,
		PathologyMermaid: pathology.MermaidCode,
		IngredientNotes:  IngredientContext(ing, limit),
	})
}

var sectionTitles = map[types.IngredientField]string{
	types.FieldTCMTable:        "中医药材",
	types.FieldTCMRelations:    "君臣佐使",
	types.FieldTCMSynergy:      "组方功效",
	types.FieldWesternTable:    "现代药理",
	types.FieldCombinedSynergy: "中西协同",
}

// IngredientContext renders the non-empty ingredient sections as markdown and cuts the
// result to at most limit runes.
func IngredientContext(ing types.IngredientAnalysis, limit int) string {
	if limit <= 0 {
		limit = DefaultContextRunes
	}
	var b strings.Builder
	for _, s := range ing.Sections() {
		fmt.Fprintf(&b, "### %s\n%s\n\n", sectionTitles[s.Field], strings.TrimSpace(s.Body))
	}
	return truncateRunes(strings.TrimSpace(b.String()), limit)
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}

// ChatSystemInstruction seeds a chat session with the whole report.
func ChatSystemInstruction(r types.Report) string {
	ing, err := jsonutil.MarshalNoEscape(r.Ingredients)
	if err != nil {
		ing = []byte("{}")
	}
	var b strings.Builder
	b.WriteString("你是一个医药健康专家。基于以下产品分析报告回答用户问题：\n")
	fmt.Fprintf(&b, "产品: %s %s\n", r.Product.BrandName, r.Product.ProductName)
	fmt.Fprintf(&b, "功能主治: %s\n", r.Product.Indications)
	fmt.Fprintf(&b, "成分分析: %s\n", ing)
	fmt.Fprintf(&b, "病理图: %s\n", r.Pathology.MermaidCode)
	fmt.Fprintf(&b, "药理图: %s\n", r.Pharmacology.MermaidCode)
	return b.String()
}

// Greeting is the synthetic first model message of a chat transcript.
func Greeting(productName string) string {
	return fmt.Sprintf("我已经完成了对 **%s** 的全维解读，您可以问我任何相关问题。", productName)
}
