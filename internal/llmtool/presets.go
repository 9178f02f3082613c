package llmtool

// PromptPreset holds reusable constraints and rules for structured prompts.
type PromptPreset struct {
	Constraints []string
	Rules       []string
}

// ApplyPresets prepends preset constraints/rules to a structured prompt spec.
func ApplyPresets(spec StructuredPromptSpec, presets ...PromptPreset) StructuredPromptSpec {
	if len(presets) == 0 {
		return spec
	}
	var merged PromptPreset
	for _, p := range presets {
		merged.Constraints = append(merged.Constraints, p.Constraints...)
		merged.Rules = append(merged.Rules, p.Rules...)
	}
	spec.Constraints = append(merged.Constraints, spec.Constraints...)
	spec.Rules = append(merged.Rules, spec.Rules...)
	return spec
}

// PresetStrictJSON enforces a bare JSON object as the whole reply.
func PresetStrictJSON() PromptPreset {
	return PromptPreset{
		Constraints: []string{
			"只返回一个 JSON 对象，不要使用 Markdown 代码块，不要附加任何解释文字。",
			"字段名必须与 OUTPUT 中列出的完全一致。",
			"字段值中的 Markdown 与 Mermaid 代码作为 JSON 字符串返回，换行使用 \\n。",
		},
	}
}

// PresetNoGuess forbids inferring facts that the sources do not state.
func PresetNoGuess() PromptPreset {
	return PromptPreset{
		Rules: []string{
			"资料不足时明确写出“未知”或“无”，严禁臆测或根据同类产品推断。",
		},
	}
}

// PresetMermaid keeps generated diagrams parseable by mermaid.
func PresetMermaid() PromptPreset {
	return PromptPreset{
		Constraints: []string{
			"Mermaid 代码以 graph TD 开头，节点 ID 只使用英文字母和数字，中文写在节点文本中。",
			"节点文本中不要出现括号、引号或分号等会破坏 Mermaid 语法的字符。",
		},
	}
}
