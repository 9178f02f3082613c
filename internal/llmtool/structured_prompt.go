package llmtool

import (
	"bytes"
	"fmt"
	"strings"

	"medianalyst/internal/util/jsonutil"
)

// PromptField describes a single output field in a simple schema.
type PromptField struct {
	Name        string
	Type        string
	Required    bool
	Description string
}

// StructuredPromptSpec defines the sections for a structured prompt.
type StructuredPromptSpec struct {
	Role         string
	Purpose      string
	Background   string
	Tasks        []string
	OutputFields []PromptField
	Constraints  []string
	Rules        []string
	OutputFormat string
	Language     string
}

// Render renders spec with input embedded as the INPUT section. The result is the
// complete instruction sent to the model; nothing else is appended by the client.
func Render(spec StructuredPromptSpec, input any) (string, error) {
	if strings.TrimSpace(spec.Purpose) == "" {
		return "", fmt.Errorf("llmtool: purpose is empty")
	}
	if len(spec.OutputFields) == 0 {
		return "", fmt.Errorf("llmtool: output fields are empty")
	}
	inputJSON, err := formatInput(input)
	if err != nil {
		return "", fmt.Errorf("llmtool: encode input: %w", err)
	}

	var buf bytes.Buffer
	writeSection(&buf, "ROLE", spec.Role)
	writeSection(&buf, "PURPOSE", spec.Purpose)
	writeSection(&buf, "BACKGROUND", spec.Background)
	writeSection(&buf, "INPUT", inputJSON)
	writeSection(&buf, "TASKS", formatNumbered(spec.Tasks))
	writeSection(&buf, "OUTPUT", formatFields(spec.OutputFields))
	writeSection(&buf, "CONSTRAINTS", formatList(spec.Constraints))
	writeSection(&buf, "RULES", formatList(spec.Rules))
	writeSection(&buf, "OUTPUT_FORMAT", spec.OutputFormat)
	writeSection(&buf, "LANGUAGE", spec.Language)
	return strings.TrimSpace(buf.String()) + "\n", nil
}

// MustRender panics on a malformed spec. Only use it with static specs.
func MustRender(spec StructuredPromptSpec, input any) string {
	out, err := Render(spec, input)
	if err != nil {
		panic(err)
	}
	return out
}

func formatInput(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := jsonutil.MarshalNoEscapeIndent(v, "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func formatFields(fields []PromptField) string {
	var buf strings.Builder
	for _, f := range fields {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		req := "optional"
		if f.Required {
			req = "required"
		}
		if f.Description != "" {
			fmt.Fprintf(&buf, "- %s (%s, %s): %s\n", name, f.Type, req, f.Description)
		} else {
			fmt.Fprintf(&buf, "- %s (%s, %s)\n", name, f.Type, req)
		}
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatList(items []string) string {
	var buf strings.Builder
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		fmt.Fprintf(&buf, "- %s\n", item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func formatNumbered(items []string) string {
	var buf strings.Builder
	n := 0
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		n++
		fmt.Fprintf(&buf, "%d. %s\n", n, item)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeSection(buf *bytes.Buffer, title, body string) {
	if strings.TrimSpace(body) == "" {
		return
	}
	buf.WriteString("[")
	buf.WriteString(title)
	buf.WriteString("]\n")
	buf.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
}
