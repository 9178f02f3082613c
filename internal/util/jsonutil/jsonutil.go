package jsonutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

var ErrNotObject = errors.New("jsonutil: payload is not a JSON object")

// MarshalNoEscape encodes v without escaping <, > and & so markdown and mermaid
// arrows (-->) survive untouched.
func MarshalNoEscape(v any) ([]byte, error) {
	return encode(v, "")
}

// MarshalNoEscapeIndent is MarshalNoEscape with two-space style indentation.
func MarshalNoEscapeIndent(v any, indent string) ([]byte, error) {
	return encode(v, indent)
}

func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalFlex decodes raw into v with best effort:
//  1. direct unmarshal
//  2. unwrap a JSON string that itself contains the object (models sometimes
//     double-encode), then unmarshal
//  3. unescape leftover "\\uXXXX" sequences inside string values, then unmarshal
func UnmarshalFlex(raw []byte, v any) error {
	firstErr := json.Unmarshal(raw, v)
	if firstErr == nil {
		return nil
	}
	var inner string
	if err := json.Unmarshal(raw, &inner); err == nil {
		if err := json.Unmarshal([]byte(inner), v); err == nil {
			return nil
		}
		raw = []byte(inner)
	}
	norm, err := normalizeUnicode(raw)
	if err != nil {
		return firstErr
	}
	return json.Unmarshal(norm, v)
}

// ExtractObject returns the outermost {...} span of text, tolerating prose the model
// wrapped around it.
func ExtractObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, nil
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNotObject
	}
	return s[start : end+1], nil
}

func normalizeUnicode(raw []byte) ([]byte, error) {
	var anyVal any
	if err := json.Unmarshal(raw, &anyVal); err != nil {
		return nil, err
	}
	return MarshalNoEscape(deepUnescape(anyVal))
}

func unescapeUnicodeString(s string) (string, error) {
	if !strings.Contains(s, `\u`) {
		return s, nil
	}
	esc := strings.ReplaceAll(s, `"`, `\"`)
	var out string
	if err := json.Unmarshal([]byte(`"`+esc+`"`), &out); err != nil {
		return "", err
	}
	return out, nil
}

func deepUnescape(v any) any {
	switch x := v.(type) {
	case string:
		if s, err := unescapeUnicodeString(x); err == nil {
			return s
		}
		return x
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = deepUnescape(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, vv := range x {
			out[k] = deepUnescape(vv)
		}
		return out
	default:
		return v
	}
}
