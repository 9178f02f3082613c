package llmtool

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"medianalyst/internal/util/jsonutil"
)

// ErrParse marks a model reply that could not be decoded into the expected shape.
var ErrParse = errors.New("llmtool: malformed model JSON")

// ParseError carries the decode failure and a short excerpt of the offending reply.
type ParseError struct {
	Excerpt string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("llmtool: malformed model JSON: %v (raw: %q)", e.Err, e.Excerpt)
}

func (e *ParseError) Is(target error) bool { return target == ErrParse }
func (e *ParseError) Unwrap() error        { return e.Err }

const excerptRunes = 200

var reFence = regexp.MustCompile("(?m)^\\s*```[a-zA-Z]*\\s*$|```(?:json|JSON)?")

// StripFences removes fenced code-block markers (```json, ```) and trims the text.
func StripFences(text string) string {
	return strings.TrimSpace(reFence.ReplaceAllString(text, ""))
}

// Validator is implemented by decoded types that check their own required fields.
type Validator interface {
	Validate() error
}

// DecodeObject strips fences from text, locates the JSON object, and decodes it into v.
// If v implements Validator the decoded value is validated as well. Any failure is
// returned as a *ParseError.
func DecodeObject(text string, v any) error {
	clean := StripFences(text)
	if clean == "" {
		return parseErr(text, errors.New("empty reply"))
	}
	obj, err := jsonutil.ExtractObject(clean)
	if err != nil {
		return parseErr(text, err)
	}
	if err := jsonutil.UnmarshalFlex([]byte(obj), v); err != nil {
		return parseErr(text, err)
	}
	if val, ok := v.(Validator); ok {
		if err := val.Validate(); err != nil {
			return parseErr(text, err)
		}
	}
	return nil
}

func parseErr(raw string, err error) error {
	r := []rune(strings.TrimSpace(raw))
	if len(r) > excerptRunes {
		r = append(r[:excerptRunes], '…')
	}
	return &ParseError{Excerpt: string(r), Err: err}
}
