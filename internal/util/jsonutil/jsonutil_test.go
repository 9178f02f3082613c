package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalNoEscapeKeepsArrows(t *testing.T) {
	b, err := MarshalNoEscape(map[string]string{"mermaidCode": "A --> B & C"})
	require.NoError(t, err)
	assert.Equal(t, `{"mermaidCode":"A --> B & C"}`, string(b))
}

func TestUnmarshalFlexDoubleEncoded(t *testing.T) {
	var out struct {
		Explanation string `json:"explanation"`
	}
	raw := []byte(`"{\"explanation\":\"肺气失宣\"}"`)
	require.NoError(t, UnmarshalFlex(raw, &out))
	assert.Equal(t, "肺气失宣", out.Explanation)
}

func TestUnmarshalFlexDirectDecodeWins(t *testing.T) {
	var out map[string]string
	raw := []byte(`{"code":"A \\u003e B"}`)
	require.NoError(t, UnmarshalFlex(raw, &out))
	assert.Equal(t, "A \\u003e B", out["code"])
}

func TestUnmarshalFlexInvalid(t *testing.T) {
	var out map[string]any
	assert.Error(t, UnmarshalFlex([]byte(`{"a":`), &out))
}

func TestExtractObject(t *testing.T) {
	got, err := ExtractObject("以下是结果：\n{\"a\":1}\n谢谢")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, got)

	_, err = ExtractObject("no json here")
	assert.ErrorIs(t, err, ErrNotObject)
}
