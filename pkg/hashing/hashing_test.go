package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"lowercase", "Hello World", "hello world"},
		{"collapse whitespace", "a   b\t\tc", "a b c"},
		{"crlf", "a\r\nb", "a b"},
		{"trim", "  padded  ", "padded"},
		{"zero width", "he​llo", "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestHashTextStability(t *testing.T) {
	base := HashText("Hello World")

	// Stable under the normalizations Normalize applies.
	assert.Equal(t, base, HashText("hello world"))
	assert.Equal(t, base, HashText("  Hello   World  "))
	assert.Equal(t, base, HashText("Hello\r\nWorld"))
	assert.Equal(t, base, HashText("He​llo World"))
	assert.Equal(t, base, HashText(Normalize("Hello World")))

	assert.NotEqual(t, base, HashText("hello worlds"))
	assert.Len(t, base, 64)
}

func TestHashContentParagraphFilter(t *testing.T) {
	text := "one two three four five six\n\nshort one\n\nanother paragraph with enough words here"

	result := HashContent(text, Options{})

	require.Len(t, result.ParagraphHashes, 2)
	assert.Equal(t, 0, result.ParagraphHashes[0].Position)
	assert.Equal(t, 2, result.ParagraphHashes[1].Position)
	assert.Equal(t, 6, result.ParagraphHashes[0].WordCount)
	assert.Equal(t, 3, result.Stats.TotalParagraphs)
}

func TestHashContentLines(t *testing.T) {
	text := "this line is long enough\nshort\nanother sufficiently long line"

	result := HashContent(text, Options{})

	require.Len(t, result.LineHashes, 2)
	assert.Equal(t, 0, result.LineHashes[0].Position)
	assert.Equal(t, 2, result.LineHashes[1].Position)
	assert.Equal(t, 3, result.Stats.TotalLines)
}

func TestHashContentLineTruncation(t *testing.T) {
	long := "x"
	for len(long) < 150 {
		long += " word"
	}

	result := HashContent(long, Options{MaxLineTextLength: 50})
	require.NotEmpty(t, result.LineHashes)
	assert.LessOrEqual(t, len(result.LineHashes[0].Text), 50)
}

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(nil, nil))
	assert.Equal(t, 0.0, Similarity([]string{"a"}, nil))
	assert.Equal(t, 0.0, Similarity(nil, []string{"a"}))
	assert.Equal(t, 1.0, Similarity([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 1.0/3.0, Similarity([]string{"a", "b"}, []string{"b", "c"}), 1e-9)
}
