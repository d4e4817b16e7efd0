package normalizer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/recognizer"
)

func annotations(descriptions ...string) *recognizer.Result {
	r := &recognizer.Result{}
	for _, d := range descriptions {
		r.Annotations = append(r.Annotations, recognizer.Annotation{Description: d})
	}
	return r
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		input     *recognizer.Result
		text      string
		chars     int
		words     int
		elements  int
		fragments []string
	}{
		{
			name:      "nil result",
			input:     nil,
			fragments: []string{},
		},
		{
			name:      "empty result",
			input:     annotations(),
			fragments: []string{},
		},
		{
			name:      "hello world",
			input:     annotations("Hello world\n", "Hello", "world"),
			text:      "Hello world\n",
			chars:     12,
			words:     2,
			elements:  3,
			fragments: []string{"Hello", "world"},
		},
		{
			name:      "fragments trimmed",
			input:     annotations("APOIE-UM-CRIADOR: Vascurado", " APOIE-UM-CRIADOR: ", "Vascurado\n"),
			text:      "APOIE-UM-CRIADOR: Vascurado",
			chars:     27,
			words:     2,
			elements:  3,
			fragments: []string{"APOIE-UM-CRIADOR:", "Vascurado"},
		},
		{
			name:      "multibyte counts runes",
			input:     annotations("São Paulo ção"),
			text:      "São Paulo ção",
			chars:     13,
			words:     3,
			elements:  1,
			fragments: []string{},
		},
		{
			name:      "whitespace only",
			input:     annotations(" \n\t"),
			text:      " \n\t",
			chars:     3,
			words:     0,
			elements:  1,
			fragments: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			require.NotNil(t, got)
			assert.Equal(t, tt.text, got.Text)
			assert.Equal(t, tt.chars, got.CharCount)
			assert.Equal(t, tt.words, got.WordCount)
			assert.Equal(t, tt.elements, got.ElementCount)
			assert.Equal(t, tt.fragments, got.Fragments)
			assert.Nil(t, got.Confidence)

			// counts always agree with Text
			assert.Equal(t, utf8.RuneCountInString(got.Text), got.CharCount)
			assert.Equal(t, len(strings.Fields(got.Text)), got.WordCount)
		})
	}
}

func TestNormalizeConfidenceCopied(t *testing.T) {
	conf := 0.93
	in := annotations("text")
	in.Confidence = &conf

	got := Normalize(in)
	require.NotNil(t, got.Confidence)
	assert.Equal(t, 0.93, *got.Confidence)

	conf = 0.1
	assert.Equal(t, 0.93, *got.Confidence)
}

func TestPreview(t *testing.T) {
	short, truncated := Preview("hello", PreviewLimit)
	assert.Equal(t, "hello", short)
	assert.False(t, truncated)

	exact := strings.Repeat("a", PreviewLimit)
	got, truncated := Preview(exact, PreviewLimit)
	assert.Equal(t, exact, got)
	assert.False(t, truncated)

	long := strings.Repeat("é", PreviewLimit+10)
	got, truncated = Preview(long, PreviewLimit)
	assert.True(t, truncated)
	assert.Equal(t, PreviewLimit+3, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.True(t, utf8.ValidString(got))
}
