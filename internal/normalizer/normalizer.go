// Package normalizer turns raw recognizer annotations into a stable result.
package normalizer

import (
	"strings"
	"unicode/utf8"

	"github.com/adverant/nexus/ocr-worker/internal/recognizer"
)

// PreviewLimit is the preview length used by chat-sized result envelopes
const PreviewLimit = 1900

// StructuredResult is the normalized output of one recognition
type StructuredResult struct {
	Text         string   `json:"text"`
	CharCount    int      `json:"charCount"`
	WordCount    int      `json:"wordCount"`
	ElementCount int      `json:"elementCount"`
	Fragments    []string `json:"fragments"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// Normalize maps annotations to a StructuredResult. A nil or empty result
// yields the zero value with an empty fragment list.
func Normalize(result *recognizer.Result) *StructuredResult {
	out := &StructuredResult{Fragments: []string{}}
	if result == nil || len(result.Annotations) == 0 {
		return out
	}

	out.Text = result.Annotations[0].Description
	out.CharCount = utf8.RuneCountInString(out.Text)
	out.WordCount = len(strings.Fields(out.Text))
	out.ElementCount = len(result.Annotations)
	for _, a := range result.Annotations[1:] {
		out.Fragments = append(out.Fragments, strings.TrimSpace(a.Description))
	}
	if result.Confidence != nil {
		c := *result.Confidence
		out.Confidence = &c
	}
	return out
}

// Preview returns at most limit characters of text, with "..." appended and
// truncated set when text was longer.
func Preview(text string, limit int) (string, bool) {
	if limit < 0 || utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	return string(runes[:limit]) + "...", true
}
