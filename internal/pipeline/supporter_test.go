package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adverant/nexus/ocr-worker/internal/fetcher"
)

func TestMatchSupporter(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		code       string
		templates  []string
		allowBare  bool
		wantMatch  bool
		wantPhrase string
	}{
		{
			name:       "portuguese label",
			text:       "Loja\nAPOIE-UM-CRIADOR: Vascurado\nTotal",
			code:       "Vascurado",
			templates:  DefaultSupporterPhrases,
			wantMatch:  true,
			wantPhrase: "APOIE-UM-CRIADOR: Vascurado",
		},
		{
			name:       "case insensitive",
			text:       "support-a-creator: VASCURADO",
			code:       "Vascurado",
			templates:  DefaultSupporterPhrases,
			wantMatch:  true,
			wantPhrase: "Support-a-Creator: Vascurado",
		},
		{
			name:      "other creator",
			text:      "SUPPORT-A-CREATOR: SomeoneElse",
			code:      "Vascurado",
			templates: DefaultSupporterPhrases,
		},
		{
			name:      "bare code ignored by default",
			text:      "Vascurado was here",
			code:      "Vascurado",
			templates: DefaultSupporterPhrases,
		},
		{
			name:       "bare code when allowed",
			text:       "vascurado was here",
			code:       "Vascurado",
			templates:  DefaultSupporterPhrases,
			allowBare:  true,
			wantMatch:  true,
			wantPhrase: "Vascurado",
		},
		{
			name:      "empty code never matches",
			text:      "APOIE-UM-CRIADOR: ",
			code:      "",
			templates: DefaultSupporterPhrases,
			allowBare: true,
		},
		{
			name:       "custom template",
			text:       "creator code = abc123",
			code:       "ABC123",
			templates:  []string{"creator code = {code}"},
			wantMatch:  true,
			wantPhrase: "creator code = ABC123",
		},
		{
			name:      "empty text",
			text:      "",
			code:      "Vascurado",
			templates: DefaultSupporterPhrases,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, phrase := MatchSupporter(tt.text, tt.code, tt.templates, tt.allowBare)
			assert.Equal(t, tt.wantMatch, matched)
			assert.Equal(t, tt.wantPhrase, phrase)
		})
	}
}

func TestFindSupporterCodeDefaults(t *testing.T) {
	rec := &fakeRecognizer{ready: true, result: textResult("Item Shop\nAPOIE-UM-CRIADOR: Vascurado")}
	p := New(Config{Recognizer: rec})

	match, err := p.FindSupporterCode(context.Background(), fetcher.FromBytes(pngBytes(t, 32, 32)), "", nil)
	require.NoError(t, err)
	assert.True(t, match.Matched)
	assert.Equal(t, DefaultSupporterCode, match.Code)
	assert.Equal(t, "APOIE-UM-CRIADOR: Vascurado", match.Phrase)
	require.NotNil(t, match.Result)
	assert.Equal(t, 4, match.Result.WordCount)

	// supporter checks always preprocess
	require.Len(t, rec.images, 1)
	assert.Equal(t, "image/jpeg", rec.images[0].ContentType)
}

func TestFindSupporterCodeNoMatch(t *testing.T) {
	rec := &fakeRecognizer{ready: true, result: textResult("SUPPORT-A-CREATOR: Other")}
	p := New(Config{Recognizer: rec, Supporter: SupporterConfig{Code: "Mine"}})

	match, err := p.FindSupporterCode(context.Background(), fetcher.FromBytes(pngBytes(t, 16, 16)), "", nil)
	require.NoError(t, err)
	assert.False(t, match.Matched)
	assert.Equal(t, "Mine", match.Code)
	assert.Empty(t, match.Phrase)
	assert.Equal(t, "SUPPORT-A-CREATOR: Other", match.Result.Text)
}

func TestFindSupporterCodeEmptyText(t *testing.T) {
	rec := &fakeRecognizer{ready: true}
	p := New(Config{Recognizer: rec})

	match, err := p.FindSupporterCode(context.Background(), fetcher.FromBytes(pngBytes(t, 16, 16)), "Vascurado", nil)
	require.NoError(t, err)
	assert.False(t, match.Matched)
	assert.Equal(t, "", match.Result.Text)
}
