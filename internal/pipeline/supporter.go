package pipeline

import (
	"context"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/fetcher"
	"github.com/adverant/nexus/ocr-worker/internal/normalizer"
)

// CodePlaceholder is replaced by the supporter code in phrase templates
const CodePlaceholder = "{code}"

// DefaultSupporterCode is matched when a request names no code
const DefaultSupporterCode = "Vascurado"

// DefaultSupporterPhrases are the store labels a supporter code appears under
var DefaultSupporterPhrases = []string{
	"APOIE-UM-CRIADOR: {code}",
	"Support-a-Creator: {code}",
	"SUPPORT-A-CREATOR: {code}",
}

// SupporterConfig holds supporter-code matching defaults
type SupporterConfig struct {
	Code    string
	Phrases []string
	// AllowBareCode accepts the code on its own when no phrase matches
	AllowBareCode bool
}

func (c SupporterConfig) withDefaults() SupporterConfig {
	if strings.TrimSpace(c.Code) == "" {
		c.Code = DefaultSupporterCode
	}
	if len(c.Phrases) == 0 {
		c.Phrases = append([]string(nil), DefaultSupporterPhrases...)
	}
	return c
}

// SupporterMatch is the outcome of a supporter-code check
type SupporterMatch struct {
	Matched bool                         `json:"matched"`
	Code    string                       `json:"code"`
	Phrase  string                       `json:"phrase,omitempty"`
	Result  *normalizer.StructuredResult `json:"result"`
}

// FindSupporterCode extracts text with preprocessing and looks for the code
// rendered into any phrase template. Empty code or phrases fall back to the
// configured defaults.
func (p *Pipeline) FindSupporterCode(ctx context.Context, src fetcher.Source, code string, phrases []string) (*SupporterMatch, error) {
	if strings.TrimSpace(code) == "" {
		code = p.supporter.Code
	}
	if len(phrases) == 0 {
		phrases = p.supporter.Phrases
	}

	result, err := p.ExtractTextEnhanced(ctx, src)
	if err != nil {
		return nil, err
	}

	matched, phrase := MatchSupporter(result.Text, code, phrases, p.supporter.AllowBareCode)
	p.logger.Info("Supporter code checked", "code", code, "matched", matched, "phrase", phrase)
	return &SupporterMatch{Matched: matched, Code: code, Phrase: phrase, Result: result}, nil
}

// MatchSupporter reports whether text contains any template rendered with
// code, case-insensitively, and returns the rendered phrase that matched.
func MatchSupporter(text, code string, templates []string, allowBareCode bool) (bool, string) {
	if code == "" {
		return false, ""
	}
	lower := strings.ToLower(text)
	for _, tpl := range templates {
		phrase := strings.ReplaceAll(tpl, CodePlaceholder, code)
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true, phrase
		}
	}
	if allowBareCode && strings.Contains(lower, strings.ToLower(code)) {
		return true, code
	}
	return false, ""
}
