// Package normalize cleans fused OCR text before field extraction.
//
// Normalization runs two stages: engine-agnostic whitespace cleanup,
// then correction of digit/letter look-alikes (O/0, I/l/1, S/5, B/8).
// Correction is deliberately scoped to three independently pattern-gated
// sub-routines — tax-ID spans, monetary spans and 44-digit access-key
// spans. A blanket character replacement is never applied: it corrupts
// free-text fields such as party names, so confusion correction only
// fires inside substrings already shaped like a numeric field.
package normalize

import (
	"regexp"
	"strings"
)

// Normalizer applies whitespace cleanup and scoped character-confusion
// correction. Stateless and safe for concurrent use.
type Normalizer struct{}

// New creates a Normalizer.
func New() *Normalizer { return &Normalizer{} }

var (
	hyphenBreakRE      = regexp.MustCompile(`-\s*\n\s*`)
	whitespaceRE       = regexp.MustCompile(`\s+`)
	spaceBeforePunctRE = regexp.MustCompile(`\s+([,.:;!?])`)

	// Field-shaped spans that tolerate digit look-alikes. Each gate
	// matches only where the surrounding shape is unmistakably numeric:
	// CNPJ (2.3.3/4-2), CPF (3.3.3-2), monetary amounts with a decimal
	// comma, and the 44-digit access key in groups of four.
	cnpjSpanRE      = regexp.MustCompile(`\b[\dOoIlSsB]{2}\.?[\dOoIlSsB]{3}\.?[\dOoIlSsB]{3}/?[\dOoIlSsB]{4}-?[\dOoIlSsB]{2}\b`)
	cpfSpanRE       = regexp.MustCompile(`\b[\dOoIlSsB]{3}\.?[\dOoIlSsB]{3}\.?[\dOoIlSsB]{3}-?[\dOoIlSsB]{2}\b`)
	moneySpanRE     = regexp.MustCompile(`R?\$?\s?[\dOoIlSsB]{1,3}(?:[.\s][\dOoIlSsB]{3})*,[\dOoIlSsB]{2}\b`)
	accessKeySpanRE = regexp.MustCompile(`\b[\dOoIlSsB]{4}(?:\s?[\dOoIlSsB]{4}){10}\b`)
)

var confusionReplacer = strings.NewReplacer(
	"O", "0", "o", "0",
	"I", "1", "l", "1",
	"S", "5", "s", "5",
	"B", "8",
)

// Normalize collapses whitespace and corrects digit look-alikes inside
// numeric-context spans.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}
	text = collapseWhitespace(text)
	text = correctTaxIDSpans(text)
	text = correctMonetarySpans(text)
	text = correctAccessKeySpans(text)
	return text
}

// collapseWhitespace joins hyphenated line breaks, collapses runs of
// whitespace and drops spaces before punctuation.
func collapseWhitespace(text string) string {
	text = hyphenBreakRE.ReplaceAllString(text, "")
	text = whitespaceRE.ReplaceAllString(text, " ")
	text = spaceBeforePunctRE.ReplaceAllString(text, "$1")
	return strings.TrimSpace(text)
}

// correctTaxIDSpans fixes look-alikes inside CNPJ- and CPF-shaped spans.
func correctTaxIDSpans(text string) string {
	text = cnpjSpanRE.ReplaceAllStringFunc(text, correctSpan)
	return cpfSpanRE.ReplaceAllStringFunc(text, correctSpan)
}

// correctMonetarySpans fixes look-alikes inside amounts with a decimal
// comma, e.g. "R$ 1.2B4,56".
func correctMonetarySpans(text string) string {
	return moneySpanRE.ReplaceAllStringFunc(text, correctSpan)
}

// correctAccessKeySpans fixes look-alikes inside the 44-digit access key.
func correctAccessKeySpans(text string) string {
	return accessKeySpanRE.ReplaceAllStringFunc(text, correctSpan)
}

// correctSpan replaces look-alike letters inside one matched span. The
// span must already be digit-dominated: an all-letter run that happens
// to fit a gate (e.g. a name fragment of only O/I/S/B letters) is left
// untouched.
func correctSpan(span string) string {
	digits, lookalikes := 0, 0
	for _, r := range span {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case isLookalike(r):
			lookalikes++
		}
	}
	if lookalikes == 0 || digits < lookalikes {
		return span
	}
	return confusionReplacer.Replace(span)
}

func isLookalike(r rune) bool {
	switch r {
	case 'O', 'o', 'I', 'l', 'S', 's', 'B':
		return true
	}
	return false
}
