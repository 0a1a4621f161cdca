// Package extract turns normalized OCR text into a typed, validated
// DocumentRecord using ordered pattern searches and check-digit
// validators for the DANFE (NF-e) layout.
//
// Extraction order matters: later extractors depend on earlier ones
// resolving ambiguity. The access key is found first so that bare
// 14-digit fragments of it are not mistaken for tax IDs, and a personal
// CPF is only attempted for the recipient when no organization CNPJ
// claimed that slot.
package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"nfscan/internal/logger"
	"nfscan/pkg/models"
)

// Extractor populates the fixed 15-field schema from normalized text.
// Confidence fields are filled in later by the scorer; the extractor
// only sets raw values, presence and validity.
type Extractor struct {
	log zerolog.Logger
}

// NewExtractor creates an Extractor.
func NewExtractor() *Extractor {
	return &Extractor{log: logger.WithComponent("extract")}
}

var (
	accessKeyRE = regexp.MustCompile(`\d{4}(?:\s?\d{4}){10}`)

	invoiceNumberRE = regexp.MustCompile(`(?i)(?:N[ºo°.]?\s*:?\s*|NF-?e?\s*:?\s*N[ºo°.]?\s*:?\s*|NUMERO\s*:?\s*)(\d{1,9})`)
	seriesRE        = regexp.MustCompile(`(?i)(?:S[ÉE]RIE|SERIE)[:\s]*(\d{1,3})`)

	issueDateRE     = regexp.MustCompile(`(?i)(?:DATA\s*(?:DE\s*)?EMISS[ÃA]O|EMISS[ÃA]O)[:\s]*(\d{2}[/\-.]\d{2}[/\-.]\d{4})`)
	departureDateRE = regexp.MustCompile(`(?i)(?:DATA\s*(?:DE\s*)?SA[ÍI]DA)[:\s]*(\d{2}[/\-.]\d{2}[/\-.]\d{4})`)
	anyDateRE       = regexp.MustCompile(`\d{2}[/\-.]\d{2}[/\-.]\d{4}`)

	cnpjRE = regexp.MustCompile(`\d{2}\.?\d{3}\.?\d{3}/?\d{4}-?\d{2}`)
	cpfRE  = regexp.MustCompile(`\d{3}\.?\d{3}\.?\d{3}-?\d{2}`)

	issuerNameRE    = regexp.MustCompile(`(?i)(?:RAZ[ÃA]O\s*SOCIAL|NOME\s*/?\s*RAZ[ÃA]O\s*SOCIAL)[:\s]*([A-ZÀ-Ú][A-ZÀ-Ú0-9\s.\-&]+?)(?:\n|CNPJ|CPF|INSCRI)`)
	recipientNameRE = regexp.MustCompile(`(?i)(?:DESTINAT[ÁA]RIO|DEST\.?(?:/REM\.?)?)[:\s]*(?:NOME[:\s]*)?([A-ZÀ-Ú][A-ZÀ-Ú0-9\s.\-&]+?)(?:\n|CNPJ|CPF|ENDERE)`)
	nameTrailerRE   = regexp.MustCompile(`[\s.\-]+$`)

	stateRegistrationRE = regexp.MustCompile(`(?i)(?:INSCRI[ÇC][ÃA]O\s*ESTADUAL|\bI\.?E\.?)[:\s]*(\d[\d./-]*\d)`)

	nonDigitRE = regexp.MustCompile(`[^\d]`)
)

// amountPatterns pair each monetary schema slot with its anchored
// pattern. The captured group allows thousands separators (dot or
// space) and a decimal comma or dot.
var amountPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{models.FieldTotalAmount, regexp.MustCompile(`(?i)(?:VALOR\s*TOTAL\s*(?:DA\s*)?(?:NF|NOTA)?|V(?:\.|ALOR)?\s*TOTAL\s*(?:DA\s*)?NF)[:\s]*R?\$?\s*(\d{1,3}(?:[.\s]?\d{3})*[,.]\d{2})`)},
	{models.FieldGoodsAmount, regexp.MustCompile(`(?i)(?:VALOR\s*(?:TOTAL\s*)?(?:DOS\s*)?PRODUTOS|V(?:\.|ALOR)?\s*PROD)[:\s]*R?\$?\s*(\d{1,3}(?:[.\s]?\d{3})*[,.]\d{2})`)},
	{models.FieldFreightAmount, regexp.MustCompile(`(?i)(?:VALOR\s*(?:DO\s*)?FRETE|V(?:\.|ALOR)?\s*FRETE)[:\s]*R?\$?\s*(\d{1,3}(?:[.\s]?\d{3})*[,.]\d{2})`)},
	{models.FieldTaxAmount, regexp.MustCompile(`(?i)(?:(?:VALOR\s*(?:DO\s*)?)?ICMS|V(?:\.|ALOR)?\s*ICMS)[:\s]*R?\$?\s*(\d{1,3}(?:[.\s]?\d{3})*[,.]\d{2})`)},
	{models.FieldDiscountAmount, regexp.MustCompile(`(?i)(?:VALOR\s*(?:DO\s*)?DESCONTO|V(?:\.|ALOR)?\s*DESC)[:\s]*R?\$?\s*(\d{1,3}(?:[.\s]?\d{3})*[,.]\d{2})`)},
}

// Extract runs the ordered pattern searches and validators over the
// normalized text and returns a new DocumentRecord. Text that yields no
// field at all is not an error: the record simply carries an extraction
// ratio of zero.
func (e *Extractor) Extract(text string) *models.DocumentRecord {
	rec := models.NewDocumentRecord()

	accessKey := e.extractAccessKey(text, rec)
	e.extractInvoiceNumber(text, rec)
	e.extractSeries(text, rec)
	e.extractDates(text, rec)
	e.extractTaxIDs(text, rec, accessKey)
	e.extractAmounts(text, rec)
	e.extractNames(text, rec)
	e.extractStateRegistration(text, rec)

	rec.ExtractionRatio = float64(rec.PresentCount()) / float64(models.FieldCount)

	e.log.Debug().
		Int("present_fields", rec.PresentCount()).
		Float64("extraction_ratio", rec.ExtractionRatio).
		Msg("Field extraction completed")

	return rec
}

// extractAccessKey finds the 44-digit NF-e access key and returns its
// digit string for downstream disambiguation.
func (e *Extractor) extractAccessKey(text string, rec *models.DocumentRecord) string {
	match := accessKeyRE.FindString(text)
	if match == "" {
		return ""
	}
	digits := nonDigitRE.ReplaceAllString(match, "")
	rec.SetField(models.ExtractedField{
		Name:    models.FieldAccessKey,
		Raw:     match,
		Value:   digits,
		Present: true,
		Valid:   len(digits) == 44,
	})
	return digits
}

func (e *Extractor) extractInvoiceNumber(text string, rec *models.DocumentRecord) {
	if m := invoiceNumberRE.FindStringSubmatch(text); m != nil {
		rec.SetField(models.ExtractedField{
			Name:    models.FieldInvoiceNumber,
			Raw:     m[0],
			Value:   m[1],
			Present: true,
			Valid:   true,
		})
	}
}

func (e *Extractor) extractSeries(text string, rec *models.DocumentRecord) {
	if m := seriesRE.FindStringSubmatch(text); m != nil {
		rec.SetField(models.ExtractedField{
			Name:    models.FieldSeries,
			Raw:     m[0],
			Value:   m[1],
			Present: true,
			Valid:   true,
		})
	}
}

// extractDates pulls the issue and departure dates. The issue date
// falls back to the first date-shaped token when no "emissão" anchor is
// found; the departure date requires its anchor to avoid stealing the
// issue date.
func (e *Extractor) extractDates(text string, rec *models.DocumentRecord) {
	if m := issueDateRE.FindStringSubmatch(text); m != nil {
		rec.SetField(dateField(models.FieldIssueDate, m[0], m[1]))
	} else if raw := anyDateRE.FindString(text); raw != "" {
		rec.SetField(dateField(models.FieldIssueDate, raw, raw))
	}

	if m := departureDateRE.FindStringSubmatch(text); m != nil {
		rec.SetField(dateField(models.FieldDepartureDate, m[0], m[1]))
	}
}

// dateField normalizes separators to slashes and validates the value as
// a real calendar date.
func dateField(name, raw, value string) models.ExtractedField {
	normalized := strings.NewReplacer("-", "/", ".", "/").Replace(value)
	parsed, err := time.Parse("02/01/2006", normalized)
	f := models.ExtractedField{
		Name:    name,
		Raw:     raw,
		Value:   normalized,
		Present: true,
		Valid:   err == nil,
	}
	if err == nil {
		f.Date = parsed
	}
	return f
}

// idCandidate is one tax-ID-shaped match in appearance order.
type idCandidate struct {
	raw    string
	digits string
	valid  bool
}

// extractTaxIDs assigns CNPJ candidates to the issuer and recipient
// slots (first and second by appearance, checksum-valid candidates
// first). The recipient slot falls back to a CPF only when no CNPJ
// claimed it. Candidates failing their checksum are still surfaced as
// present with is_valid false rather than silently dropped.
func (e *Extractor) extractTaxIDs(text string, rec *models.DocumentRecord, accessKey string) {
	var cnpjs []idCandidate
	seen := map[string]bool{}
	for _, m := range cnpjRE.FindAllString(text, -1) {
		digits := nonDigitRE.ReplaceAllString(m, "")
		if len(digits) != 14 || seen[digits] {
			continue
		}
		// An unpunctuated 14-digit run inside the access key is a key
		// fragment, not a tax ID.
		if !strings.ContainsAny(m, "./-") && accessKey != "" && strings.Contains(accessKey, digits) {
			continue
		}
		seen[digits] = true
		cnpjs = append(cnpjs, idCandidate{raw: m, digits: digits, valid: ValidCNPJ(digits)})
	}

	ordered := orderByValidity(cnpjs)
	if len(ordered) >= 1 {
		rec.SetField(taxIDField(models.FieldIssuerTaxID, ordered[0], formatCNPJ))
	}
	if len(ordered) >= 2 {
		rec.SetField(taxIDField(models.FieldRecipientTaxID, ordered[1], formatCNPJ))
	}
	if len(ordered) > 2 {
		e.log.Warn().
			Int("candidates", len(ordered)).
			Msg("More than two CNPJ candidates found, extra candidates ignored")
	}

	if rec.Field(models.FieldRecipientTaxID).Present {
		return
	}

	var cpfs []idCandidate
	for _, m := range cpfRE.FindAllString(text, -1) {
		digits := nonDigitRE.ReplaceAllString(m, "")
		if len(digits) != 11 {
			continue
		}
		if accessKey != "" && strings.Contains(accessKey, digits) {
			continue
		}
		if containedInAny(digits, cnpjs) {
			continue
		}
		cpfs = append(cpfs, idCandidate{raw: m, digits: digits, valid: ValidCPF(digits)})
	}
	if ordered := orderByValidity(cpfs); len(ordered) >= 1 {
		rec.SetField(taxIDField(models.FieldRecipientTaxID, ordered[0], formatCPF))
	}
}

// orderByValidity keeps appearance order but lets checksum-valid
// candidates claim slots before invalid ones.
func orderByValidity(candidates []idCandidate) []idCandidate {
	ordered := make([]idCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.valid {
			ordered = append(ordered, c)
		}
	}
	for _, c := range candidates {
		if !c.valid {
			ordered = append(ordered, c)
		}
	}
	return ordered
}

func containedInAny(digits string, candidates []idCandidate) bool {
	for _, c := range candidates {
		if strings.Contains(c.digits, digits) {
			return true
		}
	}
	return false
}

func taxIDField(name string, c idCandidate, format func(string) string) models.ExtractedField {
	return models.ExtractedField{
		Name:    name,
		Raw:     c.raw,
		Value:   format(c.digits),
		Present: true,
		Valid:   c.valid,
	}
}

// formatCNPJ renders XX.XXX.XXX/XXXX-XX.
func formatCNPJ(digits string) string {
	if len(digits) != 14 {
		return digits
	}
	return fmt.Sprintf("%s.%s.%s/%s-%s", digits[:2], digits[2:5], digits[5:8], digits[8:12], digits[12:])
}

// formatCPF renders XXX.XXX.XXX-XX.
func formatCPF(digits string) string {
	if len(digits) != 11 {
		return digits
	}
	return fmt.Sprintf("%s.%s.%s-%s", digits[:3], digits[3:6], digits[6:9], digits[9:])
}

func (e *Extractor) extractAmounts(text string, rec *models.DocumentRecord) {
	for _, p := range amountPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		f := models.ExtractedField{
			Name:    p.name,
			Raw:     m[0],
			Present: true,
		}
		amount, err := ParseAmount(m[1])
		if err != nil {
			f.Value = m[1]
			e.log.Warn().
				Err(err).
				Str("field", p.name).
				Str("raw", m[1]).
				Msg("Monetary value failed normalization")
		} else {
			f.Amount = amount
			f.Value = amount.String()
			f.Valid = true
		}
		rec.SetField(f)
	}
}

// ParseAmount converts a Brazilian-format amount ("1.284,56", with
// optional thousands separators and decimal comma) to a fixed-point
// decimal. Negative values are rejected.
func ParseAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.ReplaceAll(s, " ", "")
	if strings.Contains(cleaned, ",") {
		cleaned = strings.ReplaceAll(cleaned, ".", "")
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount: %s", s)
	}
	return d, nil
}

// extractNames pulls the issuer and recipient names from windows near
// their anchors. Free text has no checksum, so the fields are valid
// whenever present; the scorer assigns them the lowest confidence class.
func (e *Extractor) extractNames(text string, rec *models.DocumentRecord) {
	if m := issuerNameRE.FindStringSubmatch(text); m != nil {
		if name := cleanName(m[1]); name != "" {
			rec.SetField(models.ExtractedField{
				Name:    models.FieldIssuerName,
				Raw:     m[1],
				Value:   name,
				Present: true,
				Valid:   true,
			})
		}
	}
	if m := recipientNameRE.FindStringSubmatch(text); m != nil {
		if name := cleanName(m[1]); name != "" {
			rec.SetField(models.ExtractedField{
				Name:    models.FieldRecipientName,
				Raw:     m[1],
				Value:   name,
				Present: true,
				Valid:   true,
			})
		}
	}
}

func cleanName(s string) string {
	return nameTrailerRE.ReplaceAllString(strings.TrimSpace(s), "")
}

func (e *Extractor) extractStateRegistration(text string, rec *models.DocumentRecord) {
	if m := stateRegistrationRE.FindStringSubmatch(text); m != nil {
		rec.SetField(models.ExtractedField{
			Name:    models.FieldIssuerStateRegistration,
			Raw:     m[0],
			Value:   m[1],
			Present: true,
			Valid:   true,
		})
	}
}
