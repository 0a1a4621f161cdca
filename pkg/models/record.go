package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Field names of the fixed DANFE extraction schema.
const (
	FieldInvoiceNumber           = "invoice_number"
	FieldSeries                  = "series"
	FieldAccessKey               = "access_key"
	FieldIssueDate               = "issue_date"
	FieldDepartureDate           = "departure_date"
	FieldIssuerTaxID             = "issuer_tax_id"
	FieldIssuerName              = "issuer_name"
	FieldIssuerStateRegistration = "issuer_state_registration"
	FieldRecipientTaxID          = "recipient_tax_id"
	FieldRecipientName           = "recipient_name"
	FieldTotalAmount             = "total_amount"
	FieldGoodsAmount             = "goods_amount"
	FieldFreightAmount           = "freight_amount"
	FieldTaxAmount               = "tax_amount"
	FieldDiscountAmount          = "discount_amount"
)

// FieldNames lists the schema slots in extraction order.
var FieldNames = []string{
	FieldInvoiceNumber,
	FieldSeries,
	FieldAccessKey,
	FieldIssueDate,
	FieldDepartureDate,
	FieldIssuerTaxID,
	FieldIssuerName,
	FieldIssuerStateRegistration,
	FieldRecipientTaxID,
	FieldRecipientName,
	FieldTotalAmount,
	FieldGoodsAmount,
	FieldFreightAmount,
	FieldTaxAmount,
	FieldDiscountAmount,
}

// FieldCount is the size of the fixed schema; the extraction ratio is
// always computed against this denominator.
const FieldCount = 15

// ExtractedField is one slot of the fixed schema.
//
// Raw holds the matched substring as it appeared in the OCR text. Value is
// the normalized form (digits only for IDs, DD/MM/YYYY for dates, decimal
// string for amounts). Valid reflects the field's validator: check digits
// for tax IDs, calendar validity for dates, non-negativity for amounts;
// free-text fields are valid whenever present.
type ExtractedField struct {
	Name       string          `json:"name"`
	Raw        string          `json:"raw,omitempty"`
	Value      string          `json:"value,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Date       time.Time       `json:"date,omitzero"`
	Present    bool            `json:"present"`
	Valid      bool            `json:"is_valid"`
	Confidence float64         `json:"confidence"`
}

// DocumentRecord is the structured result for one processed document.
// Created once per run and immutable once returned; a re-run produces a
// new record. The caller owns serialization to its transport of choice.
type DocumentRecord struct {
	Fields           map[string]ExtractedField `json:"fields"`
	OCRConfidenceAvg float64                   `json:"ocr_confidence_avg"`
	ExtractionRatio  float64                   `json:"extraction_ratio"`
	ConfidenceScore  float64                   `json:"confidence_score"`
}

// NewDocumentRecord returns a record with every schema slot initialized
// as absent.
func NewDocumentRecord() *DocumentRecord {
	fields := make(map[string]ExtractedField, FieldCount)
	for _, name := range FieldNames {
		fields[name] = ExtractedField{Name: name}
	}
	return &DocumentRecord{Fields: fields}
}

// SetField stores a field under its own name.
func (r *DocumentRecord) SetField(f ExtractedField) {
	r.Fields[f.Name] = f
}

// Field returns the named schema slot (zero value for unknown names).
func (r *DocumentRecord) Field(name string) ExtractedField {
	return r.Fields[name]
}

// PresentCount returns how many schema slots were populated.
func (r *DocumentRecord) PresentCount() int {
	count := 0
	for _, f := range r.Fields {
		if f.Present {
			count++
		}
	}
	return count
}

// Clone returns a deep copy; scoring returns an updated copy rather than
// mutating the extractor's output.
func (r *DocumentRecord) Clone() *DocumentRecord {
	fields := make(map[string]ExtractedField, len(r.Fields))
	for name, f := range r.Fields {
		fields[name] = f
	}
	return &DocumentRecord{
		Fields:           fields,
		OCRConfidenceAvg: r.OCRConfidenceAvg,
		ExtractionRatio:  r.ExtractionRatio,
		ConfidenceScore:  r.ConfidenceScore,
	}
}
