// Package scoring assigns the document-level and per-field confidence
// values of a DocumentRecord.
//
// The document score blends the average fused OCR confidence with the
// extraction ratio. Per-field scores start from the OCR average mapped
// onto a bounded band and are adjusted by how strong each field's
// validator is: checksum-backed fields earn the largest boosts, bounded
// numeric patterns a moderate one, and free text a small penalty.
package scoring

import (
	"github.com/rs/zerolog"

	"nfscan/internal/logger"
	"nfscan/pkg/models"
)

const (
	// OCRWeight and RatioWeight blend the document score.
	OCRWeight   = 0.7
	RatioWeight = 0.3

	// Per-field base band: the OCR average is mapped to [50, 95] before
	// validator adjustments apply.
	fieldBaseFloor   = 50.0
	fieldBaseCeiling = 95.0
)

// fieldAdjustments holds the validator-strength adjustment for each
// schema slot. Checksum and fixed-length fields rank highest; free-text
// names carry a penalty because nothing can verify them.
var fieldAdjustments = map[string]float64{
	models.FieldAccessKey:               12,
	models.FieldIssuerTaxID:             10,
	models.FieldRecipientTaxID:          10,
	models.FieldInvoiceNumber:           8,
	models.FieldTotalAmount:             8,
	models.FieldGoodsAmount:             7,
	models.FieldFreightAmount:           6,
	models.FieldTaxAmount:               6,
	models.FieldDiscountAmount:          6,
	models.FieldIssueDate:               6,
	models.FieldDepartureDate:           6,
	models.FieldSeries:                  5,
	models.FieldIssuerStateRegistration: 2,
	models.FieldIssuerName:              -3,
	models.FieldRecipientName:           -3,
}

// Scorer computes confidence values. Stateless and safe for concurrent
// use.
type Scorer struct {
	log zerolog.Logger
}

// NewScorer creates a Scorer.
func NewScorer() *Scorer {
	return &Scorer{log: logger.WithComponent("scoring")}
}

// Score returns a copy of the record with the document confidence score
// and per-field confidences filled in. ocrAvg is the mean fused
// confidence of the accepted detections, in [0, 1]. The input record is
// not mutated.
//
// Fields that are present but failed validation keep their base+
// adjustment score halved: the text was found, but its content could
// not be verified. Absent fields stay at confidence zero.
func (s *Scorer) Score(rec *models.DocumentRecord, ocrAvg float64) *models.DocumentRecord {
	out := rec.Clone()
	out.OCRConfidenceAvg = clamp(ocrAvg, 0, 1)
	out.ConfidenceScore = clamp(out.OCRConfidenceAvg*OCRWeight+out.ExtractionRatio*RatioWeight, 0, 1)

	base := clamp(out.OCRConfidenceAvg*100, fieldBaseFloor, fieldBaseCeiling)
	for _, name := range models.FieldNames {
		f := out.Field(name)
		if !f.Present {
			f.Confidence = 0
			out.SetField(f)
			continue
		}
		confidence := clamp(base+fieldAdjustments[name], 0, 100)
		if !f.Valid {
			confidence /= 2
		}
		f.Confidence = confidence
		out.SetField(f)
	}

	s.log.Debug().
		Float64("ocr_confidence_avg", out.OCRConfidenceAvg).
		Float64("extraction_ratio", out.ExtractionRatio).
		Float64("confidence_score", out.ConfidenceScore).
		Msg("Record scored")

	return out
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
