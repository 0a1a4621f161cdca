package scoring_test

import (
	"math"
	"testing"

	"nfscan/internal/scoring"
	"nfscan/pkg/models"
)

func recordWith(fields ...models.ExtractedField) *models.DocumentRecord {
	rec := models.NewDocumentRecord()
	for _, f := range fields {
		rec.SetField(f)
	}
	rec.ExtractionRatio = float64(rec.PresentCount()) / float64(models.FieldCount)
	return rec
}

func TestScoreDocumentBlend(t *testing.T) {
	rec := models.NewDocumentRecord()
	for _, name := range models.FieldNames {
		rec.SetField(models.ExtractedField{Name: name, Value: "x", Present: true, Valid: true})
	}
	rec.ExtractionRatio = 1.0

	out := scoring.NewScorer().Score(rec, 0.8)

	// 0.8*0.7 + 1.0*0.3 = 0.86
	if math.Abs(out.ConfidenceScore-0.86) > 1e-9 {
		t.Errorf("ConfidenceScore = %g, want 0.86", out.ConfidenceScore)
	}
	if out.OCRConfidenceAvg != 0.8 {
		t.Errorf("OCRConfidenceAvg = %g, want 0.8", out.OCRConfidenceAvg)
	}
}

func TestScoreDocumentClamped(t *testing.T) {
	rec := models.NewDocumentRecord()
	rec.ExtractionRatio = 1.0

	out := scoring.NewScorer().Score(rec, 1.0)
	if out.ConfidenceScore != 1.0 {
		t.Errorf("ConfidenceScore = %g, want 1.0", out.ConfidenceScore)
	}

	out = scoring.NewScorer().Score(rec, -0.5)
	if out.OCRConfidenceAvg != 0 {
		t.Errorf("OCRConfidenceAvg = %g, want clamp at 0", out.OCRConfidenceAvg)
	}
}

func TestScoreFieldAdjustments(t *testing.T) {
	rec := recordWith(
		models.ExtractedField{Name: models.FieldAccessKey, Value: "k", Present: true, Valid: true},
		models.ExtractedField{Name: models.FieldIssuerTaxID, Value: "c", Present: true, Valid: true},
		models.ExtractedField{Name: models.FieldTotalAmount, Value: "10", Present: true, Valid: true},
		models.ExtractedField{Name: models.FieldIssuerName, Value: "n", Present: true, Valid: true},
	)

	// ocrAvg 0.8: base band value is 80.
	out := scoring.NewScorer().Score(rec, 0.8)

	tests := []struct {
		name string
		want float64
	}{
		{models.FieldAccessKey, 92},   // 80 + 12
		{models.FieldIssuerTaxID, 90}, // 80 + 10
		{models.FieldTotalAmount, 88}, // 80 + 8
		{models.FieldIssuerName, 77},  // 80 - 3
	}
	for _, tt := range tests {
		if got := out.Field(tt.name).Confidence; math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%s Confidence = %g, want %g", tt.name, got, tt.want)
		}
	}
}

func TestScoreBaseBandClamped(t *testing.T) {
	rec := recordWith(models.ExtractedField{Name: models.FieldSeries, Value: "1", Present: true, Valid: true})

	// Low OCR average maps to the 50 floor: 50 + 5.
	out := scoring.NewScorer().Score(rec, 0.2)
	if got := out.Field(models.FieldSeries).Confidence; got != 55 {
		t.Errorf("Confidence = %g, want 55 at base floor", got)
	}

	// High OCR average maps to the 95 ceiling: 95 + 5.
	out = scoring.NewScorer().Score(rec, 0.99)
	if got := out.Field(models.FieldSeries).Confidence; got != 100 {
		t.Errorf("Confidence = %g, want 100 at base ceiling", got)
	}
}

func TestScoreFieldCeiling(t *testing.T) {
	rec := recordWith(models.ExtractedField{Name: models.FieldAccessKey, Value: "k", Present: true, Valid: true})

	// 95 + 12 would exceed 100: clamp.
	out := scoring.NewScorer().Score(rec, 1.0)
	if got := out.Field(models.FieldAccessKey).Confidence; got != 100 {
		t.Errorf("Confidence = %g, want clamp at 100", got)
	}
}

func TestScoreInvalidFieldHalved(t *testing.T) {
	rec := recordWith(models.ExtractedField{Name: models.FieldIssuerTaxID, Value: "c", Present: true, Valid: false})

	out := scoring.NewScorer().Score(rec, 0.8)
	if got := out.Field(models.FieldIssuerTaxID).Confidence; math.Abs(got-45) > 1e-9 {
		t.Errorf("Confidence = %g, want 45 (half of 90)", got)
	}
}

func TestScoreAbsentFieldZero(t *testing.T) {
	out := scoring.NewScorer().Score(models.NewDocumentRecord(), 0.9)

	for _, name := range models.FieldNames {
		if got := out.Field(name).Confidence; got != 0 {
			t.Errorf("%s Confidence = %g, want 0 for absent field", name, got)
		}
	}
}

func TestScoreDoesNotMutateInput(t *testing.T) {
	rec := recordWith(models.ExtractedField{Name: models.FieldSeries, Value: "1", Present: true, Valid: true})

	_ = scoring.NewScorer().Score(rec, 0.9)

	if rec.ConfidenceScore != 0 {
		t.Errorf("input ConfidenceScore = %g, want untouched", rec.ConfidenceScore)
	}
	if rec.Field(models.FieldSeries).Confidence != 0 {
		t.Error("input field confidence mutated")
	}
}
