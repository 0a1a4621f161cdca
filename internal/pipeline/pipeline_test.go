package pipeline_test

import (
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"nfscan/internal/fusion"
	"nfscan/internal/pipeline"
	"nfscan/pkg/models"
)

func wordBox(i int) fusion.BoundingBox {
	x := float64(i * 100)
	return fusion.BoundingBox{XMin: x, YMin: 0, XMax: x + 90, YMax: 20}
}

// wordPage lays the words out left to right on one row, one detection
// each, for a single engine.
func wordPage(engine string, conf float64, words ...string) pipeline.PageDetections {
	detections := make([]fusion.Detection, 0, len(words))
	for i, w := range words {
		detections = append(detections, fusion.Detection{
			Text:       w,
			BBox:       wordBox(i),
			Confidence: conf,
			EngineID:   engine,
		})
	}
	return pipeline.PageDetections{engine: detections}
}

func TestFuseAndExtractSingleEngine(t *testing.T) {
	p := pipeline.New(pipeline.DefaultConfig(fusion.EngineWeights{"vision": 0.9}))

	// The OCR misread "1.2B4,56" is normalized before extraction.
	page := wordPage("vision", 0.9,
		"CNPJ:", "11.444.777/0001-61", "VALOR", "TOTAL", "DA", "NF:", "R$", "1.2B4,56")

	result, err := p.FuseAndExtract([]pipeline.PageDetections{page})
	if err != nil {
		t.Fatalf("FuseAndExtract() error = %v", err)
	}

	if result.Text != "CNPJ: 11.444.777/0001-61 VALOR TOTAL DA NF: R$ 1.284,56" {
		t.Errorf("Text = %q", result.Text)
	}

	rec := result.Record
	if math.Abs(rec.OCRConfidenceAvg-0.9) > 1e-9 {
		t.Errorf("OCRConfidenceAvg = %g, want 0.9", rec.OCRConfidenceAvg)
	}

	issuer := rec.Field(models.FieldIssuerTaxID)
	if !issuer.Present || !issuer.Valid || issuer.Value != "11.444.777/0001-61" {
		t.Errorf("issuer = %+v", issuer)
	}
	total := rec.Field(models.FieldTotalAmount)
	if !total.Valid || !total.Amount.Equal(decimal.RequireFromString("1284.56")) {
		t.Errorf("total = %+v", total)
	}

	wantRatio := 2.0 / float64(models.FieldCount)
	if math.Abs(rec.ExtractionRatio-wantRatio) > 1e-9 {
		t.Errorf("ExtractionRatio = %g, want %g", rec.ExtractionRatio, wantRatio)
	}
	wantScore := 0.9*0.7 + wantRatio*0.3
	if math.Abs(rec.ConfidenceScore-wantScore) > 1e-9 {
		t.Errorf("ConfidenceScore = %g, want %g", rec.ConfidenceScore, wantScore)
	}
}

func TestFuseAndExtractConsensusAcrossEngines(t *testing.T) {
	weights := fusion.EngineWeights{"vision": 0.4, "tesseract": 0.2}
	p := pipeline.New(pipeline.DefaultConfig(weights))

	bbox := wordBox(0)
	page := pipeline.PageDetections{
		"vision": {
			{Text: "TOTAL", BBox: bbox, Confidence: 0.9, EngineID: "vision"},
		},
		"tesseract": {
			{Text: "TOTAL", BBox: bbox, Confidence: 0.9, EngineID: "tesseract"},
		},
	}

	result, err := p.FuseAndExtract([]pipeline.PageDetections{page})
	if err != nil {
		t.Fatalf("FuseAndExtract() error = %v", err)
	}

	if len(result.Pages) != 1 || len(result.Pages[0]) != 1 {
		t.Fatalf("Pages = %+v, want one fused detection", result.Pages)
	}
	got := result.Pages[0][0]
	// 0.9*0.4 + 0.9*0.2 = 0.54, plus the 0.1 consensus bonus.
	if math.Abs(got.Confidence-0.64) > 1e-9 {
		t.Errorf("Confidence = %g, want 0.64", got.Confidence)
	}
	if got.EnginesAgreed != 2 {
		t.Errorf("EnginesAgreed = %d, want 2", got.EnginesAgreed)
	}
	if math.Abs(result.Record.OCRConfidenceAvg-0.64) > 1e-9 {
		t.Errorf("OCRConfidenceAvg = %g, want 0.64", result.Record.OCRConfidenceAvg)
	}
}

func TestFuseAndExtractAcceptThreshold(t *testing.T) {
	p := pipeline.New(pipeline.DefaultConfig(fusion.EngineWeights{"vision": 0.9}))

	page := pipeline.PageDetections{
		"vision": {
			{Text: "KEEP", BBox: wordBox(0), Confidence: 0.8, EngineID: "vision"},
			{Text: "DROP", BBox: wordBox(1), Confidence: 0.3, EngineID: "vision"},
		},
	}

	result, err := p.FuseAndExtract([]pipeline.PageDetections{page})
	if err != nil {
		t.Fatalf("FuseAndExtract() error = %v", err)
	}

	if result.Text != "KEEP" {
		t.Errorf("Text = %q, want low-confidence detection excluded", result.Text)
	}
	// Only the accepted detection feeds the average.
	if math.Abs(result.Record.OCRConfidenceAvg-0.8) > 1e-9 {
		t.Errorf("OCRConfidenceAvg = %g, want 0.8", result.Record.OCRConfidenceAvg)
	}
	// The fused page output still carries both detections.
	if len(result.Pages[0]) != 2 {
		t.Errorf("fused page has %d detections, want 2", len(result.Pages[0]))
	}
}

func TestFuseAndExtractMultiPageOrder(t *testing.T) {
	p := pipeline.New(pipeline.DefaultConfig(fusion.EngineWeights{"vision": 0.9}))

	pages := []pipeline.PageDetections{
		wordPage("vision", 0.9, "SÉRIE:", "1"),
		wordPage("vision", 0.9, "Nº:", "123456"),
	}

	result, err := p.FuseAndExtract(pages)
	if err != nil {
		t.Fatalf("FuseAndExtract() error = %v", err)
	}

	if result.Text != "SÉRIE: 1 Nº: 123456" {
		t.Errorf("Text = %q, want page order preserved", result.Text)
	}
	if got := result.Record.Field(models.FieldInvoiceNumber).Value; got != "123456" {
		t.Errorf("invoice number = %q", got)
	}
	if got := result.Record.Field(models.FieldSeries).Value; got != "1" {
		t.Errorf("series = %q", got)
	}
}

func TestFuseAndExtractEmptyPages(t *testing.T) {
	p := pipeline.New(pipeline.DefaultConfig(fusion.EngineWeights{"vision": 0.9}))

	result, err := p.FuseAndExtract(nil)
	if err != nil {
		t.Fatalf("FuseAndExtract() error = %v", err)
	}
	if result.Record.OCRConfidenceAvg != 0 {
		t.Errorf("OCRConfidenceAvg = %g, want 0", result.Record.OCRConfidenceAvg)
	}
	if result.Record.PresentCount() != 0 {
		t.Errorf("PresentCount = %d, want 0", result.Record.PresentCount())
	}
}

func TestFuseAndExtractPageErrorFailsDocument(t *testing.T) {
	p := pipeline.New(pipeline.DefaultConfig(fusion.EngineWeights{"vision": 0.9}))

	pages := []pipeline.PageDetections{
		wordPage("vision", 0.9, "OK"),
		{
			"vision": {
				{Text: "", BBox: wordBox(0), Confidence: 0.9, EngineID: "vision"},
			},
		},
	}

	_, err := p.FuseAndExtract(pages)
	if err == nil {
		t.Fatal("FuseAndExtract() expected error for malformed detection")
	}
	if !strings.Contains(err.Error(), "page 1") {
		t.Errorf("error = %v, want page index in message", err)
	}
}
