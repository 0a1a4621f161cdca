package fusion_test

import (
	"errors"
	"math"
	"testing"

	"nfscan/internal/fusion"
)

var sameBox = fusion.BoundingBox{XMin: 100, YMin: 50, XMax: 300, YMax: 80}

func det(text, engine string, conf float64, bbox fusion.BoundingBox) fusion.Detection {
	return fusion.Detection{Text: text, BBox: bbox, Confidence: conf, EngineID: engine}
}

func TestFuseEmptyInput(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())

	fused, err := f.Fuse(nil, fusion.EngineWeights{"vision": 0.4})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if fused == nil || len(fused) != 0 {
		t.Errorf("Fuse() = %v, want empty slice", fused)
	}
}

func TestFuseRejectsMalformedDetection(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())

	tests := []struct {
		name string
		d    fusion.Detection
	}{
		{"empty text", det("", "vision", 0.9, sameBox)},
		{"inverted bbox", det("abc", "vision", 0.9, fusion.BoundingBox{XMin: 10, YMin: 10, XMax: 5, YMax: 20})},
		{"confidence above one", det("abc", "vision", 1.5, sameBox)},
		{"negative confidence", det("abc", "vision", -0.1, sameBox)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Fuse([]fusion.Detection{tt.d}, fusion.EngineWeights{"vision": 0.4})
			if err == nil {
				t.Fatal("Fuse() expected error, got nil")
			}
			if !errors.Is(err, fusion.ErrInvalidDetection) {
				t.Errorf("Fuse() error = %v, want ErrInvalidDetection", err)
			}
		})
	}
}

func TestFuseSingleDetectionPassesThrough(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())

	fused, err := f.Fuse([]fusion.Detection{det("R$ 1.284,56", "vision", 0.73, sameBox)},
		fusion.EngineWeights{"vision": 0.4})
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if len(fused) != 1 {
		t.Fatalf("Fuse() returned %d detections, want 1", len(fused))
	}

	got := fused[0]
	if got.Text != "R$ 1.284,56" {
		t.Errorf("Text = %q", got.Text)
	}
	// Single-member regions keep the raw confidence, not the weighted score.
	if got.Confidence != 0.73 {
		t.Errorf("Confidence = %g, want 0.73", got.Confidence)
	}
	if got.EnginesAgreed != 1 {
		t.Errorf("EnginesAgreed = %d, want 1", got.EnginesAgreed)
	}
}

func TestFuseDisagreementHigherWeightedScoreWins(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())
	weights := fusion.EngineWeights{"vision": 0.4, "documentai": 0.4}

	fused, err := f.Fuse([]fusion.Detection{
		det("12345678901234", "vision", 0.9, sameBox),
		det("123456T8901234", "documentai", 0.6, sameBox),
	}, weights)
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if len(fused) != 1 {
		t.Fatalf("Fuse() returned %d detections, want 1", len(fused))
	}

	got := fused[0]
	if got.Text != "12345678901234" {
		t.Errorf("Text = %q, want winner by weighted score", got.Text)
	}
	// Winning sub-group has one member: fused confidence is its weighted
	// score (0.9 * 0.4), with no consensus bonus for a single engine.
	if math.Abs(got.Confidence-0.36) > 1e-9 {
		t.Errorf("Confidence = %g, want 0.36", got.Confidence)
	}
	if got.EnginesAgreed != 1 {
		t.Errorf("EnginesAgreed = %d, want 1", got.EnginesAgreed)
	}
}

func TestFuseConsensusBonus(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())
	weights := fusion.EngineWeights{"vision": 0.4, "documentai": 0.4, "tesseract": 0.2}

	fused, err := f.Fuse([]fusion.Detection{
		det("TOTAL", "vision", 0.9, sameBox),
		det("TOTAL", "documentai", 0.8, sameBox),
		det("T0TAL", "tesseract", 0.9, sameBox),
	}, weights)
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if len(fused) != 1 {
		t.Fatalf("Fuse() returned %d detections, want 1", len(fused))
	}

	got := fused[0]
	if got.Text != "TOTAL" {
		t.Errorf("Text = %q, want TOTAL", got.Text)
	}
	// 0.9*0.4 + 0.8*0.4 = 0.68, two engines agree: +0.1 bonus.
	if math.Abs(got.Confidence-0.78) > 1e-9 {
		t.Errorf("Confidence = %g, want 0.78", got.Confidence)
	}
	if got.EnginesAgreed != 2 {
		t.Errorf("EnginesAgreed = %d, want 2", got.EnginesAgreed)
	}
}

func TestFuseTextComparisonIgnoresCaseAndSpacing(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())
	weights := fusion.EngineWeights{"vision": 0.4, "documentai": 0.4}

	fused, err := f.Fuse([]fusion.Detection{
		det("Nota Fiscal", "vision", 0.7, sameBox),
		det("NOTA  FISCAL", "documentai", 0.7, sameBox),
	}, weights)
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if fused[0].EnginesAgreed != 2 {
		t.Errorf("EnginesAgreed = %d, want 2 (texts differ only in case/spacing)", fused[0].EnginesAgreed)
	}
}

func TestFuseConfidenceClampedToOne(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())
	weights := fusion.EngineWeights{"a": 1.0, "b": 1.0}

	fused, err := f.Fuse([]fusion.Detection{
		det("X", "a", 1.0, sameBox),
		det("X", "b", 0.9, sameBox),
	}, weights)
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if fused[0].Confidence != 1.0 {
		t.Errorf("Confidence = %g, want clamp at 1.0", fused[0].Confidence)
	}
}

func TestFuseUnknownEngineFallbackWeight(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())
	// Only vision is configured; "mystery" gets the 0.3 fallback weight.
	weights := fusion.EngineWeights{"vision": 0.4}

	fused, err := f.Fuse([]fusion.Detection{
		det("ABC", "vision", 0.5, sameBox),   // 0.20
		det("XYZ", "mystery", 0.8, sameBox),  // 0.24
	}, weights)
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if len(fused) != 1 {
		t.Fatalf("Fuse() returned %d detections, want 1", len(fused))
	}
	if fused[0].Text != "XYZ" {
		t.Errorf("Text = %q, want unknown-engine detection kept and voting with fallback weight", fused[0].Text)
	}
}

func TestFuseTieBreaking(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())
	weights := fusion.EngineWeights{"a": 0.4, "b": 0.4}

	// Equal summed score, equal best single score: the lexicographically
	// smaller normalized text wins, regardless of arrival order.
	fused, err := f.Fuse([]fusion.Detection{
		det("zz", "a", 0.5, sameBox),
		det("aa", "b", 0.5, sameBox),
	}, weights)
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if fused[0].Text != "aa" {
		t.Errorf("Text = %q, want aa", fused[0].Text)
	}
}

func TestFuseReadingOrder(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())
	weights := fusion.EngineWeights{"vision": 0.4}

	top := fusion.BoundingBox{XMin: 200, YMin: 10, XMax: 260, YMax: 30}
	left := fusion.BoundingBox{XMin: 10, YMin: 100, XMax: 70, YMax: 120}
	right := fusion.BoundingBox{XMin: 300, YMin: 100, XMax: 360, YMax: 120}

	fused, err := f.Fuse([]fusion.Detection{
		det("third", "vision", 0.9, right),
		det("first", "vision", 0.5, top),
		det("second", "vision", 0.7, left),
	}, weights)
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if len(fused) != 3 {
		t.Fatalf("Fuse() returned %d detections, want 3", len(fused))
	}
	for i, want := range []string{"first", "second", "third"} {
		if fused[i].Text != want {
			t.Errorf("fused[%d].Text = %q, want %q", i, fused[i].Text, want)
		}
	}
}

func TestFuseSeparateRegionsDoNotVoteTogether(t *testing.T) {
	f := fusion.NewFuser(fusion.DefaultConfig())
	weights := fusion.EngineWeights{"vision": 0.4, "documentai": 0.4}

	other := fusion.BoundingBox{XMin: 100, YMin: 500, XMax: 300, YMax: 530}
	fused, err := f.Fuse([]fusion.Detection{
		det("TOTAL", "vision", 0.9, sameBox),
		det("TOTAL", "documentai", 0.9, other),
	}, weights)
	if err != nil {
		t.Fatalf("Fuse() error = %v", err)
	}
	if len(fused) != 2 {
		t.Fatalf("Fuse() returned %d detections, want 2 separate regions", len(fused))
	}
	for _, d := range fused {
		if d.EnginesAgreed != 1 {
			t.Errorf("EnginesAgreed = %d, want 1 for spatially distinct detections", d.EnginesAgreed)
		}
	}
}
