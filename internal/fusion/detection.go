// Package fusion merges heterogeneous text detections from multiple OCR
// engines into a single ranked detection list.
//
// Each engine reports its own detections with bounding boxes and a
// confidence in [0, 1]. Fusion groups spatially-overlapping detections
// into regions, resolves each region by engine-weighted voting over the
// detected texts, boosts the confidence of texts backed by more than one
// engine, and returns the survivors in reading order.
//
// The package is pure: no I/O, no shared state, no hidden configuration.
// Engine weights are an explicit argument to Fuse so that callers can
// fuse a single engine's detections (weight 1, no competing members)
// without special-casing.
package fusion

import "fmt"

// BoundingBox is an axis-aligned rectangle in image pixel coordinates.
type BoundingBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Width returns the horizontal extent of the box.
func (b BoundingBox) Width() float64 { return b.XMax - b.XMin }

// Height returns the vertical extent of the box.
func (b BoundingBox) Height() float64 { return b.YMax - b.YMin }

// Area returns the box area, zero for degenerate boxes.
func (b BoundingBox) Area() float64 {
	if b.XMax <= b.XMin || b.YMax <= b.YMin {
		return 0
	}
	return b.Width() * b.Height()
}

// IsValid reports whether the box has positive extent on both axes.
func (b BoundingBox) IsValid() bool {
	return b.XMax > b.XMin && b.YMax > b.YMin
}

// Detection is one engine's claim about one text region. Immutable:
// created once per recognition call and never mutated by fusion.
type Detection struct {
	Text       string      `json:"text"`
	BBox       BoundingBox `json:"bbox"`
	Confidence float64     `json:"confidence"`
	EngineID   string      `json:"engine_id"`
}

// Validate checks the detection at ingestion. Fusion rejects malformed
// detections instead of silently coercing them.
func (d Detection) Validate() error {
	if d.Text == "" {
		return NewValidationError("text", d.Text, "detection text must be non-empty")
	}
	if !d.BBox.IsValid() {
		return NewValidationError("bbox", d.BBox,
			fmt.Sprintf("bounding box must have positive extent (got %+v)", d.BBox))
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return NewValidationError("confidence", d.Confidence, "confidence must be in [0, 1]")
	}
	return nil
}

// EngineWeights maps engine IDs to static voting weights in (0, 1].
// Loaded once per process and read-only thereafter; fusion only reads it.
// Weights need not sum to 1.
type EngineWeights map[string]float64

// FusedDetection is the resolution of one fusion region: the winning
// text, the region's representative (seed) bounding box, the adjusted
// confidence and the number of distinct engines that agreed on the text.
type FusedDetection struct {
	Text          string      `json:"text"`
	BBox          BoundingBox `json:"bbox"`
	Confidence    float64     `json:"confidence"`
	EnginesAgreed int         `json:"engines_agreed"`
	EngineID      string      `json:"engine_id"`
}
