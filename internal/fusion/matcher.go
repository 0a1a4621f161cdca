package fusion

// DefaultIoUThreshold is the minimum Intersection-over-Union for two
// boxes to be considered the same text region.
const DefaultIoUThreshold = 0.3

// SpatialMatcher decides whether two bounding boxes denote the same
// on-page text span.
type SpatialMatcher struct {
	threshold float64
}

// NewSpatialMatcher creates a matcher with the given IoU threshold.
// Non-positive thresholds fall back to DefaultIoUThreshold.
func NewSpatialMatcher(threshold float64) *SpatialMatcher {
	if threshold <= 0 {
		threshold = DefaultIoUThreshold
	}
	return &SpatialMatcher{threshold: threshold}
}

// Threshold returns the configured IoU threshold.
func (m *SpatialMatcher) Threshold() float64 { return m.threshold }

// Overlaps reports whether the two boxes refer to the same text region.
// Degenerate (zero-area) boxes never match.
func (m *SpatialMatcher) Overlaps(a, b BoundingBox) bool {
	return IoU(a, b) > m.threshold
}

// IoU computes the Intersection-over-Union of two rectangles.
// Returns 0 when either rectangle is degenerate or the boxes are disjoint.
func IoU(a, b BoundingBox) float64 {
	areaA := a.Area()
	areaB := b.Area()
	if areaA == 0 || areaB == 0 {
		return 0
	}

	x1 := max(a.XMin, b.XMin)
	y1 := max(a.YMin, b.YMin)
	x2 := min(a.XMax, b.XMax)
	y2 := min(a.YMax, b.YMax)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := areaA + areaB - intersection
	return intersection / union
}
