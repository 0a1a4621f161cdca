package fusion

import (
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"nfscan/internal/logger"
)

const (
	// DefaultConsensusBonus is added to the winning confidence when two
	// or more distinct engines agree on the same normalized text.
	DefaultConsensusBonus = 0.1

	// DefaultFallbackWeight is used for detections whose engine ID has
	// no configured weight. Such detections are never dropped; they are
	// logged and processed with this weight.
	DefaultFallbackWeight = 0.3
)

// Config holds the fusion tunables. All values are supplied by the
// caller; the fuser never reads the environment.
type Config struct {
	// IoUThreshold is the minimum Intersection-over-Union for two boxes
	// to share a region. Default 0.3.
	IoUThreshold float64

	// ConsensusBonus is the confidence boost for multi-engine agreement.
	// Default 0.1.
	ConsensusBonus float64

	// FallbackWeight applies to engine IDs missing from the weight map.
	// Default 0.3.
	FallbackWeight float64
}

// DefaultConfig returns the fusion defaults.
func DefaultConfig() Config {
	return Config{
		IoUThreshold:   DefaultIoUThreshold,
		ConsensusBonus: DefaultConsensusBonus,
		FallbackWeight: DefaultFallbackWeight,
	}
}

// Fuser merges per-engine detections for one page into a single
// reading-order detection list.
type Fuser struct {
	cfg     Config
	matcher *SpatialMatcher
	log     zerolog.Logger
}

// NewFuser creates a fuser. Zero-valued config fields fall back to the
// package defaults.
func NewFuser(cfg Config) *Fuser {
	if cfg.IoUThreshold <= 0 {
		cfg.IoUThreshold = DefaultIoUThreshold
	}
	if cfg.ConsensusBonus <= 0 {
		cfg.ConsensusBonus = DefaultConsensusBonus
	}
	if cfg.FallbackWeight <= 0 {
		cfg.FallbackWeight = DefaultFallbackWeight
	}
	return &Fuser{
		cfg:     cfg,
		matcher: NewSpatialMatcher(cfg.IoUThreshold),
		log:     logger.WithComponent("fusion"),
	}
}

// scored pairs a detection with its weighted score and arrival index.
type scored struct {
	det   Detection
	score float64
	order int
}

// region is a transient grouping of detections judged to denote the
// same text span. The seed is the highest-score detection that opened
// the region; its bbox is the representative for overlap tests and for
// the fused output.
type region struct {
	seed    BoundingBox
	members []scored
}

// Fuse groups the detections into spatial regions and resolves each
// region to one FusedDetection by engine-weighted text voting.
//
// Empty input yields empty output. A malformed detection is an error:
// fusion validates at ingestion rather than coercing. The returned list
// is sorted by reading order (y_min, then x_min, ascending).
func (f *Fuser) Fuse(detections []Detection, weights EngineWeights) ([]FusedDetection, error) {
	const op = "Fuse"

	if len(detections) == 0 {
		return []FusedDetection{}, nil
	}

	unknownEngines := map[string]bool{}
	items := make([]scored, 0, len(detections))
	for i, det := range detections {
		if err := det.Validate(); err != nil {
			return nil, WrapFusionError(op, err, "detection rejected at ingestion")
		}
		weight, ok := weights[det.EngineID]
		if !ok {
			weight = f.cfg.FallbackWeight
			if !unknownEngines[det.EngineID] {
				unknownEngines[det.EngineID] = true
				f.log.Warn().
					Str("engine_id", det.EngineID).
					Float64("fallback_weight", weight).
					Msg("No weight configured for engine, using fallback")
			}
		}
		items = append(items, scored{det: det, score: det.Confidence * weight, order: i})
	}

	// Stable sort keeps arrival order for equal scores, which makes
	// region seeding deterministic.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})

	// Greedy assignment: each detection joins the first region whose
	// seed bbox it overlaps, or opens a new region.
	var regions []*region
	for _, it := range items {
		assigned := false
		for _, r := range regions {
			if f.matcher.Overlaps(r.seed, it.det.BBox) {
				r.members = append(r.members, it)
				assigned = true
				break
			}
		}
		if !assigned {
			regions = append(regions, &region{seed: it.det.BBox, members: []scored{it}})
		}
	}

	fused := make([]FusedDetection, 0, len(regions))
	for _, r := range regions {
		fused = append(fused, f.resolve(r))
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].BBox.YMin != fused[j].BBox.YMin {
			return fused[i].BBox.YMin < fused[j].BBox.YMin
		}
		return fused[i].BBox.XMin < fused[j].BBox.XMin
	})

	f.log.Debug().
		Int("detections", len(detections)).
		Int("regions", len(regions)).
		Msg("Fusion completed")

	return fused, nil
}

// textGroup accumulates region members that agree on one normalized text.
type textGroup struct {
	key      string
	sumScore float64
	best     scored
	engines  map[string]bool
}

// resolve turns one region into a FusedDetection.
//
// Single-member regions pass through unchanged. Multi-member regions
// vote: members are sub-grouped by normalized text, the sub-group with
// the highest summed weighted score wins, and the fused confidence is
// that sum plus the consensus bonus when at least two distinct engines
// back the winning text. Ties on summed score prefer the sub-group with
// the highest single weighted score, then the lexicographically smaller
// normalized text.
func (f *Fuser) resolve(r *region) FusedDetection {
	if len(r.members) == 1 {
		det := r.members[0].det
		return FusedDetection{
			Text:          det.Text,
			BBox:          r.seed,
			Confidence:    det.Confidence,
			EnginesAgreed: 1,
			EngineID:      det.EngineID,
		}
	}

	var groups []*textGroup
	index := map[string]*textGroup{}
	for _, m := range r.members {
		key := normalizeText(m.det.Text)
		g, ok := index[key]
		if !ok {
			g = &textGroup{key: key, best: m, engines: map[string]bool{}}
			index[key] = g
			groups = append(groups, g)
		}
		g.sumScore += m.score
		g.engines[m.det.EngineID] = true
		if m.score > g.best.score || (m.score == g.best.score && m.order < g.best.order) {
			g.best = m
		}
	}

	winner := groups[0]
	for _, g := range groups[1:] {
		switch {
		case g.sumScore > winner.sumScore:
			winner = g
		case g.sumScore == winner.sumScore && g.best.score > winner.best.score:
			winner = g
		case g.sumScore == winner.sumScore && g.best.score == winner.best.score && g.key < winner.key:
			winner = g
		}
	}

	confidence := winner.sumScore
	if len(winner.engines) >= 2 {
		confidence += f.cfg.ConsensusBonus
	}
	if confidence > 1 {
		confidence = 1
	}

	return FusedDetection{
		Text:          winner.best.det.Text,
		BBox:          r.seed,
		Confidence:    confidence,
		EnginesAgreed: len(winner.engines),
		EngineID:      winner.best.det.EngineID,
	}
}

var textSpaceRE = regexp.MustCompile(`\s+`)

// normalizeText lowers case and collapses whitespace for text-equality
// voting inside a region.
func normalizeText(text string) string {
	return textSpaceRE.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), " ")
}
