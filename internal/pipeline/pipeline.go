// Package pipeline runs the full document flow: per-page detection
// fusion, confidence-threshold acceptance, text normalization, field
// extraction and confidence scoring.
package pipeline

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"nfscan/internal/extract"
	"nfscan/internal/fusion"
	"nfscan/internal/logger"
	"nfscan/internal/normalize"
	"nfscan/internal/scoring"
	"nfscan/pkg/models"
)

// DefaultAcceptThreshold is the minimum fused confidence for a detection
// to contribute to the document text and the OCR average.
const DefaultAcceptThreshold = 0.5

// PageDetections holds one page's raw detections keyed by engine ID.
type PageDetections map[string][]fusion.Detection

// Config holds the pipeline tunables.
type Config struct {
	// Weights are the per-engine voting weights passed to fusion.
	Weights fusion.EngineWeights

	// Fusion carries the IoU threshold, consensus bonus and fallback
	// weight.
	Fusion fusion.Config

	// AcceptThreshold filters fused detections before extraction.
	// Default 0.5.
	AcceptThreshold float64
}

// DefaultConfig returns pipeline defaults with the given engine weights.
func DefaultConfig(weights fusion.EngineWeights) Config {
	return Config{
		Weights:         weights,
		Fusion:          fusion.DefaultConfig(),
		AcceptThreshold: DefaultAcceptThreshold,
	}
}

// Result is the outcome of one document run: the scored record, the
// normalized document text the extractor saw, and the fused detections
// per page for callers that need positional output.
type Result struct {
	Record *models.DocumentRecord    `json:"record"`
	Text   string                    `json:"text"`
	Pages  [][]fusion.FusedDetection `json:"pages"`
}

// Pipeline owns the stage components. Safe for concurrent use; each run
// builds its own intermediate state.
type Pipeline struct {
	cfg        Config
	fuser      *fusion.Fuser
	normalizer *normalize.Normalizer
	extractor  *extract.Extractor
	scorer     *scoring.Scorer
	log        zerolog.Logger
}

// New creates a Pipeline. A zero accept threshold falls back to the
// default.
func New(cfg Config) *Pipeline {
	if cfg.AcceptThreshold <= 0 {
		cfg.AcceptThreshold = DefaultAcceptThreshold
	}
	return &Pipeline{
		cfg:        cfg,
		fuser:      fusion.NewFuser(cfg.Fusion),
		normalizer: normalize.New(),
		extractor:  extract.NewExtractor(),
		scorer:     scoring.NewScorer(),
		log:        logger.WithComponent("pipeline"),
	}
}

// FuseAndExtract fuses every page, joins the accepted text in page
// order, extracts the field schema and scores the record.
//
// Pages are fused concurrently; results land in indexed slots so the
// output order never depends on scheduling. A fusion error on any page
// fails the whole document.
func (p *Pipeline) FuseAndExtract(pages []PageDetections) (*Result, error) {
	const op = "FuseAndExtract"

	fusedPages := make([][]fusion.FusedDetection, len(pages))
	errs := make([]error, len(pages))

	var wg sync.WaitGroup
	for i, page := range pages {
		wg.Add(1)
		go func(i int, page PageDetections) {
			defer wg.Done()
			fusedPages[i], errs[i] = p.fuser.Fuse(flatten(page), p.cfg.Weights)
		}(i, page)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("%s: page %d: %w", op, i, err)
		}
	}

	var (
		pageTexts     []string
		confidenceSum float64
		accepted      int
	)
	for _, fused := range fusedPages {
		var words []string
		for _, det := range fused {
			if det.Confidence < p.cfg.AcceptThreshold {
				continue
			}
			words = append(words, det.Text)
			confidenceSum += det.Confidence
			accepted++
		}
		if len(words) > 0 {
			pageTexts = append(pageTexts, p.normalizer.Normalize(strings.Join(words, " ")))
		}
	}

	ocrAvg := 0.0
	if accepted > 0 {
		ocrAvg = confidenceSum / float64(accepted)
	}

	text := strings.Join(pageTexts, " ")
	record := p.scorer.Score(p.extractor.Extract(text), ocrAvg)

	p.log.Info().
		Int("pages", len(pages)).
		Int("accepted_detections", accepted).
		Float64("ocr_confidence_avg", ocrAvg).
		Float64("extraction_ratio", record.ExtractionRatio).
		Float64("confidence_score", record.ConfidenceScore).
		Msg("Document processed")

	return &Result{Record: record, Text: text, Pages: fusedPages}, nil
}

// flatten joins one page's per-engine detection lists into a single
// slice. Engine keys are visited in sorted order so fusion's
// arrival-order tie-breaking stays deterministic across runs.
func flatten(page PageDetections) []fusion.Detection {
	engines := make([]string, 0, len(page))
	for id := range page {
		engines = append(engines, id)
	}
	sort.Strings(engines)

	var out []fusion.Detection
	for _, id := range engines {
		out = append(out, page[id]...)
	}
	return out
}
