// Package engines provides word-level OCR adapters with a common
// interface. Each adapter turns one recognition backend's output into
// fusion.Detection values (text, pixel bounding box, confidence in
// [0, 1], engine ID) so the fusion layer never sees backend types.
package engines

import (
	"context"
	"sync"

	"nfscan/internal/fusion"
	"nfscan/internal/logger"
)

// Known engine IDs. The IDs double as keys in the weight map and as the
// EngineID stamped on every detection.
const (
	EngineTesseract  = "tesseract"
	EngineVision     = "vision"
	EngineDocumentAI = "documentai"
)

// Engine is one OCR backend.
type Engine interface {
	// ID returns the stable engine identifier.
	ID() string

	// Detect runs recognition on an image and returns word-level
	// detections. An empty slice is a valid result for a blank image.
	Detect(ctx context.Context, image []byte) ([]fusion.Detection, error)

	// Close releases backend resources.
	Close() error
}

// DefaultWeights returns the standard per-engine voting weights. The
// cloud engines carry most of the vote; tesseract acts as a local
// tie-breaker.
func DefaultWeights() fusion.EngineWeights {
	return fusion.EngineWeights{
		EngineVision:     0.4,
		EngineDocumentAI: 0.4,
		EngineTesseract:  0.2,
	}
}

// DetectAll runs every engine over the same image concurrently and
// returns the per-engine detections keyed by engine ID.
//
// A failing engine is logged and skipped so one backend outage degrades
// rather than kills the run; only when every engine fails is an error
// returned.
func DetectAll(ctx context.Context, image []byte, engs ...Engine) (map[string][]fusion.Detection, error) {
	const op = "DetectAll"
	log := logger.WithComponent("engines")

	if len(image) == 0 {
		return nil, WrapEngineError(op, "", ErrEmptyImage, "no image data")
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string][]fusion.Detection, len(engs))
	)
	for _, eng := range engs {
		wg.Add(1)
		go func(eng Engine) {
			defer wg.Done()
			detections, err := eng.Detect(ctx, image)
			if err != nil {
				log.Warn().
					Err(err).
					Str("engine_id", eng.ID()).
					Msg("Engine failed, continuing without it")
				return
			}
			mu.Lock()
			results[eng.ID()] = detections
			mu.Unlock()
		}(eng)
	}
	wg.Wait()

	if len(results) == 0 {
		return nil, WrapEngineError(op, "", ErrAllEnginesFailed, "no engine produced detections")
	}
	return results, nil
}
