package engines

import (
	"context"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"

	"nfscan/internal/fusion"
	"nfscan/internal/logger"
)

// DefaultTesseractLanguages covers Brazilian invoices with an English
// fallback for product descriptions.
var DefaultTesseractLanguages = []string{"por", "eng"}

// TesseractEngine runs local recognition through the tesseract C API.
// Clients are not safe for concurrent use, so each Detect call creates
// its own.
type TesseractEngine struct {
	languages []string
	newClient func() *gosseract.Client
	log       zerolog.Logger
}

// NewTesseractEngine creates a local tesseract engine. Empty languages
// fall back to the defaults.
func NewTesseractEngine(languages []string) *TesseractEngine {
	if len(languages) == 0 {
		languages = DefaultTesseractLanguages
	}
	return &TesseractEngine{
		languages: languages,
		newClient: gosseract.NewClient,
		log:       logger.WithComponent("tesseract"),
	}
}

// ID returns the engine identifier.
func (t *TesseractEngine) ID() string { return EngineTesseract }

// Detect runs word-level recognition on the image. The context is
// checked before the CGO call; tesseract itself cannot be interrupted.
func (t *TesseractEngine) Detect(ctx context.Context, image []byte) ([]fusion.Detection, error) {
	const op = "Detect"

	if len(image) == 0 {
		return nil, WrapEngineError(op, EngineTesseract, ErrEmptyImage, "no image data")
	}
	if err := ctx.Err(); err != nil {
		return nil, WrapEngineError(op, EngineTesseract, err, "context done before recognition")
	}

	client := t.newClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return nil, WrapEngineError(op, EngineTesseract, ErrInvalidConfiguration, err.Error())
	}
	if err := client.SetImageFromBytes(image); err != nil {
		return nil, WrapEngineError(op, EngineTesseract, ErrRecognitionFailed, err.Error())
	}

	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, WrapEngineError(op, EngineTesseract, ErrRecognitionFailed, err.Error())
	}

	detections := make([]fusion.Detection, 0, len(boxes))
	for _, b := range boxes {
		if b.Word == "" {
			continue
		}
		detections = append(detections, fusion.Detection{
			Text: b.Word,
			BBox: fusion.BoundingBox{
				XMin: float64(b.Box.Min.X),
				YMin: float64(b.Box.Min.Y),
				XMax: float64(b.Box.Max.X),
				YMax: float64(b.Box.Max.Y),
			},
			Confidence: clampUnit(b.Confidence / 100),
			EngineID:   EngineTesseract,
		})
	}

	t.log.Debug().
		Int("detections", len(detections)).
		Msg("Tesseract recognition completed")

	return detections, nil
}

// Close is a no-op; clients are per-call.
func (t *TesseractEngine) Close() error { return nil }

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
