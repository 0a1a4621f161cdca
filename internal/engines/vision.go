package engines

import (
	"context"
	"fmt"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"nfscan/internal/fusion"
	"nfscan/internal/logger"
)

// MaxImageSizeBytes is the maximum image size for synchronous
// processing (20MB).
const MaxImageSizeBytes = 20 * 1024 * 1024

// VisionEngine runs recognition through the Google Cloud Vision API
// using document text detection.
type VisionEngine struct {
	client *vision.ImageAnnotatorClient
	log    zerolog.Logger
}

// NewVisionEngine creates the engine with credentials from environment.
// It expects either GOOGLE_APPLICATION_CREDENTIALS path or
// GOOGLE_CREDENTIALS JSON in env, falling back to application default
// credentials.
func NewVisionEngine(ctx context.Context) (*VisionEngine, error) {
	const op = "NewVisionEngine"

	var client *vision.ImageAnnotatorClient
	var err error

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
		if err != nil {
			return nil, WrapEngineError(op, EngineVision, err, "failed to create client with GOOGLE_CREDENTIALS")
		}
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credFile))
		if err != nil {
			return nil, WrapEngineError(op, EngineVision, err, "failed to create client with GOOGLE_APPLICATION_CREDENTIALS")
		}
	} else {
		client, err = vision.NewImageAnnotatorClient(ctx)
		if err != nil {
			return nil, WrapEngineError(op, EngineVision, ErrMissingCredentials, "no credentials found in environment")
		}
	}

	return &VisionEngine{
		client: client,
		log:    logger.WithComponent("vision"),
	}, nil
}

// NewVisionEngineWithClient creates the engine with an explicit client
// (for testing).
func NewVisionEngineWithClient(client *vision.ImageAnnotatorClient) *VisionEngine {
	return &VisionEngine{
		client: client,
		log:    logger.WithComponent("vision"),
	}
}

// ID returns the engine identifier.
func (v *VisionEngine) ID() string { return EngineVision }

// Detect runs document text detection and returns one detection per
// word, with the word's pixel bounding box and confidence.
func (v *VisionEngine) Detect(ctx context.Context, image []byte) ([]fusion.Detection, error) {
	const op = "Detect"

	if len(image) == 0 {
		return nil, WrapEngineError(op, EngineVision, ErrEmptyImage, "no image data")
	}
	if len(image) > MaxImageSizeBytes {
		return nil, WrapEngineError(op, EngineVision, ErrRecognitionFailed,
			fmt.Sprintf("image size %d bytes exceeds limit", len(image)))
	}

	req := &visionpb.AnnotateImageRequest{
		Image: &visionpb.Image{Content: image},
		Features: []*visionpb.Feature{
			{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION},
		},
	}

	resp, err := v.client.AnnotateImage(ctx, req)
	if err != nil {
		return nil, WrapEngineError(op, EngineVision, ErrRecognitionFailed, fmt.Sprintf("Vision API call failed: %v", err))
	}
	if resp.Error != nil {
		return nil, WrapEngineError(op, EngineVision, ErrRecognitionFailed, fmt.Sprintf("Vision API error: %s", resp.Error.Message))
	}
	if resp.FullTextAnnotation == nil {
		return []fusion.Detection{}, nil
	}

	var detections []fusion.Detection
	for _, page := range resp.FullTextAnnotation.Pages {
		for _, block := range page.Blocks {
			for _, paragraph := range block.Paragraphs {
				for _, word := range paragraph.Words {
					det, ok := wordDetection(word)
					if ok {
						detections = append(detections, det)
					}
				}
			}
		}
	}

	v.log.Debug().
		Int("detections", len(detections)).
		Msg("Vision recognition completed")

	return detections, nil
}

// wordDetection converts one Vision word to a detection. Words without
// a usable bounding polygon are skipped.
func wordDetection(word *visionpb.Word) (fusion.Detection, bool) {
	var text strings.Builder
	for _, symbol := range word.Symbols {
		text.WriteString(symbol.Text)
	}
	if text.Len() == 0 || word.BoundingBox == nil || len(word.BoundingBox.Vertices) == 0 {
		return fusion.Detection{}, false
	}

	bbox := polyBounds(word.BoundingBox.Vertices)
	if !bbox.IsValid() {
		return fusion.Detection{}, false
	}

	return fusion.Detection{
		Text:       text.String(),
		BBox:       bbox,
		Confidence: clampUnit(float64(word.Confidence)),
		EngineID:   EngineVision,
	}, true
}

// polyBounds reduces a bounding polygon to its axis-aligned envelope.
func polyBounds(vertices []*visionpb.Vertex) fusion.BoundingBox {
	bbox := fusion.BoundingBox{
		XMin: float64(vertices[0].X),
		YMin: float64(vertices[0].Y),
		XMax: float64(vertices[0].X),
		YMax: float64(vertices[0].Y),
	}
	for _, v := range vertices[1:] {
		x, y := float64(v.X), float64(v.Y)
		if x < bbox.XMin {
			bbox.XMin = x
		}
		if y < bbox.YMin {
			bbox.YMin = y
		}
		if x > bbox.XMax {
			bbox.XMax = x
		}
		if y > bbox.YMax {
			bbox.YMax = y
		}
	}
	return bbox
}

// Close closes the underlying Vision client.
func (v *VisionEngine) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
