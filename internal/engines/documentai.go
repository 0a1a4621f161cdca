package engines

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"nfscan/internal/fusion"
	"nfscan/internal/logger"
)

// DocumentAIConfig holds the Document AI processor coordinates.
type DocumentAIConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

// DocumentAIEngine runs recognition through a Google Document AI OCR
// processor and emits one detection per token.
type DocumentAIEngine struct {
	client *documentai.DocumentProcessorClient
	config DocumentAIConfig
	log    zerolog.Logger
}

// NewDocumentAIEngine creates the engine with credentials from environment.
// Expects: GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS
// Requires: GOOGLE_PROJECT_ID, GOOGLE_LOCATION (e.g., "us" or "eu")
// Requires: GOOGLE_PROCESSOR_ID of an OCR processor
func NewDocumentAIEngine(ctx context.Context) (*DocumentAIEngine, error) {
	const op = "NewDocumentAIEngine"

	config := DocumentAIConfig{
		ProjectID:   getEnvVar("GOOGLE_PROJECT_ID", "GOOGLE_CLOUD_PROJECT"),
		Location:    getEnvVar("GOOGLE_LOCATION", "GOOGLE_CLOUD_LOCATION"),
		ProcessorID: getEnvVar("GOOGLE_PROCESSOR_ID", "DOCUMENT_AI_PROCESSOR_ID"),
		Timeout:     60 * time.Second,
	}

	if config.ProjectID == "" {
		return nil, WrapEngineError(op, EngineDocumentAI, ErrInvalidConfiguration, "GOOGLE_PROJECT_ID or GOOGLE_CLOUD_PROJECT is required")
	}
	if config.ProcessorID == "" {
		return nil, WrapEngineError(op, EngineDocumentAI, ErrInvalidConfiguration, "GOOGLE_PROCESSOR_ID or DOCUMENT_AI_PROCESSOR_ID is required")
	}
	if config.Location == "" {
		config.Location = "us"
	}

	var clientOptions []option.ClientOption
	if config.Location != "" && config.Location != "us" {
		endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", config.Location)
		clientOptions = append(clientOptions, option.WithEndpoint(endpoint))
	}

	if credJSON := os.Getenv("GOOGLE_CREDENTIALS"); credJSON != "" {
		clientOptions = append(clientOptions, option.WithCredentialsJSON([]byte(credJSON)))
	} else if credFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(credFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, clientOptions...)
	if err != nil {
		if len(clientOptions) == 0 {
			return nil, WrapEngineError(op, EngineDocumentAI, ErrMissingCredentials, "no credentials found in environment")
		}
		return nil, WrapEngineError(op, EngineDocumentAI, err, fmt.Sprintf("failed to create Document AI client for location: %s", config.Location))
	}

	return &DocumentAIEngine{
		client: client,
		config: config,
		log:    logger.WithComponent("documentai"),
	}, nil
}

// NewDocumentAIEngineWithConfig creates the engine with explicit config
// and client (for testing).
func NewDocumentAIEngineWithConfig(config DocumentAIConfig, client *documentai.DocumentProcessorClient) *DocumentAIEngine {
	return &DocumentAIEngine{
		client: client,
		config: config,
		log:    logger.WithComponent("documentai"),
	}
}

// ID returns the engine identifier.
func (d *DocumentAIEngine) ID() string { return EngineDocumentAI }

// Detect sends the image to the OCR processor and converts the returned
// page tokens into word-level detections.
func (d *DocumentAIEngine) Detect(ctx context.Context, image []byte) ([]fusion.Detection, error) {
	const op = "Detect"

	if len(image) == 0 {
		return nil, WrapEngineError(op, EngineDocumentAI, ErrEmptyImage, "no image data")
	}
	if len(image) > MaxImageSizeBytes {
		return nil, WrapEngineError(op, EngineDocumentAI, ErrRecognitionFailed,
			fmt.Sprintf("image size %d bytes exceeds limit", len(image)))
	}

	processCtx := ctx
	if d.config.Timeout > 0 {
		var cancel context.CancelFunc
		processCtx, cancel = context.WithTimeout(ctx, d.config.Timeout)
		defer cancel()
	}

	req := &documentaipb.ProcessRequest{
		Name: d.processorName(),
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  image,
				MimeType: http.DetectContentType(image),
			},
		},
	}

	resp, err := d.client.ProcessDocument(processCtx, req)
	if err != nil {
		return nil, d.handleProcessingError(op, err)
	}
	if resp.Document == nil {
		return nil, WrapEngineError(op, EngineDocumentAI, ErrRecognitionFailed, "no document in response")
	}

	detections := d.tokenDetections(resp.Document)

	d.log.Debug().
		Int("detections", len(detections)).
		Msg("Document AI recognition completed")

	return detections, nil
}

// processorName constructs the full processor resource name.
func (d *DocumentAIEngine) processorName() string {
	if d.config.ProcessorVersion != "" {
		return fmt.Sprintf("projects/%s/locations/%s/processors/%s/processorVersions/%s",
			d.config.ProjectID, d.config.Location, d.config.ProcessorID, d.config.ProcessorVersion)
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s",
		d.config.ProjectID, d.config.Location, d.config.ProcessorID)
}

// tokenDetections walks the document's page tokens, resolving each
// token's text through its text anchor into the shared document text.
func (d *DocumentAIEngine) tokenDetections(doc *documentaipb.Document) []fusion.Detection {
	var detections []fusion.Detection
	for _, page := range doc.Pages {
		for _, token := range page.Tokens {
			if token.Layout == nil {
				continue
			}
			text := strings.TrimSpace(anchorText(doc.Text, token.Layout.TextAnchor))
			if text == "" {
				continue
			}
			bbox, ok := layoutBounds(token.Layout, page)
			if !ok {
				continue
			}
			detections = append(detections, fusion.Detection{
				Text:       text,
				BBox:       bbox,
				Confidence: clampUnit(float64(token.Layout.Confidence)),
				EngineID:   EngineDocumentAI,
			})
		}
	}
	return detections
}

// anchorText resolves a text anchor's segments against the document text.
func anchorText(text string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil {
		return ""
	}
	var b strings.Builder
	for _, segment := range anchor.TextSegments {
		start, end := segment.StartIndex, segment.EndIndex
		if start < 0 || end > int64(len(text)) || start >= end {
			continue
		}
		b.WriteString(text[start:end])
	}
	return b.String()
}

// layoutBounds extracts the pixel bounding box of a layout, scaling
// normalized vertices by the page dimension when no pixel vertices are
// present.
func layoutBounds(layout *documentaipb.Document_Page_Layout, page *documentaipb.Document_Page) (fusion.BoundingBox, bool) {
	poly := layout.BoundingPoly
	if poly == nil {
		return fusion.BoundingBox{}, false
	}

	var xs, ys []float64
	switch {
	case len(poly.Vertices) > 0:
		for _, v := range poly.Vertices {
			xs = append(xs, float64(v.X))
			ys = append(ys, float64(v.Y))
		}
	case len(poly.NormalizedVertices) > 0 && page.Dimension != nil:
		width := float64(page.Dimension.Width)
		height := float64(page.Dimension.Height)
		for _, v := range poly.NormalizedVertices {
			xs = append(xs, float64(v.X)*width)
			ys = append(ys, float64(v.Y)*height)
		}
	default:
		return fusion.BoundingBox{}, false
	}

	bbox := fusion.BoundingBox{XMin: xs[0], YMin: ys[0], XMax: xs[0], YMax: ys[0]}
	for i := 1; i < len(xs); i++ {
		if xs[i] < bbox.XMin {
			bbox.XMin = xs[i]
		}
		if ys[i] < bbox.YMin {
			bbox.YMin = ys[i]
		}
		if xs[i] > bbox.XMax {
			bbox.XMax = xs[i]
		}
		if ys[i] > bbox.YMax {
			bbox.YMax = ys[i]
		}
	}
	return bbox, bbox.IsValid()
}

// handleProcessingError converts Document AI errors to engine errors.
func (d *DocumentAIEngine) handleProcessingError(op string, err error) error {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "PERMISSION_DENIED"):
		return WrapEngineError(op, EngineDocumentAI, ErrMissingCredentials, "insufficient permissions for Document AI")
	case strings.Contains(errStr, "NOT_FOUND"):
		return WrapEngineError(op, EngineDocumentAI, ErrInvalidConfiguration, fmt.Sprintf("processor not found: %s", d.config.ProcessorID))
	case strings.Contains(errStr, "INVALID_ARGUMENT"):
		return WrapEngineError(op, EngineDocumentAI, ErrRecognitionFailed, "image format not supported or corrupted")
	case strings.Contains(errStr, "DeadlineExceeded") || strings.Contains(errStr, "context deadline exceeded"):
		return WrapEngineError(op, EngineDocumentAI, context.DeadlineExceeded, "processing timeout")
	default:
		return WrapEngineError(op, EngineDocumentAI, ErrRecognitionFailed, fmt.Sprintf("Document AI error: %v", err))
	}
}

// Close closes the underlying Document AI client.
func (d *DocumentAIEngine) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// getEnvVar tries multiple environment variable names and returns the
// first non-empty value.
func getEnvVar(names ...string) string {
	for _, name := range names {
		if value := os.Getenv(name); value != "" {
			return value
		}
	}
	return ""
}
