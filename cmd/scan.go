package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nfscan/internal/completion"
	"nfscan/internal/config"
	"nfscan/internal/engines"
	"nfscan/internal/logger"
	"nfscan/internal/pipeline"
)

var scanCmd = &cobra.Command{
	Use:   "scan [image-file...]",
	Short: "Run multi-engine OCR over document images and extract NF-e fields",
	Long: `Process one or more document images (one image per page) through the
configured OCR engines, fuse the detections, extract the structured
NF-e fields and print the scored record.

Cloud engines require credentials:
  GOOGLE_APPLICATION_CREDENTIALS - Path to service account JSON file, OR
  GOOGLE_CREDENTIALS - Inline JSON credentials string
  GOOGLE_CLOUD_PROJECT - Google Cloud project ID (Document AI)
  DOCUMENT_AI_PROCESSOR_ID - OCR processor ID (Document AI)

The tesseract engine runs locally and needs no credentials.`,
	Example: `  # Scan a single-page DANFE with all engines
  nfscan scan danfe.png

  # Local-only recognition, record to file
  nfscan scan danfe.png --engines tesseract -o record.json

  # Multi-page document with model completion of missing fields
  nfscan scan page1.png page2.png --complete`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	scanCmd.Flags().String("engines", "vision,documentai,tesseract", "Comma-separated engine IDs to run")
	scanCmd.Flags().Int("timeout", 300, "Processing timeout in seconds")
	scanCmd.Flags().Bool("complete", false, "Fill missing free-text fields with the OpenAI completion service")
	scanCmd.Flags().Bool("pages", false, "Include fused detections per page in the output")
}

func runScan(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("scan")

	outputPath, _ := cmd.Flags().GetString("output")
	engineList, _ := cmd.Flags().GetString("engines")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")
	complete, _ := cmd.Flags().GetBool("complete")
	includePages, _ := cmd.Flags().GetBool("pages")

	log.Info().
		Strs("files", args).
		Str("engines", engineList).
		Int("timeout", timeoutSecs).
		Bool("complete", complete).
		Msg("Starting document scan")

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	engs, err := createEngines(ctx, engineList, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, eng := range engs {
			if closeErr := eng.Close(); closeErr != nil {
				log.Warn().Err(closeErr).Str("engine_id", eng.ID()).Msg("Failed to close engine")
			}
		}
	}()

	pages := make([]pipeline.PageDetections, 0, len(args))
	for _, path := range args {
		image, err := readImageFile(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to read image")
			return err
		}
		detections, err := engines.DetectAll(ctx, image, engs...)
		if err != nil {
			return handleScanError(err, log)
		}
		pages = append(pages, detections)
	}

	result, err := pipeline.New(pipelineConfigFromEnv(log)).FuseAndExtract(pages)
	if err != nil {
		log.Error().Err(err).Msg("Fusion failed")
		return fmt.Errorf("fusion failed: %w", err)
	}

	if complete {
		service, err := completion.NewChatGPTRecordService()
		if err != nil {
			return fmt.Errorf("failed to create completion service: %w", err)
		}
		completed, err := service.CompleteRecord(ctx, result.Record, result.Text)
		if err != nil {
			log.Warn().Err(err).Msg("Completion failed, returning extracted record")
		} else {
			result.Record = completed
		}
	}

	log.Info().
		Int("pages", len(pages)).
		Float64("confidence_score", result.Record.ConfidenceScore).
		Float64("extraction_ratio", result.Record.ExtractionRatio).
		Msg("Scan completed")

	if !includePages {
		result.Pages = nil
	}
	return writeJSON(result, outputPath, log)
}

// readImageFile loads and sanity-checks one page image.
func readImageFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("image file not found: %s", path)
		}
		return nil, fmt.Errorf("error accessing image file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("image file is empty: %s", path)
	}
	if info.Size() > engines.MaxImageSizeBytes {
		return nil, fmt.Errorf("image file too large (%d bytes). Maximum size is %d bytes (20MB)",
			info.Size(), engines.MaxImageSizeBytes)
	}
	return os.ReadFile(path)
}

// createEngines instantiates the requested engines. Cloud engines that
// fail to initialize are skipped with a warning so local recognition
// still works offline; an empty result is an error.
func createEngines(ctx context.Context, engineList string, log zerolog.Logger) ([]engines.Engine, error) {
	cfg, cfgErr := config.Load()

	var engs []engines.Engine
	for _, id := range strings.Split(engineList, ",") {
		switch strings.TrimSpace(id) {
		case engines.EngineTesseract:
			languages := engines.DefaultTesseractLanguages
			if cfgErr == nil {
				languages = cfg.TesseractLanguages
			}
			engs = append(engs, engines.NewTesseractEngine(languages))
		case engines.EngineVision:
			eng, err := engines.NewVisionEngine(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Vision engine unavailable, skipping")
				continue
			}
			engs = append(engs, eng)
		case engines.EngineDocumentAI:
			eng, err := engines.NewDocumentAIEngine(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("Document AI engine unavailable, skipping")
				continue
			}
			engs = append(engs, eng)
		case "":
		default:
			return nil, fmt.Errorf("unknown engine: %s", id)
		}
	}

	if len(engs) == 0 {
		return nil, fmt.Errorf("no usable engines. Check credentials or use --engines tesseract for local recognition")
	}
	return engs, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling scan")
			cancel()
		case <-ctx.Done():
			// Context completed normally
		}
	}()

	return ctx, cancel
}

// handleScanError provides user-friendly messages for recognition failures.
func handleScanError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Recognition failed")

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("recognition timed out. Try increasing --timeout or processing a smaller image")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("recognition was canceled")
	case errors.Is(err, engines.ErrMissingCredentials):
		return fmt.Errorf("Google Cloud credentials not configured. Set GOOGLE_APPLICATION_CREDENTIALS "+
			"or GOOGLE_CREDENTIALS, or use --engines tesseract for local recognition: %w", err)
	case errors.Is(err, engines.ErrAllEnginesFailed):
		return fmt.Errorf("every engine failed to produce detections: %w", err)
	default:
		return fmt.Errorf("recognition failed: %w", err)
	}
}
