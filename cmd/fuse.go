package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"nfscan/internal/config"
	"nfscan/internal/engines"
	"nfscan/internal/logger"
	"nfscan/internal/pipeline"
)

var fuseCmd = &cobra.Command{
	Use:   "fuse [detections-file]",
	Short: "Fuse pre-computed OCR detections and extract NF-e fields",
	Long: `Run detection fusion, text normalization, field extraction and
confidence scoring over a JSON file of pre-computed detections.

The input file holds one object per page, keyed by engine ID:

  [
    {
      "vision":    [{"text": "...", "bbox": {"x_min": 0, ...}, "confidence": 0.9, "engine_id": "vision"}],
      "tesseract": [...]
    }
  ]

A single page object (not wrapped in an array) is also accepted.`,
	Example: `  # Fuse detections and print the record as JSON
  nfscan fuse detections.json

  # Save the record and override the engine weights
  nfscan fuse detections.json -o record.json --weights vision=0.5,tesseract=0.5

  # Include the fused detections per page in the output
  nfscan fuse detections.json --pages`,
	Args: cobra.ExactArgs(1),
	RunE: runFuse,
}

func init() {
	rootCmd.AddCommand(fuseCmd)

	fuseCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	fuseCmd.Flags().String("weights", "", "Engine weights as id=weight pairs, e.g. vision=0.4,tesseract=0.2")
	fuseCmd.Flags().Float64("iou", 0, "IoU threshold for spatial grouping (default 0.3)")
	fuseCmd.Flags().Float64("bonus", 0, "Consensus bonus for multi-engine agreement (default 0.1)")
	fuseCmd.Flags().Float64("accept-threshold", 0, "Minimum fused confidence to accept a detection (default 0.5)")
	fuseCmd.Flags().Bool("pages", false, "Include fused detections per page in the output")
}

func runFuse(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("fuse")

	outputPath, _ := cmd.Flags().GetString("output")
	weightsFlag, _ := cmd.Flags().GetString("weights")
	iou, _ := cmd.Flags().GetFloat64("iou")
	bonus, _ := cmd.Flags().GetFloat64("bonus")
	acceptThreshold, _ := cmd.Flags().GetFloat64("accept-threshold")
	includePages, _ := cmd.Flags().GetBool("pages")

	pages, err := loadDetections(args[0])
	if err != nil {
		log.Error().Err(err).Str("file", args[0]).Msg("Failed to load detections")
		return err
	}

	cfg := pipelineConfigFromEnv(log)
	if weightsFlag != "" {
		weights, err := config.ParseWeights(weightsFlag)
		if err != nil {
			return fmt.Errorf("invalid --weights: %w", err)
		}
		cfg.Weights = weights
	}
	if iou > 0 {
		cfg.Fusion.IoUThreshold = iou
	}
	if bonus > 0 {
		cfg.Fusion.ConsensusBonus = bonus
	}
	if acceptThreshold > 0 {
		cfg.AcceptThreshold = acceptThreshold
	}

	log.Info().
		Str("file", args[0]).
		Int("pages", len(pages)).
		Msg("Starting fusion")

	result, err := pipeline.New(cfg).FuseAndExtract(pages)
	if err != nil {
		log.Error().Err(err).Msg("Fusion failed")
		return fmt.Errorf("fusion failed: %w", err)
	}

	if !includePages {
		result.Pages = nil
	}
	return writeJSON(result, outputPath, log)
}

// loadDetections reads a detections file holding either an array of
// pages or a single page object.
func loadDetections(path string) ([]pipeline.PageDetections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read detections file: %w", err)
	}

	var pages []pipeline.PageDetections
	if err := json.Unmarshal(data, &pages); err == nil {
		return pages, nil
	}

	var page pipeline.PageDetections
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("detections file is neither a page array nor a page object: %w", err)
	}
	return []pipeline.PageDetections{page}, nil
}

// pipelineConfigFromEnv builds the pipeline config, falling back to
// defaults when the environment is incomplete.
func pipelineConfigFromEnv(log zerolog.Logger) pipeline.Config {
	cfg, err := config.Load()
	if err != nil {
		log.Warn().Err(err).Msg("Could not load configuration, using defaults")
		return pipeline.DefaultConfig(engines.DefaultWeights())
	}
	return cfg.GetPipelineConfig()
}

// writeJSON marshals v and writes it to the output path or stdout.
func writeJSON(v interface{}, outputPath string, log zerolog.Logger) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON output")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(data)).
			Msg("Results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(data); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	fmt.Println()
	return nil
}
