package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"nfscan/internal/engines"
	"nfscan/internal/fusion"
	"nfscan/internal/logger"
	"nfscan/internal/pipeline"
)

type Config struct {
	// Fusion Configuration
	EngineWeights   fusion.EngineWeights
	IoUThreshold    float64
	ConsensusBonus  float64
	FallbackWeight  float64
	AcceptThreshold float64

	// Tesseract Configuration
	TesseractLanguages []string

	// Google Cloud Configuration
	GoogleCloudProject         string
	GoogleCloudLocation        string
	DocumentAIProcessorID      string
	DocumentAIProcessorVersion string

	// OpenAI Configuration
	OpenAIAPIKey string
	OpenAIModel  string

	// Logging Configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads configuration from the environment. Fusion tunables are
// optional and fall back to the package defaults; cloud credentials are
// only validated by the engines that need them.
func Load() (*Config, error) {
	weights, err := ParseWeights(getEnv("ENGINE_WEIGHTS", ""))
	if err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config := &Config{
		EngineWeights:              weights,
		IoUThreshold:               getFloatEnv("FUSION_IOU_THRESHOLD", fusion.DefaultIoUThreshold),
		ConsensusBonus:             getFloatEnv("FUSION_CONSENSUS_BONUS", fusion.DefaultConsensusBonus),
		FallbackWeight:             getFloatEnv("FUSION_FALLBACK_WEIGHT", fusion.DefaultFallbackWeight),
		AcceptThreshold:            getFloatEnv("ACCEPT_THRESHOLD", pipeline.DefaultAcceptThreshold),
		TesseractLanguages:         splitList(getEnv("TESSERACT_LANGUAGES", "por,eng")),
		GoogleCloudProject:         getEnv("GOOGLE_CLOUD_PROJECT", ""),
		GoogleCloudLocation:        getEnv("GOOGLE_CLOUD_LOCATION", "us"),
		DocumentAIProcessorID:      getEnv("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocumentAIProcessorVersion: getEnv("DOCUMENT_AI_PROCESSOR_VERSION", ""),
		OpenAIAPIKey:               getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:                getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFormat:                  getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:              getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:                  getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if c.IoUThreshold <= 0 || c.IoUThreshold >= 1 {
		return fmt.Errorf("FUSION_IOU_THRESHOLD must be in (0, 1), got %g", c.IoUThreshold)
	}
	if c.ConsensusBonus < 0 || c.ConsensusBonus > 1 {
		return fmt.Errorf("FUSION_CONSENSUS_BONUS must be in [0, 1], got %g", c.ConsensusBonus)
	}
	if c.FallbackWeight <= 0 || c.FallbackWeight > 1 {
		return fmt.Errorf("FUSION_FALLBACK_WEIGHT must be in (0, 1], got %g", c.FallbackWeight)
	}
	if c.AcceptThreshold < 0 || c.AcceptThreshold > 1 {
		return fmt.Errorf("ACCEPT_THRESHOLD must be in [0, 1], got %g", c.AcceptThreshold)
	}
	for id, w := range c.EngineWeights {
		if w <= 0 || w > 1 {
			return fmt.Errorf("ENGINE_WEIGHTS: weight for %q must be in (0, 1], got %g", id, w)
		}
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// GetPipelineConfig returns the pipeline configuration derived from the
// fusion tunables.
func (c *Config) GetPipelineConfig() pipeline.Config {
	return pipeline.Config{
		Weights: c.EngineWeights,
		Fusion: fusion.Config{
			IoUThreshold:   c.IoUThreshold,
			ConsensusBonus: c.ConsensusBonus,
			FallbackWeight: c.FallbackWeight,
		},
		AcceptThreshold: c.AcceptThreshold,
	}
}

// ParseWeights parses an engine-weight list of the form
// "vision=0.4,documentai=0.4,tesseract=0.2". An empty value yields the
// default weights.
func ParseWeights(raw string) (fusion.EngineWeights, error) {
	if strings.TrimSpace(raw) == "" {
		return engines.DefaultWeights(), nil
	}
	weights := fusion.EngineWeights{}
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("ENGINE_WEIGHTS: malformed entry %q", pair)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("ENGINE_WEIGHTS: invalid weight in %q: %w", pair, err)
		}
		weights[strings.TrimSpace(parts[0])] = w
	}
	return weights, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
