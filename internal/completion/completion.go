// Package completion fills gaps in an extracted document record using a
// chat model over the normalized OCR text.
//
// Only free-text and weakly-validated fields are completable. Fields
// protected by a checksum (tax IDs, access key) and monetary amounts are
// never requested from the model: a value that cannot be verified
// locally must come from the deterministic extractor or stay absent.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"nfscan/internal/logger"
	"nfscan/pkg/models"
)

// CompletableFields lists the schema slots the model is allowed to fill.
var CompletableFields = []string{
	models.FieldInvoiceNumber,
	models.FieldSeries,
	models.FieldIssueDate,
	models.FieldDepartureDate,
	models.FieldIssuerName,
	models.FieldRecipientName,
	models.FieldIssuerStateRegistration,
}

// DefaultFieldConfidence is assigned to model-completed fields. It sits
// below every extractor-assigned confidence band so downstream consumers
// can tell the sources apart.
const DefaultFieldConfidence = 60.0

// RecordCompletionService fills missing record fields from OCR text.
type RecordCompletionService interface {
	// MissingFields returns the completable fields absent from the record.
	MissingFields(rec *models.DocumentRecord) []string

	// CompleteRecord returns a copy of the record with absent completable
	// fields filled from the text. Present fields are never overwritten.
	CompleteRecord(ctx context.Context, rec *models.DocumentRecord, text string) (*models.DocumentRecord, error)
}

// CompletionConfig configures the record completion service.
type CompletionConfig struct {
	OpenAIModel     string  // gpt-4o-mini, gpt-3.5-turbo
	Temperature     float32 // chat temperature
	MaxRetries      int     // request retry attempts
	FieldConfidence float64 // confidence assigned to completed fields
}

// ChatGPTRecordService implements RecordCompletionService with the
// OpenAI chat API.
type ChatGPTRecordService struct {
	client *openai.Client
	config CompletionConfig
	log    zerolog.Logger
}

// NewChatGPTRecordService creates the service with configuration from
// environment. Requires OPENAI_API_KEY.
func NewChatGPTRecordService() (RecordCompletionService, error) {
	const op = "NewChatGPTRecordService"

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("%s: OPENAI_API_KEY environment variable is required", op)
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	config := CompletionConfig{
		OpenAIModel:     model,
		Temperature:     parseFloatEnv("OPENAI_TEMPERATURE", 0.1),
		MaxRetries:      parseIntEnv("COMPLETION_MAX_RETRIES", 3),
		FieldConfidence: DefaultFieldConfidence,
	}

	return NewChatGPTRecordServiceWithDeps(openai.NewClient(apiKey), config), nil
}

// NewChatGPTRecordServiceWithDeps creates the service with explicit
// dependencies (for testing).
func NewChatGPTRecordServiceWithDeps(client *openai.Client, config CompletionConfig) RecordCompletionService {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.FieldConfidence <= 0 {
		config.FieldConfidence = DefaultFieldConfidence
	}
	return &ChatGPTRecordService{
		client: client,
		config: config,
		log:    logger.WithComponent("completion"),
	}
}

// MissingFields returns the completable fields absent from the record.
func (s *ChatGPTRecordService) MissingFields(rec *models.DocumentRecord) []string {
	var missing []string
	for _, name := range CompletableFields {
		if !rec.Field(name).Present {
			missing = append(missing, name)
		}
	}
	return missing
}

// CompleteRecord fills absent completable fields from the text.
func (s *ChatGPTRecordService) CompleteRecord(ctx context.Context, rec *models.DocumentRecord, text string) (*models.DocumentRecord, error) {
	const op = "CompleteRecord"

	missing := s.MissingFields(rec)
	if len(missing) == 0 {
		s.log.Info().Msg("Record is already complete")
		return rec, nil
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%s: no text to complete from", op)
	}

	s.log.Info().
		Strs("missing_fields", missing).
		Str("model", s.config.OpenAIModel).
		Msg("Completing record fields")

	values, err := s.requestFields(ctx, text, missing)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := rec.Clone()
	for _, name := range missing {
		value := strings.TrimSpace(values[name])
		if value == "" {
			continue
		}
		f := models.ExtractedField{
			Name:       name,
			Value:      value,
			Present:    true,
			Valid:      true,
			Confidence: s.config.FieldConfidence,
		}
		if name == models.FieldIssueDate || name == models.FieldDepartureDate {
			parsed, err := time.Parse("02/01/2006", value)
			if err != nil {
				s.log.Warn().Err(err).Str("field", name).Str("value", value).Msg("Failed to parse completed date")
				continue
			}
			f.Date = parsed
		}
		out.SetField(f)
	}
	out.ExtractionRatio = float64(out.PresentCount()) / float64(models.FieldCount)

	s.log.Info().
		Int("present_fields", out.PresentCount()).
		Float64("extraction_ratio", out.ExtractionRatio).
		Msg("Record completion finished")

	return out, nil
}

// requestFields asks the model for the missing fields and parses its
// JSON answer, retrying on transport or parse failures.
func (s *ChatGPTRecordService) requestFields(ctx context.Context, text string, missing []string) (map[string]string, error) {
	prompt := s.buildPrompt(text, missing)

	var lastErr error
	for attempt := 1; attempt <= s.config.MaxRetries; attempt++ {
		resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       s.config.OpenAIModel,
			Temperature: s.config.Temperature,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			MaxTokens: 500,
		})
		if err != nil {
			lastErr = err
			s.log.Warn().
				Err(err).
				Int("attempt", attempt).
				Int("max_retries", s.config.MaxRetries).
				Msg("Chat request failed, retrying")
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("no response choices")
			continue
		}

		content := resp.Choices[0].Message.Content
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(content), &raw); err != nil {
			lastErr = fmt.Errorf("failed to parse JSON response: %w", err)
			s.log.Warn().
				Err(err).
				Str("response", content).
				Int("attempt", attempt).
				Msg("Failed to parse chat response, retrying")
			continue
		}

		values := make(map[string]string, len(missing))
		for _, name := range missing {
			values[name] = getString(raw, name)
		}
		return values, nil
	}

	return nil, fmt.Errorf("all %d attempts failed, last error: %w", s.config.MaxRetries, lastErr)
}

const systemPrompt = `Você analisa o texto OCR de um DANFE (Documento Auxiliar da Nota Fiscal Eletrônica) brasileiro e extrai campos que o extrator determinístico não encontrou.

REGRAS:
- Responda APENAS com JSON válido, sem texto antes ou depois
- Use null para valores que não constam no texto
- Datas no formato DD/MM/AAAA
- Nunca invente valores: se o campo não está no texto, use null
- Sem vírgula após o último campo`

// buildPrompt creates the user prompt listing only the missing fields.
func (s *ChatGPTRecordService) buildPrompt(text string, missing []string) string {
	var prompt strings.Builder

	prompt.WriteString("Extraia os campos faltantes deste texto OCR de um DANFE:\n\n")
	prompt.WriteString(text)
	prompt.WriteString("\n\nRetorne JSON com estes campos:\n{\n")

	for _, name := range missing {
		switch name {
		case models.FieldInvoiceNumber:
			prompt.WriteString(`  "invoice_number": "número da nota fiscal (somente dígitos)",` + "\n")
		case models.FieldSeries:
			prompt.WriteString(`  "series": "série da nota (somente dígitos)",` + "\n")
		case models.FieldIssueDate:
			prompt.WriteString(`  "issue_date": "DD/MM/AAAA",` + "\n")
		case models.FieldDepartureDate:
			prompt.WriteString(`  "departure_date": "DD/MM/AAAA",` + "\n")
		case models.FieldIssuerName:
			prompt.WriteString(`  "issuer_name": "razão social do emitente",` + "\n")
		case models.FieldRecipientName:
			prompt.WriteString(`  "recipient_name": "nome do destinatário",` + "\n")
		case models.FieldIssuerStateRegistration:
			prompt.WriteString(`  "issuer_state_registration": "inscrição estadual do emitente",` + "\n")
		}
	}

	prompt.WriteString("}\n\nAPENAS JSON válido, sem vírgula final!")
	return prompt.String()
}

// getString safely extracts a string value from a decoded JSON map.
func getString(m map[string]interface{}, key string) string {
	if value, exists := m[key]; exists && value != nil {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return ""
}

func parseIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func parseFloatEnv(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(parsed)
		}
	}
	return defaultValue
}
