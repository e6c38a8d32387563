package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"scribe/internal/domain"
)

// Extractor pulls the structured clinical record out of a transcript with a
// schema-bound chat completion.
type Extractor struct {
	cfg Config
}

func NewExtractor(cfg Config) (*Extractor, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is not configured")
	}
	return &Extractor{cfg: cfg.normalize()}, nil
}

const extractionInstructions = `You extract structured clinical data from a transcribed doctor-patient consultation.

Rules:
- Only use information explicitly present in the transcript.
- Never infer, guess or fabricate a value. If the transcript does not mention a field, set it to null.
- Numbers must be copied as dictated; do not convert units unless the unit is stated.
- Dates must be formatted as ISO-8601 (YYYY-MM-DD).
- prescribedMedications lists only medications the clinician explicitly prescribed, one entry per medication including dosage when stated.`

func (e *Extractor) Extract(ctx context.Context, transcript string, custom []domain.CustomFieldDefinition) (domain.ScribeFields, error) {
	schemaJSON, err := json.Marshal(extractionSchema(custom))
	if err != nil {
		return domain.ScribeFields{}, fmt.Errorf("failed to marshal extraction schema: %w", err)
	}

	reqBody := map[string]any{
		"model":       e.cfg.ExtractModel,
		"temperature": 0,
		"messages": []map[string]string{
			{"role": "system", "content": extractionPrompt(custom)},
			{"role": "user", "content": transcript},
		},
		"response_format": map[string]any{
			"type": "json_schema",
			"json_schema": map[string]any{
				"name":   "clinical_record",
				"strict": true,
				"schema": json.RawMessage(schemaJSON),
			},
		},
	}
	reqData, err := json.Marshal(reqBody)
	if err != nil {
		return domain.ScribeFields{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.BaseURL+"/chat/completions", bytes.NewReader(reqData))
	if err != nil {
		return domain.ScribeFields{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)

	resp, err := e.cfg.HTTPClient.Do(req)
	if err != nil {
		return domain.ScribeFields{}, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.ScribeFields{}, fmt.Errorf("extraction API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return domain.ScribeFields{}, fmt.Errorf("failed to decode extraction response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return domain.ScribeFields{}, errors.New("no choices in extraction response")
	}

	var result domain.ScribeFields
	if err := json.Unmarshal([]byte(parsed.Choices[0].Message.Content), &result); err != nil {
		return domain.ScribeFields{}, fmt.Errorf("extraction produced invalid JSON: %w", err)
	}
	result.Extras = sanitizeExtras(result.Extras, custom)
	return result, nil
}

func extractionPrompt(custom []domain.CustomFieldDefinition) string {
	if len(custom) == 0 {
		return extractionInstructions
	}

	var b strings.Builder
	b.WriteString(extractionInstructions)
	b.WriteString("\n\nThe clinic also tracks these custom fields; fill each from the transcript or set it to null:\n")
	for _, def := range custom {
		fmt.Fprintf(&b, "- %s (%s): %s\n", def.Key, def.Type, def.Label)
	}
	return b.String()
}

// sanitizeExtras drops keys the caller never declared and values whose type
// does not match the declared field type. The schema already constrains
// both, but the result crosses a trust boundary so it is checked again.
func sanitizeExtras(extras map[string]any, custom []domain.CustomFieldDefinition) map[string]any {
	if len(extras) == 0 || len(custom) == 0 {
		return nil
	}

	declared := make(map[string]domain.FieldType, len(custom))
	for _, def := range custom {
		declared[def.Key] = def.Type
	}

	clean := make(map[string]any, len(extras))
	for key, value := range extras {
		fieldType, ok := declared[key]
		if !ok || value == nil {
			continue
		}
		switch fieldType {
		case domain.FieldTypeNumber:
			if number, ok := value.(float64); ok {
				clean[key] = number
			}
		case domain.FieldTypeBoolean:
			if flag, ok := value.(bool); ok {
				clean[key] = flag
			}
		default:
			if text, ok := value.(string); ok {
				clean[key] = text
			}
		}
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}
