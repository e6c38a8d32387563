// Package openai implements the speech-to-text and structured-extraction
// providers against the OpenAI HTTP API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"scribe/internal/domain"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Config controls both providers.
type Config struct {
	APIKey  string
	BaseURL string
	// TranscribeModel is the speech-to-text model. Default whisper-1.
	TranscribeModel string
	// ExtractModel is the chat model used for structured extraction.
	ExtractModel string
	// Language constrains transcription to a specific spoken language.
	Language   string
	HTTPClient *http.Client
}

func (c Config) normalize() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.TranscribeModel == "" {
		c.TranscribeModel = "whisper-1"
	}
	if c.ExtractModel == "" {
		c.ExtractModel = "gpt-4o-mini"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 120 * time.Second}
	}
	return c
}

// Transcriber submits one audio blob per request to the transcriptions
// endpoint.
type Transcriber struct {
	cfg Config
}

func NewTranscriber(cfg Config) (*Transcriber, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is not configured")
	}
	return &Transcriber{cfg: cfg.normalize()}, nil
}

func (t *Transcriber) Transcribe(ctx context.Context, audio domain.AudioBlob) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "recording"+extensionFor(audio.MimeType))
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return "", fmt.Errorf("failed to write audio payload: %w", err)
	}
	if err := writer.WriteField("model", t.cfg.TranscribeModel); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	if t.cfg.Language != "" {
		if err := writer.WriteField("language", t.cfg.Language); err != nil {
			return "", fmt.Errorf("failed to write form field: %w", err)
		}
	}
	if err := writer.WriteField("response_format", "json"); err != nil {
		return "", fmt.Errorf("failed to write form field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL+"/audio/transcriptions", body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.cfg.APIKey)

	resp, err := t.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcription API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode transcription response: %w", err)
	}
	return strings.TrimSpace(parsed.Text), nil
}

func extensionFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return ".ogg"
	case strings.HasPrefix(mimeType, "audio/wav"), strings.HasPrefix(mimeType, "audio/x-wav"):
		return ".wav"
	case strings.HasPrefix(mimeType, "audio/webm"):
		return ".webm"
	case strings.HasPrefix(mimeType, "audio/mpeg"):
		return ".mp3"
	default:
		return ".bin"
	}
}
