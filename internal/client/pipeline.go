// Package client submits finalized recordings to a running scribe server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"scribe/internal/domain"
)

// Client implements ports.Pipeline over the scribe HTTP endpoint.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func New(baseURL string, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 180 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Submit uploads one blob plus the custom-field definitions and decodes the
// response envelope. Failures come back as *domain.PipelineError so the
// session can distinguish partial success from hard failure.
func (c *Client) Submit(ctx context.Context, audio domain.AudioBlob, custom []domain.CustomFieldDefinition) (domain.ScribeResult, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	partHeader := make(textproto.MIMEHeader)
	partHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="audio"; filename="%s"`, filenameFor(audio.MimeType)))
	partHeader.Set("Content-Type", audio.MimeType)
	part, err := writer.CreatePart(partHeader)
	if err != nil {
		return domain.ScribeResult{}, networkError(err)
	}
	if _, err := part.Write(audio.Data); err != nil {
		return domain.ScribeResult{}, networkError(err)
	}

	customJSON, err := json.Marshal(custom)
	if err != nil {
		return domain.ScribeResult{}, networkError(err)
	}
	if err := writer.WriteField("customFields", string(customJSON)); err != nil {
		return domain.ScribeResult{}, networkError(err)
	}
	if err := writer.Close(); err != nil {
		return domain.ScribeResult{}, networkError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/scribe", body)
	if err != nil {
		return domain.ScribeResult{}, networkError(err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.ScribeResult{}, networkError(err)
	}
	defer resp.Body.Close()

	var parsed domain.ScribeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&parsed); err != nil {
		return domain.ScribeResult{}, networkError(fmt.Errorf("malformed server response: %w", err))
	}

	if !parsed.Success {
		code := parsed.Error
		if code == "" {
			code = domain.ErrorCodeNetwork
		}
		pipelineErr := &domain.PipelineError{Code: code, Message: messageFor(code)}
		if parsed.Transcript != nil {
			pipelineErr.Transcript = *parsed.Transcript
		}
		return domain.ScribeResult{}, pipelineErr
	}

	result := domain.ScribeResult{}
	if parsed.Transcript != nil {
		result.Transcript = *parsed.Transcript
	}
	if parsed.Fields != nil {
		result.Fields = *parsed.Fields
	}
	return result, nil
}

func networkError(err error) *domain.PipelineError {
	return &domain.PipelineError{Code: domain.ErrorCodeNetwork, Message: err.Error()}
}

// messageFor maps wire codes onto human-readable messages carrying an
// actionable next step.
func messageFor(code domain.ErrorCode) string {
	switch code {
	case domain.ErrorCodeUnauthorized:
		return "Your session is no longer valid. Sign in again."
	case domain.ErrorCodeAudioTooLarge:
		return "The recording is too large to process. Record a shorter note."
	case domain.ErrorCodeInvalidAudioFormat:
		return "The recording format was not recognized. Record again."
	case domain.ErrorCodeMissingAudio:
		return "No audio was received. Record again."
	case domain.ErrorCodeTranscriptionFailed:
		return "Transcription failed. Retry the submission."
	case domain.ErrorCodeExtractionFailed:
		return "The transcript is ready but field extraction failed. Retry, or copy the transcript manually."
	default:
		return "The submission could not be completed. Check the connection and retry."
	}
}

func filenameFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/ogg"):
		return "recording.ogg"
	case strings.HasPrefix(mimeType, "audio/wav"):
		return "recording.wav"
	case strings.HasPrefix(mimeType, "audio/webm"):
		return "recording.webm"
	default:
		return "recording.bin"
	}
}
