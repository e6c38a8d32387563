// Package server exposes the transcription/extraction service over HTTP.
package server

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"scribe/internal/domain"
	"scribe/internal/fields"
)

// DefaultMaxAudioBytes is the payload ceiling for the audio part.
const DefaultMaxAudioBytes = 25 << 20

// Config controls the HTTP surface.
type Config struct {
	// Token is the bearer token callers must present.
	Token         string
	MaxAudioBytes int64
}

// New assembles the echo application.
func New(svc *Service, cfg Config) *echo.Echo {
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = DefaultMaxAudioBytes
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	h := &handler{svc: svc, cfg: cfg}
	e.GET("/healthz", h.health)
	e.POST("/api/v1/scribe", h.scribe, h.requireAuth)
	return e
}

type handler struct {
	svc *Service
	cfg Config
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// requireAuth rejects unauthenticated callers before any payload handling.
func (h *handler) requireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || h.cfg.Token == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.Token)) != 1 {
			return failure(c, http.StatusUnauthorized, domain.ErrorCodeUnauthorized)
		}
		return next(c)
	}
}

// scribe validates the multipart submission, then runs the two-step
// pipeline. Validation failures never reach a provider.
func (h *handler) scribe(c echo.Context) error {
	fileHeader, err := c.FormFile("audio")
	if err != nil {
		return failure(c, http.StatusBadRequest, domain.ErrorCodeMissingAudio)
	}
	if fileHeader.Size > h.cfg.MaxAudioBytes {
		return failure(c, http.StatusBadRequest, domain.ErrorCodeAudioTooLarge)
	}

	file, err := fileHeader.Open()
	if err != nil {
		return failure(c, http.StatusBadRequest, domain.ErrorCodeMissingAudio)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.cfg.MaxAudioBytes+1))
	if err != nil {
		return failure(c, http.StatusBadRequest, domain.ErrorCodeMissingAudio)
	}
	if int64(len(data)) > h.cfg.MaxAudioBytes {
		return failure(c, http.StatusBadRequest, domain.ErrorCodeAudioTooLarge)
	}
	if len(data) == 0 {
		return failure(c, http.StatusBadRequest, domain.ErrorCodeMissingAudio)
	}

	declared := fileHeader.Header.Get(echo.HeaderContentType)
	if !isAudio(declared, data) {
		return failure(c, http.StatusBadRequest, domain.ErrorCodeInvalidAudioFormat)
	}

	custom := fields.Parse(c.FormValue("customFields"))

	result, err := h.svc.Process(
		c.Request().Context(),
		domain.AudioBlob{Data: data, MimeType: declared},
		custom,
	)
	if err != nil {
		var pipelineErr *domain.PipelineError
		if errors.As(err, &pipelineErr) && pipelineErr.Code == domain.ErrorCodeExtractionFailed {
			// Partial success: deliver the transcript anyway.
			return c.JSON(http.StatusInternalServerError, domain.ScribeResponse{
				Success:    false,
				Error:      domain.ErrorCodeExtractionFailed,
				Transcript: &pipelineErr.Transcript,
			})
		}
		return failure(c, http.StatusInternalServerError, domain.ErrorCodeTranscriptionFailed)
	}

	return c.JSON(http.StatusOK, domain.ScribeResponse{
		Success:    true,
		Transcript: &result.Transcript,
		Fields:     &result.Fields,
	})
}

// isAudio accepts an explicit audio declaration and falls back to content
// sniffing for ambiguous ones. Ogg payloads sniff as application/ogg, so
// that container is accepted alongside audio/*.
func isAudio(declared string, data []byte) bool {
	media := strings.ToLower(strings.TrimSpace(strings.SplitN(declared, ";", 2)[0]))
	switch {
	case strings.HasPrefix(media, "audio/"), media == "application/ogg":
		return true
	case media == "", media == "application/octet-stream":
		detected := mimetype.Detect(data)
		return strings.HasPrefix(detected.String(), "audio/") || detected.Is("application/ogg")
	default:
		return false
	}
}

func failure(c echo.Context, status int, code domain.ErrorCode) error {
	return c.JSON(status, domain.ScribeResponse{Success: false, Error: code, Transcript: nil})
}
