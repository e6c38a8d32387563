package server

import (
	"context"

	"scribe/internal/domain"
	"scribe/internal/ports"
)

// Service runs the two sequential provider calls behind one request:
// transcription, then schema-bound extraction. Extraction is never
// attempted without a transcript, and a transcript obtained before an
// extraction failure is preserved rather than discarded.
//
// Each call is idempotent: resubmitting the same audio simply repeats both
// steps against the same bytes.
type Service struct {
	transcriber ports.Transcriber
	extractor   ports.Extractor
}

func NewService(transcriber ports.Transcriber, extractor ports.Extractor) *Service {
	return &Service{transcriber: transcriber, extractor: extractor}
}

func (s *Service) Process(ctx context.Context, audio domain.AudioBlob, custom []domain.CustomFieldDefinition) (domain.ScribeResult, error) {
	transcript, err := s.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return domain.ScribeResult{}, &domain.PipelineError{
			Code:    domain.ErrorCodeTranscriptionFailed,
			Message: err.Error(),
		}
	}

	extracted, err := s.extractor.Extract(ctx, transcript, custom)
	if err != nil {
		return domain.ScribeResult{}, &domain.PipelineError{
			Code:       domain.ErrorCodeExtractionFailed,
			Message:    err.Error(),
			Transcript: transcript,
		}
	}

	return domain.ScribeResult{Transcript: transcript, Fields: extracted}, nil
}
