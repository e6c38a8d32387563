package ports

import (
	"context"
	"errors"

	"scribe/internal/domain"
)

// ErrCaptureFinalized reports that another finalizer already took the live
// capture session. The winning finalizer owns blob delivery, so callers
// seeing this must not treat the recording as failed.
var ErrCaptureFinalized = errors.New("capture session already finalized")

// CaptureConfig describes how the microphone should be captured.
type CaptureConfig struct {
	// Encoding is the MIME type the device must produce.
	Encoding    string
	InputFormat string
	InputDevice string
}

// CaptureStream is a live device capture session. Encoded chunks arrive on
// Chunks in fixed time slices; the channel closes after Stop or on a device
// fault, after which Err reports the terminal error if any.
type CaptureStream interface {
	Chunks() <-chan []byte
	Stop() error
	Err() error
}

// CaptureDevice opens microphone capture streams.
type CaptureDevice interface {
	// Available reports whether the platform exposes a usable capture
	// facility at all.
	Available() bool
	// Supports reports whether the device can produce the given encoding.
	Supports(encoding string) bool
	Open(ctx context.Context, cfg CaptureConfig) (CaptureStream, error)
}

// CaptureEngine is the start/stop/cancel surface the session drives.
type CaptureEngine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) (domain.AudioBlob, error)
	Cancel()
	Elapsed() int
}

// Transcriber converts one audio blob to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio domain.AudioBlob) (string, error)
}

// Extractor pulls structured clinical fields out of a transcript.
type Extractor interface {
	Extract(ctx context.Context, transcript string, custom []domain.CustomFieldDefinition) (domain.ScribeFields, error)
}

// Pipeline submits one finalized recording for transcription and extraction.
type Pipeline interface {
	Submit(ctx context.Context, audio domain.AudioBlob, custom []domain.CustomFieldDefinition) (domain.ScribeResult, error)
}

// EventSink emits session state/events to the host UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	ProcessingStepChanged(step domain.ProcessingStep)
	RecordingTick(elapsedSeconds int)
	RecordingWarning(remainingSeconds int)
	SessionError(code domain.ErrorCode, detail string)
}
