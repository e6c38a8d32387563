package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"scribe/internal/domain"
	"scribe/internal/ports"
)

var (
	ErrSessionDisabled      = errors.New("scribe session is disabled")
	ErrNotRecording         = errors.New("no recording in progress")
	ErrRecordingTooShort    = errors.New("recording too short to submit")
	ErrNothingToRetry       = errors.New("no retryable submission")
	ErrNotCompleted         = errors.New("session has no completed result")
	ErrConfirmationRequired = errors.New("re-recording requires confirmation")
)

// Config controls session behavior.
type Config struct {
	CustomFields []domain.CustomFieldDefinition
	// MinDuration is the shortest recording worth submitting. Default 3s.
	MinDuration time.Duration
	// StepInterval is how long the cosmetic "transcribing" phase lasts
	// before the indicator flips to "extracting". Default 2500ms.
	StepInterval time.Duration
	Disabled     bool
}

// Callbacks are supplied by the host form. The session reports results
// through them and never touches host state itself.
type Callbacks struct {
	OnFieldsExtracted func(fields domain.ScribeFields, transcript string)
	OnClear           func()
}

// ScribeSession is the client-side state machine
// (idle → recording → processing → completed | error) owning the
// record/submit/retry lifecycle. Only one recording/processing cycle is
// active at a time.
type ScribeSession struct {
	engine   ports.CaptureEngine
	pipeline ports.Pipeline
	events   ports.EventSink
	cfg      Config
	cb       Callbacks

	mu         sync.Mutex
	starting   bool
	state      domain.SessionState
	step       domain.ProcessingStep
	retained   *domain.AudioBlob
	transcript string
	message    string
	cycle      uint64
}

func NewScribeSession(
	engine ports.CaptureEngine,
	pipeline ports.Pipeline,
	events ports.EventSink,
	cfg Config,
	cb Callbacks,
) *ScribeSession {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = 3 * time.Second
	}
	if cfg.StepInterval <= 0 {
		cfg.StepInterval = 2500 * time.Millisecond
	}
	return &ScribeSession{
		engine:   engine,
		pipeline: pipeline,
		events:   events,
		cfg:      cfg,
		cb:       cb,
		state:    domain.SessionStateIdle,
	}
}

// StartRecording begins a new capture. Starting while a cycle is already in
// flight is a no-op guard, not a queued operation.
func (s *ScribeSession) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.cfg.Disabled {
		s.mu.Unlock()
		return ErrSessionDisabled
	}
	if s.state != domain.SessionStateIdle || s.starting {
		s.mu.Unlock()
		return nil
	}
	// Reserve the cycle before releasing the lock so a concurrent start
	// cannot open a second capture.
	s.starting = true
	s.mu.Unlock()

	err := s.beginCapture(ctx, domain.SessionReasonRecordingStarted)
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
	return err
}

func (s *ScribeSession) beginCapture(ctx context.Context, reason domain.SessionStateReason) error {
	if err := s.engine.Start(ctx); err != nil {
		code := domain.ErrorCodeRecordingFailed
		var captureErr *domain.CaptureError
		if errors.As(err, &captureErr) {
			code = captureErr.Code
		}
		s.events.SessionError(code, err.Error())
		return err
	}

	s.mu.Lock()
	s.state = domain.SessionStateRecording
	s.mu.Unlock()
	s.events.SessionStateChanged(domain.SessionStateRecording, reason)
	return nil
}

// StopRecording finalizes the capture and submits it. Recordings shorter
// than the minimum are cancelled and the session returns to idle without
// any network call.
func (s *ScribeSession) StopRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.SessionStateRecording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	s.mu.Unlock()

	if s.engine.Elapsed() < int(s.cfg.MinDuration/time.Second) {
		s.engine.Cancel()
		s.toIdle(domain.SessionReasonRecordingTooShort)
		return ErrRecordingTooShort
	}

	blob, err := s.engine.Stop(ctx)
	if errors.Is(err, ports.ErrCaptureFinalized) {
		// Lost the race against the maximum-duration cutoff. The winning
		// finalizer submits the blob through HandleAutoStop, so this stop
		// must not touch session state.
		return nil
	}
	if err != nil {
		// No blob exists, so there is nothing to retry.
		code := domain.ErrorCodeRecordingFailed
		var captureErr *domain.CaptureError
		if errors.As(err, &captureErr) {
			code = captureErr.Code
		}
		s.mu.Lock()
		s.state = domain.SessionStateError
		s.message = err.Error()
		s.retained = nil
		s.mu.Unlock()
		s.events.SessionError(code, err.Error())
		s.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonCaptureFailed)
		return err
	}

	return s.process(ctx, blob, domain.SessionReasonProcessingStarted)
}

// HandleAutoStop feeds the blob finalized by the engine's maximum-duration
// cutoff into the normal submission path.
func (s *ScribeSession) HandleAutoStop(blob domain.AudioBlob) {
	s.mu.Lock()
	if s.state != domain.SessionStateRecording {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	_ = s.process(context.Background(), blob, domain.SessionReasonProcessingStarted)
}

// Retry resubmits the retained blob through the same two-step pipeline.
func (s *ScribeSession) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.state != domain.SessionStateError || s.retained == nil {
		s.mu.Unlock()
		return ErrNothingToRetry
	}
	blob := *s.retained
	s.mu.Unlock()

	return s.process(ctx, blob, domain.SessionReasonRetrying)
}

// ReRecord discards the completed result and starts a fresh capture. It is
// destructive, so the caller must pass explicit confirmation.
func (s *ScribeSession) ReRecord(ctx context.Context, confirmed bool) error {
	s.mu.Lock()
	if s.state != domain.SessionStateCompleted {
		s.mu.Unlock()
		return ErrNotCompleted
	}
	if !confirmed {
		s.mu.Unlock()
		return ErrConfirmationRequired
	}
	s.transcript = ""
	s.retained = nil
	s.message = ""
	s.state = domain.SessionStateIdle
	s.starting = true
	s.mu.Unlock()

	err := s.beginCapture(ctx, domain.SessionReasonReRecordStarted)
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
	return err
}

// ClearFields discards the completed result and notifies the host form.
func (s *ScribeSession) ClearFields() error {
	s.mu.Lock()
	if s.state != domain.SessionStateCompleted {
		s.mu.Unlock()
		return ErrNotCompleted
	}
	s.mu.Unlock()

	s.toIdle(domain.SessionReasonFieldsCleared)
	if s.cb.OnClear != nil {
		s.cb.OnClear()
	}
	return nil
}

// DismissError abandons a failed attempt, releasing any retained blob.
func (s *ScribeSession) DismissError() {
	s.mu.Lock()
	if s.state != domain.SessionStateError {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.toIdle(domain.SessionReasonErrorDismissed)
}

// Status returns a snapshot for the host UI.
func (s *ScribeSession) Status() domain.Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := domain.Status{
		State:      s.state,
		Transcript: s.transcript,
		Message:    s.message,
		CanRetry:   s.state == domain.SessionStateError && s.retained != nil,
	}
	if s.state == domain.SessionStateProcessing {
		status.Step = s.step
	}
	if s.state == domain.SessionStateRecording {
		status.Elapsed = s.engine.Elapsed()
	}
	return status
}

// Close abandons any live capture so an unmounted session never leaves the
// microphone indicator active.
func (s *ScribeSession) Close() {
	s.engine.Cancel()
	s.mu.Lock()
	if s.state == domain.SessionStateRecording {
		s.state = domain.SessionStateIdle
		s.retained = nil
		s.transcript = ""
	}
	s.mu.Unlock()
}

// process runs one submission cycle: transcription then extraction behind a
// single request, with the cosmetic step indicator ticking locally.
func (s *ScribeSession) process(ctx context.Context, blob domain.AudioBlob, reason domain.SessionStateReason) error {
	s.mu.Lock()
	s.state = domain.SessionStateProcessing
	s.step = domain.StepTranscribing
	s.message = ""
	s.cycle++
	cycle := s.cycle
	s.mu.Unlock()

	s.events.SessionStateChanged(domain.SessionStateProcessing, reason)
	s.events.ProcessingStepChanged(domain.StepTranscribing)

	stepTimer := time.AfterFunc(s.cfg.StepInterval, func() {
		s.advanceStep(cycle)
	})
	result, err := s.pipeline.Submit(ctx, blob, s.cfg.CustomFields)
	stepTimer.Stop()

	if err != nil {
		code := domain.ErrorCodeNetwork
		message := err.Error()
		transcript := ""
		var pipelineErr *domain.PipelineError
		if errors.As(err, &pipelineErr) {
			code = pipelineErr.Code
			message = pipelineErr.Message
			transcript = pipelineErr.Transcript
		}

		s.mu.Lock()
		s.state = domain.SessionStateError
		s.message = message
		// Keep the blob so retry can resubmit the same bytes, and keep the
		// transcript on the partial-success path.
		s.retained = &blob
		s.transcript = transcript
		s.mu.Unlock()

		s.events.SessionError(code, message)
		s.events.SessionStateChanged(domain.SessionStateError, domain.SessionReasonPipelineFailed)
		return err
	}

	s.mu.Lock()
	s.state = domain.SessionStateCompleted
	s.transcript = result.Transcript
	s.retained = nil
	s.mu.Unlock()

	s.events.SessionStateChanged(domain.SessionStateCompleted, domain.SessionReasonFieldsExtracted)
	if s.cb.OnFieldsExtracted != nil {
		s.cb.OnFieldsExtracted(result.Fields, result.Transcript)
	}
	return nil
}

func (s *ScribeSession) advanceStep(cycle uint64) {
	s.mu.Lock()
	if s.cycle != cycle || s.state != domain.SessionStateProcessing || s.step != domain.StepTranscribing {
		s.mu.Unlock()
		return
	}
	s.step = domain.StepExtracting
	s.mu.Unlock()
	s.events.ProcessingStepChanged(domain.StepExtracting)
}

// toIdle destroys the ephemeral recording session state.
func (s *ScribeSession) toIdle(reason domain.SessionStateReason) {
	s.mu.Lock()
	s.state = domain.SessionStateIdle
	s.step = ""
	s.retained = nil
	s.transcript = ""
	s.message = ""
	s.mu.Unlock()
	s.events.SessionStateChanged(domain.SessionStateIdle, reason)
}
