package domain

// SessionState models the dictation lifecycle.
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateRecording  SessionState = "recording"
	SessionStateProcessing SessionState = "processing"
	SessionStateCompleted  SessionState = "completed"
	SessionStateError      SessionState = "error"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonReady             SessionStateReason = "ready"
	SessionReasonRecordingStarted  SessionStateReason = "recording_started"
	SessionReasonRecordingTooShort SessionStateReason = "recording_too_short"
	SessionReasonProcessingStarted SessionStateReason = "processing_started"
	SessionReasonFieldsExtracted   SessionStateReason = "fields_extracted"
	SessionReasonRetrying          SessionStateReason = "retrying"
	SessionReasonReRecordStarted   SessionStateReason = "rerecord_started"
	SessionReasonFieldsCleared     SessionStateReason = "fields_cleared"
	SessionReasonErrorDismissed    SessionStateReason = "error_dismissed"
	SessionReasonCaptureFailed     SessionStateReason = "capture_failed"
	SessionReasonPipelineFailed    SessionStateReason = "pipeline_failed"
)

// ProcessingStep is the cosmetic two-phase indicator shown while a
// submission is in flight.
type ProcessingStep string

const (
	StepTranscribing ProcessingStep = "transcribing"
	StepExtracting   ProcessingStep = "extracting"
)

// ErrorCode identifies failures across the capture, validation and
// pipeline layers.
type ErrorCode string

const (
	// Capture layer.
	ErrorCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrorCodeDeviceNotFound   ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeNotSupported     ErrorCode = "NOT_SUPPORTED"
	ErrorCodeRecordingFailed  ErrorCode = "RECORDING_FAILED"

	// Transport/validation layer.
	ErrorCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrorCodeAudioTooLarge      ErrorCode = "AUDIO_TOO_LARGE"
	ErrorCodeInvalidAudioFormat ErrorCode = "INVALID_AUDIO_FORMAT"
	ErrorCodeMissingAudio       ErrorCode = "MISSING_AUDIO"

	// Pipeline layer.
	ErrorCodeTranscriptionFailed ErrorCode = "TRANSCRIPTION_FAILED"
	ErrorCodeExtractionFailed    ErrorCode = "EXTRACTION_FAILED"

	// Client-side transport failure, never sent on the wire.
	ErrorCodeNetwork ErrorCode = "NETWORK_ERROR"
)

// CaptureError is a terminal capture-layer failure for the current attempt.
type CaptureError struct {
	Code   ErrorCode
	Detail string
}

func (e *CaptureError) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Detail
}

// PipelineError is a submission failure. Transcript is populated only when
// transcription succeeded before the failure (the partial-success path).
type PipelineError struct {
	Code       ErrorCode
	Message    string
	Transcript string
}

func (e *PipelineError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

// FieldType enumerates the value kinds a clinic-defined custom field may hold.
type FieldType string

const (
	FieldTypeText    FieldType = "text"
	FieldTypeNumber  FieldType = "number"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeDate    FieldType = "date"
)

// CustomFieldDefinition is a clinic-configured extraction target, passed
// through unmodified so the model knows what to look for.
type CustomFieldDefinition struct {
	Key   string    `json:"key"`
	Label string    `json:"label"`
	Type  FieldType `json:"type"`
}

// Vitals holds the measurements dictated during a consultation. Every field
// is independently nullable; absence means the transcript never mentioned it.
type Vitals struct {
	HeightCm      *float64 `json:"heightCm"`
	WeightKg      *float64 `json:"weightKg"`
	BloodPressure *string  `json:"bloodPressure"`
	TemperatureC  *float64 `json:"temperatureC"`
}

// ScribeFields is the structured clinical record extracted from a transcript.
// A populated field must correspond to content explicitly present in the
// transcript; absence is null, never a guessed default.
type ScribeFields struct {
	Summary               *string        `json:"summary"`
	Diagnosis             *string        `json:"diagnosis"`
	PrescribedMedications []string       `json:"prescribedMedications"`
	Vitals                *Vitals        `json:"vitals"`
	FollowUpInstructions  *string        `json:"followUpInstructions"`
	Notes                 *string        `json:"notes"`
	Extras                map[string]any `json:"extras,omitempty"`
}

// ScribeResult is a fully successful pipeline outcome.
type ScribeResult struct {
	Transcript string       `json:"transcript"`
	Fields     ScribeFields `json:"fields"`
}

// AudioBlob is one finalized in-memory recording.
type AudioBlob struct {
	Data     []byte
	MimeType string
}

// ScribeResponse is the wire envelope returned by the scribe endpoint.
// Transcript is a pointer so hard failures serialize it as null while the
// partial-success path still carries the text.
type ScribeResponse struct {
	Success    bool          `json:"success"`
	Transcript *string       `json:"transcript"`
	Fields     *ScribeFields `json:"fields,omitempty"`
	Error      ErrorCode     `json:"error,omitempty"`
}

// Status summarizes the current session for the host UI.
type Status struct {
	State      SessionState   `json:"state"`
	Step       ProcessingStep `json:"step,omitempty"`
	Elapsed    int            `json:"elapsed"`
	Transcript string         `json:"transcript,omitempty"`
	Message    string         `json:"message,omitempty"`
	CanRetry   bool           `json:"canRetry"`
}
