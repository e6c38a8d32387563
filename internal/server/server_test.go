package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"scribe/internal/domain"
)

const testToken = "test-token"

// riffHeader is the start of a minimal WAV file, enough for sniffing.
var riffHeader = []byte("RIFF\x24\x00\x00\x00WAVEfmt ")

func TestScribeUnauthorized(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(Config{Token: testToken})

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic " + testToken},
		{"wrong token", "Bearer nope"},
	}
	for _, tc := range cases {
		body, contentType := multipartBody(t, "clip.ogg", "audio/ogg", []byte("OggS audio"), "")
		req := httptest.NewRequest(http.MethodPost, "/api/v1/scribe", body)
		req.Header.Set(echoContentType, contentType)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status %d, want 401", tc.name, rec.Code)
		}
		assertFailure(t, rec, domain.ErrorCodeUnauthorized)
	}
}

func TestScribeEmptyConfiguredTokenRejectsEverything(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(Config{Token: ""})

	body, contentType := multipartBody(t, "clip.ogg", "audio/ogg", []byte("OggS audio"), "")
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scribe", body)
	req.Header.Set(echoContentType, contentType)
	req.Header.Set("Authorization", "Bearer ")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", rec.Code)
	}
}

func TestScribeMissingAudio(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(Config{Token: testToken})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("customFields", "[]"); err != nil {
		t.Fatalf("write field failed: %v", err)
	}
	writer.Close()

	rec := doScribe(e, &buf, writer.FormDataContentType())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	assertFailure(t, rec, domain.ErrorCodeMissingAudio)
}

func TestScribeEmptyAudioPart(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(Config{Token: testToken})

	body, contentType := multipartBody(t, "clip.ogg", "audio/ogg", nil, "")
	rec := doScribe(e, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	assertFailure(t, rec, domain.ErrorCodeMissingAudio)
}

func TestScribeAudioTooLarge(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(Config{Token: testToken, MaxAudioBytes: 64})

	body, contentType := multipartBody(t, "clip.ogg", "audio/ogg", bytes.Repeat([]byte("a"), 65), "")
	rec := doScribe(e, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	assertFailure(t, rec, domain.ErrorCodeAudioTooLarge)
}

func TestScribeInvalidAudioFormat(t *testing.T) {
	t.Parallel()

	e, svc := newTestServer(Config{Token: testToken})

	body, contentType := multipartBody(t, "notes.txt", "text/plain", []byte("just text"), "")
	rec := doScribe(e, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	assertFailure(t, rec, domain.ErrorCodeInvalidAudioFormat)
	if svc.transcriber.callCount() != 0 {
		t.Fatalf("validation failure must not reach the transcriber")
	}
}

func TestScribeSniffsAmbiguousDeclaration(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(Config{Token: testToken})

	// application/octet-stream with real WAV bytes passes via sniffing.
	body, contentType := multipartBody(t, "clip.bin", "application/octet-stream", riffHeader, "")
	rec := doScribe(e, body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	// application/octet-stream with non-audio bytes does not.
	body, contentType = multipartBody(t, "clip.bin", "application/octet-stream", []byte("plain text content"), "")
	rec = doScribe(e, body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
	assertFailure(t, rec, domain.ErrorCodeInvalidAudioFormat)
}

func TestScribeSuccess(t *testing.T) {
	t.Parallel()

	e, svc := newTestServer(Config{Token: testToken})
	custom := `[{"key":"glucose","label":"Blood glucose","type":"number"}]`

	body, contentType := multipartBody(t, "clip.ogg", "audio/ogg", []byte("OggS audio"), custom)
	rec := doScribe(e, body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}

	var resp domain.ScribeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected success envelope")
	}
	if resp.Transcript == nil || *resp.Transcript != "paciente con fiebre 38.5" {
		t.Fatalf("unexpected transcript: %v", resp.Transcript)
	}
	if resp.Fields == nil || resp.Fields.Summary == nil {
		t.Fatalf("expected extracted fields in envelope")
	}
	if resp.Error != "" {
		t.Fatalf("success envelope must not carry an error code")
	}

	forwarded := svc.extractor.lastCustom()
	if len(forwarded) != 1 || forwarded[0].Key != "glucose" {
		t.Fatalf("expected custom fields forwarded to extractor, got %+v", forwarded)
	}
}

func TestScribeMalformedCustomFieldsIgnored(t *testing.T) {
	t.Parallel()

	e, svc := newTestServer(Config{Token: testToken})

	body, contentType := multipartBody(t, "clip.ogg", "audio/ogg", []byte("OggS audio"), "{not json")
	rec := doScribe(e, body, contentType)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
	if got := svc.extractor.lastCustom(); len(got) != 0 {
		t.Fatalf("malformed custom fields must yield an empty set, got %+v", got)
	}
}

func TestScribeTranscriptionFailed(t *testing.T) {
	t.Parallel()

	e, svc := newTestServer(Config{Token: testToken})
	svc.transcriber.err = errors.New("upstream 500")

	body, contentType := multipartBody(t, "clip.ogg", "audio/ogg", []byte("OggS audio"), "")
	rec := doScribe(e, body, contentType)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}
	assertFailure(t, rec, domain.ErrorCodeTranscriptionFailed)
	if svc.extractor.callCount() != 0 {
		t.Fatalf("extraction must never run without a transcript")
	}
}

func TestScribeExtractionFailedKeepsTranscript(t *testing.T) {
	t.Parallel()

	e, svc := newTestServer(Config{Token: testToken})
	svc.extractor.err = errors.New("schema refused")

	body, contentType := multipartBody(t, "clip.ogg", "audio/ogg", []byte("OggS audio"), "")
	rec := doScribe(e, body, contentType)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d, want 500", rec.Code)
	}

	var resp domain.ScribeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Success || resp.Error != domain.ErrorCodeExtractionFailed {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
	if resp.Transcript == nil || *resp.Transcript != "paciente con fiebre 38.5" {
		t.Fatalf("partial success must deliver the transcript, got %v", resp.Transcript)
	}
	if resp.Fields != nil {
		t.Fatalf("partial success must not carry fields")
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(Config{Token: testToken})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rec.Code)
	}
}

func TestResponsesCarryUUIDRequestID(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(Config{Token: testToken})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	id := rec.Header().Get("X-Request-Id")
	if id == "" {
		t.Fatalf("expected a request ID header")
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("request ID %q is not a UUID: %v", id, err)
	}
}

const echoContentType = "Content-Type"

type testService struct {
	transcriber *stubTranscriber
	extractor   *stubExtractor
}

func newTestServer(cfg Config) (http.Handler, *testService) {
	svc := &testService{
		transcriber: &stubTranscriber{text: "paciente con fiebre 38.5"},
		extractor: &stubExtractor{fields: domain.ScribeFields{
			Summary: strPtr("Paciente con fiebre."),
		}},
	}
	return New(NewService(svc.transcriber, svc.extractor), cfg), svc
}

func strPtr(s string) *string { return &s }

type stubTranscriber struct {
	text string
	err  error

	mu    sync.Mutex
	calls int
}

func (s *stubTranscriber) Transcribe(_ context.Context, _ domain.AudioBlob) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.text, s.err
}

func (s *stubTranscriber) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubExtractor struct {
	fields domain.ScribeFields
	err    error

	mu     sync.Mutex
	calls  int
	custom []domain.CustomFieldDefinition
}

func (s *stubExtractor) Extract(_ context.Context, _ string, custom []domain.CustomFieldDefinition) (domain.ScribeFields, error) {
	s.mu.Lock()
	s.calls++
	s.custom = custom
	s.mu.Unlock()
	return s.fields, s.err
}

func (s *stubExtractor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubExtractor) lastCustom() []domain.CustomFieldDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.custom
}

// multipartBody builds an authorized scribe submission body.
func multipartBody(t *testing.T, filename, mime string, data []byte, customFields string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="audio"; filename="`+filename+`"`)
	header.Set(echoContentType, mime)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part failed: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part failed: %v", err)
	}
	if customFields != "" {
		if err := writer.WriteField("customFields", customFields); err != nil {
			t.Fatalf("write field failed: %v", err)
		}
	}
	writer.Close()
	return &buf, writer.FormDataContentType()
}

func doScribe(e http.Handler, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/scribe", body)
	req.Header.Set(echoContentType, contentType)
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func assertFailure(t *testing.T, rec *httptest.ResponseRecorder, code domain.ErrorCode) {
	t.Helper()

	var resp domain.ScribeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
	if resp.Success {
		t.Fatalf("expected failure envelope, got %+v", resp)
	}
	if resp.Error != code {
		t.Fatalf("error code %q, want %q", resp.Error, code)
	}
	if resp.Transcript != nil {
		t.Fatalf("hard failure must serialize transcript as null, got %q", *resp.Transcript)
	}
	if !strings.Contains(rec.Body.String(), `"transcript":null`) {
		t.Fatalf("expected explicit null transcript in %s", rec.Body.String())
	}
}
