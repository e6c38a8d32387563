package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"scribe/internal/domain"
)

func TestSubmitSuccess(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotFilename string
	var gotPartType string
	var gotAudio []byte
	var gotCustom []domain.CustomFieldDefinition

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/scribe" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		file, header, err := r.FormFile("audio")
		if err != nil {
			t.Errorf("audio part missing: %v", err)
			http.Error(w, "bad", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFilename = header.Filename
		gotPartType = header.Header.Get("Content-Type")
		gotAudio, _ = io.ReadAll(file)

		if raw := r.FormValue("customFields"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &gotCustom); err != nil {
				t.Errorf("bad customFields payload: %v", err)
			}
		}

		transcript := "paciente con fiebre 38.5"
		summary := "Paciente con fiebre."
		_ = json.NewEncoder(w).Encode(domain.ScribeResponse{
			Success:    true,
			Transcript: &transcript,
			Fields:     &domain.ScribeFields{Summary: &summary},
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "secret", srv.Client())
	custom := []domain.CustomFieldDefinition{{Key: "glucose", Label: "Blood glucose", Type: domain.FieldTypeNumber}}

	result, err := client.Submit(context.Background(),
		domain.AudioBlob{Data: []byte("OggS audio"), MimeType: "audio/ogg; codecs=opus"}, custom)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if result.Transcript != "paciente con fiebre 38.5" {
		t.Fatalf("unexpected transcript: %q", result.Transcript)
	}
	if result.Fields.Summary == nil || *result.Fields.Summary != "Paciente con fiebre." {
		t.Fatalf("unexpected fields: %+v", result.Fields)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("unexpected auth header: %q", gotAuth)
	}
	if gotFilename != "recording.ogg" {
		t.Fatalf("unexpected filename: %q", gotFilename)
	}
	if gotPartType != "audio/ogg; codecs=opus" {
		t.Fatalf("unexpected part content type: %q", gotPartType)
	}
	if string(gotAudio) != "OggS audio" {
		t.Fatalf("unexpected audio bytes: %q", string(gotAudio))
	}
	if len(gotCustom) != 1 || gotCustom[0].Key != "glucose" {
		t.Fatalf("unexpected custom fields: %+v", gotCustom)
	}
}

func TestSubmitServerFailureCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(domain.ScribeResponse{
			Success: false,
			Error:   domain.ErrorCodeUnauthorized,
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "stale", srv.Client())
	_, err := client.Submit(context.Background(), domain.AudioBlob{Data: []byte("x"), MimeType: "audio/ogg"}, nil)

	var pipelineErr *domain.PipelineError
	if !errors.As(err, &pipelineErr) {
		t.Fatalf("expected *domain.PipelineError, got %v", err)
	}
	if pipelineErr.Code != domain.ErrorCodeUnauthorized {
		t.Fatalf("unexpected code: %s", pipelineErr.Code)
	}
	if pipelineErr.Message == "" {
		t.Fatalf("expected an actionable message")
	}
	if pipelineErr.Transcript != "" {
		t.Fatalf("hard failure must not carry a transcript")
	}
}

func TestSubmitPartialSuccessCarriesTranscript(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		transcript := "paciente con fiebre 38.5"
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(domain.ScribeResponse{
			Success:    false,
			Error:      domain.ErrorCodeExtractionFailed,
			Transcript: &transcript,
		})
	}))
	defer srv.Close()

	client := New(srv.URL, "secret", srv.Client())
	_, err := client.Submit(context.Background(), domain.AudioBlob{Data: []byte("x"), MimeType: "audio/ogg"}, nil)

	var pipelineErr *domain.PipelineError
	if !errors.As(err, &pipelineErr) {
		t.Fatalf("expected *domain.PipelineError, got %v", err)
	}
	if pipelineErr.Code != domain.ErrorCodeExtractionFailed {
		t.Fatalf("unexpected code: %s", pipelineErr.Code)
	}
	if pipelineErr.Transcript != "paciente con fiebre 38.5" {
		t.Fatalf("expected transcript on partial success, got %q", pipelineErr.Transcript)
	}
}

func TestSubmitConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	client := New(srv.URL, "secret", nil)
	_, err := client.Submit(context.Background(), domain.AudioBlob{Data: []byte("x"), MimeType: "audio/ogg"}, nil)

	var pipelineErr *domain.PipelineError
	if !errors.As(err, &pipelineErr) || pipelineErr.Code != domain.ErrorCodeNetwork {
		t.Fatalf("expected NETWORK_ERROR, got %v", err)
	}
}

func TestSubmitMalformedResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	client := New(srv.URL, "secret", srv.Client())
	_, err := client.Submit(context.Background(), domain.AudioBlob{Data: []byte("x"), MimeType: "audio/ogg"}, nil)

	var pipelineErr *domain.PipelineError
	if !errors.As(err, &pipelineErr) || pipelineErr.Code != domain.ErrorCodeNetwork {
		t.Fatalf("expected NETWORK_ERROR for malformed body, got %v", err)
	}
}

func TestFilenameFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mime string
		want string
	}{
		{"audio/ogg", "recording.ogg"},
		{"audio/ogg; codecs=opus", "recording.ogg"},
		{"audio/wav", "recording.wav"},
		{"audio/webm", "recording.webm"},
		{"application/octet-stream", "recording.bin"},
	}
	for _, tc := range cases {
		if got := filenameFor(tc.mime); got != tc.want {
			t.Fatalf("filenameFor(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}
