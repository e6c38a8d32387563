package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"scribe/internal/bootstrap"
	"scribe/internal/domain"
	"scribe/internal/fields"
	"scribe/internal/usecase"
)

func main() {
	log.SetPrefix("scribe: ")
	log.SetFlags(0)

	fieldsPath := flag.String("fields", "", "path to a JSON file with custom field definitions")
	flag.Parse()

	var custom []domain.CustomFieldDefinition
	if *fieldsPath != "" {
		raw, err := os.ReadFile(*fieldsPath)
		if err != nil {
			log.Fatalf("could not read custom fields: %v", err)
		}
		custom = fields.Parse(string(raw))
	}

	cb := usecase.Callbacks{
		OnFieldsExtracted: func(extracted domain.ScribeFields, transcript string) {
			fmt.Println("\nTranscript:")
			fmt.Println(transcript)
			encoded, err := json.MarshalIndent(extracted, "", "  ")
			if err != nil {
				log.Printf("could not render fields: %v", err)
				return
			}
			fmt.Println("\nExtracted fields:")
			fmt.Println(string(encoded))
		},
	}

	services, err := bootstrap.BuildClient(&consoleSink{}, usecase.Config{CustomFields: custom}, cb)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	if !services.Engine.Supported() {
		log.Fatalf("no usable microphone capture; check that %s is installed", services.Config.Capture.RecorderCommand)
	}

	session := services.Session
	defer session.Close()

	ctx := context.Background()
	if err := session.StartRecording(ctx); err != nil {
		log.Fatalf("could not start recording: %v", err)
	}
	fmt.Println("Recording... press Enter to stop.")

	stdin := bufio.NewReader(os.Stdin)
	_, _ = stdin.ReadString('\n')

	err = session.StopRecording(ctx)
	if errors.Is(err, usecase.ErrRecordingTooShort) {
		log.Fatalf("recording was too short; nothing was submitted")
	}

	for err != nil && session.Status().CanRetry {
		fmt.Printf("Submission failed: %s\nRetry? [y/N]: ", session.Status().Message)
		line, _ := stdin.ReadString('\n')
		if strings.TrimSpace(strings.ToLower(line)) != "y" {
			break
		}
		err = session.Retry(ctx)
	}

	status := session.Status()
	if status.State == domain.SessionStateError {
		session.DismissError()
		if status.Transcript != "" {
			fmt.Println("\nTranscript (field extraction failed, copy manually):")
			fmt.Println(status.Transcript)
		}
		os.Exit(1)
	}
}

// consoleSink prints session events, standing in for the host form UI.
type consoleSink struct{}

func (s *consoleSink) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	log.Printf("%s (%s)", state, reason)
}

func (s *consoleSink) ProcessingStepChanged(step domain.ProcessingStep) {
	log.Printf("%s...", step)
}

func (s *consoleSink) RecordingTick(elapsed int) {
	if elapsed%15 == 0 {
		log.Printf("recording for %ds", elapsed)
	}
}

func (s *consoleSink) RecordingWarning(remaining int) {
	log.Printf("recording stops automatically in %ds", remaining)
}

func (s *consoleSink) SessionError(code domain.ErrorCode, detail string) {
	log.Printf("error %s: %s", code, detail)
}
