package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"scribe/internal/domain"
	"scribe/internal/ports"
)

const ffmpegChunkSize = 32 * 1024

// FFMPEGDevice captures encoded microphone audio using ffmpeg.
type FFMPEGDevice struct {
	command string

	encodersOnce sync.Once
	encoders     string
}

func NewFFMPEGDevice(command string) *FFMPEGDevice {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGDevice{command: command}
}

func (d *FFMPEGDevice) Available() bool {
	_, err := exec.LookPath(d.command)
	return err == nil
}

func (d *FFMPEGDevice) Supports(encoding string) bool {
	encoder := encoderFor(encoding)
	if encoder == "" {
		return false
	}
	d.encodersOnce.Do(func() {
		out, err := exec.Command(d.command, "-hide_banner", "-encoders").Output()
		if err != nil {
			return
		}
		d.encoders = string(out)
	})
	return strings.Contains(d.encoders, encoder)
}

func encoderFor(encoding string) string {
	switch encoding {
	case "audio/ogg":
		return "libopus"
	case "audio/wav":
		return "pcm_s16le"
	default:
		return ""
	}
}

func containerFor(encoding string) string {
	switch encoding {
	case "audio/ogg":
		return "ogg"
	case "audio/wav":
		return "wav"
	default:
		return ""
	}
}

func (d *FFMPEGDevice) Open(ctx context.Context, cfg ports.CaptureConfig) (ports.CaptureStream, error) {
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}
	encoder := encoderFor(cfg.Encoding)
	container := containerFor(cfg.Encoding)
	if encoder == "" || container == "" {
		return nil, &domain.CaptureError{Code: domain.ErrorCodeNotSupported, Detail: fmt.Sprintf("unsupported encoding %q", cfg.Encoding)}
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", encoder,
		"-f", container,
		"-",
	}

	cmd := exec.CommandContext(ctx, d.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, &domain.CaptureError{Code: domain.ErrorCodeRecordingFailed, Detail: err.Error()}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		_ = stdout.Close()
		detail := trimStderr(stderr.String())
		if err != nil && detail == "" {
			detail = err.Error()
		}
		return nil, classifyStartFailure(detail)
	case <-time.After(250 * time.Millisecond):
	}

	stream := &ffmpegStream{
		stdout:  stdout,
		stderr:  &stderr,
		process: cmd.Process,
		waitErr: waitErr,
		chunks:  make(chan []byte, 16),
	}
	go stream.pump()
	return stream, nil
}

// classifyStartFailure maps ffmpeg's startup stderr onto capture error codes.
func classifyStartFailure(detail string) *domain.CaptureError {
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"):
		return &domain.CaptureError{Code: domain.ErrorCodePermissionDenied, Detail: detail}
	case strings.Contains(lower, "no such"), strings.Contains(lower, "not found"), strings.Contains(lower, "cannot open"):
		return &domain.CaptureError{Code: domain.ErrorCodeDeviceNotFound, Detail: detail}
	default:
		if detail == "" {
			detail = "ffmpeg exited before capture started"
		}
		return &domain.CaptureError{Code: domain.ErrorCodeRecordingFailed, Detail: detail}
	}
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	chunks chan []byte

	errMu sync.Mutex
	err   error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Chunks() <-chan []byte {
	return s.chunks
}

// pump slices encoder output into chunks until the process stops.
func (s *ffmpegStream) pump() {
	defer close(s.chunks)

	buf := make([]byte, ffmpegChunkSize)
	for {
		n, err := s.stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.chunks <- chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.setErr(err)
			}
			return
		}
	}
}

func (s *ffmpegStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *ffmpegStream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimStderr(s.stderr.String()))
		}
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimStderr(input string) string {
	return strings.TrimSpace(input)
}
