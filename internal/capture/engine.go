package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"scribe/internal/domain"
	"scribe/internal/ports"
)

var (
	ErrCaptureActive    = errors.New("a capture session is already active")
	ErrNoActiveCapture  = errors.New("no active capture session")
	ErrCaptureCancelled = errors.New("capture session cancelled")
)

// candidateEncodings is the fixed preference order: compressed
// general-purpose codec first, widely-compatible fallback second. The first
// supported one is locked in for the lifetime of the engine.
var candidateEncodings = []string{"audio/ogg", "audio/wav"}

// Config controls recording limits and device selection.
type Config struct {
	// MaxDuration is the hard auto-stop cutoff. Default 900s.
	MaxDuration time.Duration
	// WarningLead is how long before the cutoff OnWarning fires. Default 30s.
	WarningLead time.Duration
	// TickInterval is the wall-clock tick granularity. One tick counts as
	// one elapsed second regardless of interval, so tests can compress time.
	TickInterval time.Duration
	Device       ports.CaptureConfig
}

// Callbacks are background notifications. They are plain calls, never
// errors: a callback cannot fail the session.
type Callbacks struct {
	OnTick     func(elapsedSeconds int)
	OnWarning  func(remainingSeconds int)
	OnAutoStop func(blob domain.AudioBlob)
}

// Engine wraps a capture device into a start/stop/cancel surface with
// duration tracking, a hard maximum-duration cutoff and a pre-cutoff
// warning. It produces a single encoded blob per recording session.
type Engine struct {
	device ports.CaptureDevice
	cfg    Config
	cb     Callbacks

	encodingOnce sync.Once
	encoding     string

	mu       sync.Mutex
	current  *captureSession
	starting bool
}

func NewEngine(device ports.CaptureDevice, cfg Config, cb Callbacks) *Engine {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = 900 * time.Second
	}
	if cfg.WarningLead <= 0 {
		cfg.WarningLead = 30 * time.Second
	}
	if cfg.WarningLead >= cfg.MaxDuration {
		// The warning must still precede the cutoff for short limits.
		cfg.WarningLead = cfg.MaxDuration / 2
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = time.Second
	}
	return &Engine{device: device, cfg: cfg, cb: cb}
}

// Supported reports whether the platform exposes a usable capture facility
// and at least one candidate encoding is supported.
func (e *Engine) Supported() bool {
	return e.device.Available() && e.lockedEncoding() != ""
}

func (e *Engine) lockedEncoding() string {
	e.encodingOnce.Do(func() {
		for _, enc := range candidateEncodings {
			if e.device.Supports(enc) {
				e.encoding = enc
				return
			}
		}
	})
	return e.encoding
}

// Start opens the device and begins encoding in time-sliced chunks along
// with the wall-clock tick. On failure every acquired resource is released
// before the error is surfaced.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.current != nil || e.starting {
		e.mu.Unlock()
		return ErrCaptureActive
	}
	// Reserve the slot so a concurrent Start cannot double-open the device
	// while this one is still probing.
	e.starting = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.starting = false
		e.mu.Unlock()
	}()

	if !e.device.Available() {
		return &domain.CaptureError{Code: domain.ErrorCodeDeviceNotFound, Detail: "no audio input device available"}
	}
	encoding := e.lockedEncoding()
	if encoding == "" {
		return &domain.CaptureError{Code: domain.ErrorCodeNotSupported, Detail: "no supported audio encoding"}
	}

	deviceCfg := e.cfg.Device
	deviceCfg.Encoding = encoding
	stream, err := e.device.Open(ctx, deviceCfg)
	if err != nil {
		var captureErr *domain.CaptureError
		if errors.As(err, &captureErr) {
			return captureErr
		}
		return &domain.CaptureError{Code: domain.ErrorCodeRecordingFailed, Detail: err.Error()}
	}

	sess := &captureSession{
		stream:      stream,
		encoding:    encoding,
		tickStop:    make(chan struct{}),
		collectDone: make(chan struct{}),
	}

	e.mu.Lock()
	e.current = sess
	e.mu.Unlock()

	go sess.collect()
	go e.tickLoop(sess)
	return nil
}

// Stop finalizes the encoder, releases the device and returns the
// concatenated chunks tagged with the locked-in encoding.
func (e *Engine) Stop(ctx context.Context) (domain.AudioBlob, error) {
	e.mu.Lock()
	sess := e.current
	e.mu.Unlock()
	if sess == nil {
		return domain.AudioBlob{}, ErrNoActiveCapture
	}
	if !sess.claim() {
		// Auto-stop or a racing caller already took this session; the
		// winning finalizer delivers the blob.
		return domain.AudioBlob{}, ports.ErrCaptureFinalized
	}

	blob, err := e.finalize(ctx, sess)
	e.clear(sess)
	return blob, err
}

// Cancel tears the session down discarding buffered chunks. Any in-flight
// Stop fails with ErrCaptureCancelled instead of resolving.
func (e *Engine) Cancel() {
	e.mu.Lock()
	sess := e.current
	e.current = nil
	e.mu.Unlock()
	if sess == nil {
		return
	}
	sess.cancelled.Store(true)
	sess.teardown()
}

// Elapsed returns the current session duration in whole seconds.
func (e *Engine) Elapsed() int {
	e.mu.Lock()
	sess := e.current
	e.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.getElapsed()
}

// Close releases any live capture resources. Safe to call at any time.
func (e *Engine) Close() {
	e.Cancel()
}

func (e *Engine) tickLoop(sess *captureSession) {
	maxSeconds := int(e.cfg.MaxDuration / time.Second)
	warnSeconds := int(e.cfg.WarningLead / time.Second)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.tickStop:
			return
		case <-ticker.C:
		}

		elapsed := sess.addSecond()
		if e.cb.OnTick != nil {
			e.cb.OnTick(elapsed)
		}
		if elapsed == maxSeconds-warnSeconds && sess.markWarned() && e.cb.OnWarning != nil {
			e.cb.OnWarning(warnSeconds)
		}
		if elapsed >= maxSeconds {
			e.autoStop(sess)
			return
		}
	}
}

func (e *Engine) autoStop(sess *captureSession) {
	if !sess.claim() {
		// A caller-driven stop won the race; teardown is its problem now.
		return
	}
	blob, err := e.finalize(context.Background(), sess)
	if err != nil {
		e.clear(sess)
		return
	}
	// The session stays current until delivery finishes, so a racing Stop
	// keeps seeing a claimed session instead of a vanished one.
	if e.cb.OnAutoStop != nil {
		e.cb.OnAutoStop(blob)
	}
	e.clear(sess)
}

// finalize is the single teardown/assembly path shared by Stop and
// auto-stop. Teardown itself is idempotent, so the race loser no-ops.
func (e *Engine) finalize(ctx context.Context, sess *captureSession) (domain.AudioBlob, error) {
	sess.teardown()

	select {
	case <-sess.collectDone:
	case <-ctx.Done():
		return domain.AudioBlob{}, ctx.Err()
	}

	if sess.cancelled.Load() {
		return domain.AudioBlob{}, ErrCaptureCancelled
	}
	if err := sess.stream.Err(); err != nil {
		return domain.AudioBlob{}, &domain.CaptureError{Code: domain.ErrorCodeRecordingFailed, Detail: err.Error()}
	}
	return domain.AudioBlob{Data: sess.assemble(), MimeType: sess.encoding}, nil
}

func (e *Engine) clear(sess *captureSession) {
	e.mu.Lock()
	if e.current == sess {
		e.current = nil
	}
	e.mu.Unlock()
}

type captureSession struct {
	stream   ports.CaptureStream
	encoding string

	tickStop    chan struct{}
	collectDone chan struct{}

	cancelled atomic.Bool
	claimed   atomic.Bool

	teardownOnce sync.Once

	mu      sync.Mutex
	chunks  [][]byte
	elapsed int
	warned  bool
}

// collect drains encoded chunks so partial data stays recoverable even
// under abnormal termination.
func (s *captureSession) collect() {
	defer close(s.collectDone)
	for chunk := range s.stream.Chunks() {
		if len(chunk) == 0 {
			continue
		}
		s.mu.Lock()
		s.chunks = append(s.chunks, chunk)
		s.mu.Unlock()
	}
}

// teardown stops the tick and releases the device handle. The tick channel
// closes first so no tick can fire after the handle is released.
func (s *captureSession) teardown() {
	s.teardownOnce.Do(func() {
		close(s.tickStop)
		_ = s.stream.Stop()
	})
}

// claim marks the session as taken by exactly one finalizer.
func (s *captureSession) claim() bool {
	return s.claimed.CompareAndSwap(false, true)
}

func (s *captureSession) addSecond() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elapsed++
	return s.elapsed
}

func (s *captureSession) getElapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

func (s *captureSession) markWarned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.warned {
		return false
	}
	s.warned = true
	return true
}

func (s *captureSession) assemble() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, chunk := range s.chunks {
		total += len(chunk)
	}
	blob := make([]byte, 0, total)
	for _, chunk := range s.chunks {
		blob = append(blob, chunk...)
	}
	return blob
}
