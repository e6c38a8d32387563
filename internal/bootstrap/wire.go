package bootstrap

import (
	"sync"

	"github.com/labstack/echo/v4"

	"scribe/internal/capture"
	"scribe/internal/client"
	"scribe/internal/config"
	"scribe/internal/domain"
	"scribe/internal/ports"
	"scribe/internal/providers/openai"
	"scribe/internal/server"
	"scribe/internal/usecase"
)

// ServerServices is the assembled daemon graph.
type ServerServices struct {
	Echo   *echo.Echo
	Config config.Config
}

// BuildServer wires the HTTP service and its providers.
func BuildServer() (ServerServices, error) {
	cfg, err := config.Load()
	if err != nil {
		return ServerServices{}, err
	}

	providerCfg := openai.Config{
		APIKey:          cfg.OpenAI.APIKey,
		BaseURL:         cfg.OpenAI.APIBaseURL,
		TranscribeModel: cfg.OpenAI.TranscribeModel,
		ExtractModel:    cfg.OpenAI.ExtractModel,
		Language:        cfg.OpenAI.Language,
	}
	transcriber, err := openai.NewTranscriber(providerCfg)
	if err != nil {
		return ServerServices{}, err
	}
	extractor, err := openai.NewExtractor(providerCfg)
	if err != nil {
		return ServerServices{}, err
	}

	svc := server.NewService(transcriber, extractor)
	e := server.New(svc, server.Config{
		Token:         cfg.Server.APIToken,
		MaxAudioBytes: cfg.Server.MaxAudioBytes,
	})
	return ServerServices{Echo: e, Config: cfg}, nil
}

// ClientServices is the assembled recording-side graph.
type ClientServices struct {
	Engine  *capture.Engine
	Session *usecase.ScribeSession
	Config  config.Config
}

// BuildClient wires the capture engine and scribe session against a running
// daemon. The engine's auto-stop feeds the session's normal submission path.
func BuildClient(events ports.EventSink, sessionCfg usecase.Config, cb usecase.Callbacks) (ClientServices, error) {
	cfg, err := config.Load()
	if err != nil {
		return ClientServices{}, err
	}

	relay := &autoStopRelay{}
	device := capture.NewFFMPEGDevice(cfg.Capture.RecorderCommand)
	engine := capture.NewEngine(device, capture.Config{
		MaxDuration: cfg.Capture.MaxDuration,
		WarningLead: cfg.Capture.WarningLead,
		Device: ports.CaptureConfig{
			InputFormat: cfg.Capture.InputFormat,
			InputDevice: cfg.Capture.InputDevice,
		},
	}, capture.Callbacks{
		OnTick:     events.RecordingTick,
		OnWarning:  events.RecordingWarning,
		OnAutoStop: relay.deliver,
	})

	if sessionCfg.MinDuration <= 0 {
		sessionCfg.MinDuration = cfg.Session.MinDuration
	}
	if sessionCfg.StepInterval <= 0 {
		sessionCfg.StepInterval = cfg.Session.StepInterval
	}

	pipeline := client.New(cfg.Client.ServerURL, cfg.Client.APIToken, nil)
	session := usecase.NewScribeSession(engine, pipeline, events, sessionCfg, cb)
	relay.bind(session)

	return ClientServices{Engine: engine, Session: session, Config: cfg}, nil
}

// autoStopRelay breaks the engine↔session construction cycle: the engine is
// built first with a callback into the relay, which forwards once the
// session exists.
type autoStopRelay struct {
	mu      sync.Mutex
	session *usecase.ScribeSession
}

func (r *autoStopRelay) bind(session *usecase.ScribeSession) {
	r.mu.Lock()
	r.session = session
	r.mu.Unlock()
}

func (r *autoStopRelay) deliver(blob domain.AudioBlob) {
	r.mu.Lock()
	session := r.session
	r.mu.Unlock()
	if session != nil {
		session.HandleAutoStop(blob)
	}
}
