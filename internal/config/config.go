package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores runtime configuration for both the daemon and the CLI.
type Config struct {
	Server  ServerConfig
	OpenAI  OpenAIConfig
	Client  ClientConfig
	Capture CaptureConfig
	Session SessionConfig
}

type ServerConfig struct {
	ListenAddr    string
	APIToken      string
	MaxAudioBytes int64
}

type OpenAIConfig struct {
	APIKey          string
	APIBaseURL      string
	TranscribeModel string
	ExtractModel    string
	Language        string
}

type ClientConfig struct {
	ServerURL string
	APIToken  string
}

type CaptureConfig struct {
	RecorderCommand string
	InputFormat     string
	InputDevice     string
	MaxDuration     time.Duration
	WarningLead     time.Duration
}

type SessionConfig struct {
	MinDuration  time.Duration
	StepInterval time.Duration
}

// Load resolves configuration from environment variables and sensible
// defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			ListenAddr:    envOrDefault("SCRIBE_LISTEN_ADDR", "127.0.0.1:8790"),
			APIToken:      strings.TrimSpace(os.Getenv("SCRIBE_API_TOKEN")),
			MaxAudioBytes: int64(envOrDefaultInt("SCRIBE_MAX_AUDIO_MB", 25)) << 20,
		},
		OpenAI: OpenAIConfig{
			APIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
			APIBaseURL:      envOrDefault("OPENAI_API_BASE", "https://api.openai.com/v1"),
			TranscribeModel: envOrDefault("SCRIBE_TRANSCRIBE_MODEL", "whisper-1"),
			ExtractModel:    envOrDefault("SCRIBE_EXTRACT_MODEL", "gpt-4o-mini"),
			Language:        envOrDefault("SCRIBE_LANGUAGE", "es"),
		},
		Client: ClientConfig{
			ServerURL: envOrDefault("SCRIBE_SERVER_URL", "http://127.0.0.1:8790"),
			APIToken:  strings.TrimSpace(os.Getenv("SCRIBE_API_TOKEN")),
		},
		Capture: CaptureConfig{
			RecorderCommand: envOrDefault("SCRIBE_FFMPEG_COMMAND", "ffmpeg"),
			InputFormat:     envOrDefault("SCRIBE_AUDIO_INPUT_FORMAT", "pulse"),
			InputDevice:     envOrDefault("SCRIBE_AUDIO_INPUT_DEVICE", "default"),
			MaxDuration:     secondsOrDefault("SCRIBE_MAX_RECORDING_SECONDS", 900),
			WarningLead:     secondsOrDefault("SCRIBE_WARNING_LEAD_SECONDS", 30),
		},
		Session: SessionConfig{
			MinDuration:  secondsOrDefault("SCRIBE_MIN_RECORDING_SECONDS", 3),
			StepInterval: time.Duration(envOrDefaultInt("SCRIBE_STEP_INTERVAL_MS", 2500)) * time.Millisecond,
		},
	}

	if cfg.Server.MaxAudioBytes <= 0 {
		cfg.Server.MaxAudioBytes = 25 << 20
	}
	if cfg.Capture.WarningLead >= cfg.Capture.MaxDuration {
		return Config{}, errors.New("SCRIBE_WARNING_LEAD_SECONDS must be shorter than SCRIBE_MAX_RECORDING_SECONDS")
	}

	return cfg, nil
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func secondsOrDefault(key string, fallback int) time.Duration {
	parsed := envOrDefaultInt(key, fallback)
	if parsed <= 0 {
		parsed = fallback
	}
	return time.Duration(parsed) * time.Second
}
