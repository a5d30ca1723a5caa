package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultPort        = 18791
	DefaultBindAddress = "0.0.0.0"
	DefaultModel       = "tiny"
	DefaultComputeType = "int8"
	DefaultLanguage    = "tr"

	// EngineWhisperCLI runs transcription through a local whisper.cpp binary.
	EngineWhisperCLI = "whisper-cli"
	// EngineRemote forwards normalized audio to a faster-whisper sidecar.
	EngineRemote = "remote"

	DefaultMaxBodyBytes      = 25 << 20
	DefaultConvertTimeout    = 30 * time.Second
	DefaultTranscribeTimeout = 60 * time.Second
	DefaultSilenceThreshold  = -65.0
	DefaultShutdownTimeout   = 10 * time.Second
)

// Config holds the full whisperd configuration. All values come from the
// environment (optionally seeded from a .env file) and are immutable after
// startup.
type Config struct {
	Port        int
	BindAddress string

	// AuthToken guards POST /transcribe. An empty token disables
	// authentication entirely; this is a deliberate permissive fallback
	// for trusted local deployments.
	AuthToken string

	Model       string
	ModelDir    string
	ComputeType string

	// DefaultLanguage is used when a request omits the language field.
	DefaultLanguage string

	Engine         string
	EnginePath     string
	RemoteEndpoint string
	RemoteAPIKey   string

	// Preload loads the engine at startup instead of on the first request.
	Preload bool

	SilenceGate          bool
	SilenceThresholdDBFS float64

	MaxBodyBytes      int64
	ConvertTimeout    time.Duration
	TranscribeTimeout time.Duration

	Verbose  bool
	JSONLogs bool
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present, without overriding variables that
// are already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 DefaultPort,
		BindAddress:          DefaultBindAddress,
		AuthToken:            os.Getenv("WHISPERD_TOKEN"),
		Model:                DefaultModel,
		ModelDir:             os.Getenv("WHISPERD_MODEL_DIR"),
		ComputeType:          DefaultComputeType,
		DefaultLanguage:      DefaultLanguage,
		Engine:               EngineWhisperCLI,
		EnginePath:           os.Getenv("WHISPERD_ENGINE_PATH"),
		RemoteEndpoint:       os.Getenv("WHISPERD_REMOTE_ENDPOINT"),
		RemoteAPIKey:         os.Getenv("WHISPERD_REMOTE_API_KEY"),
		Preload:              true,
		SilenceGate:          true,
		SilenceThresholdDBFS: DefaultSilenceThreshold,
		MaxBodyBytes:         DefaultMaxBodyBytes,
		ConvertTimeout:       DefaultConvertTimeout,
		TranscribeTimeout:    DefaultTranscribeTimeout,
	}

	var err error
	if cfg.Port, err = envInt("WHISPERD_PORT", cfg.Port); err != nil {
		return nil, err
	}
	if v := os.Getenv("WHISPERD_BIND_ADDRESS"); v != "" {
		cfg.BindAddress = v
	}
	if v := os.Getenv("WHISPERD_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("WHISPERD_COMPUTE_TYPE"); v != "" {
		cfg.ComputeType = v
	}
	if v := os.Getenv("WHISPERD_LANGUAGE"); v != "" {
		cfg.DefaultLanguage = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("WHISPERD_ENGINE"); v != "" {
		cfg.Engine = v
	}
	if cfg.Preload, err = envBool("WHISPERD_PRELOAD", cfg.Preload); err != nil {
		return nil, err
	}
	if cfg.SilenceGate, err = envBool("WHISPERD_SILENCE_GATE", cfg.SilenceGate); err != nil {
		return nil, err
	}
	if cfg.SilenceThresholdDBFS, err = envFloat("WHISPERD_SILENCE_THRESHOLD_DBFS", cfg.SilenceThresholdDBFS); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.BindAddress == "" {
		return fmt.Errorf("bind address cannot be empty")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if strings.TrimSpace(c.DefaultLanguage) == "" {
		return fmt.Errorf("default language cannot be empty")
	}

	switch c.Engine {
	case EngineWhisperCLI:
	case EngineRemote:
		if strings.TrimSpace(c.RemoteEndpoint) == "" {
			return fmt.Errorf("remote engine requires WHISPERD_REMOTE_ENDPOINT")
		}
	default:
		return fmt.Errorf("unknown engine %q (supported: %s, %s)", c.Engine, EngineWhisperCLI, EngineRemote)
	}

	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("max body size must be positive, got %d", c.MaxBodyBytes)
	}
	if c.ConvertTimeout < time.Second {
		return fmt.Errorf("convert timeout must be at least 1s, got %s", c.ConvertTimeout)
	}
	if c.TranscribeTimeout < time.Second {
		return fmt.Errorf("transcribe timeout must be at least 1s, got %s", c.TranscribeTimeout)
	}

	return nil
}

// AuthEnabled reports whether bearer-token authentication is active.
func (c *Config) AuthEnabled() bool {
	return c.AuthToken != ""
}

func envInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return parsed, nil
}

func envBool(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return parsed, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return parsed, nil
}
