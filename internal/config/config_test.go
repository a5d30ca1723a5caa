package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, DefaultPort, cfg.Port)
	require.Equal(t, DefaultModel, cfg.Model)
	require.Equal(t, DefaultComputeType, cfg.ComputeType)
	require.Equal(t, DefaultLanguage, cfg.DefaultLanguage)
	require.Equal(t, EngineWhisperCLI, cfg.Engine)
	require.True(t, cfg.Preload)
	require.True(t, cfg.SilenceGate)
	require.False(t, cfg.AuthEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("WHISPERD_PORT", "9000")
	t.Setenv("WHISPERD_TOKEN", "sekrit")
	t.Setenv("WHISPERD_MODEL", "base")
	t.Setenv("WHISPERD_COMPUTE_TYPE", "float16")
	t.Setenv("WHISPERD_LANGUAGE", " EN ")
	t.Setenv("WHISPERD_PRELOAD", "false")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, "sekrit", cfg.AuthToken)
	require.True(t, cfg.AuthEnabled())
	require.Equal(t, "base", cfg.Model)
	require.Equal(t, "float16", cfg.ComputeType)
	require.Equal(t, "en", cfg.DefaultLanguage)
	require.False(t, cfg.Preload)
}

func TestLoadRejectsMalformedPort(t *testing.T) {
	t.Setenv("WHISPERD_PORT", "not-a-port")

	_, err := Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "WHISPERD_PORT")
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Port = 0
	require.Error(t, cfg.Validate())

	cfg.Port = 70000
	require.Error(t, cfg.Validate())
}

func TestValidateRemoteEngineRequiresEndpoint(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Engine = EngineRemote
	require.Error(t, cfg.Validate())

	cfg.RemoteEndpoint = "http://127.0.0.1:8000/transcribe"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownEngine(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Engine = "parakeet"
	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown engine")
}

func validConfig() *Config {
	return &Config{
		Port:              DefaultPort,
		BindAddress:       DefaultBindAddress,
		Model:             DefaultModel,
		ComputeType:       DefaultComputeType,
		DefaultLanguage:   DefaultLanguage,
		Engine:            EngineWhisperCLI,
		MaxBodyBytes:      DefaultMaxBodyBytes,
		ConvertTimeout:    DefaultConvertTimeout,
		TranscribeTimeout: DefaultTranscribeTimeout,
	}
}
