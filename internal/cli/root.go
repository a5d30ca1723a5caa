package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/logging"
	"github.com/fmueller/whisperd/internal/platform"
	"github.com/fmueller/whisperd/internal/version"
)

// appState carries flag values and shared wiring across commands. Flags are
// overlaid on top of the environment configuration in overlayFlags, so a flag
// that was not set on the command line never shadows an environment value.
type appState struct {
	port         int
	bindAddress  string
	token        string
	model        string
	modelDir     string
	computeType  string
	language     string
	engine       string
	enginePath   string
	remoteURL    string
	remoteAPIKey string
	preload      bool
	silenceGate  bool
	silenceDBFS  float64
	verbose      bool
	jsonLogs     bool
	noProgress   bool

	cfg    *config.Config
	logger *zap.Logger
}

func NewRootCmd() *cobra.Command {
	app := &appState{
		port:        config.DefaultPort,
		bindAddress: config.DefaultBindAddress,
		model:       config.DefaultModel,
		computeType: config.DefaultComputeType,
		language:    config.DefaultLanguage,
		engine:      config.EngineWhisperCLI,
		preload:     true,
		silenceGate: true,
		silenceDBFS: config.DefaultSilenceThreshold,
	}

	cmd := &cobra.Command{
		Use:           "whisperd",
		Short:         "Local speech-to-text HTTP service backed by a whisper engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			app.overlayFlags(cmd.Flags(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := logging.New(logging.Options{Verbose: cfg.Verbose, JSON: cfg.JSONLogs})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}

			app.cfg = cfg
			app.logger = logger
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return app.runServe(cmd.Context())
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	bindLoggingFlags(cmd, app)
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	bindServerFlags(cmd, app)
	bindEngineFlags(cmd, app)
	bindSilenceFlags(cmd, app)

	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindLoggingFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.Flags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.model, "model", app.model, "Model name or model file path")
	cmd.Flags().StringVar(&app.modelDir, "model-dir", app.modelDir, "Directory where models are stored")
	cmd.Flags().StringVar(&app.computeType, "compute-type", app.computeType, "Compute type reported by the health endpoint")
}

func bindServerFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().IntVar(&app.port, "port", app.port, "TCP port to listen on")
	cmd.Flags().StringVar(&app.bindAddress, "bind", app.bindAddress, "Address to bind the listener to")
	cmd.Flags().StringVar(&app.token, "token", app.token, "Bearer token for POST requests; empty disables auth")
}

func bindEngineFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().StringVar(&app.engine, "engine", app.engine, "Transcription engine: whisper-cli|remote")
	cmd.Flags().StringVar(&app.enginePath, "engine-path", app.enginePath, "Path to the whisper-cli binary (default: search PATH)")
	cmd.Flags().StringVar(&app.remoteURL, "remote-endpoint", app.remoteURL, "HTTP endpoint of the remote transcription sidecar")
	cmd.Flags().StringVar(&app.remoteAPIKey, "remote-api-key", app.remoteAPIKey, "Bearer token sent to the remote sidecar")
	cmd.Flags().StringVar(&app.language, "language", app.language, "Default language code when a request omits one")
	cmd.Flags().BoolVar(&app.preload, "preload", app.preload, "Load the model at startup instead of on first request")
}

func bindSilenceFlags(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.silenceGate, "silence-gate", app.silenceGate, "Detect near-silent audio and skip transcription")
	cmd.Flags().Float64Var(&app.silenceDBFS, "silence-threshold-dbfs", app.silenceDBFS, "Silence gate threshold in dBFS")
}

// overlayFlags copies values of flags that were explicitly set on the command
// line over the environment-derived configuration.
func (a *appState) overlayFlags(flags *pflag.FlagSet, cfg *config.Config) {
	overlay := map[string]func(){
		"port":                   func() { cfg.Port = a.port },
		"bind":                   func() { cfg.BindAddress = a.bindAddress },
		"token":                  func() { cfg.AuthToken = a.token },
		"model":                  func() { cfg.Model = a.model },
		"model-dir":              func() { cfg.ModelDir = a.modelDir },
		"compute-type":           func() { cfg.ComputeType = a.computeType },
		"language":               func() { cfg.DefaultLanguage = a.language },
		"engine":                 func() { cfg.Engine = a.engine },
		"engine-path":            func() { cfg.EnginePath = a.enginePath },
		"remote-endpoint":        func() { cfg.RemoteEndpoint = a.remoteURL },
		"remote-api-key":         func() { cfg.RemoteAPIKey = a.remoteAPIKey },
		"preload":                func() { cfg.Preload = a.preload },
		"silence-gate":           func() { cfg.SilenceGate = a.silenceGate },
		"silence-threshold-dbfs": func() { cfg.SilenceThresholdDBFS = a.silenceDBFS },
		"verbose":                func() { cfg.Verbose = a.verbose },
		"json":                   func() { cfg.JSONLogs = a.jsonLogs },
	}

	for name, apply := range overlay {
		if flags.Changed(name) {
			apply()
		}
	}
}

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.modelDirOverride())
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

func (a *appState) modelDirOverride() string {
	if a.cfg != nil && a.cfg.ModelDir != "" {
		return a.cfg.ModelDir
	}
	return a.modelDir
}

func (a *appState) modelRef() string {
	if a.cfg != nil {
		return a.cfg.Model
	}
	return a.model
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}
