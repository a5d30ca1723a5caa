package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fmueller/whisperd/internal/audio"
	"github.com/fmueller/whisperd/internal/config"
	"github.com/fmueller/whisperd/internal/download"
	"github.com/fmueller/whisperd/internal/metrics"
	"github.com/fmueller/whisperd/internal/server"
	"github.com/fmueller/whisperd/internal/whisper"
)

// runServe wires the conversion, engine and HTTP layers together and blocks
// until the process receives SIGINT or SIGTERM.
func (a *appState) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	converter := audio.NewConverter(a.log())
	converter.Timeout = a.cfg.ConvertTimeout
	if !converter.Available() {
		a.log().Warn("ffmpeg not found in PATH; audio conversion will fail until it is installed")
	}

	engine, resolveModel, err := a.buildEngine()
	if err != nil {
		return err
	}

	handle := whisper.NewHandle(whisper.HandleConfig{
		Engine:           engine,
		ResolveModelPath: resolveModel,
		Timeout:          a.cfg.TranscribeTimeout,
		Logger:           a.log(),
	})

	if a.cfg.Preload {
		if err := handle.EnsureReady(ctx); err != nil {
			return fmt.Errorf("preload engine: %w", err)
		}
	}

	m := metrics.New()
	pipeline := server.NewPipeline(server.PipelineConfig{
		Normalizer:           converter,
		Transcriber:          handle,
		DefaultLanguage:      a.cfg.DefaultLanguage,
		SilenceGate:          a.cfg.SilenceGate,
		SilenceThresholdDBFS: a.cfg.SilenceThresholdDBFS,
		Logger:               a.log(),
		Metrics:              m,
	})

	srv := server.New(a.cfg, a.log(), pipeline, handle, engine.Name(), m)
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.DefaultShutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	a.log().Info("server stopped")
	return nil
}

// buildEngine constructs the configured engine variant. The whisper-cli
// engine needs a model file on disk, so it also returns the resolver the
// handle runs before the first inference; the remote engine manages its own
// model and returns a nil resolver.
func (a *appState) buildEngine() (whisper.Engine, func(ctx context.Context) (string, error), error) {
	switch a.cfg.Engine {
	case config.EngineRemote:
		engine, err := whisper.NewRemoteEngine(a.cfg.RemoteEndpoint, a.cfg.RemoteAPIKey, a.log())
		if err != nil {
			return nil, nil, err
		}
		return engine, nil, nil

	case config.EngineWhisperCLI:
		engine, err := whisper.NewCLIEngine(a.cfg.EnginePath, a.log())
		if err != nil {
			return nil, nil, err
		}
		return engine, a.resolveModelPath, nil

	default:
		return nil, nil, fmt.Errorf("unknown engine %q", a.cfg.Engine)
	}
}

// resolveModelPath ensures the configured model exists locally, downloading
// it on first use when it names a known model.
func (a *appState) resolveModelPath(ctx context.Context) (string, error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return "", err
	}

	resolved, err := whisper.ResolveModel(a.modelRef(), modelDir)
	if err != nil {
		return "", err
	}

	if resolved.NeedsDownload {
		a.log().Info("downloading model",
			zap.String("model", resolved.Name),
			zap.String("path", resolved.Path),
		)
		if err := download.DownloadFile(ctx, download.Options{
			URL:            resolved.URL,
			Destination:    resolved.Path,
			ExpectedSHA256: resolved.SHA256,
			NoProgress:     a.noProgress,
			Logger:         a.log(),
		}); err != nil {
			return "", fmt.Errorf("download model %s: %w", resolved.Name, err)
		}
	}

	return resolved.Path, nil
}
