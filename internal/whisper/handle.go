package whisper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is returned when an inference call exceeds the handle's
// per-call deadline.
var ErrTimeout = errors.New("transcription timed out")

const DefaultTranscribeTimeout = 60 * time.Second

// HandleConfig configures a Handle.
type HandleConfig struct {
	Engine Engine

	// ResolveModelPath prepares the model before first use (local path
	// resolution plus download when missing). Nil when the engine owns its
	// model, as the remote engine does.
	ResolveModelPath func(ctx context.Context) (string, error)

	// Timeout bounds a single inference call.
	Timeout time.Duration

	Logger *zap.Logger
}

// Handle wraps an Engine with once-only initialization and serialized
// inference. Whisper engines are not safely reentrant for concurrent calls,
// so every Transcribe holds an exclusive guard for the duration of the
// inference step only; audio normalization and temp-file I/O stay outside.
type Handle struct {
	engine  Engine
	resolve func(ctx context.Context) (string, error)
	timeout time.Duration
	logger  *zap.Logger

	initOnce  sync.Once
	initErr   error
	modelPath string
	loaded    atomic.Bool

	inferMu sync.Mutex
}

func NewHandle(cfg HandleConfig) *Handle {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTranscribeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Handle{
		engine:  cfg.Engine,
		resolve: cfg.ResolveModelPath,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

// EnsureReady performs the one-time engine initialization. Concurrent first
// callers block on the same initialization; exactly one resolution runs per
// process lifetime.
func (h *Handle) EnsureReady(ctx context.Context) error {
	h.initOnce.Do(func() {
		if h.resolve == nil {
			h.loaded.Store(true)
			return
		}

		started := time.Now()
		h.logger.Info("loading transcription model")

		path, err := h.resolve(ctx)
		if err != nil {
			h.initErr = err
			h.logger.Error("model load failed", zap.Error(err))
			return
		}

		h.modelPath = path
		h.loaded.Store(true)
		h.logger.Info("model loaded", zap.String("path", path), zap.Duration("elapsed", time.Since(started)))
	})

	return h.initErr
}

// Loaded reports whether initialization has completed successfully. Used by
// the health endpoint; a lazily configured handle reports false until the
// first transcription.
func (h *Handle) Loaded() bool {
	return h.loaded.Load()
}

// Transcribe runs one inference call, initializing the engine first if
// needed. Calls across all requests are serialized; the per-call timeout
// starts once the guard is held, so a queued request is not charged for its
// predecessors' inference time.
func (h *Handle) Transcribe(ctx context.Context, audioPath, language string) (Result, error) {
	if err := h.EnsureReady(ctx); err != nil {
		return Result{}, err
	}

	h.inferMu.Lock()
	defer h.inferMu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	res, err := h.engine.Transcribe(callCtx, Request{
		AudioPath: audioPath,
		ModelPath: h.modelPath,
		Language:  language,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, ErrTimeout
		}
		return Result{}, err
	}

	return res, nil
}
