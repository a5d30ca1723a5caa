package whisper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	result Result
	err    error
	delay  time.Duration

	calls      atomic.Int32
	concurrent atomic.Int32
	maxSeen    atomic.Int32
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	f.calls.Add(1)

	current := f.concurrent.Add(1)
	defer f.concurrent.Add(-1)
	for {
		seen := f.maxSeen.Load()
		if current <= seen || f.maxSeen.CompareAndSwap(seen, current) {
			break
		}
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	return f.result, f.err
}

func TestEnsureReadyResolvesModelExactlyOnce(t *testing.T) {
	t.Parallel()

	var resolutions atomic.Int32
	h := NewHandle(HandleConfig{
		Engine: &fakeEngine{},
		ResolveModelPath: func(ctx context.Context) (string, error) {
			resolutions.Add(1)
			time.Sleep(10 * time.Millisecond)
			return "/models/ggml-tiny.bin", nil
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, h.EnsureReady(context.Background()))
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, resolutions.Load())
	require.True(t, h.Loaded())
}

func TestEnsureReadyFailureIsSticky(t *testing.T) {
	t.Parallel()

	resolveErr := errors.New("download failed")
	h := NewHandle(HandleConfig{
		Engine: &fakeEngine{},
		ResolveModelPath: func(ctx context.Context) (string, error) {
			return "", resolveErr
		},
	})

	require.ErrorIs(t, h.EnsureReady(context.Background()), resolveErr)
	require.ErrorIs(t, h.EnsureReady(context.Background()), resolveErr)
	require.False(t, h.Loaded())
}

func TestHandleWithoutResolverIsReadyImmediately(t *testing.T) {
	t.Parallel()

	h := NewHandle(HandleConfig{Engine: &fakeEngine{}})
	require.False(t, h.Loaded())
	require.NoError(t, h.EnsureReady(context.Background()))
	require.True(t, h.Loaded())
}

func TestTranscribeInitializesLazily(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{result: Result{Text: "merhaba"}}
	h := NewHandle(HandleConfig{
		Engine: engine,
		ResolveModelPath: func(ctx context.Context) (string, error) {
			return "/models/ggml-tiny.bin", nil
		},
	})

	require.False(t, h.Loaded())

	res, err := h.Transcribe(context.Background(), "/tmp/audio.wav", "tr")
	require.NoError(t, err)
	require.Equal(t, "merhaba", res.Text)
	require.True(t, h.Loaded())
}

func TestTranscribeSerializesConcurrentCallers(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{result: Result{Text: "ok"}, delay: 5 * time.Millisecond}
	h := NewHandle(HandleConfig{Engine: engine})

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.Transcribe(context.Background(), "/tmp/audio.wav", "en")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.EqualValues(t, 6, engine.calls.Load())
	require.EqualValues(t, 1, engine.maxSeen.Load(), "inference calls must never overlap")
}

func TestTranscribeTimesOut(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{result: Result{Text: "slow"}, delay: time.Second}
	h := NewHandle(HandleConfig{Engine: engine, Timeout: 20 * time.Millisecond})

	_, err := h.Transcribe(context.Background(), "/tmp/audio.wav", "en")
	require.ErrorIs(t, err, ErrTimeout)
}

func TestTranscribeHonorsCallerCancellation(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{delay: time.Second}
	h := NewHandle(HandleConfig{Engine: engine})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := h.Transcribe(ctx, "/tmp/audio.wav", "en")
	require.ErrorIs(t, err, context.Canceled)
}
