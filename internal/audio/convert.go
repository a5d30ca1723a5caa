package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	TargetSampleRate = 16000
	TargetChannels   = 1

	DefaultConvertTimeout = 30 * time.Second

	// diagnosticLimit bounds how much ffmpeg stderr is carried into errors
	// and responses.
	diagnosticLimit = 300
)

// ConversionError wraps an ffmpeg failure with a truncated diagnostic that is
// safe to return to callers.
type ConversionError struct {
	Diagnostic string
	TimedOut   bool
	Err        error
}

func (e *ConversionError) Error() string {
	if e.TimedOut {
		return "audio conversion timed out"
	}
	if e.Diagnostic != "" {
		return fmt.Sprintf("audio conversion failed: %s", e.Diagnostic)
	}
	return "audio conversion failed"
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Converter normalizes arbitrary audio containers to mono 16 kHz PCM WAV
// using ffmpeg, the same canonical form whisper engines expect.
type Converter struct {
	FFmpegPath string
	Timeout    time.Duration
	Logger     *zap.Logger
}

func NewConverter(logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{
		FFmpegPath: "ffmpeg",
		Timeout:    DefaultConvertTimeout,
		Logger:     logger,
	}
}

// Available reports whether the ffmpeg binary can be found.
func (c *Converter) Available() bool {
	_, err := exec.LookPath(c.FFmpegPath)
	return err == nil
}

// Convert transcodes srcPath into a mono 16 kHz WAV at dstPath. ffmpeg
// dispatches on the source file extension, so the caller tags srcPath with
// the guessed container. The call never outlives the configured timeout.
func (c *Converter) Convert(ctx context.Context, srcPath, dstPath string) error {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultConvertTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-nostdin", "-hide_banner",
		"-i", srcPath,
		"-ar", strconv.Itoa(TargetSampleRate),
		"-ac", strconv.Itoa(TargetChannels),
		"-y", dstPath,
	}

	cmd := exec.CommandContext(ctx, c.FFmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	c.Logger.Debug("running ffmpeg", zap.String("src", srcPath), zap.String("dst", dstPath))

	started := time.Now()
	err := cmd.Run()
	if err == nil {
		c.Logger.Debug("conversion finished", zap.Duration("elapsed", time.Since(started)))
		return nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return &ConversionError{TimedOut: true, Err: ctx.Err()}
	}

	return &ConversionError{
		Diagnostic: truncateDiagnostic(stderr.String()),
		Err:        err,
	}
}

func truncateDiagnostic(s string) string {
	if len(s) > diagnosticLimit {
		return s[:diagnosticLimit]
	}
	return s
}
