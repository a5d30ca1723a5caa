package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fmueller/whisperd/internal/audio"
	"github.com/fmueller/whisperd/internal/metrics"
	"github.com/fmueller/whisperd/internal/whisper"
)

// Normalizer converts an audio file of arbitrary container into a mono
// 16 kHz WAV. audio.Converter is the production implementation.
type Normalizer interface {
	Convert(ctx context.Context, srcPath, dstPath string) error
}

// Transcriber runs a single serialized inference call. whisper.Handle is the
// production implementation.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath, language string) (whisper.Result, error)
}

type PipelineConfig struct {
	Normalizer  Normalizer
	Transcriber Transcriber

	// TempDir holds the per-request scratch files. Defaults to os.TempDir().
	TempDir string

	DefaultLanguage string

	SilenceGate          bool
	SilenceThresholdDBFS float64

	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Pipeline owns one request's journey from raw JSON body to transcript:
// decode, normalize, transcribe, assemble. Every temp file it creates is
// deleted before Handle returns, on every exit path.
type Pipeline struct {
	normalizer  Normalizer
	transcriber Transcriber
	tempDir     string
	defaultLang string

	silenceGate      bool
	silenceThreshold float64

	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.DefaultLanguage == "" {
		cfg.DefaultLanguage = "tr"
	}
	if cfg.SilenceThresholdDBFS == 0 {
		cfg.SilenceThresholdDBFS = audio.DefaultSilenceThresholdDBFS
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	return &Pipeline{
		normalizer:       cfg.Normalizer,
		transcriber:      cfg.Transcriber,
		tempDir:          cfg.TempDir,
		defaultLang:      cfg.DefaultLanguage,
		silenceGate:      cfg.SilenceGate,
		silenceThreshold: cfg.SilenceThresholdDBFS,
		logger:           cfg.Logger,
		metrics:          cfg.Metrics,
	}
}

type transcribeRequest struct {
	Audio    string `json:"audio"`
	Language string `json:"language"`
}

// TranscribeResult is the JSON success body for POST /transcribe. The
// probability pointer is nil for engines that do not report language
// detection, omitting the field entirely.
type TranscribeResult struct {
	Text                string   `json:"text"`
	Language            string   `json:"language"`
	LanguageProbability *float64 `json:"language_probability,omitempty"`
}

// Handle runs the full pipeline for one request body.
func (p *Pipeline) Handle(ctx context.Context, rawBody []byte) (*TranscribeResult, *Failure) {
	var req transcribeRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		return nil, invalidRequest("Invalid request: "+err.Error(), err)
	}

	if strings.TrimSpace(req.Audio) == "" {
		return nil, invalidRequest("Invalid request: audio field is required", nil)
	}

	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = p.defaultLang
	}

	payload, ext := splitDataURL(req.Audio)
	audioBytes, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, invalidRequest("Invalid request: "+err.Error(), err)
	}

	p.metrics.TranscriptionRequests.Inc()
	p.metrics.AudioBytes.Observe(float64(len(audioBytes)))
	p.logger.Info("transcription request",
		zap.Int("audio_bytes", len(audioBytes)),
		zap.String("language", language),
		zap.String("container_hint", ext),
	)

	result, failure := p.process(ctx, audioBytes, ext, language)
	if failure != nil {
		p.metrics.RecordTranscriptionFailure(string(failure.Kind))
		p.logger.Warn("transcription failed",
			zap.String("kind", string(failure.Kind)),
			zap.Error(failure.Err),
		)
		return nil, failure
	}

	return result, nil
}

// process handles the temp-file lifecycle around conversion and inference.
// Both scratch files share one request id and are removed on every exit path.
func (p *Pipeline) process(ctx context.Context, audioBytes []byte, ext, language string) (*TranscribeResult, *Failure) {
	id := uuid.NewString()
	srcPath := filepath.Join(p.tempDir, "whisperd-"+id+ext)
	wavPath := filepath.Join(p.tempDir, "whisperd-"+id+".wav")

	defer func() {
		for _, path := range []string{srcPath, wavPath} {
			if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
				p.logger.Warn("failed to remove temp file", zap.String("path", path), zap.Error(err))
			}
		}
	}()

	if err := os.WriteFile(srcPath, audioBytes, 0o600); err != nil {
		return nil, &Failure{Kind: FailInternal, Message: err.Error(), Err: err}
	}

	convertStarted := time.Now()
	if err := p.normalizer.Convert(ctx, srcPath, wavPath); err != nil {
		var convErr *audio.ConversionError
		if errors.As(err, &convErr) {
			return nil, &Failure{Kind: FailConversion, Message: "Audio conversion failed", Err: err}
		}
		return nil, &Failure{Kind: FailInternal, Message: err.Error(), Err: err}
	}
	p.metrics.ConversionDuration.Observe(time.Since(convertStarted).Seconds())

	if p.silenceGate {
		if skipped := p.silenceGateResult(wavPath, language); skipped != nil {
			return skipped, nil
		}
	}

	inferStarted := time.Now()
	res, err := p.transcriber.Transcribe(ctx, wavPath, language)
	if err != nil {
		if errors.Is(err, whisper.ErrTimeout) {
			return nil, &Failure{Kind: FailTimeout, Message: "Transcription timed out", Err: err}
		}
		return nil, &Failure{Kind: FailInternal, Message: err.Error(), Err: err}
	}
	p.metrics.RecordTranscriptionSuccess(time.Since(inferStarted).Seconds())

	out := &TranscribeResult{
		Text:     strings.TrimSpace(res.Text),
		Language: language,
	}
	if res.ReportsDetection {
		out.Language = res.DetectedLanguage
		prob := math.Round(res.LanguageProbability*100) / 100
		out.LanguageProbability = &prob
	}

	p.logger.Info("transcription finished",
		zap.String("language", out.Language),
		zap.Int("text_chars", len(out.Text)),
		zap.Duration("inference", time.Since(inferStarted)),
	)

	return out, nil
}

// silenceGateResult short-circuits silent clips to an empty transcript.
// Analysis failures are logged and ignored; the engine decides then.
func (p *Pipeline) silenceGateResult(wavPath, language string) *TranscribeResult {
	silent, m, err := audio.IsSilentWAV(wavPath, p.silenceThreshold)
	if err != nil {
		p.logger.Warn("silence analysis failed; continuing transcription", zap.Error(err))
		return nil
	}
	if !silent {
		return nil
	}

	p.metrics.SilenceGateSkips.Inc()
	p.logger.Info("audio considered silent; skipping inference",
		zap.Float64("rms_dbfs", m.RMSdBFS),
		zap.Float64("peak_dbfs", m.PeakdBFS),
	)

	return &TranscribeResult{Text: "", Language: language}
}

// audioExtensions maps declared data-URL MIME types to the file extension
// the conversion tool dispatches on.
var audioExtensions = map[string]string{
	"audio/webm":  ".webm",
	"video/webm":  ".webm",
	"audio/ogg":   ".ogg",
	"audio/wav":   ".wav",
	"audio/wave":  ".wav",
	"audio/x-wav": ".wav",
	"audio/mpeg":  ".mp3",
	"audio/mp4":   ".m4a",
	"audio/flac":  ".flac",
}

// splitDataURL strips a data-URL prefix from an audio payload. Everything up
// to and including the first comma is discarded, matching how browsers encode
// `data:<mime>;base64,<payload>`. The second return value is the container
// extension guessed from the declared MIME type, defaulting to .webm, the
// container browsers record with.
func splitDataURL(value string) (string, string) {
	ext := ".webm"

	comma := strings.IndexByte(value, ',')
	if comma < 0 {
		return value, ext
	}

	prefix := value[:comma]
	if mediaType, ok := strings.CutPrefix(prefix, "data:"); ok {
		if semi := strings.IndexByte(mediaType, ';'); semi >= 0 {
			mediaType = mediaType[:semi]
		}
		if mapped, ok := audioExtensions[strings.ToLower(strings.TrimSpace(mediaType))]; ok {
			ext = mapped
		}
	}

	return value[comma+1:], ext
}
