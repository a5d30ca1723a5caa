package whisper

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RemoteEngine forwards normalized audio to a faster-whisper sidecar over
// HTTP. Unlike the CLI engine it reports detected language and probability.
type RemoteEngine struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
	Logger   *zap.Logger
}

type remoteRequest struct {
	Audio    string `json:"audio"`
	Language string `json:"language,omitempty"`
}

type remoteResponse struct {
	Text                string  `json:"text"`
	Language            string  `json:"language"`
	LanguageProbability float64 `json:"language_probability"`
	Error               string  `json:"error"`
}

func NewRemoteEngine(endpoint, apiKey string, logger *zap.Logger) (*RemoteEngine, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("remote engine endpoint is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RemoteEngine{
		Endpoint: endpoint,
		APIKey:   apiKey,
		Client:   &http.Client{Timeout: 2 * time.Minute},
		Logger:   logger,
	}, nil
}

func (e *RemoteEngine) Name() string {
	return "remote"
}

func (e *RemoteEngine) Transcribe(ctx context.Context, req Request) (Result, error) {
	audio, err := os.ReadFile(req.AudioPath)
	if err != nil {
		return Result{}, fmt.Errorf("read normalized audio: %w", err)
	}

	payload, err := json.Marshal(remoteRequest{
		Audio:    base64.StdEncoding.EncodeToString(audio),
		Language: req.Language,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode remote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create remote request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.APIKey)
	}

	e.Logger.Debug("forwarding audio to remote engine", zap.String("endpoint", e.Endpoint), zap.Int("audio_bytes", len(audio)))

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("remote engine request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read remote engine response: %w", err)
	}

	var decoded remoteResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode remote engine response (status %d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := decoded.Error
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return Result{}, fmt.Errorf("remote engine returned status %d: %s", resp.StatusCode, msg)
	}

	return Result{
		Text:                strings.TrimSpace(decoded.Text),
		DetectedLanguage:    decoded.Language,
		LanguageProbability: decoded.LanguageProbability,
		ReportsDetection:    true,
	}, nil
}
