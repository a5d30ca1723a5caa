package whisper

import "context"

// Request describes one transcription call against an engine. AudioPath must
// point at a mono 16 kHz WAV file; the pipeline guarantees this.
type Request struct {
	AudioPath string
	ModelPath string
	Language  string
}

// Result carries the transcript plus optional language detection metadata.
// DetectedLanguage and LanguageProbability are only meaningful when
// ReportsDetection is true; engines without detection leave them zero and the
// caller falls back to the requested language.
type Result struct {
	Text                string
	DetectedLanguage    string
	LanguageProbability float64
	ReportsDetection    bool
}

// Engine is the opaque speech-to-text capability. Implementations are not
// assumed to be safe for concurrent calls; Handle serializes access.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, req Request) (Result, error)
}
