package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

var ErrInvalidWAV = errors.New("invalid wav file")

const DefaultSilenceThresholdDBFS = -65.0

type SilenceMetrics struct {
	RMSdBFS  float64
	PeakdBFS float64
	Samples  int64
}

// IsSilentWAV reports whether a normalized 16-bit PCM WAV file carries no
// audible signal. Silent clips can skip the engine entirely; whisper returns
// an empty transcript for them anyway, at far greater cost.
func IsSilentWAV(path string, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	metrics, err := analyzeWAV(path)
	if err != nil {
		return false, SilenceMetrics{}, err
	}

	if metrics.Samples == 0 {
		return true, metrics, nil
	}

	if math.IsInf(metrics.RMSdBFS, -1) && math.IsInf(metrics.PeakdBFS, -1) {
		return true, metrics, nil
	}

	// The peak gate keeps brief transients (clicks, plosives) above the RMS
	// floor from being mistaken for speech-free audio.
	peakGate := thresholdDBFS + 6
	return metrics.RMSdBFS <= thresholdDBFS && metrics.PeakdBFS <= peakGate, metrics, nil
}

func analyzeWAV(path string) (SilenceMetrics, error) {
	f, err := os.Open(path)
	if err != nil {
		return SilenceMetrics{}, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	data, err := pcm16Data(f)
	if err != nil {
		return SilenceMetrics{}, err
	}

	var peak float64
	var sumSquares float64
	var samples int64

	for i := 0; i+2 <= len(data); i += 2 {
		value := float64(int16(binary.LittleEndian.Uint16(data[i:i+2]))) / 32768.0
		abs := math.Abs(value)
		if abs > peak {
			peak = abs
		}
		sumSquares += value * value
		samples++
	}

	if samples == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}, nil
	}

	rms := math.Sqrt(sumSquares / float64(samples))
	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(rms),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  samples,
	}, nil
}

// pcm16Data walks the RIFF chunks and returns the raw sample data, accepting
// only the 16-bit PCM layout the converter produces.
func pcm16Data(f *os.File) ([]byte, error) {
	header := make([]byte, 12)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
	}
	if string(header[:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return nil, ErrInvalidWAV
	}

	var data []byte
	var hasFmt, hasData bool

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(f, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return nil, fmt.Errorf("read wav chunk header: %w", err)
		}

		chunkID := string(chunkHeader[:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])
		skip := int64(chunkSize)
		if chunkSize%2 != 0 {
			skip++
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return nil, ErrInvalidWAV
			}
			buf := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, buf); err != nil {
				return nil, fmt.Errorf("read wav fmt chunk: %w", err)
			}
			audioFormat := binary.LittleEndian.Uint16(buf[0:2])
			bitsPerSample := binary.LittleEndian.Uint16(buf[14:16])
			if audioFormat != 1 || bitsPerSample != 16 {
				return nil, fmt.Errorf("%w: expected 16-bit PCM", ErrInvalidWAV)
			}
			hasFmt = true
			if chunkSize%2 != 0 {
				if _, err := f.Seek(1, io.SeekCurrent); err != nil {
					return nil, fmt.Errorf("seek wav fmt padding: %w", err)
				}
			}
		case "data":
			data = make([]byte, chunkSize)
			if _, err := io.ReadFull(f, data); err != nil {
				return nil, fmt.Errorf("read wav data: %w", err)
			}
			hasData = true
			if chunkSize%2 != 0 {
				if _, err := f.Seek(1, io.SeekCurrent); err != nil {
					return nil, fmt.Errorf("seek wav data padding: %w", err)
				}
			}
		default:
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				return nil, fmt.Errorf("seek wav chunk %s: %w", chunkID, err)
			}
		}
	}

	if !hasFmt || !hasData {
		return nil, ErrInvalidWAV
	}

	return data, nil
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(amplitude)
}
