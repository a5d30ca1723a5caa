package audio

import "encoding/binary"

// MakePCM16WAV encodes samples as a mono 16 kHz 16-bit PCM WAV file, the
// canonical form produced by the converter. Used by the silence gate tests
// and anywhere a synthetic clip is needed.
func MakePCM16WAV(samples []int16) []byte {
	const (
		bytesPerSample = 2
		fmtChunkSize   = 16
	)

	dataSize := len(samples) * bytesPerSample
	riffSize := 4 + (8 + fmtChunkSize) + (8 + dataSize)

	out := make([]byte, 12+8+fmtChunkSize+8+dataSize)
	off := 0

	copy(out[off:], []byte("RIFF"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(riffSize))
	off += 4
	copy(out[off:], []byte("WAVE"))
	off += 4

	copy(out[off:], []byte("fmt "))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], fmtChunkSize)
	off += 4
	binary.LittleEndian.PutUint16(out[off:], 1) // PCM
	off += 2
	binary.LittleEndian.PutUint16(out[off:], TargetChannels)
	off += 2
	binary.LittleEndian.PutUint32(out[off:], TargetSampleRate)
	off += 4
	binary.LittleEndian.PutUint32(out[off:], TargetSampleRate*TargetChannels*bytesPerSample)
	off += 4
	binary.LittleEndian.PutUint16(out[off:], TargetChannels*bytesPerSample)
	off += 2
	binary.LittleEndian.PutUint16(out[off:], 16)
	off += 2

	copy(out[off:], []byte("data"))
	off += 4
	binary.LittleEndian.PutUint32(out[off:], uint32(dataSize))
	off += 4

	for _, s := range samples {
		binary.LittleEndian.PutUint16(out[off:], uint16(s))
		off += 2
	}

	return out
}
