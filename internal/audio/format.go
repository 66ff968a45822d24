package audio

import (
	"bytes"
	"encoding/binary"
)

// Format classifies an inbound audio payload.
type Format int

const (
	FormatRawPCM Format = iota
	FormatWAV
	FormatOgg
	FormatMP3
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatOgg:
		return "ogg"
	case FormatMP3:
		return "mp3"
	default:
		return "pcm"
	}
}

// IsContainer reports whether the payload carries its own format header
// and can be submitted to the backend without wrapping.
func (f Format) IsContainer() bool {
	return f != FormatRawPCM
}

const (
	// BytesPerSample is fixed: all duration math assumes 16-bit little-endian PCM.
	BytesPerSample = 2

	// MinPlayableBytes is the smallest wrapped payload worth transcribing.
	// Anything shorter short-circuits to an empty result upstream.
	MinPlayableBytes = 100

	placeholderDurationMs = 5000
)

// DetectFormat sniffs magic bytes to decide whether the payload is a
// self-describing container or raw PCM samples.
func DetectFormat(b []byte) Format {
	switch {
	case bytes.HasPrefix(b, []byte("RIFF")):
		return FormatWAV
	case bytes.HasPrefix(b, []byte("OggS")):
		return FormatOgg
	case bytes.HasPrefix(b, []byte("ID3")):
		return FormatMP3
	default:
		// MP3 frame sync (0xFF 0xEx) is deliberately not sniffed: a raw
		// 16-bit sample of -1 starts with the same bytes.
		return FormatRawPCM
	}
}

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

// WrapPCM synthesizes a minimal WAV container around raw 16-bit little-endian
// samples. Invalid input (empty payload, odd frame alignment, non-positive
// parameters) yields a silent placeholder instead of an error so callers
// always have a valid payload to submit.
func WrapPCM(pcm []byte, sampleRate, channels int) []byte {
	if len(pcm) == 0 || sampleRate <= 0 || channels <= 0 || len(pcm)%(BytesPerSample*channels) != 0 {
		return SilentWAV(placeholderDurationMs, sampleRate)
	}
	return encodeWAV(pcm, sampleRate, channels)
}

// SilentWAV returns a playable all-zero mono WAV of the given duration,
// used as a degraded-mode stand-in for unwrappable input.
func SilentWAV(durationMs, sampleRate int) []byte {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if durationMs <= 0 {
		durationMs = placeholderDurationMs
	}
	samples := sampleRate * durationMs / 1000
	return encodeWAV(make([]byte, samples*BytesPerSample), sampleRate, 1)
}

func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * BytesPerSample),
		BlockAlign:    uint16(channels * BytesPerSample),
		BitsPerSample: BytesPerSample * 8,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))
	_ = binary.Write(buf, binary.LittleEndian, header)
	buf.Write(pcm)
	return buf.Bytes()
}
