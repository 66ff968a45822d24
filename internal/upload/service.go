package upload

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/foxseedlab/mimitori/internal/audio"
	"github.com/foxseedlab/mimitori/internal/metrics"
	"github.com/foxseedlab/mimitori/internal/transcode"
	"github.com/foxseedlab/mimitori/internal/transcriber"
)

// Validation failures surfaced to HTTP as client errors.
var (
	ErrNotAudioFile = errors.New("file must be an audio file")
	ErrTooLarge     = errors.New("file too large")
	ErrEmptyFile    = errors.New("file is empty")
)

var allowedExtensions = map[string]struct{}{
	"wav":  {},
	"mp3":  {},
	"m4a":  {},
	"ogg":  {},
	"flac": {},
	"aac":  {},
}

// Params are the caller-supplied transcription options for one upload.
type Params struct {
	Task     transcriber.Task
	Language string
	BeamSize int
}

// Service is the one-shot request/response transcription path: whole
// file in, one backend call, one result. No session state machine.
type Service struct {
	engine    transcriber.Engine
	converter transcode.Converter
	met       *metrics.Metrics
	maxBytes  int64
}

func NewService(engine transcriber.Engine, converter transcode.Converter, met *metrics.Metrics, maxBytes int64) *Service {
	return &Service{engine: engine, converter: converter, met: met, maxBytes: maxBytes}
}

// MaxBytes is the configured upload ceiling, checked before any payload
// is buffered.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// ValidateExtension rejects anything outside the audio allow-list before
// any work is done.
func (s *Service) ValidateExtension(extension string) error {
	ext := strings.ToLower(strings.TrimPrefix(extension, "."))
	if _, ok := allowedExtensions[ext]; !ok {
		return fmt.Errorf("%w: unsupported extension %q", ErrNotAudioFile, extension)
	}
	return nil
}

// Transcribe runs the file-upload path end to end.
func (s *Service) Transcribe(ctx context.Context, data []byte, extension string, p Params) (*transcriber.Result, error) {
	s.met.UploadRequests.Inc()
	result, err := s.transcribe(ctx, data, extension, p)
	if err != nil {
		s.met.UploadFailures.Inc()
	}
	return result, err
}

func (s *Service) transcribe(ctx context.Context, data []byte, extension string, p Params) (*transcriber.Result, error) {
	if err := s.ValidateExtension(extension); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return nil, fmt.Errorf("%w: maximum %d bytes", ErrTooLarge, s.maxBytes)
	}

	payload, err := s.normalize(ctx, data, extension)
	if err != nil {
		return nil, fmt.Errorf("decode upload: %w", err)
	}
	if len(payload) < audio.MinPlayableBytes {
		// Too small to process: an empty result, not an error.
		return &transcriber.Result{Language: p.Language, ProcessedAt: time.Now()}, nil
	}

	task := p.Task
	if task == "" {
		task = transcriber.TaskTranscribe
	}
	result, err := s.engine.Transcribe(ctx, transcriber.Request{
		Audio:    payload,
		Task:     task,
		Language: p.Language,
		BeamSize: p.BeamSize,
	})
	if err != nil {
		return nil, err
	}
	if result.Language == "" {
		result.Language = p.Language
	}
	return result, nil
}

// TranscribeWindows splits an uploaded file into duration-bounded PCM
// windows and transcribes each, invoking emit for every non-empty text
// in order. Used by the chunked streaming upload route.
func (s *Service) TranscribeWindows(ctx context.Context, data []byte, extension string, windowLength time.Duration, p Params, emit func(text string) error) error {
	if err := s.ValidateExtension(extension); err != nil {
		return err
	}
	if len(data) == 0 {
		return ErrEmptyFile
	}
	if int64(len(data)) > s.maxBytes {
		return fmt.Errorf("%w: maximum %d bytes", ErrTooLarge, s.maxBytes)
	}

	wav, err := s.normalize(ctx, data, extension)
	if err != nil {
		return fmt.Errorf("decode upload: %w", err)
	}
	pcm, sampleRate, channels, err := splitWAV(wav)
	if err != nil {
		return fmt.Errorf("decode upload: %w", err)
	}

	frameSize := audio.BytesPerSample * channels
	bytesPerSecond := sampleRate * frameSize
	window := int(int64(bytesPerSecond) * int64(windowLength) / int64(time.Second))
	if window <= 0 {
		window = bytesPerSecond * 5
	}
	window -= window % frameSize

	for start := 0; start < len(pcm); start += window {
		end := min(start+window, len(pcm))
		part := pcm[start:end]
		if end == len(pcm) && len(part) < bytesPerSecond {
			// Sub-second tail: noise, not speech.
			return nil
		}
		chunk := &audio.Chunk{
			PCM:        part,
			SampleRate: sampleRate,
			Channels:   channels,
			Duration:   time.Duration(len(part)) * time.Second / time.Duration(bytesPerSecond),
		}
		if err := s.emitWindow(ctx, chunk, p, emit); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) emitWindow(ctx context.Context, chunk *audio.Chunk, p Params, emit func(string) error) error {
	payload := audio.WrapPCM(chunk.PCM, chunk.SampleRate, chunk.Channels)
	if len(payload) < audio.MinPlayableBytes {
		return nil
	}
	task := p.Task
	if task == "" {
		task = transcriber.TaskTranscribe
	}
	result, err := s.engine.Transcribe(ctx, transcriber.Request{
		Audio:      payload,
		Task:       task,
		Language:   p.Language,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
		BeamSize:   p.BeamSize,
	})
	if err != nil {
		// One bad window does not abort the remainder of the file.
		slog.Warn("window transcription failed; skipping", "error", err)
		return nil
	}
	if result.Text == "" {
		return nil
	}
	return emit(result.Text)
}

// normalize turns the upload into a WAV payload: WAV passes through,
// everything else goes through the external transcoder.
func (s *Service) normalize(ctx context.Context, data []byte, extension string) ([]byte, error) {
	if audio.DetectFormat(data) == audio.FormatWAV {
		return data, nil
	}
	hint := strings.ToLower(strings.TrimPrefix(extension, "."))
	return s.converter.ToWAV(ctx, data, hint)
}

// splitWAV separates header metadata from the PCM payload of a 16-bit
// PCM WAV file. Subchunks are walked rather than assumed at fixed
// offsets: ffmpeg output routinely carries a LIST/INFO chunk between
// fmt and data.
func splitWAV(wav []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(wav) < 12 || audio.DetectFormat(wav) != audio.FormatWAV {
		return nil, 0, 0, errors.New("not a PCM WAV payload")
	}
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8
		if size < 0 || body+size > len(wav) {
			size = len(wav) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, 0, errors.New("truncated fmt chunk")
			}
			channels = int(binary.LittleEndian.Uint16(wav[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(wav[body+4 : body+8]))
		case "data":
			if sampleRate <= 0 || channels <= 0 {
				return nil, 0, 0, fmt.Errorf("invalid WAV header: rate=%d channels=%d", sampleRate, channels)
			}
			return wav[body : body+size], sampleRate, channels, nil
		}
		// Chunks are word-aligned.
		offset = body + size + size%2
	}
	return nil, 0, 0, errors.New("missing data chunk")
}
