package transcriber

import (
	"context"
	"errors"
	"time"
)

// Task selects what the backend does with the audio.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// ErrEngineUnusable marks backend failures that make the engine itself
// unusable (failed model load, lost credentials). Callers treat these as
// process-fatal rather than per-chunk failures.
var ErrEngineUnusable = errors.New("transcription engine unusable")

// Request carries one audio payload to the backend. Immutable once built.
type Request struct {
	Audio      []byte
	Task       Task
	Language   string // empty means auto-detect
	SampleRate int
	Channels   int
	BeamSize   int // 0 lets the backend choose
}

// Result is the backend's answer for one chunk. Empty Text means no
// speech was detected; it is not an error.
type Result struct {
	Text            string
	Language        string
	Confidence      float64
	DurationSeconds float64
	ProcessedAt     time.Time
}

// Engine is the narrow contract to the external speech-recognition backend.
type Engine interface {
	// Initialize loads the engine. It must be idempotent; failures other
	// than context cancellation mark the engine unusable.
	Initialize(ctx context.Context) error

	// Transcribe blocks the calling worker until text comes back or the
	// context is canceled.
	Transcribe(ctx context.Context, req Request) (*Result, error)

	// Ready reports whether Initialize has completed successfully.
	Ready() bool
}
