package transcode

import "context"

// Converter normalizes container audio to 16kHz mono 16-bit WAV.
// A decode failure means the chunk is dropped, never the session.
type Converter interface {
	ToWAV(ctx context.Context, audio []byte, formatHint string) ([]byte, error)
}
