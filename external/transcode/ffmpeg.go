package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/foxseedlab/mimitori/internal/transcode"
	"github.com/google/uuid"
)

// FFmpegConverter shells out to ffmpeg to decode arbitrary containers into
// 16kHz mono 16-bit WAV, the only format the backends consume directly.
type FFmpegConverter struct {
	binary  string
	tempDir string
}

func NewFFmpegConverter() transcode.Converter {
	return &FFmpegConverter{
		binary:  "ffmpeg",
		tempDir: os.TempDir(),
	}
}

func (c *FFmpegConverter) ToWAV(ctx context.Context, audio []byte, formatHint string) ([]byte, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("empty audio payload")
	}
	if formatHint == "" {
		formatHint = "bin"
	}

	id := uuid.NewString()
	inputPath := filepath.Join(c.tempDir, fmt.Sprintf("mimitori-in-%s.%s", id, formatHint))
	outputPath := filepath.Join(c.tempDir, fmt.Sprintf("mimitori-out-%s.wav", id))
	defer os.Remove(inputPath)
	defer os.Remove(outputPath)

	if err := os.WriteFile(inputPath, audio, 0o600); err != nil {
		return nil, fmt.Errorf("write temp input: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.binary,
		"-i", inputPath,
		"-ac", "1",
		"-ar", "16000",
		"-acodec", "pcm_s16le",
		"-y",
		outputPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffmpeg decode failed: %w: %s", err, stderr.String())
	}

	wav, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("read converted audio: %w", err)
	}
	return wav, nil
}
