package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/foxseedlab/mimitori/internal/transcriber"
)

// WhisperConfig holds settings for the faster-whisper HTTP sidecar.
type WhisperConfig struct {
	URL         string
	Model       string
	Device      string
	ComputeType string
	Language    string
}

// WhisperHTTPEngine talks to a faster-whisper sidecar over HTTP. The
// sidecar loads the model on demand; Initialize probes its health and
// requests a model load so the first real chunk is not penalized.
type WhisperHTTPEngine struct {
	cfg    WhisperConfig
	client *http.Client
}

func NewWhisperHTTPEngine(cfg WhisperConfig) *WhisperHTTPEngine {
	return &WhisperHTTPEngine{
		cfg: cfg,
		// No client timeout: transcription of a large window may legitimately
		// take a long time, cancellation comes from the request context.
		client: &http.Client{},
	}
}

func (e *WhisperHTTPEngine) Initialize(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"model":        e.cfg.Model,
		"device":       e.cfg.Device,
		"compute_type": e.cfg.ComputeType,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL+"/load", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("whisper sidecar unreachable: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisper sidecar model load returned status %d", resp.StatusCode)
	}
	slog.Info("whisper model loaded", "model", e.cfg.Model, "device", e.cfg.Device, "compute_type", e.cfg.ComputeType)
	return nil
}

type whisperResponse struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Duration   float64 `json:"duration"`
}

func (e *WhisperHTTPEngine) Transcribe(ctx context.Context, req transcriber.Request) (*transcriber.Result, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	_ = writer.WriteField("model", e.cfg.Model)
	_ = writer.WriteField("task", string(req.Task))
	language := req.Language
	if language == "" {
		language = e.cfg.Language
	}
	if language != "" {
		_ = writer.WriteField("language", language)
	}
	if req.BeamSize > 0 {
		_ = writer.WriteField("beam_size", strconv.Itoa(req.BeamSize))
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.URL+"/transcribe", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("whisper request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		// The sidecar answers 500 for per-chunk inference failures too, so
		// transcribe-time status codes never mark the engine unusable.
		// Load failures do, through the lazy wrapper around Initialize.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("whisper sidecar returned status %d: %s", resp.StatusCode, detail)
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode whisper response: %w", err)
	}
	return &transcriber.Result{
		Text:            parsed.Text,
		Language:        parsed.Language,
		Confidence:      parsed.Confidence,
		DurationSeconds: parsed.Duration,
		ProcessedAt:     time.Now(),
	}, nil
}

func (e *WhisperHTTPEngine) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.cfg.URL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return resp.StatusCode == http.StatusOK
}
