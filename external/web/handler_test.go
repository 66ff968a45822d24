package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/foxseedlab/mimitori/internal/audio"
	"github.com/foxseedlab/mimitori/internal/config"
	"github.com/foxseedlab/mimitori/internal/metrics"
	"github.com/foxseedlab/mimitori/internal/session"
	"github.com/foxseedlab/mimitori/internal/transcriber"
	"github.com/foxseedlab/mimitori/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type mockEngine struct {
	transcribe func(req transcriber.Request) (*transcriber.Result, error)
	ready      bool
}

func (e *mockEngine) Initialize(_ context.Context) error { return nil }

func (e *mockEngine) Transcribe(_ context.Context, req transcriber.Request) (*transcriber.Result, error) {
	if e.transcribe != nil {
		return e.transcribe(req)
	}
	return &transcriber.Result{Text: "hello", DurationSeconds: 5, ProcessedAt: time.Now()}, nil
}

func (e *mockEngine) Ready() bool { return e.ready }

type identityConverter struct{}

func (identityConverter) ToWAV(_ context.Context, data []byte, _ string) ([]byte, error) {
	return data, nil
}

func testConfig(maxMB int) *config.Config {
	return &config.Config{
		Env:                 "development",
		Host:                "127.0.0.1",
		Port:                8000,
		TranscriberProvider: config.ProviderWhisper,
		WhisperURL:          "http://localhost:8387",
		ChunkThresholdMs:    100,
		IdleTimeoutSec:      60,
		MaxAudioSizeMB:      maxMB,
		SampleRate:          16000,
		Channels:            1,
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, engine transcriber.Engine) (*gin.Engine, *session.Registry) {
	t.Helper()
	met := metrics.New(prometheus.NewRegistry())
	registry := session.NewRegistry()
	uploads := upload.NewService(engine, identityConverter{}, met, cfg.MaxAudioSizeBytes())
	h := NewHandler(cfg, engine, identityConverter{}, uploads, registry, met, nil)
	return NewRouter(h, false), registry
}

func multipartBody(t *testing.T, filename string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write file content: %v", err)
	}
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return &buf, writer.FormDataContentType()
}

func wavFixture(seconds int) []byte {
	return audio.WrapPCM(make([]byte, 16000*2*seconds), 16000, 1)
}

func TestTranscribeFile_Success(t *testing.T) {
	engine := &mockEngine{
		transcribe: func(req transcriber.Request) (*transcriber.Result, error) {
			if req.Task != transcriber.TaskTranscribe {
				t.Fatalf("unexpected task: %s", req.Task)
			}
			if req.Language != "pt" {
				t.Fatalf("unexpected language: %s", req.Language)
			}
			return &transcriber.Result{Text: "olá", DurationSeconds: 5, ProcessedAt: time.Now()}, nil
		},
	}
	router, _ := newTestRouter(t, testConfig(50), engine)

	body, contentType := multipartBody(t, "speech.wav", wavFixture(5), map[string]string{"language": "pt"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response json: %v", err)
	}
	if resp["text"] != "olá" {
		t.Fatalf("unexpected text: %v", resp["text"])
	}
	if resp["language"] != "pt" {
		t.Fatalf("expected request language to be echoed, got %v", resp["language"])
	}
	if resp["processed_at"] == "" {
		t.Fatal("expected processed_at to be set")
	}
}

func TestTranscribeFile_RejectsNonAudioExtension(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(50), &mockEngine{})

	body, contentType := multipartBody(t, "notes.txt", []byte("plain text"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "File must be an audio file") {
		t.Fatalf("expected rejection detail, got %s", rec.Body)
	}
}

func TestTranscribeFile_RejectsOversizePayload(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(0), &mockEngine{})

	body, contentType := multipartBody(t, "speech.wav", []byte("x"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestTranscribeFile_MissingFileField(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(50), &mockEngine{})

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	_ = writer.WriteField("language", "en")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestTranscribeFile_BackendFailureIs500WithCause(t *testing.T) {
	engine := &mockEngine{
		transcribe: func(_ transcriber.Request) (*transcriber.Result, error) {
			return nil, errors.New("inference exploded")
		},
	}
	router, _ := newTestRouter(t, testConfig(50), engine)

	body, contentType := multipartBody(t, "speech.wav", wavFixture(5), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/file", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "inference exploded") {
		t.Fatalf("expected cause message in body, got %s", rec.Body)
	}
}

func TestTranscribeStream_EmitsWindows(t *testing.T) {
	engine := &mockEngine{
		transcribe: func(_ transcriber.Request) (*transcriber.Result, error) {
			return &transcriber.Result{Text: "part", ProcessedAt: time.Now()}, nil
		},
	}
	router, _ := newTestRouter(t, testConfig(50), engine)

	body, contentType := multipartBody(t, "speech.wav", wavFixture(10), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transcribe/stream?chunk_duration=5000", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	raw, _ := io.ReadAll(rec.Body)
	if got := strings.Count(string(raw), "data: part\n\n"); got != 2 {
		t.Fatalf("expected 2 emitted windows, got %d in %q", got, raw)
	}
}

func TestHealth_ReportsModelState(t *testing.T) {
	for _, path := range []string{"/health", "/api/v1/health"} {
		router, _ := newTestRouter(t, testConfig(50), &mockEngine{ready: true})
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var resp map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: invalid json: %v", path, err)
		}
		if resp["status"] != "healthy" || resp["service"] != "mimitori" {
			t.Fatalf("%s: unexpected payload: %v", path, resp)
		}
		if resp["model_loaded"] != true {
			t.Fatalf("%s: expected model_loaded=true, got %v", path, resp["model_loaded"])
		}
	}
}
