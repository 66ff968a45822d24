package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/foxseedlab/mimitori/internal/config"
	"github.com/foxseedlab/mimitori/internal/metrics"
	"github.com/foxseedlab/mimitori/internal/session"
	"github.com/foxseedlab/mimitori/internal/transcode"
	"github.com/foxseedlab/mimitori/internal/transcriber"
	"github.com/foxseedlab/mimitori/internal/upload"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const serviceName = "mimitori"

// Handler carries the HTTP and WebSocket route implementations.
type Handler struct {
	cfg       *config.Config
	engine    transcriber.Engine
	converter transcode.Converter
	uploads   *upload.Service
	registry  *session.Registry
	met       *metrics.Metrics

	upgrader websocket.Upgrader

	// onEngineUnusable propagates backend-unusable conditions to the
	// process level.
	onEngineUnusable func(error)
}

func NewHandler(cfg *config.Config, engine transcriber.Engine, converter transcode.Converter, uploads *upload.Service, registry *session.Registry, met *metrics.Metrics, onEngineUnusable func(error)) *Handler {
	return &Handler{
		cfg:       cfg,
		engine:    engine,
		converter: converter,
		uploads:   uploads,
		registry:  registry,
		met:       met,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		onEngineUnusable: onEngineUnusable,
	}
}

type transcriptionResponse struct {
	Text        string  `json:"text"`
	Language    string  `json:"language"`
	Confidence  float64 `json:"confidence,omitempty"`
	Duration    float64 `json:"duration"`
	ProcessedAt string  `json:"processed_at"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

// handleTranscribeFile is the one-shot upload path: whole file, one
// backend call, one JSON response.
func (h *Handler) handleTranscribeFile(c *gin.Context) {
	data, extension, ok := h.readUploadedFile(c)
	if !ok {
		return
	}

	params := upload.Params{
		Task:     parseTask(c.PostForm("task")),
		Language: c.PostForm("language"),
	}
	if beam := c.PostForm("beam_size"); beam != "" {
		if n, err := strconv.Atoi(beam); err == nil && n > 0 {
			params.BeamSize = n
		}
	}

	result, err := h.uploads.Transcribe(c.Request.Context(), data, extension, params)
	if err != nil {
		h.writeUploadError(c, err)
		return
	}
	c.JSON(http.StatusOK, transcriptionResponse{
		Text:        result.Text,
		Language:    result.Language,
		Confidence:  result.Confidence,
		Duration:    result.DurationSeconds,
		ProcessedAt: result.ProcessedAt.Format(time.RFC3339),
	})
}

// handleTranscribeStream transcribes an upload in fixed windows and
// streams each text back as a server-sent-events style line.
func (h *Handler) handleTranscribeStream(c *gin.Context) {
	data, extension, ok := h.readUploadedFile(c)
	if !ok {
		return
	}

	windowLength := h.cfg.ChunkThreshold()
	if raw := c.Query("chunk_duration"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil && ms > 0 {
			windowLength = time.Duration(ms) * time.Millisecond
		}
	}
	params := upload.Params{
		Task:     parseTask(c.Query("task")),
		Language: c.Query("language"),
	}

	c.Header("Content-Type", "text/plain")
	c.Header("Cache-Control", "no-cache")
	writer := c.Writer
	err := h.uploads.TranscribeWindows(c.Request.Context(), data, extension, windowLength, params, func(text string) error {
		if _, err := fmt.Fprintf(writer, "data: %s\n\n", text); err != nil {
			return err
		}
		writer.Flush()
		return nil
	})
	if err != nil {
		// Headers may already be out; only map the error if nothing was
		// written yet.
		if !writer.Written() {
			h.writeUploadError(c, err)
		} else {
			slog.Warn("stream transcription aborted", "error", err)
		}
	}
}

// readUploadedFile pulls the multipart payload out of the request,
// enforcing the size ceiling before buffering the body.
func (h *Handler) readUploadedFile(c *gin.Context) (data []byte, extension string, ok bool) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: "Missing file field"})
		return nil, "", false
	}

	maxBytes := h.uploads.MaxBytes()
	if fileHeader.Size > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
			Detail: fmt.Sprintf("File too large. Maximum: %dMB", h.cfg.MaxAudioSizeMB),
		})
		return nil, "", false
	}

	extension = strings.TrimPrefix(filepath.Ext(fileHeader.Filename), ".")
	if err := h.uploads.ValidateExtension(extension); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Detail: "File must be an audio file"})
		return nil, "", false
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: "Unreadable file field"})
		return nil, "", false
	}
	defer func() {
		_ = file.Close()
	}()

	data, err = io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: "Unreadable file field"})
		return nil, "", false
	}
	if int64(len(data)) > maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
			Detail: fmt.Sprintf("File too large. Maximum: %dMB", h.cfg.MaxAudioSizeMB),
		})
		return nil, "", false
	}
	return data, extension, true
}

func (h *Handler) writeUploadError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, upload.ErrNotAudioFile):
		c.JSON(http.StatusBadRequest, errorResponse{Detail: "File must be an audio file"})
	case errors.Is(err, upload.ErrTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{
			Detail: fmt.Sprintf("File too large. Maximum: %dMB", h.cfg.MaxAudioSizeMB),
		})
	case errors.Is(err, upload.ErrEmptyFile):
		c.JSON(http.StatusUnprocessableEntity, errorResponse{Detail: "File is empty"})
	default:
		if errors.Is(err, transcriber.ErrEngineUnusable) && h.onEngineUnusable != nil {
			h.onEngineUnusable(err)
		}
		c.JSON(http.StatusInternalServerError, errorResponse{Detail: fmt.Sprintf("Transcription error: %s", err)})
	}
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"service":      serviceName,
		"model_loaded": h.engine.Ready(),
	})
}

// handleWebSocket upgrades the connection and hands it to a session
// coordinator, which blocks until the session closes.
func (h *Handler) handleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	coord := session.NewCoordinator(
		newWSConn(conn),
		h.engine,
		h.converter,
		h.registry,
		h.met,
		c.Query("client_id"),
		session.Options{
			ChunkThreshold:   h.cfg.ChunkThreshold(),
			IdleTimeout:      h.cfg.IdleTimeout(),
			Task:             parseTask(c.Query("task")),
			Language:         c.Query("language"),
			SampleRate:       h.cfg.SampleRate,
			Channels:         h.cfg.Channels,
			OnEngineUnusable: h.onEngineUnusable,
		},
	)
	coord.Run(c.Request.Context())
}

func parseTask(raw string) transcriber.Task {
	if raw == string(transcriber.TaskTranslate) {
		return transcriber.TaskTranslate
	}
	return transcriber.TaskTranscribe
}
