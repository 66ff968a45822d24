package session

import "time"

// Inbound envelope types. Unknown types are logged and skipped.
const (
	envelopeAudioChunk = "audio_chunk"
	envelopePing       = "ping"
)

// Outbound envelope types.
const (
	envelopeTranscription = "transcription"
	envelopeError         = "error"
	envelopePong          = "pong"
)

// inboundEnvelope is one JSON-encoded message from the streaming client.
// Audio arrives base64-encoded in Data.
type inboundEnvelope struct {
	Type       string `json:"type"`
	Data       string `json:"data"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// TranscriptionMessage is sent for every non-empty transcription result,
// in chunk-seal order.
type TranscriptionMessage struct {
	Type      string  `json:"type"`
	Text      string  `json:"text"`
	Timestamp float64 `json:"timestamp"`
}

// ErrorMessage surfaces a per-chunk processing failure to the client.
// It never implies the session is closing.
type ErrorMessage struct {
	Type      string    `json:"type"`
	Data      ErrorData `json:"data"`
	Timestamp float64   `json:"timestamp"`
}

type ErrorData struct {
	Error string `json:"error"`
}

// PongMessage answers a ping envelope.
type PongMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

// ShutdownMessage is broadcast to live sessions when the process is
// shutting down gracefully.
type ShutdownMessage struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

func newTranscriptionMessage(text string) TranscriptionMessage {
	return TranscriptionMessage{Type: envelopeTranscription, Text: text, Timestamp: nowUnix()}
}

func newErrorMessage(detail string) ErrorMessage {
	return ErrorMessage{Type: envelopeError, Data: ErrorData{Error: detail}, Timestamp: nowUnix()}
}

func newPongMessage() PongMessage {
	return PongMessage{Type: envelopePong, Timestamp: nowUnix()}
}

// NewShutdownMessage builds the envelope broadcast on graceful shutdown.
func NewShutdownMessage() ShutdownMessage {
	return ShutdownMessage{Type: "server_shutdown", Timestamp: nowUnix()}
}

func nowUnix() float64 {
	return float64(time.Now().UnixMilli()) / 1000.0
}
