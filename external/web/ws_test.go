package web

import (
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialTestSocket(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/transcribe" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func TestWebSocket_ChunkRoundTrip(t *testing.T) {
	engine := &mockEngine{}
	router, registry := newTestRouter(t, testConfig(50), engine)
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialTestSocket(t, server, "?client_id=test-client&language=en")

	// 100ms of non-silent mono PCM at 16kHz, matching the configured
	// chunk threshold.
	pcm := make([]byte, 3200)
	for i := range pcm {
		pcm[i] = 0x01
	}
	envelope := map[string]any{
		"type":        "audio_chunk",
		"data":        base64.StdEncoding.EncodeToString(pcm),
		"sample_rate": 16000,
		"channels":    1,
	}
	if err := conn.WriteJSON(envelope); err != nil {
		t.Fatalf("failed to send chunk: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var reply struct {
		Type      string  `json:"type"`
		Text      string  `json:"text"`
		Timestamp float64 `json:"timestamp"`
	}
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("expected a transcription reply: %v", err)
	}
	if reply.Type != "transcription" {
		t.Fatalf("unexpected reply type: %s", reply.Type)
	}
	if reply.Text != "hello" {
		t.Fatalf("unexpected text: %s", reply.Text)
	}
	if reply.Timestamp <= 0 {
		t.Fatalf("expected positive timestamp, got %f", reply.Timestamp)
	}

	_ = conn.Close()
	waitForCount(t, registry, 0)
}

func TestWebSocket_PingAnswered(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(50), &mockEngine{})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialTestSocket(t, server, "")

	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("failed to send ping: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("expected a pong reply: %v", err)
	}
	if reply["type"] != "pong" {
		t.Fatalf("unexpected reply: %v", reply)
	}
}

func TestWebSocket_MalformedEnvelopeKeepsSessionOpen(t *testing.T) {
	router, registry := newTestRouter(t, testConfig(50), &mockEngine{})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialTestSocket(t, server, "")

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("failed to send garbage: %v", err)
	}
	if err := conn.WriteJSON(map[string]string{"type": "ping"}); err != nil {
		t.Fatalf("failed to send ping after garbage: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	var reply map[string]any
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("session should survive malformed input: %v", err)
	}
	if reply["type"] != "pong" {
		t.Fatalf("unexpected reply: %v", reply)
	}

	waitForCount(t, registry, 1)
}

func TestWebSocket_RegistryTracksConnections(t *testing.T) {
	router, registry := newTestRouter(t, testConfig(50), &mockEngine{})
	server := httptest.NewServer(router)
	defer server.Close()

	first := dialTestSocket(t, server, "?client_id=a")
	second := dialTestSocket(t, server, "?client_id=b")
	waitForCount(t, registry, 2)

	_ = first.Close()
	waitForCount(t, registry, 1)

	_ = second.Close()
	waitForCount(t, registry, 0)
}

func TestWebSocket_DecodeFailureSendsErrorEnvelope(t *testing.T) {
	router, _ := newTestRouter(t, testConfig(50), &mockEngine{})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialTestSocket(t, server, "")

	envelope := map[string]any{
		"type": "audio_chunk",
		"data": "!!not-base64!!",
	}
	if err := conn.WriteJSON(envelope); err != nil {
		t.Fatalf("failed to send chunk: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected an error envelope: %v", err)
	}
	var reply struct {
		Type string `json:"type"`
		Data struct {
			Error string `json:"error"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("invalid reply json: %v", err)
	}
	if reply.Type != "error" {
		t.Fatalf("unexpected reply type: %s", reply.Type)
	}
	if reply.Data.Error == "" {
		t.Fatal("expected an error description")
	}
}

func waitForCount(t *testing.T, registry interface{ Count() int }, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if registry.Count() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry never reached %d connections, at %d", want, registry.Count())
}
