package session

import "time"

// Conn abstracts one bidirectional streaming connection. The production
// implementation wraps a WebSocket; tests use in-memory fakes.
type Conn interface {
	// ReadMessage blocks for the next text frame until deadline. It returns
	// an error on timeout or disconnect; both terminate the session.
	ReadMessage(deadline time.Time) ([]byte, error)

	// WriteJSON serializes v and sends it as one text frame. Implementations
	// must be safe for use from the coordinator's worker and drain paths;
	// the coordinator itself serializes writes.
	WriteJSON(v any) error

	Close() error
}
