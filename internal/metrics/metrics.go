package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the gateway.
type Metrics struct {
	// Streaming session metrics
	ActiveConnections prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	MessagesReceived  prometheus.Counter
	ProtocolErrors    prometheus.Counter

	// Chunk pipeline metrics
	ChunksSealed          prometheus.Counter
	ChunksTranscribed     prometheus.Counter
	ChunkFailures         prometheus.Counter
	SilentChunks          prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// Upload metrics
	UploadRequests prometheus.Counter
	UploadFailures prometheus.Counter
}

// New registers the gateway metrics on reg. Tests pass their own registry
// so repeated construction does not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mimitori_active_connections",
			Help: "Current number of live streaming sessions",
		}),
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_connections_total",
			Help: "Total number of streaming sessions accepted",
		}),
		MessagesReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_messages_received_total",
			Help: "Total number of inbound envelopes parsed",
		}),
		ProtocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_protocol_errors_total",
			Help: "Total number of malformed inbound envelopes",
		}),
		ChunksSealed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_chunks_sealed_total",
			Help: "Total number of audio windows sealed for transcription",
		}),
		ChunksTranscribed: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_chunks_transcribed_total",
			Help: "Total number of chunks transcribed successfully",
		}),
		ChunkFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_chunk_failures_total",
			Help: "Total number of chunks dropped due to decode or backend errors",
		}),
		SilentChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_silent_chunks_total",
			Help: "Total number of chunks with no detected speech",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mimitori_transcription_duration_seconds",
			Help:    "Wall time of backend transcription calls",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		UploadRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_upload_requests_total",
			Help: "Total number of file transcription requests",
		}),
		UploadFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mimitori_upload_failures_total",
			Help: "Total number of failed file transcription requests",
		}),
	}
}
