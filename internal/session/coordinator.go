package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/foxseedlab/mimitori/internal/audio"
	"github.com/foxseedlab/mimitori/internal/metrics"
	"github.com/foxseedlab/mimitori/internal/transcode"
	"github.com/foxseedlab/mimitori/internal/transcriber"
	"github.com/google/uuid"
)

// State is one session's lifecycle phase. Transitions are one-way:
// Connecting → Active → Draining → Closed.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "connecting"
	}
}

const (
	defaultChunkThreshold = 5 * time.Second
	defaultIdleTimeout    = 60 * time.Second
	defaultSampleRate     = 16000
	defaultChannels       = 1
)

// Options configures one session.
type Options struct {
	ChunkThreshold time.Duration
	IdleTimeout    time.Duration
	Task           transcriber.Task
	Language       string
	SampleRate     int
	Channels       int

	// OnEngineUnusable is invoked at most once when the backend reports a
	// condition that makes it unusable process-wide.
	OnEngineUnusable func(error)
}

func (o *Options) applyDefaults() {
	if o.ChunkThreshold <= 0 {
		o.ChunkThreshold = defaultChunkThreshold
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.Task == "" {
		o.Task = transcriber.TaskTranscribe
	}
	if o.SampleRate <= 0 {
		o.SampleRate = defaultSampleRate
	}
	if o.Channels <= 0 {
		o.Channels = defaultChannels
	}
}

// Coordinator owns one streaming connection's lifecycle: the receive
// loop, idle-timeout enforcement, chunk dispatch, result delivery, and
// cleanup. Backend dispatch is serialized per session through a
// capacity-one channel feeding a single worker, so results are emitted
// in chunk-seal order and at most one audio blob is in flight.
type Coordinator struct {
	id        string
	clientID  string
	conn      Conn
	engine    transcriber.Engine
	converter transcode.Converter
	registry  *Registry
	met       *metrics.Metrics
	opts      Options

	state    atomic.Int32
	acc      *audio.Accumulator
	dispatch chan *audio.Chunk
	workerWG sync.WaitGroup

	writeMu     sync.Mutex
	writeClosed bool

	fatalOnce sync.Once
}

func NewCoordinator(conn Conn, engine transcriber.Engine, converter transcode.Converter, registry *Registry, met *metrics.Metrics, clientID string, opts Options) *Coordinator {
	opts.applyDefaults()
	return &Coordinator{
		id:        uuid.NewString(),
		clientID:  clientID,
		conn:      conn,
		engine:    engine,
		converter: converter,
		registry:  registry,
		met:       met,
		opts:      opts,
		acc:       audio.NewAccumulator(opts.SampleRate, opts.Channels),
		dispatch:  make(chan *audio.Chunk, 1),
	}
}

func (c *Coordinator) ID() string { return c.id }

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Run drives the session to completion and only returns once the session
// is closed and deregistered.
func (c *Coordinator) Run(ctx context.Context) {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.registry.Add(c.id, Member{Conn: c.conn, ClientID: c.clientID, ConnectedAt: time.Now()})
	c.met.ConnectionsTotal.Inc()
	c.met.ActiveConnections.Inc()
	slog.Info("session active", "session_id", c.id, "client_id", c.clientID)

	// Warm the backend so the first sealed chunk is not penalized by
	// model load time. The load runs on its own context: a client
	// disconnect must not abort a model other sessions will reuse.
	go func() {
		if err := c.engine.Initialize(context.Background()); err != nil && errors.Is(err, transcriber.ErrEngineUnusable) {
			c.reportEngineUnusable(err)
		}
	}()

	c.workerWG.Add(1)
	go c.transcribeWorker(ctx)

	c.receiveLoop(ctx)
	c.drain(ctx)
	c.finalize()
}

// Close requests session shutdown. Safe to call any number of times,
// including on an already-closed session.
func (c *Coordinator) Close() {
	_ = c.conn.Close()
}

func (c *Coordinator) receiveLoop(ctx context.Context) {
	for c.State() == StateActive {
		if ctx.Err() != nil {
			return
		}
		data, err := c.conn.ReadMessage(time.Now().Add(c.opts.IdleTimeout))
		if err != nil {
			slog.Info("receive loop ending", "session_id", c.id, "reason", err)
			return
		}
		c.handleMessage(ctx, data)
	}
}

// handleMessage is the per-message failure boundary: nothing in here may
// terminate the session.
func (c *Coordinator) handleMessage(ctx context.Context, data []byte) {
	c.met.MessagesReceived.Inc()

	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.met.ProtocolErrors.Inc()
		slog.Warn("malformed envelope; skipping", "session_id", c.id, "error", err)
		return
	}

	switch env.Type {
	case envelopeAudioChunk:
		c.handleAudioChunk(ctx, env)
	case envelopePing:
		c.send(newPongMessage())
	default:
		slog.Debug("ignoring envelope", "session_id", c.id, "type", env.Type)
	}
}

func (c *Coordinator) handleAudioChunk(ctx context.Context, env inboundEnvelope) {
	raw, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		c.met.ProtocolErrors.Inc()
		slog.Warn("invalid base64 audio payload", "session_id", c.id, "error", err)
		c.send(newErrorMessage("invalid base64 audio payload"))
		return
	}

	c.ensureAccumulator(env.SampleRate, env.Channels)
	c.acc.Append(raw)

	chunk := c.acc.SealIfReady(c.opts.ChunkThreshold)
	if chunk == nil {
		return
	}
	c.met.ChunksSealed.Inc()
	// Blocking send: the receive loop may not get more than one window
	// ahead of the worker.
	select {
	case c.dispatch <- chunk:
	case <-ctx.Done():
	}
}

// ensureAccumulator reshapes the buffer when the client announces a new
// sample format, but only on a window boundary. Mid-window format changes
// are ignored to keep duration math consistent.
func (c *Coordinator) ensureAccumulator(sampleRate, channels int) {
	if sampleRate <= 0 {
		sampleRate = c.opts.SampleRate
	}
	if channels <= 0 {
		channels = c.opts.Channels
	}
	if sampleRate == c.opts.SampleRate && channels == c.opts.Channels {
		return
	}
	if c.acc.Duration() > 0 {
		slog.Warn("sample format changed mid-window; keeping current format",
			"session_id", c.id, "sample_rate", sampleRate, "channels", channels)
		return
	}
	c.opts.SampleRate = sampleRate
	c.opts.Channels = channels
	c.acc = audio.NewAccumulator(sampleRate, channels)
}

func (c *Coordinator) transcribeWorker(ctx context.Context) {
	defer c.workerWG.Done()
	for chunk := range c.dispatch {
		c.processChunk(ctx, chunk)
	}
}

func (c *Coordinator) processChunk(ctx context.Context, chunk *audio.Chunk) {
	payload, err := c.preparePayload(ctx, chunk)
	if err != nil {
		c.met.ChunkFailures.Inc()
		slog.Warn("chunk decode failed; dropping", "session_id", c.id, "error", err)
		c.send(newErrorMessage("audio decode failed"))
		return
	}
	if payload == nil {
		return
	}

	start := time.Now()
	result, err := c.engine.Transcribe(ctx, transcriber.Request{
		Audio:      payload,
		Task:       c.opts.Task,
		Language:   c.opts.Language,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
	})
	c.met.TranscriptionDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Session closed while the call was in flight; discard.
			return
		}
		if errors.Is(err, transcriber.ErrEngineUnusable) {
			c.reportEngineUnusable(err)
		}
		c.met.ChunkFailures.Inc()
		slog.Error("transcription failed; dropping chunk", "session_id", c.id, "error", err)
		c.send(newErrorMessage("transcription failed"))
		return
	}

	if result.Text == "" {
		// No speech detected. Silence is not reported to the client.
		c.met.SilentChunks.Inc()
		return
	}
	c.met.ChunksTranscribed.Inc()
	c.send(newTranscriptionMessage(result.Text))
}

// preparePayload turns a sealed chunk into a payload the backend accepts.
// A nil, nil return means the chunk is too small to be worth a call.
func (c *Coordinator) preparePayload(ctx context.Context, chunk *audio.Chunk) ([]byte, error) {
	var payload []byte
	switch format := audio.DetectFormat(chunk.PCM); {
	case format == audio.FormatRawPCM:
		payload = audio.WrapPCM(chunk.PCM, chunk.SampleRate, chunk.Channels)
	case format == audio.FormatWAV:
		payload = chunk.PCM
	default:
		wav, err := c.converter.ToWAV(ctx, chunk.PCM, format.String())
		if err != nil {
			return nil, err
		}
		payload = wav
	}
	if len(payload) < audio.MinPlayableBytes {
		slog.Debug("payload too small to process", "session_id", c.id, "bytes", len(payload))
		return nil, nil
	}
	return payload, nil
}

// send delivers one outbound envelope. After finalize it becomes a
// detected no-op so late worker results never hit a dead connection.
func (c *Coordinator) send(v any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeClosed {
		return
	}
	if err := c.conn.WriteJSON(v); err != nil {
		slog.Warn("outbound write failed", "session_id", c.id, "error", err)
	}
}

// drain stops accepting input, seals the remainder, and waits for the
// worker to finish any outstanding backend call.
func (c *Coordinator) drain(ctx context.Context) {
	c.state.CompareAndSwap(int32(StateActive), int32(StateDraining))
	if chunk := c.acc.SealFinal(); chunk != nil {
		c.met.ChunksSealed.Inc()
		select {
		case c.dispatch <- chunk:
		case <-ctx.Done():
		}
	}
	close(c.dispatch)
	c.workerWG.Wait()
}

func (c *Coordinator) finalize() {
	if State(c.state.Swap(int32(StateClosed))) == StateClosed {
		return
	}
	c.writeMu.Lock()
	c.writeClosed = true
	c.writeMu.Unlock()
	_ = c.conn.Close()
	c.registry.Remove(c.id)
	c.met.ActiveConnections.Dec()
	slog.Info("session closed", "session_id", c.id)
}

func (c *Coordinator) reportEngineUnusable(err error) {
	c.fatalOnce.Do(func() {
		slog.Error("transcription engine unusable", "session_id", c.id, "error", err)
		if c.opts.OnEngineUnusable != nil {
			c.opts.OnEngineUnusable(err)
		}
	})
}
