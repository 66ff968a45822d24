package audio

import (
	"sync"
	"time"
)

// finalChunkFloor is the minimum sealed duration for a stream-end remainder.
// Shorter tails are treated as noise and discarded.
const finalChunkFloor = time.Second

// Chunk is a sealed window of accumulated raw audio, ready for one
// transcription call.
type Chunk struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   time.Duration
}

// Accumulator buffers raw PCM bytes for one session and seals them into
// duration-bounded chunks. It is owned exclusively by its session; the
// mutex only guards against the receive loop and drain path racing.
type Accumulator struct {
	mu         sync.Mutex
	buf        []byte
	sampleRate int
	channels   int
}

func NewAccumulator(sampleRate, channels int) *Accumulator {
	return &Accumulator{
		sampleRate: sampleRate,
		channels:   channels,
		buf:        make([]byte, 0, sampleRate*BytesPerSample*channels),
	}
}

// Append adds raw bytes to the current window.
func (a *Accumulator) Append(b []byte) {
	if len(b) == 0 {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, b...)
	a.mu.Unlock()
}

// Duration estimates the buffered audio length from the byte count,
// assuming 16-bit little-endian samples.
func (a *Accumulator) Duration() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.durationLocked()
}

func (a *Accumulator) durationLocked() time.Duration {
	bytesPerSecond := a.sampleRate * BytesPerSample * a.channels
	if bytesPerSecond == 0 {
		return 0
	}
	return time.Duration(len(a.buf)) * time.Second / time.Duration(bytesPerSecond)
}

// SealIfReady returns the buffered window once its estimated duration
// reaches threshold and resets the buffer, or nil if more audio is needed.
// Reset and hand-off are atomic: no byte is counted twice or dropped.
func (a *Accumulator) SealIfReady(threshold time.Duration) *Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == 0 || a.durationLocked() < threshold {
		return nil
	}
	return a.sealLocked()
}

// SealFinal seals whatever remains at stream end, discarding remainders
// shorter than one second.
func (a *Accumulator) SealFinal() *Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) == 0 {
		return nil
	}
	if a.durationLocked() < finalChunkFloor {
		a.buf = a.buf[:0]
		return nil
	}
	return a.sealLocked()
}

func (a *Accumulator) sealLocked() *Chunk {
	chunk := &Chunk{
		PCM:        a.buf,
		SampleRate: a.sampleRate,
		Channels:   a.channels,
		Duration:   a.durationLocked(),
	}
	a.buf = make([]byte, 0, cap(chunk.PCM))
	return chunk
}
