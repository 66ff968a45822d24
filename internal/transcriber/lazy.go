package transcriber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// LazyEngine defers Initialize of the wrapped engine until first use.
// Concurrent first callers all wait on the single in-flight
// initialization and observe its outcome. A real load failure is sticky
// and marks the engine unusable; a canceled or timed-out load is
// surfaced but left open for a later caller to retry.
type LazyEngine struct {
	inner Engine

	mu      sync.Mutex
	done    bool
	initErr error
	ready   atomic.Bool
}

func NewLazyEngine(inner Engine) *LazyEngine {
	return &LazyEngine{inner: inner}
}

func (l *LazyEngine) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return l.initErr
	}
	err := l.inner.Initialize(ctx)
	switch {
	case err == nil:
		l.done = true
		l.ready.Store(true)
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// The caller went away mid-load. The engine itself is fine.
		return err
	default:
		l.done = true
		l.initErr = fmt.Errorf("%w: %v", ErrEngineUnusable, err)
		return l.initErr
	}
}

func (l *LazyEngine) Transcribe(ctx context.Context, req Request) (*Result, error) {
	if err := l.Initialize(ctx); err != nil {
		return nil, err
	}
	return l.inner.Transcribe(ctx, req)
}

func (l *LazyEngine) Ready() bool {
	return l.ready.Load()
}
