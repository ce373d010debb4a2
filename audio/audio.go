// Package audio provides the shared, lazily initialized audio output
// resource. Initialization runs at most once per Cache; every caller, early
// or late, observes the same handle or the same failure.
package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// ErrInitFailed wraps the cause of a failed initialization. It is terminal:
// a Cache never retries.
var ErrInitFailed = errors.New("audio: initialization failed")

// Handle is an initialized audio output.
type Handle interface {
	SampleRate() int
	// Write queues encoded or PCM audio for playback.
	Write(p []byte) (int, error)
}

// InitFunc creates the audio output. It runs once, on its own goroutine,
// with a context that is never cancelled.
type InitFunc func(ctx context.Context) (Handle, error)

// Cache runs an InitFunc once and shares its result.
type Cache struct {
	init InitFunc
	log  *slog.Logger

	once   sync.Once
	done   chan struct{}
	handle Handle
	err    error
}

// NewCache returns a Cache that will run init on first use. If log is nil,
// slog.Default() is used.
func NewCache(init InitFunc, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		init: init,
		log:  log.With("component", "audio"),
		done: make(chan struct{}),
	}
}

// Start begins initialization if it has not started yet. It does not wait.
func (c *Cache) Start() {
	c.once.Do(func() {
		go c.run()
	})
}

func (c *Cache) run() {
	defer close(c.done)
	defer func() {
		if r := recover(); r != nil {
			c.handle = nil
			c.err = fmt.Errorf("%w: panic: %v", ErrInitFailed, r)
			c.log.Error("audio init panicked", "panic", r)
		}
	}()

	h, err := c.init(context.Background())
	switch {
	case err != nil:
		c.err = fmt.Errorf("%w: %w", ErrInitFailed, err)
		c.log.Error("audio init failed", "error", err)
	case h == nil:
		c.err = fmt.Errorf("%w: no handle returned", ErrInitFailed)
		c.log.Error("audio init returned no handle")
	default:
		c.handle = h
		c.log.Info("audio ready", "sample_rate", h.SampleRate())
	}
}

// Acquire starts initialization if needed and waits for its outcome or
// ctx. Cancelling ctx abandons the wait only; initialization continues and
// later callers still observe its result.
func (c *Cache) Acquire(ctx context.Context) (Handle, error) {
	c.Start()
	select {
	case <-c.done:
		return c.handle, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready reports whether initialization has finished, successfully or not.
func (c *Cache) Ready() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

var (
	processOnce  sync.Once
	processCache *Cache
)

// Process returns the process-wide Cache. The first call fixes its
// InitFunc; later calls return the same Cache and ignore their argument.
func Process(init InitFunc) *Cache {
	processOnce.Do(func() {
		processCache = NewCache(init, nil)
	})
	return processCache
}

// WriterHandle adapts an io.Writer sink, such as a file receiving raw
// audio, into a Handle.
type WriterHandle struct {
	w    io.Writer
	rate int

	mu sync.Mutex
}

// NewWriterHandle returns a Handle writing to w at the given sample rate.
func NewWriterHandle(w io.Writer, sampleRate int) *WriterHandle {
	return &WriterHandle{w: w, rate: sampleRate}
}

func (h *WriterHandle) SampleRate() int { return h.rate }

// Write is safe for concurrent use.
func (h *WriterHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.w.Write(p)
}

// Discard is a Handle that accepts and drops all audio.
type Discard struct {
	Rate int
}

func (d Discard) SampleRate() int { return d.Rate }

func (Discard) Write(p []byte) (int, error) { return len(p), nil }
