package main

import (
	"log/slog"
	"sync/atomic"

	"github.com/zsiec/prismplay/media"
	"github.com/zsiec/prismplay/scheduler"
)

// logSurface stands in for a display: it accounts for each presented
// frame and logs every Nth one at debug level.
type logSurface struct {
	log   *slog.Logger
	every int64

	frames atomic.Int64
	bytes  atomic.Int64
}

func newLogSurface(log *slog.Logger, every int64) *logSurface {
	if every <= 0 {
		every = 30
	}
	return &logSurface{log: log.With("component", "surface"), every: every}
}

func (s *logSurface) Draw(f scheduler.Frame) error {
	n := s.frames.Add(1)
	if vf, ok := f.(*media.VideoFrame); ok {
		s.bytes.Add(int64(len(vf.Data)))
	}
	if n%s.every == 0 {
		s.log.Debug("presented", "frames", n, "timestamp", f.Timestamp(), "bytes", s.bytes.Load())
	}
	return nil
}
