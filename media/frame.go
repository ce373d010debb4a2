// Package media defines the decoded frame types handed from the decoder to
// the presentation scheduler, and a minimal decoder for RUSH video frames.
package media

import (
	"sync"
	"time"
)

// VideoBufferSize is the initial capacity of frame queues: about two
// seconds of video at 30 fps.
const VideoBufferSize = 60

// VideoFrame is one decoded picture waiting for presentation. PTS is in
// microseconds on the session timeline, which starts at zero.
type VideoFrame struct {
	PTS        int64
	ID         uint64
	IsKeyframe bool
	Data       []byte

	once    sync.Once
	release func(*VideoFrame)
}

// NewVideoFrame returns a frame whose Release calls release once. release
// may be nil.
func NewVideoFrame(pts int64, data []byte, release func(*VideoFrame)) *VideoFrame {
	return &VideoFrame{PTS: pts, Data: data, release: release}
}

// Timestamp returns the presentation time relative to the start of the
// session.
func (f *VideoFrame) Timestamp() time.Duration {
	return time.Duration(f.PTS) * time.Microsecond
}

// Release returns the frame's resources. Only the first call has effect.
func (f *VideoFrame) Release() {
	f.once.Do(func() {
		if f.release != nil {
			f.release(f)
		}
		f.Data = nil
	})
}
