package media

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/zsiec/prismplay/rush"
	"github.com/zsiec/prismplay/scheduler"
)

// DefaultFrameRate is used by SequenceDecoder when FrameRate is unset.
const DefaultFrameRate = 30.0

var (
	ErrNotVideo   = errors.New("media: not a video frame")
	ErrEmptyFrame = errors.New("media: empty video frame")
)

// SequenceDecoder treats each RUSH video message payload as an already
// decoded picture and derives its timestamp from the message ID: the first
// ID seen is time zero and each later ID advances by one frame period.
type SequenceDecoder struct {
	FrameRate float64
	// OnRelease, if set, is called once for every frame the decoder
	// produced when the frame is released.
	OnRelease func(*VideoFrame)

	mu      sync.Mutex
	started bool
	firstID uint64

	decoded atomic.Int64
}

// Decode returns the single frame carried by msg.
func (d *SequenceDecoder) Decode(h rush.Header, msg []byte) ([]scheduler.Frame, error) {
	if h.Type != rush.TypeVideoFrame {
		return nil, fmt.Errorf("%w: %s", ErrNotVideo, h.Type)
	}
	payload := rush.Payload(msg)
	if len(payload) == 0 {
		return nil, ErrEmptyFrame
	}

	d.mu.Lock()
	if !d.started {
		d.started = true
		d.firstID = h.ID
	}
	first := d.firstID
	d.mu.Unlock()

	f := NewVideoFrame(d.pts(h.ID, first), payload, d.OnRelease)
	f.ID = h.ID
	d.decoded.Add(1)
	return []scheduler.Frame{f}, nil
}

// Decoded returns the number of frames produced so far.
func (d *SequenceDecoder) Decoded() int64 {
	return d.decoded.Load()
}

func (d *SequenceDecoder) pts(id, first uint64) int64 {
	if id <= first {
		return 0
	}
	rate := d.FrameRate
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		rate = DefaultFrameRate
	}
	return int64(math.Round(float64(id-first) * 1e6 / rate))
}
