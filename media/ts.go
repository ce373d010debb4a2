package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/zsiec/prismplay/internal/mpegts"
	"github.com/zsiec/prismplay/scheduler"
)

// ErrNotTransportStream is returned for a unit that carries no transport
// stream packets.
var ErrNotTransportStream = errors.New("media: not an MPEG transport stream")

const ptsWrap = int64(1) << 33

// TSDecoder turns MPEG transport stream bytes into video frames, one per
// PES packet of the first H.264 or H.265 stream announced in the PMT.
// Frame timestamps are the PES PTS relative to the first one seen, in
// microseconds. Frame data is the Annex B access unit.
type TSDecoder struct {
	// OnRelease, if set, is called once for every frame when it is released.
	OnRelease func(*VideoFrame)

	mu       sync.Mutex
	demux    *mpegts.Demuxer
	videoPID uint16
	codec    uint8
	started  bool
	firstPTS int64
	lastPTS  int64
	wraps    int64

	decoded atomic.Int64
}

// NewTSDecoder returns a decoder with an empty demuxer.
func NewTSDecoder() *TSDecoder {
	return &TSDecoder{demux: mpegts.NewDemuxer()}
}

// DecodeRaw feeds p to the demuxer and returns the frames it completed.
// Packets split across calls are reassembled.
func (d *TSDecoder) DecodeRaw(p []byte) ([]scheduler.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.demux == nil {
		d.demux = mpegts.NewDemuxer()
	}
	before := d.demux.Stats().Packets
	frames := d.frames(d.demux.Feed(p))
	if len(frames) == 0 && d.demux.Stats().Packets == before && len(p) >= mpegts.PacketSize {
		return nil, ErrNotTransportStream
	}
	return frames, nil
}

// Flush returns the frame still held by the demuxer.
func (d *TSDecoder) Flush() []scheduler.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.demux == nil {
		return nil
	}
	return d.frames(d.demux.Flush())
}

// Decoded returns the number of frames produced so far.
func (d *TSDecoder) Decoded() int64 {
	return d.decoded.Load()
}

func (d *TSDecoder) frames(units []*mpegts.Unit) []scheduler.Frame {
	var out []scheduler.Frame
	for _, u := range units {
		switch {
		case u.PMT != nil && d.videoPID == 0:
			for _, es := range u.PMT.Streams {
				if es.StreamType == mpegts.StreamTypeH264 || es.StreamType == mpegts.StreamTypeH265 {
					d.videoPID, d.codec = es.PID, es.StreamType
					break
				}
			}
		case u.PES != nil && u.PID == d.videoPID && d.videoPID != 0:
			if u.PES.PTS < 0 || len(u.PES.Data) == 0 {
				continue
			}
			f := NewVideoFrame(d.relative(u.PES.PTS), u.PES.Data, d.OnRelease)
			f.IsKeyframe = isKeyframe(d.codec, u.PES.Data)
			d.decoded.Add(1)
			out = append(out, f)
		}
	}
	return out
}

// relative maps a 33-bit PTS onto microseconds since the first frame,
// unwrapping forward rollovers.
func (d *TSDecoder) relative(pts int64) int64 {
	if !d.started {
		d.started = true
		d.firstPTS, d.lastPTS = pts, pts
	}
	if d.lastPTS-pts > ptsWrap/2 {
		d.wraps++
	}
	d.lastPTS = pts
	ticks := pts + d.wraps*ptsWrap - d.firstPTS
	if ticks < 0 {
		return 0
	}
	return ticks * 1_000_000 / 90000
}

// isKeyframe reports whether the Annex B access unit holds an IDR picture
// (H.264) or an IRAP picture (H.265).
func isKeyframe(codec uint8, data []byte) bool {
	for _, nal := range annexB(data) {
		switch codec {
		case mpegts.StreamTypeH264:
			if nal[0]&0x1F == 5 {
				return true
			}
		case mpegts.StreamTypeH265:
			if t := nal[0] >> 1 & 0x3F; t >= 16 && t <= 21 {
				return true
			}
		}
	}
	return false
}

// annexB splits data on 3- and 4-byte start codes, dropping empty units.
func annexB(data []byte) [][]byte {
	var nals [][]byte
	start := -1
	for i := 0; i+2 < len(data); i++ {
		if data[i] != 0 || data[i+1] != 0 || data[i+2] != 1 {
			continue
		}
		if start >= 0 {
			end := i
			if end > start && data[end-1] == 0 {
				end--
			}
			if end > start {
				nals = append(nals, data[start:end])
			}
		}
		start = i + 3
		i += 2
	}
	if start >= 0 && start < len(data) {
		nals = append(nals, data[start:])
	}
	return nals
}
