// Package player ties a connection, a decoder, the frame scheduler and the
// audio output into one playback session.
package player

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/zsiec/prismplay/audio"
	"github.com/zsiec/prismplay/connection"
	"github.com/zsiec/prismplay/rush"
	"github.com/zsiec/prismplay/scheduler"
)

// Decoder turns a RUSH video message into frames ready for presentation.
// msg includes the header.
type Decoder interface {
	Decode(h rush.Header, msg []byte) ([]scheduler.Frame, error)
}

// RawDecoder turns units that are not RUSH messages, such as MPEG-TS
// chunks, into frames. Units may split its input at arbitrary points.
type RawDecoder interface {
	DecodeRaw(p []byte) ([]scheduler.Frame, error)
}

// Metrics receives per-unit and per-connection events.
type Metrics interface {
	UnitReceived(transport, msgType string, n int)
	DecodeError()
	AudioWritten(n int)
	Connected()
	ConnectionClosed(transport string, err error)
}

// Config wires a Player. Connection, Scheduler and Decoder are required.
type Config struct {
	Connection *connection.Supervisor
	Scheduler  *scheduler.Scheduler
	Decoder    Decoder
	// Raw, if set, decodes units that are not RUSH messages. Units it
	// rejects go to OnRaw.
	Raw RawDecoder
	// Audio, if set, receives the payload of RUSH audio messages once its
	// handle is ready. Audio arriving earlier is dropped.
	Audio *audio.Cache
	// OnRaw receives every unit that is not a RUSH video or audio message,
	// and audio messages when Audio is nil.
	OnRaw   func(p []byte)
	Metrics Metrics
	Logger  *slog.Logger
}

var errIncompleteConfig = errors.New("player: connection, scheduler and decoder are required")

// Stats counts routed units.
type Stats struct {
	Units        int64
	Video        int64
	Frames       int64
	Audio        int64
	AudioDropped int64
	Raw          int64
	DecodeErrors int64
}

// Player routes received units for one session.
type Player struct {
	conn    *connection.Supervisor
	sched   *scheduler.Scheduler
	dec     Decoder
	rawDec  RawDecoder
	audio   *audio.Cache
	onRaw   func([]byte)
	metrics Metrics
	log     *slog.Logger
	kind    string

	handle atomic.Pointer[audioRef]

	units        atomic.Int64
	video        atomic.Int64
	frames       atomic.Int64
	audioUnits   atomic.Int64
	audioDropped atomic.Int64
	raw          atomic.Int64
	decodeErrors atomic.Int64

	errLog rate.Sometimes
}

type audioRef struct{ h audio.Handle }

// New validates cfg and returns a Player.
func New(cfg Config) (*Player, error) {
	if cfg.Connection == nil || cfg.Scheduler == nil || cfg.Decoder == nil {
		return nil, errIncompleteConfig
	}
	log := cfg.Logger
	if log == nil {
		log = cfg.Connection.Logger()
	}
	m := cfg.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Player{
		conn:    cfg.Connection,
		sched:   cfg.Scheduler,
		dec:     cfg.Decoder,
		rawDec:  cfg.Raw,
		audio:   cfg.Audio,
		onRaw:   cfg.OnRaw,
		metrics: m,
		log:     log.With("component", "player"),
		kind:    string(cfg.Connection.Kind()),
		errLog:  rate.Sometimes{First: 3, Interval: 5 * time.Second},
	}, nil
}

// Run connects to addr and routes received units until the connection
// closes or ctx is cancelled. It returns nil for a graceful closure, the
// closure cause otherwise, or ctx.Err(). The connection is always closed
// on return; the scheduler is left to the caller.
func (p *Player) Run(ctx context.Context, addr string) error {
	if p.audio != nil {
		p.audio.Start()
	}

	if err := p.conn.Connect(ctx, addr, nil); err != nil {
		return err
	}
	p.metrics.Connected()

	err := p.play(ctx)
	p.conn.Close()
	p.flushRaw()

	closeErr := p.conn.Err()
	if err != nil && ctx.Err() == nil {
		closeErr = err
	}
	p.metrics.ConnectionClosed(p.kind, closeErr)
	s := p.Stats()
	p.log.Info("session ended", "units", s.Units, "frames", s.Frames,
		"audio", s.Audio, "raw", s.Raw, "decode_errors", s.DecodeErrors, "error", err)
	return err
}

func (p *Player) play(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel()
		return p.conn.Read(gctx, p.route)
	})

	if p.audio != nil {
		g.Go(func() error {
			h, err := p.audio.Acquire(gctx)
			if err != nil {
				if gctx.Err() == nil {
					p.log.Warn("audio unavailable, dropping audio", "error", err)
				}
				return nil
			}
			p.handle.Store(&audioRef{h: h})
			return nil
		})
	}

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case <-p.conn.Closed():
	case <-ctx.Done():
		return ctx.Err()
	}
	return p.conn.Err()
}

// flushRaw schedules the frame a raw decoder still holds at session end.
func (p *Player) flushRaw() {
	f, ok := p.rawDec.(interface{ Flush() []scheduler.Frame })
	if !ok {
		return
	}
	p.schedule(f.Flush(), 0)
}

// route dispatches one received unit.
func (p *Player) route(b []byte) {
	p.units.Add(1)

	h, err := rush.ParseHeader(b)
	if err != nil || h.Length != uint64(len(b)) {
		p.metrics.UnitReceived(p.kind, "raw", len(b))
		p.routeRaw(b)
		return
	}
	p.metrics.UnitReceived(p.kind, h.Type.String(), len(b))

	switch h.Type {
	case rush.TypeVideoFrame:
		p.video.Add(1)
		p.routeVideo(h, b)
	case rush.TypeAudioFrame:
		p.audioUnits.Add(1)
		p.routeAudio(b)
	default:
		p.deliverRaw(b)
	}
}

func (p *Player) routeVideo(h rush.Header, msg []byte) {
	frames, err := p.dec.Decode(h, msg)
	if err != nil {
		p.decodeErrors.Add(1)
		p.metrics.DecodeError()
		p.errLog.Do(func() {
			p.log.Warn("decode failed", "id", h.ID, "error", err)
		})
		return
	}
	p.schedule(frames, h.ID)
}

// routeRaw decodes a non-RUSH unit when a raw decoder is set and hands it
// to OnRaw otherwise.
func (p *Player) routeRaw(b []byte) {
	if p.rawDec == nil {
		p.deliverRaw(b)
		return
	}
	frames, err := p.rawDec.DecodeRaw(b)
	if err != nil {
		p.decodeErrors.Add(1)
		p.metrics.DecodeError()
		p.errLog.Do(func() {
			p.log.Warn("raw decode failed", "size", len(b), "error", err)
		})
		p.deliverRaw(b)
		return
	}
	p.raw.Add(1)
	p.schedule(frames, 0)
}

func (p *Player) schedule(frames []scheduler.Frame, id uint64) {
	for _, f := range frames {
		if err := p.sched.Push(f); err != nil {
			p.log.Debug("frame not scheduled", "id", id, "error", err)
			continue
		}
		p.frames.Add(1)
	}
}

func (p *Player) routeAudio(msg []byte) {
	if p.audio == nil {
		p.deliverRaw(msg)
		return
	}
	ref := p.handle.Load()
	if ref == nil {
		p.audioDropped.Add(1)
		return
	}
	payload := rush.Payload(msg)
	n, err := ref.h.Write(payload)
	if err != nil {
		p.errLog.Do(func() {
			p.log.Warn("audio write failed", "error", err)
		})
		return
	}
	p.metrics.AudioWritten(n)
}

func (p *Player) deliverRaw(b []byte) {
	p.raw.Add(1)
	if p.onRaw != nil {
		p.onRaw(b)
	}
}

// Stats returns a snapshot of routing counters.
func (p *Player) Stats() Stats {
	return Stats{
		Units:        p.units.Load(),
		Video:        p.video.Load(),
		Frames:       p.frames.Load(),
		Audio:        p.audioUnits.Load(),
		AudioDropped: p.audioDropped.Load(),
		Raw:          p.raw.Load(),
		DecodeErrors: p.decodeErrors.Load(),
	}
}

type nopMetrics struct{}

func (nopMetrics) UnitReceived(string, string, int) {}
func (nopMetrics) DecodeError()                     {}
func (nopMetrics) AudioWritten(int)                 {}
func (nopMetrics) Connected()                       {}
func (nopMetrics) ConnectionClosed(string, error)   {}
