package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	srtgo "github.com/zsiec/srtgo"
)

// srtReadBufferSize holds one live-mode SRT message.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT receiver latency in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtDialFunc opens an SRT caller connection.
type srtDialFunc func(addr, streamID string) (io.ReadWriteCloser, error)

func dialSRT(addr, streamID string) (io.ReadWriteCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = streamID
	conn, err := srtgo.Dial(addr, cfg)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// SRT receives live-mode SRT messages as a caller. Each message read from
// the socket is one unit.
type SRT struct {
	opts Options
	log  *slog.Logger
	dial srtDialFunc
	life *lifecycle

	mu   sync.Mutex
	conn io.ReadWriteCloser
	pump *pump

	writeMu sync.Mutex
}

// NewSRT returns an unconnected SRT transport.
func NewSRT(opts Options) *SRT {
	opts = opts.withDefaults()
	return &SRT{
		opts: opts,
		log:  opts.Logger.With("component", "transport", "kind", KindSRT),
		dial: dialSRT,
		life: newLifecycle(),
	}
}

func (s *SRT) Kind() Kind { return KindSRT }

// ParseSRTAddr splits an address of the form srt://host:port?streamid=ID
// into the dial address and stream ID. A bare host:port is accepted with
// an empty stream ID.
func ParseSRTAddr(addr string) (hostport, streamID string, err error) {
	if !strings.Contains(addr, "://") {
		return addr, "", nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", "", fmt.Errorf("parse srt address: %w", err)
	}
	if u.Scheme != "srt" {
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", "", errors.New("srt address has no host")
	}
	return u.Host, u.Query().Get("streamid"), nil
}

func (s *SRT) Connect(ctx context.Context, addr string, onClosed ClosedFunc) error {
	ctx, err := s.life.begin(ctx)
	if err != nil {
		return err
	}

	hostport, streamID, err := ParseSRTAddr(addr)
	if err != nil {
		return s.life.fail(KindSRT, addr, err)
	}

	s.log.Info("dialing", "address", hostport, "stream_id", streamID)
	conn, err := dialWithTimeout(ctx, s.opts.ConnectTimeout,
		func(context.Context) (io.ReadWriteCloser, error) { return s.dial(hostport, streamID) },
		func(c io.ReadWriteCloser) { c.Close() },
	)
	if err != nil {
		return s.life.fail(KindSRT, addr, fmt.Errorf("SRT dial failed: %w", err))
	}

	p := newPump(s.opts.QueueSize)
	s.mu.Lock()
	s.conn = conn
	s.pump = p
	s.mu.Unlock()

	if err := s.life.establish(onClosed); err != nil {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		return err
	}

	go s.readLoop(conn, p)
	s.log.Info("connected", "address", hostport, "stream_id", streamID)
	return nil
}

func (s *SRT) readLoop(conn io.ReadWriteCloser, p *pump) {
	defer p.end()
	buf := make([]byte, srtReadBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			s.remoteClose(conn, err)
			return
		}
		if n == 0 {
			continue
		}
		msg := make([]byte, n)
		copy(msg, buf[:n])
		if !p.push(msg) {
			return
		}
	}
}

func (s *SRT) remoteClose(conn io.ReadWriteCloser, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.mu.Unlock()
	conn.Close()

	if errors.Is(err, io.EOF) {
		err = nil
		s.log.Info("connection closed by peer")
	} else {
		s.log.Info("connection closed", "error", err)
	}
	s.life.finish(err)
}

func (s *SRT) Send(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	if _, err := conn.Write(p); err != nil {
		return fmt.Errorf("srt send: %w", err)
	}
	return nil
}

func (s *SRT) Read(ctx context.Context, onData DataFunc) error {
	s.mu.Lock()
	p := s.pump
	s.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.drain(ctx, onData)
}

func (s *SRT) Close() error {
	s.life.abort()

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	p := s.pump
	s.mu.Unlock()
	if conn == nil {
		return nil
	}

	s.life.finish(nil)
	if p != nil {
		p.stop()
	}
	if err := conn.Close(); err != nil {
		s.log.Debug("close", "error", err)
	}
	s.log.Info("closed")
	return nil
}

func (s *SRT) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.life.State() == StateConnected
}

func (s *SRT) State() State            { return s.life.State() }
func (s *SRT) Closed() <-chan struct{} { return s.life.Closed() }
func (s *SRT) Err() error              { return s.life.Err() }
