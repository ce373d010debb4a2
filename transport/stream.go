package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/zsiec/prismplay/rush"
)

// sessionCloseGrace bounds how long a failed stream read waits for the
// session to end before the stream error itself becomes the closure cause.
const sessionCloseGrace = 500 * time.Millisecond

// Stream carries RUSH messages over one bidirectional WebTransport stream.
// Connect opens the stream and writes the Connect handshake; Read frames the
// incoming byte stream into complete RUSH messages, one per unit.
type Stream struct {
	opts Options
	log  *slog.Logger
	dial dialFunc
	life *lifecycle

	mu   sync.Mutex
	sess session
	str  stream
	pump *pump

	writeMu sync.Mutex
}

// NewStream returns an unconnected RUSH stream transport.
func NewStream(opts Options) *Stream {
	opts = opts.withDefaults()
	return &Stream{
		opts: opts,
		log:  opts.Logger.With("component", "transport", "kind", KindRUSH),
		dial: newDialer(opts),
		life: newLifecycle(),
	}
}

func (s *Stream) Kind() Kind { return KindRUSH }

type streamConn struct {
	sess session
	str  stream
}

func (c streamConn) close() {
	c.str.Close()
	c.sess.Close()
}

func (s *Stream) Connect(ctx context.Context, addr string, onClosed ClosedFunc) error {
	ctx, err := s.life.begin(ctx)
	if err != nil {
		return err
	}

	hello := rush.EncodeConnect(s.opts.AudioTimescale, s.opts.VideoTimescale)
	c, err := dialWithTimeout(ctx, s.opts.ConnectTimeout,
		func(ctx context.Context) (streamConn, error) {
			sess, err := s.dial(ctx, addr)
			if err != nil {
				return streamConn{}, err
			}
			str, err := sess.OpenStreamSync(ctx)
			if err != nil {
				sess.Close()
				return streamConn{}, fmt.Errorf("open stream: %w", err)
			}
			if _, err := str.Write(hello); err != nil {
				str.Close()
				sess.Close()
				return streamConn{}, fmt.Errorf("write connect: %w", err)
			}
			return streamConn{sess: sess, str: str}, nil
		},
		streamConn.close,
	)
	if err != nil {
		return s.life.fail(KindRUSH, addr, err)
	}

	s.mu.Lock()
	s.sess = c.sess
	s.str = c.str
	s.mu.Unlock()

	if err := s.life.establish(onClosed); err != nil {
		s.mu.Lock()
		s.sess, s.str = nil, nil
		s.mu.Unlock()
		c.close()
		return err
	}

	go s.observe(c.sess)
	s.log.Info("connected", "addr", addr,
		"audio_timescale", s.opts.AudioTimescale,
		"video_timescale", s.opts.VideoTimescale)
	return nil
}

func (s *Stream) observe(sess session) {
	<-sess.Context().Done()
	s.shutdown(sess, sess.Cause())
}

func (s *Stream) shutdown(sess session, cause error) {
	s.mu.Lock()
	if s.sess != sess {
		s.mu.Unlock()
		return
	}
	str := s.str
	s.sess, s.str = nil, nil
	s.mu.Unlock()

	s.life.finish(cause)
	if err := str.Close(); err != nil {
		s.log.Debug("stream close", "error", err)
	}
	if err := sess.Close(); err != nil {
		s.log.Debug("session close", "error", err)
	}
	if cause != nil {
		s.log.Info("session closed", "error", cause)
	} else {
		s.log.Info("session closed")
	}
}

// Send writes p to the stream as-is. Callers supply complete RUSH messages.
func (s *Stream) Send(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	str := s.str
	s.mu.Unlock()
	if str == nil {
		return nil
	}
	if _, err := str.Write(p); err != nil {
		return fmt.Errorf("stream send: %w", err)
	}
	return nil
}

// Read starts the framing reader on first use and delivers one complete
// RUSH message, header included, per onData call.
func (s *Stream) Read(ctx context.Context, onData DataFunc) error {
	s.mu.Lock()
	if s.str == nil {
		s.mu.Unlock()
		return nil
	}
	if s.pump == nil {
		s.pump = newPump(s.opts.QueueSize)
		go s.readLoop(s.sess, s.str, s.pump)
	}
	p := s.pump
	s.mu.Unlock()
	return p.drain(ctx, onData)
}

func (s *Stream) readLoop(sess session, str stream, p *pump) {
	defer p.end()
	r := bufio.NewReaderSize(str, 64<<10)
	for {
		msg, err := rush.ReadMessage(r, s.opts.MaxMessageSize)
		if err != nil {
			if errors.Is(err, rush.ErrMessageTooLarge) || errors.Is(err, rush.ErrInvalidLength) {
				s.log.Warn("framing error", "error", err)
				s.shutdown(sess, err)
				return
			}
			// A peer closing the session resets or finishes the stream
			// before the session itself reports closed. Give observe the
			// chance to report the session's cause.
			t := time.NewTimer(sessionCloseGrace)
			select {
			case <-sess.Context().Done():
			case <-t.C:
				if errors.Is(err, io.EOF) {
					s.shutdown(sess, nil)
				} else {
					s.shutdown(sess, fmt.Errorf("stream read: %w", err))
				}
			}
			t.Stop()
			return
		}
		if !p.push(msg) {
			return
		}
	}
}

func (s *Stream) Close() error {
	s.life.abort()
	s.mu.Lock()
	sess, p := s.sess, s.pump
	s.mu.Unlock()
	if p != nil {
		p.stop()
	}
	if sess == nil {
		return nil
	}
	s.shutdown(sess, nil)
	return nil
}

func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.str != nil && s.life.State() == StateConnected
}

func (s *Stream) State() State            { return s.life.State() }
func (s *Stream) Closed() <-chan struct{} { return s.life.Closed() }
func (s *Stream) Err() error              { return s.life.Err() }
