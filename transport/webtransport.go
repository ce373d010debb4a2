package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"
)

// session is the part of a WebTransport session the Datagram and Stream
// variants use.
type session interface {
	SendDatagram(p []byte) error
	ReceiveDatagram(ctx context.Context) ([]byte, error)
	OpenStreamSync(ctx context.Context) (stream, error)
	// Context is done when the session ends, for whatever reason.
	Context() context.Context
	// Cause reports why the session ended once Context is done: nil for a
	// local close or a clean peer close.
	Cause() error
	Close() error
}

// stream is one bidirectional WebTransport stream.
type stream interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
}

// dialFunc opens a WebTransport session to addr.
type dialFunc func(ctx context.Context, addr string) (session, error)

// newDialer returns a dialFunc backed by webtransport-go over quic-go. Each
// session gets its own QUIC connection, closed together with the session.
func newDialer(opts Options) dialFunc {
	tlsConf := opts.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	} else {
		tlsConf = tlsConf.Clone()
	}
	quicConf := &quic.Config{
		EnableDatagrams: true,
		MaxIdleTimeout:  opts.IdleTimeout,
		KeepAlivePeriod: opts.KeepAlivePeriod,
	}

	return func(ctx context.Context, addr string) (session, error) {
		var conn *quic.Conn
		d := &webtransport.Dialer{
			TLSClientConfig: tlsConf,
			QUICConfig:      quicConf.Clone(),
			DialAddr: func(ctx context.Context, addr string, tlsCfg *tls.Config, cfg *quic.Config) (*quic.Conn, error) {
				c, err := quic.DialAddrEarly(ctx, addr, tlsCfg, cfg)
				conn = c
				return c, err
			},
		}
		// The dialer waits for the server's SETTINGS without watching ctx.
		stop := context.AfterFunc(ctx, func() { d.Close() })
		resp, sess, err := d.Dial(ctx, addr, nil)
		stop()
		if err != nil {
			if conn != nil {
				conn.CloseWithError(quic.ApplicationErrorCode(http3.ErrCodeNoError), "")
			}
			if resp != nil {
				return nil, fmt.Errorf("webtransport dial (status %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("webtransport dial: %w", err)
		}
		return &wtSession{sess: sess, conn: conn}, nil
	}
}

type wtSession struct {
	sess *webtransport.Session
	conn *quic.Conn
}

func (s *wtSession) SendDatagram(p []byte) error { return s.sess.SendDatagram(p) }

func (s *wtSession) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return s.sess.ReceiveDatagram(ctx)
}

func (s *wtSession) OpenStreamSync(ctx context.Context) (stream, error) {
	str, err := s.sess.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return str, nil
}

func (s *wtSession) Context() context.Context { return s.sess.Context() }

// Cause recovers the session's close error. The library cancels Context
// without a cause, but AcceptStream on an ended session returns the stored
// close error.
func (s *wtSession) Cause() error {
	if s.sess.Context().Err() == nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.sess.AcceptStream(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return closeCause(err)
}

func (s *wtSession) Close() error {
	err := s.sess.CloseWithError(0, "")
	if s.conn != nil {
		s.conn.CloseWithError(quic.ApplicationErrorCode(http3.ErrCodeNoError), "")
	}
	return err
}

// closeCause maps the error a session ended with onto a closure error: nil
// for a clean close, the error otherwise.
func closeCause(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	var sessErr *webtransport.SessionError
	if errors.As(err, &sessErr) {
		if sessErr.ErrorCode == 0 {
			return nil
		}
		return fmt.Errorf("session closed with code %d: %w", sessErr.ErrorCode, err)
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) &&
		(appErr.ErrorCode == 0 || appErr.ErrorCode == quic.ApplicationErrorCode(http3.ErrCodeNoError)) {
		return nil
	}
	return err
}
