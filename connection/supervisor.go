// Package connection owns the single transport a player session uses.
//
// A Supervisor forwards every call to its transport unchanged. It adds a
// session ID for log correlation and is the one place a caller registers
// for closure. It does not buffer, retry or reconnect.
package connection

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/zsiec/prismplay/transport"
)

// Supervisor wraps one transport.Transport.
type Supervisor struct {
	id  string
	t   transport.Transport
	log *slog.Logger
}

// New returns a Supervisor over t. If log is nil, slog.Default() is used.
func New(t transport.Transport, log *slog.Logger) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	return &Supervisor{
		id:  id,
		t:   t,
		log: log.With("component", "connection", "session", id, "transport", t.Kind()),
	}
}

// Dial builds a transport of the given kind and wraps it.
func Dial(kind transport.Kind, opts transport.Options) (*Supervisor, error) {
	t, err := transport.New(kind, opts)
	if err != nil {
		return nil, err
	}
	return New(t, opts.Logger), nil
}

// ID returns the session ID.
func (s *Supervisor) ID() string { return s.id }

// Kind returns the transport kind.
func (s *Supervisor) Kind() transport.Kind { return s.t.Kind() }

// Transport returns the wrapped transport.
func (s *Supervisor) Transport() transport.Transport { return s.t }

// Logger returns the session-scoped logger.
func (s *Supervisor) Logger() *slog.Logger { return s.log }

// Connect connects the transport. onClosed, which may be nil, is called
// once when the connection later closes.
func (s *Supervisor) Connect(ctx context.Context, addr string, onClosed transport.ClosedFunc) error {
	s.log.Info("connecting", "addr", addr)
	err := s.t.Connect(ctx, addr, func(err error) {
		if err != nil {
			s.log.Warn("connection lost", "error", err)
		} else {
			s.log.Info("connection closed")
		}
		if onClosed != nil {
			onClosed(err)
		}
	})
	if err != nil {
		s.log.Error("connect failed", "addr", addr, "error", err)
		return err
	}
	return nil
}

func (s *Supervisor) Send(p []byte) error {
	return s.t.Send(p)
}

func (s *Supervisor) Read(ctx context.Context, onData transport.DataFunc) error {
	return s.t.Read(ctx, onData)
}

func (s *Supervisor) Close() error {
	return s.t.Close()
}

func (s *Supervisor) Connected() bool         { return s.t.Connected() }
func (s *Supervisor) State() transport.State  { return s.t.State() }
func (s *Supervisor) Closed() <-chan struct{} { return s.t.Closed() }
func (s *Supervisor) Err() error              { return s.t.Err() }
