package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Kind names a transport variant.
type Kind string

// Supported kinds.
const (
	KindWebSocket    Kind = "websocket"
	KindWebTransport Kind = "webtransport"
	KindRUSH         Kind = "rush"
	KindSRT          Kind = "srt"
)

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindWebSocket, KindWebTransport, KindRUSH, KindSRT}
}

// ParseKind maps a name such as "websocket" or "WT" onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "websocket", "ws":
		return KindWebSocket, nil
	case "webtransport", "wt", "datagram":
		return KindWebTransport, nil
	case "rush", "stream":
		return KindRUSH, nil
	case "srt":
		return KindSRT, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// State is the observable lifecycle state of a transport.
type State int32

const (
	StateUnconnected State = iota
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DataFunc receives one unit (message, datagram or framed RUSH message).
// The slice is owned by the callee.
type DataFunc func(p []byte)

// ClosedFunc is called exactly once when a connected transport closes. err
// is nil for a local or graceful close.
type ClosedFunc func(err error)

// Transport is the contract shared by every variant.
type Transport interface {
	Kind() Kind
	// Connect performs the variant-specific handshake. Failures are
	// returned as *SetupError.
	Connect(ctx context.Context, addr string, onClosed ClosedFunc) error
	// Send writes one unit. It is a no-op returning nil before Connect and
	// after closure.
	Send(p []byte) error
	// Read delivers received units in arrival order until the transport
	// closes (returns nil) or ctx is cancelled (returns ctx.Err()).
	Read(ctx context.Context, onData DataFunc) error
	// Close is idempotent.
	Close() error
	Connected() bool
	State() State
	// Closed is closed once the transport reaches StateClosed after having
	// connected.
	Closed() <-chan struct{}
	// Err reports the closure cause once Closed is done.
	Err() error
}

// Defaults applied by New for zero Options fields.
const (
	DefaultQueueSize      = 64
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 5 * time.Second
	DefaultIdleTimeout    = 30 * time.Second
)

// Options configures a transport. The zero value is usable.
type Options struct {
	Logger *slog.Logger
	// TLSConfig is used by the WebSocket (wss) and WebTransport variants.
	TLSConfig *tls.Config

	// AudioTimescale and VideoTimescale are sent in the RUSH Connect
	// handshake. Zero selects 1.
	AudioTimescale uint16
	VideoTimescale uint16
	// MaxMessageSize bounds a single framed RUSH message.
	MaxMessageSize int

	// QueueSize is the number of received units buffered ahead of Read for
	// message-oriented variants.
	QueueSize      int
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	// PingInterval enables WebSocket keepalive pings; the connection is
	// considered dead when no pong arrives within PongTimeout.
	PingInterval time.Duration
	PongTimeout  time.Duration

	// IdleTimeout and KeepAlivePeriod configure the QUIC connection under
	// WebTransport.
	IdleTimeout     time.Duration
	KeepAlivePeriod time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.AudioTimescale == 0 {
		o.AudioTimescale = 1
	}
	if o.VideoTimescale == 0 {
		o.VideoTimescale = 1
	}
	if o.QueueSize <= 0 {
		o.QueueSize = DefaultQueueSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	if o.PingInterval > 0 && o.PongTimeout <= 0 {
		o.PongTimeout = 2 * o.PingInterval
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = DefaultIdleTimeout
	}
	return o
}

// New builds an unconnected transport of the given kind.
func New(kind Kind, opts Options) (Transport, error) {
	switch kind {
	case KindWebSocket:
		return NewWebSocket(opts), nil
	case KindWebTransport:
		return NewDatagram(opts), nil
	case KindRUSH:
		return NewStream(opts), nil
	case KindSRT:
		return NewSRT(opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
}
