package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// WebSocket carries binary messages over a WebSocket connection. A
// successful HTTP upgrade is the open acknowledgment. Text messages from
// the peer are dropped.
type WebSocket struct {
	opts   Options
	log    *slog.Logger
	dialer *websocket.Dialer
	life   *lifecycle

	mu   sync.Mutex
	conn *websocket.Conn
	pump *pump

	writeMu sync.Mutex

	dropLog rate.Sometimes
	dropped atomic.Int64
}

// NewWebSocket returns an unconnected WebSocket transport.
func NewWebSocket(opts Options) *WebSocket {
	opts = opts.withDefaults()
	return &WebSocket{
		opts: opts,
		log:  opts.Logger.With("component", "transport", "kind", KindWebSocket),
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.ConnectTimeout,
			TLSClientConfig:  opts.TLSConfig,
		},
		life:    newLifecycle(),
		dropLog: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

func (w *WebSocket) Kind() Kind { return KindWebSocket }

func (w *WebSocket) Connect(ctx context.Context, addr string, onClosed ClosedFunc) error {
	ctx, err := w.life.begin(ctx)
	if err != nil {
		return err
	}

	conn, resp, err := w.dialer.DialContext(ctx, addr, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return w.life.fail(KindWebSocket, addr, err)
	}

	p := newPump(w.opts.QueueSize)
	w.mu.Lock()
	w.conn = conn
	w.pump = p
	w.mu.Unlock()

	if err := w.life.establish(onClosed); err != nil {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
		conn.Close()
		return err
	}

	if w.opts.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(w.opts.PongTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(w.opts.PongTimeout))
		})
		go w.pingLoop(conn)
	}
	go w.readLoop(conn, p)

	w.log.Info("connected", "addr", addr)
	return nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn, p *pump) {
	defer p.end()
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			w.remoteClose(conn, err)
			return
		}
		if mt != websocket.BinaryMessage {
			w.dropped.Add(1)
			w.dropLog.Do(func() {
				w.log.Warn("dropping non-binary message", "type", mt, "bytes", len(data), "total_dropped", w.dropped.Load())
			})
			continue
		}
		if !p.push(data) {
			return
		}
	}
}

func (w *WebSocket) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.life.Closed():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.opts.WriteTimeout)); err != nil {
				w.log.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// remoteClose handles the end of the read side. If Close already took the
// connection there is nothing left to do.
func (w *WebSocket) remoteClose(conn *websocket.Conn, err error) {
	w.mu.Lock()
	if w.conn != conn {
		w.mu.Unlock()
		return
	}
	w.conn = nil
	w.mu.Unlock()
	conn.Close()

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = nil
	}
	if err != nil {
		w.log.Info("connection closed", "error", err)
	} else {
		w.log.Info("connection closed by peer")
	}
	w.life.finish(err)
}

// Send writes p as one binary message. Writes are serialized and bounded by
// the write timeout.
func (w *WebSocket) Send(p []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return fmt.Errorf("websocket send: %w", err)
	}
	return nil
}

func (w *WebSocket) Read(ctx context.Context, onData DataFunc) error {
	w.mu.Lock()
	p := w.pump
	w.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.drain(ctx, onData)
}

// Close sends a best-effort close frame and closes the socket.
func (w *WebSocket) Close() error {
	w.life.abort()

	w.mu.Lock()
	conn := w.conn
	w.conn = nil
	p := w.pump
	w.mu.Unlock()
	if conn == nil {
		return nil
	}

	w.life.finish(nil)
	if p != nil {
		p.stop()
	}

	w.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		w.log.Debug("close frame not sent", "error", err)
	}
	err := conn.Close()
	w.writeMu.Unlock()
	if err != nil {
		w.log.Debug("close", "error", err)
	}
	w.log.Info("closed")
	return nil
}

func (w *WebSocket) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn != nil && w.life.State() == StateConnected
}

func (w *WebSocket) State() State            { return w.life.State() }
func (w *WebSocket) Closed() <-chan struct{} { return w.life.Closed() }
func (w *WebSocket) Err() error              { return w.life.Err() }

// Dropped returns the number of non-binary messages discarded so far.
func (w *WebSocket) Dropped() int64 { return w.dropped.Load() }
