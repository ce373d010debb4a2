package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Datagram exchanges unreliable WebTransport datagrams. Each received
// datagram is one unit for Read.
type Datagram struct {
	opts Options
	log  *slog.Logger
	dial dialFunc
	life *lifecycle

	mu   sync.Mutex
	sess session
}

// NewDatagram returns an unconnected WebTransport datagram transport.
func NewDatagram(opts Options) *Datagram {
	opts = opts.withDefaults()
	return &Datagram{
		opts: opts,
		log:  opts.Logger.With("component", "transport", "kind", KindWebTransport),
		dial: newDialer(opts),
		life: newLifecycle(),
	}
}

func (d *Datagram) Kind() Kind { return KindWebTransport }

func (d *Datagram) Connect(ctx context.Context, addr string, onClosed ClosedFunc) error {
	ctx, err := d.life.begin(ctx)
	if err != nil {
		return err
	}

	sess, err := dialWithTimeout(ctx, d.opts.ConnectTimeout,
		func(ctx context.Context) (session, error) { return d.dial(ctx, addr) },
		func(s session) { s.Close() },
	)
	if err != nil {
		return d.life.fail(KindWebTransport, addr, err)
	}

	d.mu.Lock()
	d.sess = sess
	d.mu.Unlock()

	if err := d.life.establish(onClosed); err != nil {
		d.mu.Lock()
		d.sess = nil
		d.mu.Unlock()
		sess.Close()
		return err
	}

	go d.observe(sess)
	d.log.Info("connected", "addr", addr)
	return nil
}

// observe waits for the session to end and reports the closure.
func (d *Datagram) observe(sess session) {
	<-sess.Context().Done()
	d.shutdown(sess, sess.Cause())
}

// shutdown releases sess if it is still current and moves the instance to
// Closed with cause.
func (d *Datagram) shutdown(sess session, cause error) bool {
	d.mu.Lock()
	if d.sess != sess {
		d.mu.Unlock()
		return false
	}
	d.sess = nil
	d.mu.Unlock()

	d.life.finish(cause)
	if err := sess.Close(); err != nil {
		d.log.Debug("session close", "error", err)
	}
	if cause != nil {
		d.log.Info("session closed", "error", cause)
	} else {
		d.log.Info("session closed")
	}
	return true
}

// Send transmits p as one datagram. Datagrams larger than the path allows
// are rejected by the QUIC layer.
func (d *Datagram) Send(p []byte) error {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		return nil
	}
	if err := sess.SendDatagram(p); err != nil {
		return fmt.Errorf("send datagram: %w", err)
	}
	return nil
}

func (d *Datagram) Read(ctx context.Context, onData DataFunc) error {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		return nil
	}

	// Receiving does not always unblock when the session ends.
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.Context(), cancel)
	defer stop()

	for {
		b, err := sess.ReceiveDatagram(rctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if sess.Context().Err() != nil || d.life.State() != StateConnected {
				return nil
			}
			return fmt.Errorf("receive datagram: %w", err)
		}
		onData(b)
	}
}

func (d *Datagram) Close() error {
	d.life.abort()
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		return nil
	}
	d.shutdown(sess, nil)
	return nil
}

func (d *Datagram) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess != nil && d.life.State() == StateConnected
}

func (d *Datagram) State() State            { return d.life.State() }
func (d *Datagram) Closed() <-chan struct{} { return d.life.Closed() }
func (d *Datagram) Err() error              { return d.life.Err() }
