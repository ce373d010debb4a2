package transport

import (
	"context"
	"sync"
)

// lifecycle holds the state machine shared by all variants: the current
// state, the once-only closure notification and the in-flight Connect.
// Variants keep their own handles under their own lock and call into
// lifecycle at the transitions.
type lifecycle struct {
	mu         sync.Mutex
	state      State
	connecting bool
	aborted    bool
	cancel     context.CancelFunc
	onClosed   ClosedFunc
	done       chan struct{}
	err        error
}

func newLifecycle() *lifecycle {
	return &lifecycle{done: make(chan struct{})}
}

// begin marks a Connect in flight. The returned context is cancelled when
// Close aborts the attempt or the transport later closes.
func (l *lifecycle) begin(ctx context.Context) (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch {
	case l.state == StateClosed:
		return nil, ErrClosed
	case l.state == StateConnected, l.connecting:
		return nil, ErrAlreadyConnected
	}
	l.connecting = true
	l.aborted = false
	ctx, l.cancel = context.WithCancel(ctx)
	return ctx, nil
}

// fail ends an in-flight Connect that did not succeed and returns the error
// Connect reports. An attempt aborted by Close leaves the instance Closed
// and reports ErrClosed; any other failure leaves it Unconnected and is
// reported as a *SetupError.
func (l *lifecycle) fail(kind Kind, addr string, err error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connecting = false
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	if l.aborted {
		l.state = StateClosed
		return ErrClosed
	}
	return &SetupError{Kind: kind, Addr: addr, Err: err}
}

// establish completes an in-flight Connect. It returns ErrClosed if Close
// ran while the handshake was in progress; the caller must then release
// whatever it opened.
func (l *lifecycle) establish(onClosed ClosedFunc) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.connecting = false
	if l.aborted {
		l.state = StateClosed
		if l.cancel != nil {
			l.cancel()
			l.cancel = nil
		}
		return ErrClosed
	}
	l.state = StateConnected
	l.onClosed = onClosed
	return nil
}

// abort cancels an in-flight Connect, if any.
func (l *lifecycle) abort() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connecting {
		l.aborted = true
		if l.cancel != nil {
			l.cancel()
		}
	}
}

// finish moves a connected instance to Closed exactly once and runs the
// closed callback outside the lock. It reports whether this call performed
// the transition.
func (l *lifecycle) finish(err error) bool {
	l.mu.Lock()
	if l.state != StateConnected {
		l.mu.Unlock()
		return false
	}
	l.state = StateClosed
	l.err = err
	cb := l.onClosed
	l.onClosed = nil
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	close(l.done)
	l.mu.Unlock()

	if cb != nil {
		cb(err)
	}
	return true
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *lifecycle) Closed() <-chan struct{} {
	return l.done
}

func (l *lifecycle) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}
