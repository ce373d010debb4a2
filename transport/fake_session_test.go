package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// fakeSession is an in-memory WebTransport session. Datagrams written to
// in are returned by ReceiveDatagram; the stream, if set, is returned by
// OpenStreamSync. Like webtransport-go it cancels Context without a cause
// and keeps the first close error for Cause.
type fakeSession struct {
	ctx    context.Context
	cancel context.CancelFunc
	in     chan []byte
	str    stream

	mu       sync.Mutex
	sent     [][]byte
	closed   bool
	closeErr error
	closes   atomic.Int32
}

func newFakeSession(str stream) *fakeSession {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeSession{ctx: ctx, cancel: cancel, in: make(chan []byte, 16), str: str}
}

func (f *fakeSession) end(err error) {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		f.closeErr = err
	}
	f.mu.Unlock()
	f.cancel()
}

func (f *fakeSession) SendDatagram(p []byte) error {
	if f.ctx.Err() != nil {
		return errors.New("session closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, append([]byte(nil), p...))
	return nil
}

func (f *fakeSession) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-f.in:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.ctx.Done():
		return nil, errors.New("session closed")
	}
}

func (f *fakeSession) OpenStreamSync(context.Context) (stream, error) {
	if f.str == nil {
		return nil, errors.New("no streams")
	}
	return f.str, nil
}

func (f *fakeSession) Context() context.Context { return f.ctx }

func (f *fakeSession) Cause() error {
	if f.ctx.Err() == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return closeCause(f.closeErr)
}

func (f *fakeSession) Close() error {
	f.closes.Add(1)
	f.end(nil)
	return nil
}

// fail ends the session the way a network failure would.
func (f *fakeSession) fail(cause error) {
	f.end(cause)
}

func (f *fakeSession) sentDatagrams() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func dialTo(sess session) dialFunc {
	return func(context.Context, string) (session, error) { return sess, nil }
}
