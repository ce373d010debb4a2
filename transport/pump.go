package transport

import (
	"context"
	"sync"
)

// pump queues units produced by a variant's reader goroutine for Read. The
// producer calls push for every unit and end when it exits; stop makes any
// blocked push return so the producer can exit.
type pump struct {
	ch       chan []byte
	quit     chan struct{}
	quitOnce sync.Once
	endOnce  sync.Once
}

func newPump(size int) *pump {
	return &pump{
		ch:   make(chan []byte, size),
		quit: make(chan struct{}),
	}
}

// push blocks until the unit is queued or the pump is stopped.
func (p *pump) push(b []byte) bool {
	select {
	case p.ch <- b:
		return true
	case <-p.quit:
		return false
	}
}

func (p *pump) end() {
	p.endOnce.Do(func() { close(p.ch) })
}

func (p *pump) stop() {
	p.quitOnce.Do(func() { close(p.quit) })
}

// drain delivers queued units until the producer ends, the pump is stopped
// or ctx is cancelled. Units queued before a remote closure are still
// delivered; units queued before stop are discarded.
func (p *pump) drain(ctx context.Context, onData DataFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return nil
		case b, ok := <-p.ch:
			if !ok {
				return nil
			}
			select {
			case <-p.quit:
				return nil
			default:
			}
			onData(b)
		}
	}
}
