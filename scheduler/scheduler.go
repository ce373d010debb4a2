package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"k8s.io/utils/clock"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("scheduler: closed")

// Frame is a decoded picture awaiting presentation.
type Frame interface {
	// Timestamp is the presentation time relative to the session start.
	Timestamp() time.Duration
	// Release frees the frame's resources. The scheduler calls it exactly
	// once for every frame it accepted, drawn or not.
	Release()
}

// Surface draws frames. Draw is called from the presentation goroutine
// and must not call Close on the scheduler.
type Surface interface {
	Draw(f Frame) error
}

// SurfaceFunc adapts a function to Surface.
type SurfaceFunc func(f Frame) error

func (fn SurfaceFunc) Draw(f Frame) error { return fn(f) }

// Observer receives presentation events. Calls are made from the
// presentation goroutine.
type Observer interface {
	// FramePresented reports a drawn frame and how far behind its
	// scheduled time the draw started.
	FramePresented(lateness time.Duration)
	FrameDropped()
	Underflow()
}

// State is the scheduler's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateUnderflowed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateUnderflowed:
		return "underflowed"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats is a snapshot of presentation counters.
type Stats struct {
	Presented     int64
	Dropped       int64
	Underflows    int64
	Pending       int
	LastTimestamp time.Duration
}

// Config configures a Scheduler. The zero value uses the real clock, the
// default logger and no observer.
type Config struct {
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
	// QueueCapacity preallocates the pending queue.
	QueueCapacity int
}

// Scheduler presents frames on a Surface at their timestamps.
type Scheduler struct {
	surface Surface
	clock   clock.Clock
	log     *slog.Logger
	obs     Observer

	mu          sync.Mutex
	state       State
	queue       []Frame
	started     bool
	hasBaseline bool
	baseline    time.Time

	wake chan struct{}
	quit chan struct{}
	done chan struct{}

	presented  atomic.Int64
	dropped    atomic.Int64
	underflows atomic.Int64
	lastTS     atomic.Int64
}

// New returns an idle scheduler drawing onto surface. The presentation
// goroutine starts on the first Push.
func New(surface Surface, cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		surface: surface,
		clock:   cfg.Clock,
		log:     cfg.Logger.With("component", "scheduler"),
		obs:     cfg.Observer,
		queue:   make([]Frame, 0, max(cfg.QueueCapacity, 0)),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Push appends f to the presentation queue. After Close, f is released
// and ErrClosed is returned.
func (s *Scheduler) Push(f Frame) error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		f.Release()
		return ErrClosed
	}
	s.queue = append(s.queue, f)

	switch s.state {
	case StateIdle:
		s.state = StateRunning
		s.started = true
		go s.loop()
	case StateUnderflowed:
		s.state = StateRunning
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) loop() {
	defer close(s.done)
	for {
		f, baseline, ok := s.next()
		if !ok {
			return
		}

		ts := f.Timestamp()
		if delay := ts - s.clock.Since(baseline); delay > 0 {
			t := s.clock.NewTimer(delay)
			select {
			case <-t.C():
			case <-s.quit:
				t.Stop()
				f.Release()
				return
			}
		}

		select {
		case <-s.quit:
			f.Release()
			return
		default:
		}

		lateness := s.clock.Since(baseline) - ts
		if err := s.surface.Draw(f); err != nil {
			s.dropped.Add(1)
			s.log.Debug("draw failed, frame dropped", "timestamp", ts, "error", err)
			if s.obs != nil {
				s.obs.FrameDropped()
			}
		} else {
			s.presented.Add(1)
			s.lastTS.Store(int64(ts))
			if s.obs != nil {
				s.obs.FramePresented(lateness)
			}
		}
		f.Release()
	}
}

// next pops the head of the queue, waiting through underflows. It returns
// false once the scheduler is disposed.
func (s *Scheduler) next() (Frame, time.Time, bool) {
	for {
		s.mu.Lock()
		if s.state == StateDisposed {
			s.mu.Unlock()
			return nil, time.Time{}, false
		}
		if len(s.queue) > 0 {
			f := s.queue[0]
			s.queue[0] = nil
			s.queue = s.queue[1:]
			if !s.hasBaseline {
				s.baseline = s.clock.Now()
				s.hasBaseline = true
			}
			baseline := s.baseline
			s.mu.Unlock()
			return f, baseline, true
		}

		s.state = StateUnderflowed
		s.mu.Unlock()

		n := s.underflows.Add(1)
		s.log.Debug("underflow", "count", n, "presented", s.presented.Load())
		if s.obs != nil {
			s.obs.Underflow()
		}

		select {
		case <-s.wake:
		case <-s.quit:
			return nil, time.Time{}, false
		}
	}
}

// Close stops presentation and releases every frame not yet drawn. No Draw
// call starts after Close returns. Close is idempotent.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDisposed
	pending := s.queue
	s.queue = nil
	started := s.started
	close(s.quit)
	s.mu.Unlock()

	if started {
		<-s.done
	}
	for _, f := range pending {
		f.Release()
	}
	s.log.Debug("closed", "released", len(pending), "presented", s.presented.Load())
	return nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the presentation counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	pending := len(s.queue)
	s.mu.Unlock()
	return Stats{
		Presented:     s.presented.Load(),
		Dropped:       s.dropped.Load(),
		Underflows:    s.underflows.Load(),
		Pending:       pending,
		LastTimestamp: time.Duration(s.lastTS.Load()),
	}
}
