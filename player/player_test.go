package player

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/prismplay/audio"
	"github.com/zsiec/prismplay/connection"
	"github.com/zsiec/prismplay/internal/metrics"
	"github.com/zsiec/prismplay/media"
	"github.com/zsiec/prismplay/rush"
	"github.com/zsiec/prismplay/scheduler"
	"github.com/zsiec/prismplay/transport"
)

type drawCounter struct {
	mu  sync.Mutex
	ids []uint64
}

func (d *drawCounter) Draw(f scheduler.Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids = append(d.ids, f.(*media.VideoFrame).ID)
	return nil
}

func (d *drawCounter) drawn() []uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uint64(nil), d.ids...)
}

// connRecorder records connection events.
type connRecorder struct {
	mu        sync.Mutex
	connected int
	closed    []error
}

func (r *connRecorder) UnitReceived(string, string, int) {}
func (r *connRecorder) DecodeError()                     {}
func (r *connRecorder) AudioWritten(int)                 {}

func (r *connRecorder) Connected() {
	r.mu.Lock()
	r.connected++
	r.mu.Unlock()
}

func (r *connRecorder) ConnectionClosed(_ string, err error) {
	r.mu.Lock()
	r.closed = append(r.closed, err)
	r.mu.Unlock()
}

func (r *connRecorder) events() (int, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connected, append([]error(nil), r.closed...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// serveMessages starts a WebSocket server that, once start is closed,
// sends msgs as binary messages and closes normally.
func serveMessages(t *testing.T, start <-chan struct{}, msgs ...[]byte) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		select {
		case <-start:
		case <-r.Context().Done():
			return
		}
		for _, m := range msgs {
			if err := c.WriteMessage(websocket.BinaryMessage, m); err != nil {
				return
			}
		}
		c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.ReadMessage()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestRunRoutesUnits(t *testing.T) {
	t.Parallel()
	start := make(chan struct{})
	addr := serveMessages(t, start,
		rush.AppendMessage(nil, 10, rush.TypeVideoFrame, []byte("pic-10")),
		rush.AppendMessage(nil, 11, rush.TypeVideoFrame, []byte("pic-11")),
		rush.AppendMessage(nil, 1, rush.TypeAudioFrame, []byte("pcm-1")),
		rush.AppendMessage(nil, 12, rush.TypeVideoFrame, nil),
		rush.AppendMessage(nil, 13, rush.TypeVideoFrame, []byte("pic-13")),
		rush.AppendMessage(nil, 0, rush.TypeConnectAck, nil),
		[]byte{0x47, 0x40, 0x11, 0x10},
	)

	sup, err := connection.Dial(transport.KindWebSocket, transport.Options{})
	require.NoError(t, err)

	surface := &drawCounter{}
	sched := scheduler.New(surface, scheduler.Config{})
	defer sched.Close()

	var pcm bytes.Buffer
	cache := audio.NewCache(func(context.Context) (audio.Handle, error) {
		return audio.NewWriterHandle(&pcm, 48000), nil
	}, nil)

	var rawMu sync.Mutex
	var raw [][]byte
	p, err := New(Config{
		Connection: sup,
		Scheduler:  sched,
		Decoder:    &media.SequenceDecoder{FrameRate: 1000},
		Audio:      cache,
		OnRaw: func(b []byte) {
			rawMu.Lock()
			raw = append(raw, b)
			rawMu.Unlock()
		},
		Metrics: metrics.New(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background(), addr) }()

	waitFor(t, "audio handle", func() bool { return p.handle.Load() != nil })
	close(start)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after server close")
	}
	assert.False(t, sup.Connected())

	waitFor(t, "frames drawn", func() bool { return len(surface.drawn()) == 3 })
	assert.Equal(t, []uint64{10, 11, 13}, surface.drawn())
	assert.Equal(t, "pcm-1", pcm.String())

	s := p.Stats()
	assert.EqualValues(t, 7, s.Units)
	assert.EqualValues(t, 4, s.Video)
	assert.EqualValues(t, 3, s.Frames)
	assert.EqualValues(t, 1, s.Audio)
	assert.EqualValues(t, 1, s.DecodeErrors)
	assert.EqualValues(t, 2, s.Raw)

	rawMu.Lock()
	defer rawMu.Unlock()
	require.Len(t, raw, 2)
	assert.Equal(t, []byte{0x47, 0x40, 0x11, 0x10}, raw[1])
}

func TestRunCancelled(t *testing.T) {
	t.Parallel()
	start := make(chan struct{})
	addr := serveMessages(t, start)

	sup, err := connection.Dial(transport.KindWebSocket, transport.Options{})
	require.NoError(t, err)
	sched := scheduler.New(&drawCounter{}, scheduler.Config{})
	defer sched.Close()

	rec := &connRecorder{}
	p, err := New(Config{Connection: sup, Scheduler: sched, Decoder: &media.SequenceDecoder{}, Metrics: rec})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, addr) }()

	waitFor(t, "connect", sup.Connected)
	cancel()
	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run ignored cancellation")
	}
	assert.Equal(t, transport.StateClosed, sup.State())
	close(start)

	connected, closed := rec.events()
	assert.Equal(t, 1, connected)
	assert.Equal(t, []error{nil}, closed, "a cancelled session still records its closure")
}

func TestRunConnectFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	sup, err := connection.Dial(transport.KindWebSocket, transport.Options{})
	require.NoError(t, err)
	sched := scheduler.New(&drawCounter{}, scheduler.Config{})
	defer sched.Close()
	p, err := New(Config{Connection: sup, Scheduler: sched, Decoder: &media.SequenceDecoder{}})
	require.NoError(t, err)

	err = p.Run(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"))
	var setupErr *transport.SetupError
	require.ErrorAs(t, err, &setupErr)
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()
	_, err := New(Config{})
	require.Error(t, err)
}

func TestRouteAudioWithoutCacheGoesRaw(t *testing.T) {
	t.Parallel()
	sup, err := connection.Dial(transport.KindRUSH, transport.Options{})
	require.NoError(t, err)
	sched := scheduler.New(&drawCounter{}, scheduler.Config{})
	defer sched.Close()

	var raw []string
	p, err := New(Config{
		Connection: sup,
		Scheduler:  sched,
		Decoder:    &media.SequenceDecoder{},
		OnRaw:      func(b []byte) { raw = append(raw, string(rush.Payload(b))) },
	})
	require.NoError(t, err)

	p.route(rush.AppendMessage(nil, 1, rush.TypeAudioFrame, []byte("aac")))
	assert.Equal(t, []string{"aac"}, raw)
	assert.EqualValues(t, 1, p.Stats().Audio)
}

func TestRouteAudioBeforeReadyIsDropped(t *testing.T) {
	t.Parallel()
	sup, err := connection.Dial(transport.KindRUSH, transport.Options{})
	require.NoError(t, err)
	sched := scheduler.New(&drawCounter{}, scheduler.Config{})
	defer sched.Close()

	cache := audio.NewCache(func(context.Context) (audio.Handle, error) {
		return nil, errors.New("no device")
	}, nil)
	p, err := New(Config{Connection: sup, Scheduler: sched, Decoder: &media.SequenceDecoder{}, Audio: cache})
	require.NoError(t, err)

	p.route(rush.AppendMessage(nil, 1, rush.TypeAudioFrame, []byte("aac")))
	assert.EqualValues(t, 1, p.Stats().AudioDropped)
}

func TestRouteTruncatedMessageIsRaw(t *testing.T) {
	t.Parallel()
	sup, err := connection.Dial(transport.KindWebTransport, transport.Options{})
	require.NoError(t, err)
	sched := scheduler.New(&drawCounter{}, scheduler.Config{})
	defer sched.Close()

	var raw int
	p, err := New(Config{Connection: sup, Scheduler: sched, Decoder: &media.SequenceDecoder{}, OnRaw: func([]byte) { raw++ }})
	require.NoError(t, err)

	msg := rush.AppendMessage(nil, 1, rush.TypeVideoFrame, []byte("picture"))
	p.route(msg[:len(msg)-1])
	assert.Equal(t, 1, raw)
	assert.Zero(t, p.Stats().Video)
}

// tsChunker stands in for a transport stream decoder: units starting with
// "ts" yield one frame each, anything else is rejected.
type tsChunker struct{ n uint64 }

func (c *tsChunker) DecodeRaw(p []byte) ([]scheduler.Frame, error) {
	if !bytes.HasPrefix(p, []byte("ts")) {
		return nil, errors.New("not ts")
	}
	c.n++
	f := media.NewVideoFrame(int64(c.n)*1000, p, nil)
	f.ID = c.n
	return []scheduler.Frame{f}, nil
}

func (c *tsChunker) Flush() []scheduler.Frame {
	f := media.NewVideoFrame(99000, []byte("tail"), nil)
	f.ID = 99
	return []scheduler.Frame{f}
}

func TestRunDecodesRawUnits(t *testing.T) {
	t.Parallel()
	start := make(chan struct{})
	addr := serveMessages(t, start, []byte("ts-1"), []byte("junk"), []byte("ts-2"))

	sup, err := connection.Dial(transport.KindWebSocket, transport.Options{})
	require.NoError(t, err)
	surface := &drawCounter{}
	sched := scheduler.New(surface, scheduler.Config{})
	defer sched.Close()

	var raw []string
	var rawMu sync.Mutex
	rec := &connRecorder{}
	p, err := New(Config{
		Connection: sup,
		Scheduler:  sched,
		Decoder:    &media.SequenceDecoder{},
		Raw:        &tsChunker{},
		OnRaw: func(b []byte) {
			rawMu.Lock()
			raw = append(raw, string(b))
			rawMu.Unlock()
		},
		Metrics: rec,
	})
	require.NoError(t, err)

	close(start)
	require.NoError(t, p.Run(context.Background(), addr))

	waitFor(t, "frames drawn", func() bool { return len(surface.drawn()) == 3 })
	assert.Equal(t, []uint64{1, 2, 99}, surface.drawn())

	s := p.Stats()
	assert.EqualValues(t, 3, s.Raw)
	assert.EqualValues(t, 3, s.Frames)
	assert.EqualValues(t, 1, s.DecodeErrors)
	rawMu.Lock()
	assert.Equal(t, []string{"junk"}, raw)
	rawMu.Unlock()

	_, closed := rec.events()
	assert.Equal(t, []error{nil}, closed)
}
