package media

import (
	"errors"
	"testing"
	"time"

	"github.com/zsiec/prismplay/rush"
)

func decode(t *testing.T, d *SequenceDecoder, id uint64, payload string) *VideoFrame {
	t.Helper()
	msg := rush.AppendMessage(nil, id, rush.TypeVideoFrame, []byte(payload))
	h, err := rush.ParseHeader(msg)
	if err != nil {
		t.Fatal(err)
	}
	frames, err := d.Decode(h, msg)
	if err != nil {
		t.Fatalf("Decode(%d): %v", id, err)
	}
	if len(frames) != 1 {
		t.Fatalf("Decode(%d) returned %d frames", id, len(frames))
	}
	return frames[0].(*VideoFrame)
}

func TestSequenceDecoderTimestamps(t *testing.T) {
	t.Parallel()
	d := &SequenceDecoder{FrameRate: 30}

	tests := []struct {
		id   uint64
		want time.Duration
	}{
		{100, 0},
		{101, 33333 * time.Microsecond},
		{102, 66667 * time.Microsecond},
		{130, time.Second},
		{99, 0},
	}
	for _, tt := range tests {
		f := decode(t, d, tt.id, "pic")
		if got := f.Timestamp(); got != tt.want {
			t.Errorf("id %d: timestamp %v, want %v", tt.id, got, tt.want)
		}
		if f.ID != tt.id {
			t.Errorf("id %d: frame ID %d", tt.id, f.ID)
		}
	}
	if d.Decoded() != int64(len(tests)) {
		t.Errorf("Decoded() = %d, want %d", d.Decoded(), len(tests))
	}
}

func TestSequenceDecoderDefaultRate(t *testing.T) {
	t.Parallel()
	d := &SequenceDecoder{}
	decode(t, d, 0, "a")
	if got := decode(t, d, 30, "b").Timestamp(); got != time.Second {
		t.Fatalf("timestamp %v, want 1s", got)
	}
}

func TestSequenceDecoderRejects(t *testing.T) {
	t.Parallel()
	d := &SequenceDecoder{}

	audio := rush.AppendMessage(nil, 1, rush.TypeAudioFrame, []byte("pcm"))
	h, _ := rush.ParseHeader(audio)
	if _, err := d.Decode(h, audio); !errors.Is(err, ErrNotVideo) {
		t.Errorf("audio: err = %v, want ErrNotVideo", err)
	}

	empty := rush.AppendMessage(nil, 1, rush.TypeVideoFrame, nil)
	h, _ = rush.ParseHeader(empty)
	if _, err := d.Decode(h, empty); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("empty: err = %v, want ErrEmptyFrame", err)
	}
}

func TestVideoFrameReleaseOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	d := &SequenceDecoder{OnRelease: func(*VideoFrame) { calls++ }}
	f := decode(t, d, 7, "pic")
	if string(f.Data) != "pic" {
		t.Fatalf("data = %q", f.Data)
	}

	f.Release()
	f.Release()
	if calls != 1 {
		t.Fatalf("release hook called %d times, want 1", calls)
	}
	if f.Data != nil {
		t.Fatal("data retained after release")
	}
}

func TestNewVideoFrameNilRelease(t *testing.T) {
	t.Parallel()
	f := NewVideoFrame(1500, []byte{1}, nil)
	if f.Timestamp() != 1500*time.Microsecond {
		t.Fatalf("timestamp %v", f.Timestamp())
	}
	f.Release()
}
