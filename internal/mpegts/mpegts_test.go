package mpegts

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32MPEG2(t *testing.T) {
	t.Parallel()
	// Check value of the CRC-32/MPEG-2 catalogue entry.
	assert.Equal(t, uint32(0x0376E6E7), crc32MPEG2([]byte("123456789")))

	pat := buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}})
	require.NoError(t, verifyCRC(pat))
	pat[9] ^= 0x01
	require.Error(t, verifyCRC(pat))
}

func TestParsePacket(t *testing.T) {
	t.Parallel()
	p, err := parsePacket(makePacket(0x100, 5, true, []byte{1, 2, 3}))
	require.NoError(t, err)
	assert.EqualValues(t, 0x100, p.PID)
	assert.EqualValues(t, 5, p.CC)
	assert.True(t, p.UnitStart)
	assert.Len(t, p.Payload, PacketSize-4)

	p, err = parsePacket(makeStuffedPacket(0x100, 0, false, []byte{9, 8}))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8}, p.Payload)

	_, err = parsePacket(make([]byte, PacketSize))
	require.Error(t, err)
	_, err = parsePacket(make([]byte, 10))
	require.Error(t, err)
}

func TestParsePESTimestamps(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		id       byte
		pts, dts int64
	}{
		{"pts only", 0xC0, 90000, -1},
		{"pts and dts", 0xE0, 183000, 180000},
		{"33-bit", 0xE0, 1<<33 - 1, -1},
		{"none", 0xC0, -1, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pes, err := parsePES(buildPES(tt.id, tt.pts, tt.dts, []byte{0xAA, 0xBB}))
			require.NoError(t, err)
			assert.Equal(t, tt.id, pes.StreamID)
			assert.Equal(t, tt.pts, pes.PTS)
			wantDTS := tt.dts
			if wantDTS < 0 {
				wantDTS = tt.pts
			}
			assert.Equal(t, wantDTS, pes.DTS)
			assert.Equal(t, []byte{0xAA, 0xBB}, pes.Data)
		})
	}

	_, err := parsePES([]byte{0, 0, 2, 0xE0, 0, 0})
	require.Error(t, err)
}

// stream returns a PAT, a PMT with an H.264 stream on 0x100, and one video
// PES split over two packets.
func stream(pts int64, cc uint8) []byte {
	pat := makePacket(pidPAT, 0, true, psiPayload(buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}})))
	pmt := makePacket(0x1000, 0, true, psiPayload(buildPMT(1, 0x100, []ElementaryStream{
		{PID: 0x100, StreamType: StreamTypeH264},
	})))
	pes := buildPES(0xE0, pts, -1, bytes.Repeat([]byte{0x65}, 200))
	first := makePacket(0x100, cc, true, pes[:PacketSize-4])
	second := makeStuffedPacket(0x100, cc+1, false, pes[PacketSize-4:])

	var b []byte
	for _, p := range [][]byte{pat, pmt, first, second} {
		b = append(b, p...)
	}
	return b
}

func TestDemuxerFeed(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	units := d.Feed(stream(90000, 0))
	require.Len(t, units, 2)
	require.NotNil(t, units[0].PAT)
	assert.Equal(t, map[uint16]uint16{1: 0x1000}, units[0].PAT.Programs)
	require.NotNil(t, units[1].PMT)
	assert.Equal(t, []ElementaryStream{{PID: 0x100, StreamType: StreamTypeH264}}, units[1].PMT.Streams)

	// The PES completes when the next one starts.
	next := makePacket(0x100, 2, true, buildPES(0xE0, 93003, -1, []byte{0x41}))
	units = d.Feed(next)
	require.Len(t, units, 1)
	require.NotNil(t, units[0].PES)
	assert.EqualValues(t, 0x100, units[0].PID)
	assert.EqualValues(t, 90000, units[0].PES.PTS)
	assert.Equal(t, bytes.Repeat([]byte{0x65}, 200), units[0].PES.Data)

	units = d.Flush()
	require.Len(t, units, 1)
	assert.EqualValues(t, 93003, units[0].PES.PTS)
	assert.Empty(t, d.Flush())
	assert.EqualValues(t, 5, d.Stats().Packets)
}

func TestDemuxerSplitChunksAndResync(t *testing.T) {
	t.Parallel()
	b := append([]byte{0x00, 0x12, 0x34}, stream(0, 3)...)

	d := NewDemuxer()
	var units []*Unit
	for len(b) > 0 {
		n := min(len(b), 61)
		units = append(units, d.Feed(b[:n])...)
		b = b[n:]
	}
	units = append(units, d.Flush()...)

	require.Len(t, units, 3)
	assert.NotNil(t, units[0].PAT)
	assert.NotNil(t, units[1].PMT)
	require.NotNil(t, units[2].PES)
	assert.EqualValues(t, 0, units[2].PES.PTS)
	assert.Positive(t, d.Stats().Resyncs)
}

func TestDemuxerContinuityGapDropsUnit(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	pes := buildPES(0xE0, 0, -1, bytes.Repeat([]byte{1}, 300))
	d.Feed(makePacket(0x100, 0, true, pes[:PacketSize-4]))
	// cc 2 skips 1.
	d.Feed(makePacket(0x100, 2, false, pes[PacketSize-4:]))
	assert.Empty(t, d.Flush())
	assert.EqualValues(t, 1, d.Stats().Discontinuity)
}

func TestDemuxerDuplicatePacketIgnored(t *testing.T) {
	t.Parallel()
	d := NewDemuxer()
	pes := buildPES(0xC0, 0, -1, []byte{1, 2, 3})
	pkt := makeStuffedPacket(0x101, 4, true, pes)
	d.Feed(pkt)
	d.Feed(pkt)
	units := d.Flush()
	require.Len(t, units, 1)
	assert.Equal(t, []byte{1, 2, 3}, units[0].PES.Data)
}

func TestDemuxerBadPATCounted(t *testing.T) {
	t.Parallel()
	pat := buildPAT(1, []struct{ num, pid uint16 }{{1, 0x1000}})
	pat[len(pat)-1] ^= 0xFF
	d := NewDemuxer()
	assert.Empty(t, d.Feed(makePacket(pidPAT, 0, true, psiPayload(pat))))
	assert.EqualValues(t, 1, d.Stats().BadUnits)
}
