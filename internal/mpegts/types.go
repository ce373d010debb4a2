// Package mpegts splits an MPEG transport stream, fed in arbitrary chunks,
// into PAT, PMT and reassembled PES units.
package mpegts

// PacketSize is the size of one transport stream packet.
const PacketSize = 188

const syncByte = 0x47

// Stream types carried in the PMT.
const (
	StreamTypeAAC  uint8 = 0x0F
	StreamTypeH264 uint8 = 0x1B
	StreamTypeH265 uint8 = 0x24
)

// Packet is one parsed transport stream packet.
type Packet struct {
	PID           uint16
	CC            uint8
	UnitStart     bool
	HasPayload    bool
	Discontinuity bool
	TransportErr  bool
	Payload       []byte
}

// Unit is one complete PSI section or PES packet. Exactly one of PAT, PMT
// or PES is set.
type Unit struct {
	PID uint16
	PAT *PAT
	PMT *PMT
	PES *PES
}

// PAT maps program numbers to PMT PIDs.
type PAT struct {
	Programs map[uint16]uint16
}

// PMT lists the elementary streams of one program.
type PMT struct {
	Streams []ElementaryStream
}

// ElementaryStream is one PMT entry.
type ElementaryStream struct {
	PID        uint16
	StreamType uint8
}

// PES is a reassembled packetized elementary stream packet. PTS and DTS
// are 33-bit values on the 90 kHz clock, -1 when absent.
type PES struct {
	StreamID uint8
	PTS      int64
	DTS      int64
	Data     []byte
}
