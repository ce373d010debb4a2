package rush

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Type identifies a RUSH message.
type Type uint8

// RUSH message types.
const (
	TypeConnect    Type = 0x00
	TypeConnectAck Type = 0x01
	TypeVideoFrame Type = 0x0D
	TypeAudioFrame Type = 0x14
)

func (t Type) String() string {
	switch t {
	case TypeConnect:
		return "connect"
	case TypeConnectAck:
		return "connect-ack"
	case TypeVideoFrame:
		return "video-frame"
	case TypeAudioFrame:
		return "audio-frame"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

// Known reports whether t is one of the defined message types.
func (t Type) Known() bool {
	switch t {
	case TypeConnect, TypeConnectAck, TypeVideoFrame, TypeAudioFrame:
		return true
	}
	return false
}

// Wire sizes.
const (
	// HeaderSize is Length(8) + ID(8) + Type(1).
	HeaderSize = 17
	// ConnectSize is the fixed size of the Connect handshake.
	ConnectSize = 30
	// DefaultMaxMessageSize bounds ReadMessage allocations when the caller
	// passes no limit.
	DefaultMaxMessageSize = 4 << 20
)

// Version is the only protocol version this package speaks.
const Version uint8 = 0x00

// Header is the common prefix of every RUSH message.
//
//	0       1       2       3       4       5       6       7
//	+--------------------------------------------------------------+
//	|                       Length (64)                            |
//	+--------------------------------------------------------------+
//	|                       ID (64)                                |
//	+-------+------------------------------------------------------+
//	|Type(8)| Payload ...                                          |
//	+-------+------------------------------------------------------+
//
// Length counts the whole message, header included.
type Header struct {
	Length uint64
	ID     uint64
	Type   Type
}

// ParseHeader decodes the header at the start of data. It validates that the
// declared length covers at least the header itself but does not require
// the whole message to be present.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, &ParseError{Field: "header", Err: ErrShortMessage}
	}
	h.Length = binary.BigEndian.Uint64(data[0:8])
	if h.Length < HeaderSize {
		return h, &ParseError{Field: "length", Err: ErrInvalidLength}
	}
	h.ID = binary.BigEndian.Uint64(data[8:16])
	h.Type = Type(data[16])
	return h, nil
}

// AppendHeader appends the encoded header to buf.
func AppendHeader(buf []byte, h Header) []byte {
	buf = binary.BigEndian.AppendUint64(buf, h.Length)
	buf = binary.BigEndian.AppendUint64(buf, h.ID)
	return append(buf, byte(h.Type))
}

// Payload returns the bytes following the header of a complete message.
// It returns nil if msg is shorter than a header.
func Payload(msg []byte) []byte {
	if len(msg) < HeaderSize {
		return nil
	}
	return msg[HeaderSize:]
}

// Connect is the decoded form of the Connect handshake.
type Connect struct {
	Version        uint8
	AudioTimescale uint16
	VideoTimescale uint16
}

// EncodeConnect builds the 30-byte Connect handshake:
//
//	0-3   reserved (0)
//	4-7   total length (30)
//	8-15  reserved (0)
//	16    type (0x00 Connect)
//	17    version (0x00)
//	18-19 audio timescale
//	20-21 video timescale
//	22-29 reserved (0)
//
// Bytes 0-15 are the Length and ID header fields; a length of 30 fits in the
// low 32 bits so the upper 4 bytes read as reserved zero.
func EncodeConnect(audioTimescale, videoTimescale uint16) []byte {
	buf := make([]byte, ConnectSize)
	binary.BigEndian.PutUint32(buf[4:8], ConnectSize)
	buf[16] = byte(TypeConnect)
	buf[17] = Version
	binary.BigEndian.PutUint16(buf[18:20], audioTimescale)
	binary.BigEndian.PutUint16(buf[20:22], videoTimescale)
	return buf
}

// ParseConnect decodes a Connect handshake produced by EncodeConnect.
func ParseConnect(data []byte) (Connect, error) {
	var c Connect
	if len(data) < ConnectSize {
		return c, &ParseError{Field: "connect", Err: fmt.Errorf("%w: %d bytes", ErrShortMessage, len(data))}
	}
	if len(data) > ConnectSize {
		return c, &ParseError{Field: "connect", Err: fmt.Errorf("%w: %d bytes, want %d", ErrInvalidLength, len(data), ConnectSize)}
	}
	h, err := ParseHeader(data)
	if err != nil {
		return c, err
	}
	if h.Length != ConnectSize {
		return c, &ParseError{Field: "length", Err: ErrInvalidLength}
	}
	if h.ID != 0 {
		return c, &ParseError{Field: "reserved", Err: ErrReservedNonZero}
	}
	if h.Type != TypeConnect {
		return c, &ParseError{Field: "type", Err: fmt.Errorf("%w: %s", ErrUnexpectedType, h.Type)}
	}
	for _, b := range data[22:ConnectSize] {
		if b != 0 {
			return c, &ParseError{Field: "reserved", Err: ErrReservedNonZero}
		}
	}
	c.Version = data[17]
	c.AudioTimescale = binary.BigEndian.Uint16(data[18:20])
	c.VideoTimescale = binary.BigEndian.Uint16(data[20:22])
	return c, nil
}

// ReadMessage reads one complete message from an ordered byte stream, using
// the Length field to find its end. The returned slice includes the header.
// A maxSize of zero or less selects DefaultMaxMessageSize.
//
// A clean end of stream before any byte of a new message returns io.EOF; a
// stream that ends mid-message returns io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}

	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint64(lenBuf[:])
	if length < HeaderSize {
		return nil, &ParseError{Field: "length", Err: ErrInvalidLength}
	}
	if length > uint64(maxSize) {
		return nil, &ParseError{Field: "length", Err: fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, length, maxSize)}
	}

	msg := make([]byte, length)
	copy(msg, lenBuf[:])
	if _, err := io.ReadFull(r, msg[8:]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read message body: %w", err)
	}
	return msg, nil
}

// AppendMessage appends a complete message with the given id, type and
// payload to buf, filling in the Length field.
func AppendMessage(buf []byte, id uint64, t Type, payload []byte) []byte {
	buf = AppendHeader(buf, Header{
		Length: uint64(HeaderSize + len(payload)),
		ID:     id,
		Type:   t,
	})
	return append(buf, payload...)
}
