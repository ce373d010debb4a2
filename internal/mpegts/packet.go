package mpegts

import "fmt"

func parsePacket(buf []byte) (Packet, error) {
	if len(buf) != PacketSize {
		return Packet{}, fmt.Errorf("mpegts: packet size %d, expected %d", len(buf), PacketSize)
	}
	if buf[0] != syncByte {
		return Packet{}, fmt.Errorf("mpegts: invalid sync byte 0x%02X", buf[0])
	}

	p := Packet{
		TransportErr: buf[1]&0x80 != 0,
		UnitStart:    buf[1]&0x40 != 0,
		PID:          uint16(buf[1]&0x1F)<<8 | uint16(buf[2]),
		HasPayload:   buf[3]&0x10 != 0,
		CC:           buf[3] & 0x0F,
	}

	off := 4
	if buf[3]&0x20 != 0 {
		afLen := int(buf[off])
		if afLen > 0 {
			p.Discontinuity = buf[off+1]&0x80 != 0
		}
		off += 1 + afLen
	}
	if p.HasPayload && off < PacketSize {
		p.Payload = append([]byte(nil), buf[off:]...)
	}
	return p, nil
}
