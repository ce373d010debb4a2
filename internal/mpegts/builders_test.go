package mpegts

import "encoding/binary"

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F) // payload only
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

// makeStuffedPacket fills the space before payload with adaptation field
// stuffing so the payload ends the packet exactly.
func makeStuffedPacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = syncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x30 | (cc & 0x0F) // adaptation + payload
	if pusi {
		buf[1] |= 0x40
	}
	afLen := PacketSize - 5 - len(payload)
	buf[4] = byte(afLen)
	for i := 6; i < 5+afLen; i++ {
		buf[i] = 0xFF
	}
	copy(buf[5+afLen:], payload)
	return buf
}

// psiPayload prefixes a section with a zero pointer field and pads with
// stuffing.
func psiPayload(section []byte) []byte {
	p := append([]byte{0x00}, section...)
	for len(p) < PacketSize-4 {
		p = append(p, 0xFF)
	}
	return p
}

func buildPAT(tsID uint16, programs []struct{ num, pid uint16 }) []byte {
	sectionLength := 5 + len(programs)*4 + 4
	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPAT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(tsID >> 8)
	data[4] = byte(tsID)
	data[5] = 0xC1 // version 0, current
	off := 8
	for _, p := range programs {
		data[off] = byte(p.num >> 8)
		data[off+1] = byte(p.num)
		data[off+2] = 0xE0 | byte(p.pid>>8)&0x1F
		data[off+3] = byte(p.pid)
		off += 4
	}
	binary.BigEndian.PutUint32(data[off:], crc32MPEG2(data[:off]))
	return data
}

func buildPMT(programNum, pcrPID uint16, streams []ElementaryStream) []byte {
	sectionLength := 9 + len(streams)*5 + 4
	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPMT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	data[3] = byte(programNum >> 8)
	data[4] = byte(programNum)
	data[5] = 0xC1
	data[8] = 0xE0 | byte(pcrPID>>8)&0x1F
	data[9] = byte(pcrPID)
	data[10] = 0xF0 // no program info
	off := 12
	for _, s := range streams {
		data[off] = s.StreamType
		data[off+1] = 0xE0 | byte(s.PID>>8)&0x1F
		data[off+2] = byte(s.PID)
		data[off+3] = 0xF0 // no ES info
		off += 5
	}
	binary.BigEndian.PutUint32(data[off:], crc32MPEG2(data[:off]))
	return data
}

func encodeTimestamp(marker byte, v int64) []byte {
	return []byte{
		marker<<4 | byte(v>>29&0x0E) | 0x01,
		byte(v >> 22),
		byte(v>>14&0xFE) | 0x01,
		byte(v >> 7),
		byte(v<<1&0xFE) | 0x01,
	}
}

// buildPES builds a PES packet. Video (0xE0) uses the unbounded length.
func buildPES(streamID byte, pts, dts int64, data []byte) []byte {
	var opt []byte
	var flags byte
	switch {
	case pts >= 0 && dts >= 0:
		flags = 0x3
		opt = append(encodeTimestamp(0x03, pts), encodeTimestamp(0x01, dts)...)
	case pts >= 0:
		flags = 0x2
		opt = encodeTimestamp(0x02, pts)
	}
	n := 3 + len(opt) + len(data)
	if streamID == 0xE0 {
		n = 0
	}
	buf := []byte{0x00, 0x00, 0x01, streamID, byte(n >> 8), byte(n), 0x80, flags << 6, byte(len(opt))}
	buf = append(buf, opt...)
	return append(buf, data...)
}
