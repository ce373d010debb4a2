package mpegts

import "fmt"

func isPES(data []byte) bool {
	return len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1
}

// hasOptionalHeader reports whether streams with id carry the optional PES
// header (padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 type E and
// the program stream directory do not).
func hasOptionalHeader(id uint8) bool {
	switch id {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(payload []byte) (*PES, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPES(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	pes := &PES{StreamID: payload[3], PTS: -1, DTS: -1}
	end := len(payload)
	// A zero length means unbounded, which video streams use.
	if n := int(payload[4])<<8 | int(payload[5]); n > 0 && 6+n < end {
		end = 6 + n
	}

	if !hasOptionalHeader(pes.StreamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}
	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	flags := payload[7] >> 6
	start := 9 + int(payload[8])
	if start > end {
		start = end
	}
	if flags&0x2 != 0 && len(payload) >= 14 {
		pes.PTS = parseTimestamp(payload[9:14])
		pes.DTS = pes.PTS
	}
	if flags == 0x3 && len(payload) >= 19 {
		pes.DTS = parseTimestamp(payload[14:19])
	}
	pes.Data = payload[start:end]
	return pes, nil
}

// parseTimestamp decodes a 33-bit PTS or DTS from its 5-byte encoding.
func parseTimestamp(b []byte) int64 {
	return int64(b[0]>>1&0x07)<<30 |
		int64(b[1])<<22 |
		int64(b[2]>>1)<<15 |
		int64(b[3])<<7 |
		int64(b[4]>>1)
}
