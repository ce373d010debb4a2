package mpegts

import "fmt"

const (
	pidPAT     = 0x0000
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// sections walks the PSI sections in payload, starting after the pointer
// field. complete is false when the last section is cut short.
func sections(payload []byte) (secs [][]byte, complete bool) {
	if len(payload) < 1 {
		return nil, false
	}
	off := 1 + int(payload[0])
	if off >= len(payload) {
		return nil, false
	}
	for off < len(payload) {
		// 0xFF is stuffing; a clear section_syntax_indicator is padding.
		if payload[off] == 0xFF {
			return secs, true
		}
		if off+3 > len(payload) {
			return secs, false
		}
		if payload[off+1]&0x80 == 0 {
			return secs, true
		}
		end := off + 3 + (int(payload[off+1]&0x0F)<<8 | int(payload[off+2]))
		if end > len(payload) {
			return secs, false
		}
		secs = append(secs, payload[off:end])
		off = end
	}
	return secs, true
}

func parsePAT(sec []byte) (*PAT, error) {
	if err := verifyCRC(sec); err != nil {
		return nil, fmt.Errorf("mpegts: PAT: %w", err)
	}
	if len(sec) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}
	pat := &PAT{Programs: make(map[uint16]uint16)}
	for i := 8; i+4 <= len(sec)-4; i += 4 {
		num := uint16(sec[i])<<8 | uint16(sec[i+1])
		if num == 0 {
			continue // network PID
		}
		pat.Programs[num] = uint16(sec[i+2]&0x1F)<<8 | uint16(sec[i+3])
	}
	return pat, nil
}

func parsePMT(sec []byte) (*PMT, error) {
	if err := verifyCRC(sec); err != nil {
		return nil, fmt.Errorf("mpegts: PMT: %w", err)
	}
	if len(sec) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}
	end := len(sec) - 4
	off := 12 + (int(sec[10]&0x0F)<<8 | int(sec[11]))
	pmt := &PMT{}
	for off+5 <= end {
		pmt.Streams = append(pmt.Streams, ElementaryStream{
			StreamType: sec[off],
			PID:        uint16(sec[off+1]&0x1F)<<8 | uint16(sec[off+2]),
		})
		off += 5 + (int(sec[off+3]&0x0F)<<8 | int(sec[off+4]))
	}
	return pmt, nil
}
