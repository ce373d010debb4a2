package mpegts

import (
	"bytes"
	"sort"
)

// Stats counts what the demuxer discarded.
type Stats struct {
	Packets       int64
	Resyncs       int64
	Discontinuity int64
	BadUnits      int64
}

// pidBuffer collects the payloads of one PID between unit starts.
type pidBuffer struct {
	started bool
	lastCC  uint8
	data    []byte
}

// Demuxer reassembles units from transport stream bytes pushed with Feed.
// Packets may be split across Feed calls. A PES unit is complete when the
// next unit starts on its PID, so each PES is emitted one unit late; Flush
// emits what is left. A Demuxer is not safe for concurrent use.
type Demuxer struct {
	pending []byte
	pids    map[uint16]*pidBuffer
	pmtPIDs map[uint16]bool
	stats   Stats
}

// NewDemuxer returns an empty Demuxer.
func NewDemuxer() *Demuxer {
	return &Demuxer{
		pids:    make(map[uint16]*pidBuffer),
		pmtPIDs: make(map[uint16]bool),
	}
}

// Feed consumes b and returns the units it completed, in stream order.
func (d *Demuxer) Feed(b []byte) []*Unit {
	d.pending = append(d.pending, b...)
	var out []*Unit
	buf := d.pending
	for len(buf) >= PacketSize {
		if buf[0] != syncByte {
			d.stats.Resyncs++
			i := bytes.IndexByte(buf[1:], syncByte)
			if i < 0 {
				buf = buf[len(buf):]
				break
			}
			buf = buf[1+i:]
			continue
		}
		pkt, err := parsePacket(buf[:PacketSize])
		buf = buf[PacketSize:]
		if err != nil {
			continue
		}
		d.stats.Packets++
		out = append(out, d.add(pkt)...)
	}
	d.pending = append(d.pending[:0], buf...)
	return out
}

// Flush emits the units still being collected, PSI first.
func (d *Demuxer) Flush() []*Unit {
	pids := make([]int, 0, len(d.pids))
	for pid := range d.pids {
		pids = append(pids, int(pid))
	}
	sort.Ints(pids)

	var out []*Unit
	for _, pid := range pids {
		pb := d.pids[uint16(pid)]
		if pb.started && len(pb.data) > 0 {
			out = append(out, d.parse(uint16(pid), pb.data)...)
		}
		pb.started, pb.data = false, nil
	}
	return out
}

// Stats returns the demuxer counters.
func (d *Demuxer) Stats() Stats { return d.stats }

func (d *Demuxer) isPSI(pid uint16) bool {
	return pid == pidPAT || d.pmtPIDs[pid]
}

func (d *Demuxer) add(p Packet) []*Unit {
	pb, ok := d.pids[p.PID]
	if !ok {
		pb = &pidBuffer{}
		d.pids[p.PID] = pb
	}
	if p.TransportErr {
		pb.started, pb.data = false, nil
		return nil
	}
	if !p.HasPayload {
		return nil
	}

	if pb.started && !p.Discontinuity {
		want := (pb.lastCC + 1) & 0x0F
		switch p.CC {
		case want:
		case pb.lastCC:
			return nil // duplicate
		default:
			d.stats.Discontinuity++
			pb.started, pb.data = false, nil
		}
	}
	pb.lastCC = p.CC

	var out []*Unit
	if p.UnitStart {
		if pb.started && len(pb.data) > 0 {
			out = d.parse(p.PID, pb.data)
		}
		pb.started, pb.data = true, append([]byte(nil), p.Payload...)
	} else if pb.started {
		pb.data = append(pb.data, p.Payload...)
	} else {
		return nil // mid-unit, no start seen
	}

	if d.isPSI(p.PID) {
		if _, complete := sections(pb.data); complete {
			out = append(out, d.parse(p.PID, pb.data)...)
			pb.started, pb.data = false, nil
		}
	}
	return out
}

func (d *Demuxer) parse(pid uint16, payload []byte) []*Unit {
	if d.isPSI(pid) {
		secs, _ := sections(payload)
		var out []*Unit
		for _, sec := range secs {
			var u *Unit
			switch sec[0] {
			case tableIDPAT:
				pat, err := parsePAT(sec)
				if err != nil {
					d.stats.BadUnits++
					continue
				}
				for _, pmtPID := range pat.Programs {
					d.pmtPIDs[pmtPID] = true
				}
				u = &Unit{PID: pid, PAT: pat}
			case tableIDPMT:
				pmt, err := parsePMT(sec)
				if err != nil {
					d.stats.BadUnits++
					continue
				}
				u = &Unit{PID: pid, PMT: pmt}
			default:
				continue
			}
			out = append(out, u)
		}
		return out
	}

	if !isPES(payload) {
		return nil
	}
	pes, err := parsePES(payload)
	if err != nil {
		d.stats.BadUnits++
		return nil
	}
	return []*Unit{{PID: pid, PES: pes}}
}
