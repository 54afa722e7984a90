package mpegts

import (
	"maps"
	"slices"
)

const pidPAT = 0x0000

// maxUnitBytes bounds the payload one PID may buffer before its unit is
// abandoned.
const maxUnitBytes = 8 << 20

// unit is a PAT, PMT or PES being reassembled from one PID's packets.
type unit struct {
	first   *Packet
	payload []byte
}

type pidState struct {
	cur    *unit
	lastCC uint8
	seen   bool
}

// assembler reassembles per-PID units from a packet stream. A unit is
// returned when the next unit start arrives on its PID, or for PSI as soon
// as its sections are complete.
type assembler struct {
	pids    map[uint16]*pidState
	pmtPIDs map[uint16]bool
}

func newAssembler() *assembler {
	return &assembler{
		pids:    make(map[uint16]*pidState),
		pmtPIDs: make(map[uint16]bool),
	}
}

func (a *assembler) markPMT(pid uint16) { a.pmtPIDs[pid] = true }

func (a *assembler) isPSI(pid uint16) bool {
	return pid == pidPAT || a.pmtPIDs[pid]
}

// push feeds one packet and returns a finished unit, if any.
func (a *assembler) push(p *Packet) *unit {
	h := &p.Header
	st := a.pids[h.PID]
	if st == nil {
		st = &pidState{}
		a.pids[h.PID] = st
	}

	if h.TransportErrorIndicator {
		st.cur = nil
		return nil
	}
	if !h.HasPayload {
		return nil
	}

	if st.seen && !h.DiscontinuityIndicator {
		switch h.ContinuityCounter {
		case (st.lastCC + 1) & 0x0f:
		case st.lastCC:
			return nil // retransmitted packet
		default:
			st.cur = nil
		}
	}
	st.lastCC = h.ContinuityCounter
	st.seen = true

	var done *unit
	if h.PayloadUnitStartIndicator {
		done = st.cur
		st.cur = &unit{first: p}
	}
	if st.cur == nil {
		return done // joined mid-unit
	}
	st.cur.payload = append(st.cur.payload, p.Payload...)
	if len(st.cur.payload) > maxUnitBytes {
		st.cur = nil
		return done
	}

	if done == nil && a.isPSI(h.PID) && sectionsComplete(st.cur.payload) {
		done, st.cur = st.cur, nil
	}
	return done
}

// drain returns every pending unit in PID order, so PAT precedes PMT.
func (a *assembler) drain() []*unit {
	var out []*unit
	for _, pid := range slices.Sorted(maps.Keys(a.pids)) {
		st := a.pids[pid]
		if st.cur != nil && len(st.cur.payload) > 0 {
			out = append(out, st.cur)
		}
		st.cur = nil
	}
	return out
}

// reset forgets partial units and continuity state. PMT PIDs are kept.
func (a *assembler) reset() {
	clear(a.pids)
}

// sectionsComplete reports whether a PSI payload, pointer field included,
// holds every byte its sections declare. Stuffing or a header with the
// syntax bit clear ends the walk.
func sectionsComplete(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	off := 1 + int(b[0])
	if off >= len(b) {
		return false
	}
	for off < len(b) && b[off] != 0xff {
		if off+3 > len(b) {
			return false
		}
		if b[off+1]&0x80 == 0 {
			return true
		}
		off += 3 + (int(b[off+1]&0x0f)<<8 | int(b[off+2]))
		if off > len(b) {
			return false
		}
	}
	return true
}
