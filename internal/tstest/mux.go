// Package tstest builds synthetic MPEG-TS streams and elementary stream
// payloads for tests.
package tstest

import (
	"bytes"
	"encoding/binary"

	"github.com/zsiec/samplesource/internal/mpegts"
)

const (
	// PacketSize is the transport stream packet size.
	PacketSize = 188

	// PMTPID is the PID the muxer announces its single program on.
	PMTPID = 0x1000
)

// Stream declares one elementary stream in the muxer's PMT.
type Stream struct {
	PID        uint16
	StreamType uint8
	StreamID   byte   // PES stream_id, 0xE0 for video and 0xC0 for audio
	ESInfo     []byte // raw descriptor loop
}

// Muxer writes PAT, PMT and PES packets for one program. It does no
// interleaving of its own; callers write PES units in the order they want
// them on the wire.
type Muxer struct {
	buf     bytes.Buffer
	cc      map[uint16]byte
	streams []Stream
	pcrPID  uint16
}

// NewMuxer returns a muxer for the given streams. The first stream
// carries the PCR.
func NewMuxer(streams ...Stream) *Muxer {
	m := &Muxer{cc: make(map[uint16]byte), streams: streams}
	if len(streams) > 0 {
		m.pcrPID = streams[0].PID
	}
	return m
}

// Bytes returns everything written so far.
func (m *Muxer) Bytes() []byte { return m.buf.Bytes() }

// Len returns the number of bytes written so far.
func (m *Muxer) Len() int { return m.buf.Len() }

// WriteRaw appends b unchanged, for injecting garbage.
func (m *Muxer) WriteRaw(b []byte) { m.buf.Write(b) }

// WriteTables writes one PAT and one PMT packet.
func (m *Muxer) WriteTables() {
	m.writeSection(0x0000, PAT(1, PMTPID))
	m.writeSection(PMTPID, PMT(1, m.pcrPID, m.streams))
}

func (m *Muxer) writeSection(pid uint16, section []byte) {
	m.packetize(pid, append([]byte{0x00}, section...), false, -1)
}

// WritePES writes one PES unit. pts < 0 omits the PTS, and dts is only
// written when it is non-negative and differs from pts. randomAccess sets
// the adaptation field random_access_indicator on the first packet.
func (m *Muxer) WritePES(pid uint16, pts, dts int64, randomAccess bool, payload []byte) {
	s := m.stream(pid)
	pes := BuildPES(s.StreamID, pts, dts, payload)
	pcr := int64(-1)
	if pid == m.pcrPID && pts >= 0 {
		pcr = pts
		if dts >= 0 && dts < pts {
			pcr = dts
		}
	}
	m.packetize(pid, pes, randomAccess, pcr)
}

func (m *Muxer) stream(pid uint16) Stream {
	for _, s := range m.streams {
		if s.PID == pid {
			return s
		}
	}
	return Stream{PID: pid, StreamID: 0xBD}
}

// packetize splits unit into 188-byte packets. Short tails are padded with
// adaptation field stuffing so the payload carries nothing but the unit.
func (m *Muxer) packetize(pid uint16, unit []byte, randomAccess bool, pcr int64) {
	for off := 0; off < len(unit); {
		var af []byte
		hasAF := false
		if off == 0 && (randomAccess || pcr >= 0) {
			hasAF = true
			flags := byte(0)
			if randomAccess {
				flags |= 0x40
			}
			af = append(af, flags)
			if pcr >= 0 {
				af[0] |= 0x10
				af = append(af, encodePCR(pcr)...)
			}
		}

		room := PacketSize - 4
		if hasAF {
			room -= 1 + len(af)
		}
		n := min(room, len(unit)-off)
		if stuff := room - n; stuff > 0 {
			switch {
			case hasAF:
				af = append(af, bytes.Repeat([]byte{0xFF}, stuff)...)
			case stuff == 1:
				hasAF = true
			default:
				hasAF = true
				af = append([]byte{0x00}, bytes.Repeat([]byte{0xFF}, stuff-2)...)
			}
		}

		var pkt [PacketSize]byte
		pkt[0] = 0x47
		pkt[1] = byte(pid>>8) & 0x1F
		pkt[2] = byte(pid)
		if off == 0 {
			pkt[1] |= 0x40
		}
		cc := m.cc[pid]
		m.cc[pid] = (cc + 1) & 0x0F
		pkt[3] = 0x10 | cc
		i := 4
		if hasAF {
			pkt[3] |= 0x20
			pkt[4] = byte(len(af))
			copy(pkt[5:], af)
			i = 5 + len(af)
		}
		copy(pkt[i:], unit[off:off+n])
		off += n
		m.buf.Write(pkt[:])
	}
}

func encodePCR(base int64) []byte {
	b := make([]byte, 6)
	b[0] = byte(base >> 25)
	b[1] = byte(base >> 17)
	b[2] = byte(base >> 9)
	b[3] = byte(base >> 1)
	b[4] = byte(base<<7) | 0x7E
	return b
}

// PAT returns a PAT section announcing one program.
func PAT(programNumber, pmtPID uint16) []byte {
	data := make([]byte, 16)
	data[0] = 0x00
	data[1] = 0xB0
	data[2] = 13
	data[3], data[4] = 0x00, 0x01
	data[5] = 0xC1
	binary.BigEndian.PutUint16(data[8:], programNumber)
	data[10] = 0xE0 | byte(pmtPID>>8)&0x1F
	data[11] = byte(pmtPID)
	binary.BigEndian.PutUint32(data[12:], mpegts.CRC32(data[:12]))
	return data
}

// PMT returns a PMT section declaring streams in order.
func PMT(programNumber, pcrPID uint16, streams []Stream) []byte {
	esLen := 0
	for _, s := range streams {
		esLen += 5 + len(s.ESInfo)
	}
	sectionLength := 9 + esLen + 4
	data := make([]byte, 3+sectionLength)
	data[0] = 0x02
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F
	data[2] = byte(sectionLength)
	binary.BigEndian.PutUint16(data[3:], programNumber)
	data[5] = 0xC1
	data[8] = 0xE0 | byte(pcrPID>>8)&0x1F
	data[9] = byte(pcrPID)
	data[10] = 0xF0
	off := 12
	for _, s := range streams {
		data[off] = s.StreamType
		data[off+1] = 0xE0 | byte(s.PID>>8)&0x1F
		data[off+2] = byte(s.PID)
		data[off+3] = 0xF0 | byte(len(s.ESInfo)>>8)&0x0F
		data[off+4] = byte(len(s.ESInfo))
		copy(data[off+5:], s.ESInfo)
		off += 5 + len(s.ESInfo)
	}
	binary.BigEndian.PutUint32(data[off:], mpegts.CRC32(data[:off]))
	return data
}

// BuildPES wraps payload in a PES header. Video stream IDs get an
// unbounded PES_packet_length, as broadcast muxers emit.
func BuildPES(streamID byte, pts, dts int64, payload []byte) []byte {
	var opt []byte
	flags := byte(0)
	switch {
	case pts >= 0 && dts >= 0 && dts != pts:
		flags = 0xC0
		opt = append(opt, encodeTimestamp(0x03, pts)...)
		opt = append(opt, encodeTimestamp(0x01, dts)...)
	case pts >= 0:
		flags = 0x80
		opt = append(opt, encodeTimestamp(0x02, pts)...)
	}

	length := 3 + len(opt) + len(payload)
	if streamID&0xF0 == 0xE0 || length > 0xFFFF {
		length = 0
	}

	pes := make([]byte, 0, 9+len(opt)+len(payload))
	pes = append(pes, 0x00, 0x00, 0x01, streamID, byte(length>>8), byte(length))
	pes = append(pes, 0x84, flags, byte(len(opt))) // data_alignment_indicator set
	pes = append(pes, opt...)
	return append(pes, payload...)
}

func encodeTimestamp(marker byte, v int64) []byte {
	v &= 1<<33 - 1
	return []byte{
		marker<<4 | byte(v>>29)&0x0E | 0x01,
		byte(v >> 22),
		byte(v>>14)&0xFE | 0x01,
		byte(v >> 7),
		byte(v<<1)&0xFE | 0x01,
	}
}

// File is an in-memory seekable, closable input.
type File struct {
	*bytes.Reader
	Closed bool
}

// NewFile wraps b as a seekable input.
func NewFile(b []byte) *File {
	return &File{Reader: bytes.NewReader(b)}
}

// Close marks the file closed. Reads keep working so tests can observe
// what the caller does after closing.
func (f *File) Close() error {
	f.Closed = true
	return nil
}

// NewStreamReader returns b as a non-seekable input.
func NewStreamReader(b []byte) *StreamReader {
	return &StreamReader{r: bytes.NewReader(b)}
}

// StreamReader is a read-only, non-seekable input.
type StreamReader struct {
	r *bytes.Reader
}

func (s *StreamReader) Read(p []byte) (int, error) { return s.r.Read(p) }

// Close is a no-op.
func (s *StreamReader) Close() error { return nil }
