package mpegts

import (
	"bytes"
	"context"
	"errors"
	"io"
)

// Demuxer reads transport stream packets from a reader and produces
// DemuxerData for each complete PAT, PMT and PES unit.
type Demuxer struct {
	ctx        context.Context
	reader     io.Reader
	readBuf    []byte
	asm        *assembler
	dataBuffer []*DemuxerData
	pktSize    int
	eof        bool
	eofData    []*DemuxerData

	bytesRead int64
	resyncs   int64
}

// NewDemuxer creates a demuxer reading from r. ctx cancellation is
// observed between packets.
func NewDemuxer(ctx context.Context, r io.Reader, opts ...func(*Demuxer)) *Demuxer {
	d := &Demuxer{
		ctx:     ctx,
		reader:  r,
		pktSize: packetSize,
		asm:     newAssembler(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.pktSize < packetSize {
		d.pktSize = packetSize
	}
	d.readBuf = make([]byte, d.pktSize)
	return d
}

// DemuxerOptPacketSize sets the on-wire packet size. Sizes above 188, such
// as 204-byte packets with Reed-Solomon parity, carry trailing bytes that
// are ignored.
func DemuxerOptPacketSize(size int) func(*Demuxer) {
	return func(d *Demuxer) {
		d.pktSize = size
	}
}

// BytesRead returns the number of input bytes consumed since the demuxer
// was created or last Reset.
func (d *Demuxer) BytesRead() int64 { return d.bytesRead }

// Resyncs returns how many times the demuxer had to hunt for a sync byte.
func (d *Demuxer) Resyncs() int64 { return d.resyncs }

// Reset switches the demuxer to r and discards partially assembled units
// and buffered output. PMT PIDs learned so far are kept.
func (d *Demuxer) Reset(r io.Reader) {
	d.reader = r
	d.asm.reset()
	d.dataBuffer = nil
	d.eofData = nil
	d.eof = false
	d.bytesRead = 0
}

// NextData returns the next parsed unit. It returns io.EOF once the input
// is exhausted and every pending unit has been flushed.
func (d *Demuxer) NextData() (*DemuxerData, error) {
	for {
		if len(d.dataBuffer) > 0 {
			data := d.dataBuffer[0]
			d.dataBuffer = d.dataBuffer[1:]
			return data, nil
		}

		if d.eof {
			if len(d.eofData) > 0 {
				data := d.eofData[0]
				d.eofData = d.eofData[1:]
				return data, nil
			}
			return nil, io.EOF
		}

		if err := d.ctx.Err(); err != nil {
			return nil, err
		}

		if err := d.readPacket(); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				d.eof = true
				d.drain()
				continue
			}
			return nil, err
		}

		pkt, err := parsePacket(d.readBuf[:packetSize])
		if err != nil {
			continue
		}

		u := d.asm.push(pkt)
		if u == nil {
			continue
		}

		results, err := d.parseUnit(u)
		if err != nil || len(results) == 0 {
			continue
		}
		d.learnPMTPIDs(results)

		d.dataBuffer = results[1:]
		return results[0], nil
	}
}

// readPacket fills readBuf with the next packet, scanning forward for a
// sync byte when the stream is misaligned.
func (d *Demuxer) readPacket() error {
	n, err := io.ReadFull(d.reader, d.readBuf)
	d.bytesRead += int64(n)
	if err != nil {
		return err
	}
	for d.readBuf[0] != syncByte {
		d.resyncs++
		i := bytes.IndexByte(d.readBuf[1:], syncByte)
		keep := 0
		if i >= 0 {
			keep = copy(d.readBuf, d.readBuf[i+1:])
		}
		n, err := io.ReadFull(d.reader, d.readBuf[keep:])
		d.bytesRead += int64(n)
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Demuxer) learnPMTPIDs(results []*DemuxerData) {
	for _, r := range results {
		if r.PAT == nil {
			continue
		}
		for _, p := range r.PAT.Programs {
			d.asm.markPMT(p.ProgramMapID)
		}
	}
}

func (d *Demuxer) drain() {
	for _, u := range d.asm.drain() {
		results, err := d.parseUnit(u)
		if err != nil {
			continue
		}
		d.learnPMTPIDs(results)
		d.eofData = append(d.eofData, results...)
	}
}

func (d *Demuxer) parseUnit(u *unit) ([]*DemuxerData, error) {
	if d.asm.isPSI(u.first.Header.PID) {
		return parsePSI(u.payload, u.first)
	}
	if !isPESPayload(u.payload) {
		return nil, nil
	}
	pes, err := parsePES(u.payload)
	if err != nil {
		return nil, err
	}
	return []*DemuxerData{{FirstPacket: u.first, PES: pes}}, nil
}
