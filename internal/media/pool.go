package media

import "sync"

// Payload buffers are pooled in power-of-two size classes from 1 KiB to
// 16 MiB. Larger payloads are allocated directly and left to the GC.
const (
	minClassShift = 10
	maxClassShift = 24
)

var dataPools [maxClassShift - minClassShift + 1]sync.Pool

func classFor(n int) int {
	c := 0
	for size := 1 << minClassShift; size < n; size <<= 1 {
		c++
	}
	return c
}

// NewPacket returns a packet whose Data is a pooled copy of payload.
// The caller releases it with Packet.Release once the payload is consumed.
func NewPacket(streamIndex int, pts, dts int64, key bool, payload []byte) *Packet {
	p := &Packet{StreamIndex: streamIndex, PTS: pts, DTS: dts, KeyFrame: key}
	if len(payload) > 1<<maxClassShift {
		p.Data = append([]byte(nil), payload...)
		return p
	}
	c := classFor(len(payload))
	var buf []byte
	if v, ok := dataPools[c].Get().(*[]byte); ok {
		buf = (*v)[:len(payload)]
	} else {
		buf = make([]byte, len(payload), 1<<(minClassShift+c))
	}
	copy(buf, payload)
	p.Data = buf
	p.pooled = true
	return p
}

func putData(b []byte) {
	if cap(b) < 1<<minClassShift || cap(b) > 1<<maxClassShift {
		return
	}
	c := classFor(cap(b))
	if 1<<(minClassShift+c) != cap(b) {
		return
	}
	b = b[:0]
	dataPools[c].Put(&b)
}
