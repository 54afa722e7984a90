package mpegts

// ScanTimestamps walks a buffer of transport stream packets and calls fn
// with the PID and raw 33-bit PTS of every PES unit start it finds. The
// buffer may begin mid-packet; scanning starts at the first offset where
// two consecutive sync bytes line up. Only the first packet of each PES is
// inspected, so no PAT or PMT is needed.
func ScanTimestamps(buf []byte, fn func(pid uint16, pts int64)) {
	i := alignment(buf)
	if i < 0 {
		return
	}
	for ; i+packetSize <= len(buf); i += packetSize {
		if buf[i] != syncByte {
			j := alignment(buf[i:])
			if j < 0 {
				return
			}
			i += j
			if i+packetSize > len(buf) {
				return
			}
		}
		pkt, err := parsePacket(buf[i : i+packetSize])
		if err != nil || !pkt.Header.PayloadUnitStartIndicator || !isPESPayload(pkt.Payload) {
			continue
		}
		pes, err := parsePES(pkt.Payload)
		if err != nil || pes.Header.OptionalHeader == nil || pes.Header.OptionalHeader.PTS == nil {
			continue
		}
		fn(pkt.Header.PID, pes.Header.OptionalHeader.PTS.Base)
	}
}

// Aligned reports whether buf looks like transport stream packets: two
// sync bytes a packet apart within the first packet, or a lone packet that
// starts with one.
func Aligned(buf []byte) bool { return alignment(buf) >= 0 }

// alignment returns the first offset holding a sync byte that is followed
// by another one a packet later, or -1.
func alignment(buf []byte) int {
	for i := 0; i+packetSize < len(buf); i++ {
		if buf[i] == syncByte && buf[i+packetSize] == syncByte {
			return i
		}
	}
	if len(buf) >= packetSize && buf[0] == syncByte {
		return 0
	}
	return -1
}
