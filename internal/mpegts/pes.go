package mpegts

import "fmt"

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalHeader reports whether a stream ID carries the optional PES
// header. padding, private_stream_2, ECM, EMM, DSMCC, H.222.1 type E and
// the program stream directory do not.
func hasOptionalHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

func parsePES(payload []byte) (*PESData, error) {
	if len(payload) < 6 {
		return nil, fmt.Errorf("mpegts: PES packet too short (%d bytes)", len(payload))
	}
	if !isPESPayload(payload) {
		return nil, fmt.Errorf("mpegts: invalid PES start code")
	}

	streamID := payload[3]
	packetLength := int(payload[4])<<8 | int(payload[5])
	end := len(payload)
	if packetLength > 0 && 6+packetLength <= len(payload) {
		end = 6 + packetLength
	}

	pes := &PESData{
		Header: &PESHeader{
			StreamID:     streamID,
			PacketLength: packetLength,
		},
	}

	if !hasOptionalHeader(streamID) {
		pes.Data = payload[6:end]
		return pes, nil
	}

	if len(payload) < 9 {
		return nil, fmt.Errorf("mpegts: PES optional header too short")
	}

	// payload[6]: '10' marker, scrambling(2), priority, alignment, copyright, original
	// payload[7]: PTS_DTS_flags(2), ESCR, ES_rate, DSM_trick, copy_info, CRC, extension
	// payload[8]: PES_header_data_length
	oh := &PESOptionalHeader{
		DataAlignmentIndicator: payload[6]&0x04 != 0,
	}
	pes.Header.OptionalHeader = oh

	switch payload[7] >> 6 & 0x03 {
	case 2:
		if len(payload) >= 14 {
			oh.PTS = parsePTSOrDTS(payload[9:14])
		}
	case 3:
		if len(payload) >= 19 {
			oh.PTS = parsePTSOrDTS(payload[9:14])
			oh.DTS = parsePTSOrDTS(payload[14:19])
		}
	}

	dataStart := 9 + int(payload[8])
	if dataStart > end {
		dataStart = end
	}
	pes.Data = payload[dataStart:end]
	return pes, nil
}

// parsePTSOrDTS extracts a 33-bit timestamp from 5 PES timestamp bytes.
func parsePTSOrDTS(bs []byte) *ClockReference {
	if len(bs) < 5 {
		return nil
	}
	base := int64(bs[0]>>1&0x07)<<30 |
		int64(bs[1])<<22 |
		int64(bs[2]>>1&0x7F)<<15 |
		int64(bs[3])<<7 |
		int64(bs[4]>>1&0x7F)
	return &ClockReference{Base: base}
}
