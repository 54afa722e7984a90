package demux

import "errors"

// ErrInvalidADTS is returned when an ADTS header is malformed.
var ErrInvalidADTS = errors.New("demux: invalid ADTS header")

// AACSamplesPerFrame is the sample count of one AAC-LC access unit.
const AACSamplesPerFrame = 1024

// Sampling frequency table, ISO 14496-3 Table 1.18.
var aacSampleRates = [...]int{
	96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050,
	16000, 12000, 11025, 8000, 7350,
}

// AACFrame is one AAC access unit parsed from an ADTS stream.
type AACFrame struct {
	Data       []byte // complete ADTS frame, header included
	HeaderSize int    // 7, or 9 with CRC
	Profile    int    // audio object type minus one
	RateIndex  int
	SampleRate int
	Channels   int
}

// Payload returns the raw access unit without the ADTS header.
func (f AACFrame) Payload() []byte {
	return f.Data[f.HeaderSize:]
}

// AudioSpecificConfig returns the 2-byte decoder configuration matching
// the frame's header.
func (f AACFrame) AudioSpecificConfig() []byte {
	return AudioSpecificConfig(f.Profile+1, f.RateIndex, f.Channels)
}

// AudioSpecificConfig encodes objectType(5) frequencyIndex(4)
// channelConfiguration(4) followed by three zero GASpecificConfig bits.
func AudioSpecificConfig(objectType, rateIndex, channels int) []byte {
	v := uint16(objectType&0x1F)<<11 | uint16(rateIndex&0x0F)<<7 | uint16(channels&0x0F)<<3
	return []byte{byte(v >> 8), byte(v)}
}

// SampleRateIndex returns the table index for rate, or -1.
func SampleRateIndex(rate int) int {
	for i, r := range aacSampleRates {
		if r == rate {
			return i
		}
	}
	return -1
}

// ParseADTS splits an ADTS byte stream into frames. Bytes before a sync
// word are skipped and a truncated trailing frame is dropped.
func ParseADTS(data []byte) ([]AACFrame, error) {
	var frames []AACFrame
	offset := 0

	for len(data)-offset >= 7 {
		if data[offset] != 0xFF || data[offset+1]&0xF0 != 0xF0 {
			offset++
			continue
		}

		headerSize := 7
		if data[offset+1]&0x01 == 0 { // protection_absent clear
			headerSize = 9
		}

		rateIdx := int(data[offset+2] >> 2 & 0x0F)
		if rateIdx >= len(aacSampleRates) {
			return frames, ErrInvalidADTS
		}
		profile := int(data[offset+2] >> 6)
		channelCfg := int(data[offset+2]&0x01)<<2 | int(data[offset+3]>>6&0x03)

		frameLen := int(data[offset+3]&0x03)<<11 |
			int(data[offset+4])<<3 |
			int(data[offset+5]>>5)
		if frameLen < headerSize {
			return frames, ErrInvalidADTS
		}
		if offset+frameLen > len(data) {
			break
		}

		frames = append(frames, AACFrame{
			Data:       data[offset : offset+frameLen],
			HeaderSize: headerSize,
			Profile:    profile,
			RateIndex:  rateIdx,
			SampleRate: aacSampleRates[rateIdx],
			Channels:   channelCfg,
		})
		offset += frameLen
	}

	return frames, nil
}
