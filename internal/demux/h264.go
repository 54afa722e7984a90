package demux

import (
	"errors"
	"fmt"
)

// H.264 NAL unit types, ITU-T H.264 Table 7-1.
const (
	NALTypeSlice      = 1
	NALTypeIDR        = 5
	NALTypeSEI        = 6
	NALTypeSPS        = 7
	NALTypePPS        = 8
	NALTypeAUD        = 9
	NALTypeFillerData = 12
)

// SPSInfo holds the fields of an H.264 Sequence Parameter Set that feed
// track parameters.
type SPSInfo struct {
	Width           int
	Height          int
	ProfileIDC      byte
	ConstraintFlags byte
	LevelIDC        byte

	// NumUnitsInTick and TimeScale come from the VUI timing info and are
	// zero when absent. A frame lasts 2*NumUnitsInTick/TimeScale seconds.
	NumUnitsInTick uint32
	TimeScale      uint32
}

// CodecString returns the RFC 6381 codec parameter, e.g. "avc1.42E01E".
func (s SPSInfo) CodecString() string {
	return fmt.Sprintf("avc1.%02X%02X%02X", s.ProfileIDC, s.ConstraintFlags, s.LevelIDC)
}

// FrameDuration returns the nominal frame duration in 90 kHz ticks, or 0
// when the SPS carries no timing info.
func (s SPSInfo) FrameDuration() int64 {
	if s.NumUnitsInTick == 0 || s.TimeScale == 0 {
		return 0
	}
	return int64(s.NumUnitsInTick) * 2 * 90000 / int64(s.TimeScale)
}

var errSPSTooShort = errors.New("demux: SPS data too short")

type bitReader struct {
	data []byte
	pos  int
	bit  int
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (br *bitReader) readBit() (uint, error) {
	if br.pos >= len(br.data) {
		return 0, errSPSTooShort
	}
	val := uint(br.data[br.pos]>>(7-br.bit)) & 1
	br.bit++
	if br.bit == 8 {
		br.bit = 0
		br.pos++
	}
	return val, nil
}

func (br *bitReader) readBits(n int) (uint, error) {
	var val uint
	for range n {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		val = val<<1 | b
	}
	return val, nil
}

func (br *bitReader) readUE() (uint, error) {
	zeros := 0
	for {
		b, err := br.readBit()
		if err != nil {
			return 0, err
		}
		if b == 1 {
			break
		}
		zeros++
		if zeros > 31 {
			return 0, errSPSTooShort
		}
	}
	if zeros == 0 {
		return 0, nil
	}
	suffix, err := br.readBits(zeros)
	if err != nil {
		return 0, err
	}
	return 1<<zeros - 1 + suffix, nil
}

func (br *bitReader) readSE() (int, error) {
	val, err := br.readUE()
	if err != nil {
		return 0, err
	}
	if val%2 == 0 {
		return -int(val / 2), nil
	}
	return int((val + 1) / 2), nil
}

func (br *bitReader) skipScalingList(size int) error {
	lastScale, nextScale := 8, 8
	for range size {
		if nextScale != 0 {
			delta, err := br.readSE()
			if err != nil {
				return err
			}
			nextScale = (lastScale + delta + 256) % 256
		}
		if nextScale != 0 {
			lastScale = nextScale
		}
	}
	return nil
}

// spsReader threads the first bitstream error through a sequence of reads
// so the SPS walk reads top to bottom.
type spsReader struct {
	br  *bitReader
	err error
}

func (r *spsReader) bits(n int) uint {
	if r.err != nil {
		return 0
	}
	v, err := r.br.readBits(n)
	r.err = err
	return v
}

func (r *spsReader) ue() uint {
	if r.err != nil {
		return 0
	}
	v, err := r.br.readUE()
	r.err = err
	return v
}

func (r *spsReader) se() int {
	if r.err != nil {
		return 0
	}
	v, err := r.br.readSE()
	r.err = err
	return v
}

func highProfile(profileIdc uint) bool {
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134:
		return true
	}
	return false
}

// ParseSPS parses an H.264 SPS NAL unit, header byte included and start
// code excluded, for resolution, profile and frame timing.
func ParseSPS(nalu []byte) (SPSInfo, error) {
	if len(nalu) < 4 {
		return SPSInfo{}, errSPSTooShort
	}
	r := &spsReader{br: newBitReader(removeEmulationPrevention(nalu[1:]))}

	profileIdc := r.bits(8)
	constraintFlags := r.bits(8)
	levelIdc := r.bits(8)
	r.ue() // seq_parameter_set_id

	chromaFormatIdc := uint(1)
	separateColourPlane := false
	if highProfile(profileIdc) {
		chromaFormatIdc = r.ue()
		if chromaFormatIdc == 3 {
			separateColourPlane = r.bits(1) == 1
		}
		r.ue()    // bit_depth_luma_minus8
		r.ue()    // bit_depth_chroma_minus8
		r.bits(1) // qpprime_y_zero_transform_bypass_flag
		if r.bits(1) == 1 {
			limit := 8
			if chromaFormatIdc == 3 {
				limit = 12
			}
			for i := 0; i < limit && r.err == nil; i++ {
				if r.bits(1) == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					r.err = r.br.skipScalingList(size)
				}
			}
		}
	}

	r.ue() // log2_max_frame_num_minus4
	switch r.ue() {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.bits(1)
		r.se()
		r.se()
		n := r.ue()
		for i := uint(0); i < n && r.err == nil; i++ {
			r.se()
		}
	}
	r.ue()    // max_num_ref_frames
	r.bits(1) // gaps_in_frame_num_value_allowed_flag

	picWidthMbs := r.ue()
	picHeightMapUnits := r.ue()
	frameMbsOnly := r.bits(1)
	if frameMbsOnly == 0 {
		r.bits(1) // mb_adaptive_frame_field_flag
	}
	r.bits(1) // direct_8x8_inference_flag

	var cropLeft, cropRight, cropTop, cropBottom uint
	if r.bits(1) == 1 {
		cropLeft, cropRight, cropTop, cropBottom = r.ue(), r.ue(), r.ue(), r.ue()
	}
	if r.err != nil {
		return SPSInfo{}, r.err
	}

	chromaArrayType := chromaFormatIdc
	if separateColourPlane {
		chromaArrayType = 0
	}
	subWidthC, subHeightC := uint(2), uint(2)
	switch chromaArrayType {
	case 0, 3:
		subWidthC, subHeightC = 1, 1
	case 2:
		subWidthC, subHeightC = 2, 1
	}
	cropUnitX := subWidthC
	cropUnitY := subHeightC * (2 - frameMbsOnly)

	info := SPSInfo{
		Width:           int((picWidthMbs+1)*16 - cropUnitX*(cropLeft+cropRight)),
		Height:          int((picHeightMapUnits+1)*16*(2-frameMbsOnly) - cropUnitY*(cropTop+cropBottom)),
		ProfileIDC:      byte(profileIdc),
		ConstraintFlags: byte(constraintFlags),
		LevelIDC:        byte(levelIdc),
	}

	if r.bits(1) == 0 || r.err != nil {
		return info, nil
	}
	parseVUITiming(r, &info)
	return info, nil
}

// parseVUITiming walks the VUI up to timing_info. Errors past the
// resolution fields leave the timing fields zero.
func parseVUITiming(r *spsReader, info *SPSInfo) {
	if r.bits(1) == 1 { // aspect_ratio_info_present_flag
		if r.bits(8) == 255 {
			r.bits(32) // sar_width, sar_height
		}
	}
	if r.bits(1) == 1 { // overscan_info_present_flag
		r.bits(1)
	}
	if r.bits(1) == 1 { // video_signal_type_present_flag
		r.bits(4)
		if r.bits(1) == 1 {
			r.bits(24)
		}
	}
	if r.bits(1) == 1 { // chroma_loc_info_present_flag
		r.ue()
		r.ue()
	}
	if r.bits(1) == 1 { // timing_info_present_flag
		units := r.bits(32)
		scale := r.bits(32)
		if r.err == nil {
			info.NumUnitsInTick = uint32(units)
			info.TimeScale = uint32(scale)
		}
	}
}

func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

// NALUnit is one H.264 or H.265 NAL unit.
type NALUnit struct {
	Type byte   // 5-bit H.264 or 6-bit H.265 type
	Data []byte // header byte(s) and payload, no start code
}

// parseAnnexBGeneric splits an Annex B stream on 3- and 4-byte start codes.
// minNALBytes is the NAL header size, 1 for H.264 and 2 for H.265.
func parseAnnexBGeneric(data []byte, minNALBytes int, nalTypeFunc func([]byte) byte) []NALUnit {
	n := len(data)
	if n < 4 {
		return nil
	}

	type scPos struct{ scStart, dataStart int }
	var positions []scPos
	for i := 0; i < n-2; {
		if data[i] == 0 && data[i+1] == 0 {
			if i < n-3 && data[i+2] == 0 && data[i+3] == 1 {
				positions = append(positions, scPos{i, i + 4})
				i += 4
				continue
			}
			if data[i+2] == 1 {
				positions = append(positions, scPos{i, i + 3})
				i += 3
				continue
			}
		}
		i++
	}

	var units []NALUnit
	for idx, pos := range positions {
		end := n
		if idx+1 < len(positions) {
			end = positions[idx+1].scStart
		}
		if end-pos.dataStart < minNALBytes {
			continue
		}
		nal := data[pos.dataStart:end]
		units = append(units, NALUnit{Type: nalTypeFunc(nal), Data: nal})
	}
	return units
}

// ParseAnnexB splits an H.264 Annex B byte stream into NAL units.
func ParseAnnexB(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 1, func(d []byte) byte { return d[0] & 0x1F })
}

// IsKeyframe reports whether an H.264 NAL type is an IDR slice.
func IsKeyframe(nalType byte) bool {
	return nalType == NALTypeIDR
}

// startCode prefixes each parameter set in extradata.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// JoinAnnexB concatenates NAL units, each behind a 4-byte start code.
func JoinAnnexB(nals ...[]byte) []byte {
	size := 0
	for _, n := range nals {
		size += len(startCode) + len(n)
	}
	out := make([]byte, 0, size)
	for _, n := range nals {
		if len(n) == 0 {
			continue
		}
		out = append(out, startCode...)
		out = append(out, n...)
	}
	return out
}
