package demux

// H.265 NAL unit types, ITU-T H.265 Table 7-1.
const (
	HEVCNALBlaWLP     = 16
	HEVCNALIDRWRadl   = 19
	HEVCNALIDRNlp     = 20
	HEVCNALCraNut     = 21
	HEVCNALVPS        = 32
	HEVCNALSPS        = 33
	HEVCNALPPS        = 34
	HEVCNALAUD        = 35
	HEVCNALFillerData = 38
	HEVCNALSEIPrefix  = 39
)

// HEVCNALType extracts the NAL type from the first byte of the 2-byte
// HEVC NAL header: forbidden(1) type(6) layer_id_high(1).
func HEVCNALType(firstByte byte) byte {
	return firstByte >> 1 & 0x3F
}

// IsHEVCKeyframe reports whether an HEVC NAL type is an IRAP picture
// (BLA, IDR or CRA).
func IsHEVCKeyframe(nalType byte) bool {
	return nalType >= HEVCNALBlaWLP && nalType <= HEVCNALCraNut
}

// ParseAnnexBHEVC splits an HEVC Annex B byte stream into NAL units.
func ParseAnnexBHEVC(data []byte) []NALUnit {
	return parseAnnexBGeneric(data, 2, func(d []byte) byte { return HEVCNALType(d[0]) })
}

// HEVCSPSInfo holds the fields of an HEVC SPS that feed track parameters.
type HEVCSPSInfo struct {
	Width      int
	Height     int
	ProfileIDC byte
	TierFlag   byte
	LevelIDC   byte

	ChromaFormatIdc      byte
	BitDepthLumaMinus8   byte
	BitDepthChromaMinus8 byte
}

// ParseHEVCSPS parses an HEVC SPS NAL unit, 2-byte header included, for
// resolution and profile/tier/level.
func ParseHEVCSPS(nalu []byte) (HEVCSPSInfo, error) {
	if len(nalu) < 4 {
		return HEVCSPSInfo{}, errSPSTooShort
	}
	r := &spsReader{br: newBitReader(removeEmulationPrevention(nalu[2:]))}

	r.bits(4) // sps_video_parameter_set_id
	maxSubLayersMinus1 := r.bits(3)
	r.bits(1) // sps_temporal_id_nesting_flag

	var info HEVCSPSInfo
	parseHEVCProfileTierLevel(r, &info, maxSubLayersMinus1)

	r.ue() // sps_seq_parameter_set_id
	chromaFormatIdc := r.ue()
	if chromaFormatIdc == 3 {
		r.bits(1) // separate_colour_plane_flag
	}
	width := r.ue()
	height := r.ue()
	if r.err != nil {
		return HEVCSPSInfo{}, r.err
	}
	info.ChromaFormatIdc = byte(chromaFormatIdc)
	info.Width = int(width)
	info.Height = int(height)

	if r.bits(1) == 1 { // conformance_window_flag
		left, right, top, bottom := r.ue(), r.ue(), r.ue(), r.ue()
		if r.err != nil {
			return info, nil
		}
		subWidthC, subHeightC := uint(1), uint(1)
		switch chromaFormatIdc {
		case 1:
			subWidthC, subHeightC = 2, 2
		case 2:
			subWidthC = 2
		}
		info.Width -= int((left + right) * subWidthC)
		info.Height -= int((top + bottom) * subHeightC)
	}

	bdl, bdc := r.ue(), r.ue()
	if r.err == nil {
		info.BitDepthLumaMinus8 = byte(bdl)
		info.BitDepthChromaMinus8 = byte(bdc)
	}
	return info, nil
}

func parseHEVCProfileTierLevel(r *spsReader, info *HEVCSPSInfo, maxSubLayersMinus1 uint) {
	r.bits(2) // general_profile_space
	info.TierFlag = byte(r.bits(1))
	info.ProfileIDC = byte(r.bits(5))
	r.bits(32) // general_profile_compatibility_flags
	r.bits(48) // general_constraint_indicator_flags
	info.LevelIDC = byte(r.bits(8))

	if maxSubLayersMinus1 == 0 {
		return
	}
	var profilePresent, levelPresent [8]bool
	for i := range maxSubLayersMinus1 {
		profilePresent[i] = r.bits(1) == 1
		levelPresent[i] = r.bits(1) == 1
	}
	for i := maxSubLayersMinus1; i < 8; i++ {
		r.bits(2) // reserved_zero_2bits
	}
	for i := range maxSubLayersMinus1 {
		if profilePresent[i] {
			r.bits(88)
		}
		if levelPresent[i] {
			r.bits(8)
		}
	}
}
