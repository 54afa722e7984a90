package tstest

// bitWriter packs MSB-first bit fields and exp-Golomb codes.
type bitWriter struct {
	buf  []byte
	used int // bits used in the last byte, 0 when byte aligned
}

func (w *bitWriter) bits(v uint64, n int) {
	for i := n - 1; i >= 0; i-- {
		if w.used == 0 {
			w.buf = append(w.buf, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.buf[len(w.buf)-1] |= 0x80 >> w.used
		}
		w.used = (w.used + 1) % 8
	}
}

func (w *bitWriter) flag(b bool) {
	if b {
		w.bits(1, 1)
	} else {
		w.bits(0, 1)
	}
}

func (w *bitWriter) ue(v uint64) {
	v++
	n := 0
	for x := v; x > 1; x >>= 1 {
		n++
	}
	w.bits(0, n)
	w.bits(v, n+1)
}

// rbsp appends the stop bit and alignment zeros.
func (w *bitWriter) rbsp() []byte {
	w.bits(1, 1)
	for w.used != 0 {
		w.bits(0, 1)
	}
	return w.buf
}

// addEPB inserts emulation prevention bytes.
func addEPB(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/64)
	zeros := 0
	for _, b := range data {
		if zeros >= 2 && b <= 0x03 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0x00 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// H264SPS returns a baseline-profile SPS NAL unit (header byte included)
// for the given even dimensions. fps > 0 adds VUI timing info.
func H264SPS(width, height, fps int) []byte {
	mbW := (width + 15) / 16
	mbH := (height + 15) / 16
	cropR := (mbW*16 - width) / 2
	cropB := (mbH*16 - height) / 2

	w := &bitWriter{}
	w.bits(66, 8)   // profile_idc
	w.bits(0xC0, 8) // constraint_set0/1
	w.bits(30, 8)   // level_idc
	w.ue(0)         // seq_parameter_set_id
	w.ue(0)         // log2_max_frame_num_minus4
	w.ue(0)         // pic_order_cnt_type
	w.ue(0)         // log2_max_pic_order_cnt_lsb_minus4
	w.ue(1)         // max_num_ref_frames
	w.flag(false)   // gaps_in_frame_num_value_allowed_flag
	w.ue(uint64(mbW - 1))
	w.ue(uint64(mbH - 1))
	w.flag(true) // frame_mbs_only_flag
	w.flag(true) // direct_8x8_inference_flag
	crop := cropR != 0 || cropB != 0
	w.flag(crop)
	if crop {
		w.ue(0)
		w.ue(uint64(cropR))
		w.ue(0)
		w.ue(uint64(cropB))
	}
	w.flag(fps > 0) // vui_parameters_present_flag
	if fps > 0 {
		w.flag(false) // aspect_ratio_info_present_flag
		w.flag(false) // overscan_info_present_flag
		w.flag(false) // video_signal_type_present_flag
		w.flag(false) // chroma_loc_info_present_flag
		w.flag(true)  // timing_info_present_flag
		w.bits(1, 32)
		w.bits(uint64(2*fps), 32)
		w.flag(true)  // fixed_frame_rate_flag
		w.flag(false) // nal_hrd_parameters_present_flag
		w.flag(false) // vcl_hrd_parameters_present_flag
		w.flag(false) // pic_struct_present_flag
		w.flag(false) // bitstream_restriction_flag
	}
	return append([]byte{0x67}, addEPB(w.rbsp())...)
}

// H264PPS returns a minimal PPS NAL unit.
func H264PPS() []byte {
	return []byte{0x68, 0xCE, 0x38, 0x80}
}

// HEVCParameterSets returns VPS, SPS and PPS NAL units for a Main profile
// stream of the given dimensions, which must be multiples of 8.
func HEVCParameterSets(width, height int) (vps, sps, pps []byte) {
	w := &bitWriter{}
	w.bits(0, 4) // sps_video_parameter_set_id
	w.bits(0, 3) // sps_max_sub_layers_minus1
	w.flag(true) // sps_temporal_id_nesting_flag
	w.bits(0, 2) // general_profile_space
	w.bits(0, 1) // general_tier_flag
	w.bits(1, 5) // general_profile_idc
	w.bits(0x60000000, 32)
	w.bits(0x900000000000, 48)
	w.bits(93, 8) // general_level_idc
	w.ue(0)       // sps_seq_parameter_set_id
	w.ue(1)       // chroma_format_idc
	w.ue(uint64(width))
	w.ue(uint64(height))
	w.flag(false) // conformance_window_flag
	w.ue(0)       // bit_depth_luma_minus8
	w.ue(0)       // bit_depth_chroma_minus8
	sps = append([]byte{0x42, 0x01}, addEPB(w.rbsp())...)

	vps = []byte{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF, 0x01, 0x60}
	pps = []byte{0x44, 0x01, 0xC1, 0x72, 0xB4, 0x62, 0x40}
	return vps, sps, pps
}

// filler returns n bytes free of start-code emulation.
func filler(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0x10 + (seed+byte(i))%0xE0
	}
	return b
}

// AnnexB joins NAL units behind 4-byte start codes.
func AnnexB(nals ...[]byte) []byte {
	var out []byte
	for _, n := range nals {
		out = append(out, 0x00, 0x00, 0x00, 0x01)
		out = append(out, n...)
	}
	return out
}

// H264AccessUnit returns an Annex B access unit whose slice carries size
// filler bytes. Key units are IDR slices preceded by paramSets.
func H264AccessUnit(key bool, size int, paramSets ...[]byte) []byte {
	slice := []byte{0x41}
	if key {
		slice = []byte{0x65}
	}
	slice = append(slice, filler(size, byte(size))...)
	nals := [][]byte{{0x09, 0xF0}} // access unit delimiter
	if key {
		nals = append(nals, paramSets...)
	}
	return AnnexB(append(nals, slice)...)
}

// HEVCAccessUnit returns an Annex B access unit with an IDR_W_RADL or
// TRAIL_R slice of size filler bytes.
func HEVCAccessUnit(key bool, size int, paramSets ...[]byte) []byte {
	slice := []byte{0x02, 0x01} // TRAIL_R
	if key {
		slice = []byte{0x26, 0x01} // IDR_W_RADL
	}
	slice = append(slice, filler(size, byte(size))...)
	var nals [][]byte
	if key {
		nals = append(nals, paramSets...)
	}
	return AnnexB(append(nals, slice)...)
}

// ADTSFrame returns an AAC-LC ADTS frame with payloadLen filler bytes.
func ADTSFrame(rateIndex, channels, payloadLen int) []byte {
	frameLen := 7 + payloadLen
	h := []byte{
		0xFF,
		0xF1, // MPEG-4, layer 0, protection absent
		byte(1<<6 | rateIndex<<2 | channels>>2&0x01),
		byte((channels&0x03)<<6 | frameLen>>11&0x03),
		byte(frameLen >> 3),
		byte((frameLen&0x07)<<5 | 0x1F),
		0xFC,
	}
	return append(h, filler(payloadLen, byte(payloadLen))...)
}
