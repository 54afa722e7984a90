package demux

import (
	"testing"

	"github.com/zsiec/samplesource/internal/tstest"
)

func TestHEVCNALClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header byte
		typ    byte
		key    bool
	}{
		{0x02, 1, false},            // TRAIL_R
		{0x20, HEVCNALBlaWLP, true}, // BLA_W_LP
		{0x26, HEVCNALIDRWRadl, true},
		{0x28, HEVCNALIDRNlp, true},
		{0x2A, HEVCNALCraNut, true},
		{0x2C, 22, false}, // reserved IRAP range end
		{0x40, HEVCNALVPS, false},
		{0x42, HEVCNALSPS, false},
		{0x44, HEVCNALPPS, false},
		{0x46, HEVCNALAUD, false},
		{0x4E, HEVCNALSEIPrefix, false},
		{0x43, HEVCNALSPS, false}, // layer_id high bit ignored
	}
	for _, tt := range tests {
		typ := HEVCNALType(tt.header)
		if typ != tt.typ {
			t.Errorf("HEVCNALType(%#02x) = %d, want %d", tt.header, typ, tt.typ)
		}
		if got := IsHEVCKeyframe(typ); got != tt.key {
			t.Errorf("IsHEVCKeyframe(%d) = %v, want %v", typ, got, tt.key)
		}
	}
}

func TestParseAnnexBHEVCAccessUnits(t *testing.T) {
	t.Parallel()

	vps, sps, pps := tstest.HEVCParameterSets(640, 360)
	tests := []struct {
		name  string
		au    []byte
		types []byte
	}{
		{"key", tstest.HEVCAccessUnit(true, 64, vps, sps, pps), []byte{HEVCNALVPS, HEVCNALSPS, HEVCNALPPS, HEVCNALIDRWRadl}},
		{"delta", tstest.HEVCAccessUnit(false, 64), []byte{1}},
		{"three-byte start code", []byte{0, 0, 1, 0x26, 0x01, 0xAA}, []byte{HEVCNALIDRWRadl}},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			nalus := ParseAnnexBHEVC(tt.au)
			if len(nalus) != len(tt.types) {
				t.Fatalf("got %d NAL units, want %d", len(nalus), len(tt.types))
			}
			for i, n := range nalus {
				if n.Type != tt.types[i] {
					t.Errorf("nal %d type = %d, want %d", i, n.Type, tt.types[i])
				}
			}
			if len(nalus) > 1 && string(nalus[1].Data) != string(sps) {
				t.Error("SPS bytes not preserved")
			}
		})
	}
}

func TestParseHEVCSPS(t *testing.T) {
	t.Parallel()

	// Main profile, level 3.1, 320x240.
	handSPS := []byte{
		0x42, 0x01,
		0x01,
		0x01,
		0x40, 0x00, 0x00, 0x00,
		0xB0, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x5D,
		0xA0, 0x0A, 0x08, 0x0F, 0x10,
	}
	_, sps720, _ := tstest.HEVCParameterSets(1280, 720)
	_, sps240, _ := tstest.HEVCParameterSets(320, 240)

	tests := []struct {
		name          string
		sps           []byte
		width, height int
	}{
		{"hand built", handSPS, 320, 240},
		{"generated 720p", sps720, 1280, 720},
		{"generated 240p", sps240, 320, 240},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			info, err := ParseHEVCSPS(tt.sps)
			if err != nil {
				t.Fatalf("ParseHEVCSPS: %v", err)
			}
			if info.Width != tt.width || info.Height != tt.height {
				t.Errorf("size = %dx%d, want %dx%d", info.Width, info.Height, tt.width, tt.height)
			}
			if info.ProfileIDC != 1 || info.TierFlag != 0 || info.LevelIDC != 93 {
				t.Errorf("profile/tier/level = %d/%d/%d, want 1/0/93", info.ProfileIDC, info.TierFlag, info.LevelIDC)
			}
		})
	}
}

func TestParseHEVCSPSTooShort(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{nil, {0x42, 0x01, 0x01}} {
		if _, err := ParseHEVCSPS(in); err == nil {
			t.Errorf("ParseHEVCSPS(%x) succeeded", in)
		}
	}
}
