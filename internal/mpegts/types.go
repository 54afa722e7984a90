// Package mpegts parses MPEG transport streams into PAT, PMT and PES units.
// It tracks PMT PIDs announced by the PAT, reassembles PES payloads per PID,
// resynchronizes on lost sync bytes and can be rewound for seeking.
package mpegts

// Packet is a parsed 188-byte transport stream packet.
type Packet struct {
	Header  PacketHeader
	Payload []byte
}

// PacketHeader holds the transport header and the adaptation field flags
// the demuxer acts on.
type PacketHeader struct {
	PID                       uint16
	ContinuityCounter         uint8
	HasAdaptationField        bool
	HasPayload                bool
	PayloadUnitStartIndicator bool
	TransportErrorIndicator   bool
	DiscontinuityIndicator    bool
	RandomAccessIndicator     bool
}

// DemuxerData is one logical unit produced by the demuxer. Exactly one of
// PAT, PMT or PES is non-nil.
type DemuxerData struct {
	FirstPacket *Packet
	PAT         *PATData
	PMT         *PMTData
	PES         *PESData
}

// PATData is a parsed Program Association Table.
type PATData struct {
	TransportStreamID uint16
	Programs          []*PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramMapID  uint16
	ProgramNumber uint16
}

// PMTData is a parsed Program Map Table.
type PMTData struct {
	ProgramNumber     uint16
	PCRPID            uint16
	Version           uint8
	Descriptors       []Descriptor
	ElementaryStreams []*PMTElementaryStream
}

// PMTElementaryStream is one entry of the PMT stream loop.
type PMTElementaryStream struct {
	ElementaryPID uint16
	StreamType    uint8
	Descriptors   []Descriptor
}

// Registration returns the format identifier of the stream's registration
// descriptor (tag 0x05), such as "HEVC" or "AC-3", or "" when absent.
func (es *PMTElementaryStream) Registration() string {
	for _, d := range es.Descriptors {
		if d.Tag == DescriptorRegistration && len(d.Data) >= 4 {
			return string(d.Data[:4])
		}
	}
	return ""
}

// Language returns the ISO 639 language code of the stream, or "".
func (es *PMTElementaryStream) Language() string {
	for _, d := range es.Descriptors {
		if d.Tag == DescriptorISO639Language && len(d.Data) >= 3 {
			return string(d.Data[:3])
		}
	}
	return ""
}

// HasDescriptor reports whether the stream carries a descriptor with tag.
func (es *PMTElementaryStream) HasDescriptor(tag uint8) bool {
	for _, d := range es.Descriptors {
		if d.Tag == tag {
			return true
		}
	}
	return false
}

// Descriptor tags consulted when classifying private streams.
const (
	DescriptorRegistration   = 0x05
	DescriptorISO639Language = 0x0A
	DescriptorAC3            = 0x6A
	DescriptorEnhancedAC3    = 0x7A
	DescriptorTeletext       = 0x56
	DescriptorDVBSubtitle    = 0x59
)

// Descriptor is a raw tag/length/value descriptor from a PSI loop.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// PESData is a reassembled Packetized Elementary Stream unit.
type PESData struct {
	Data   []byte
	Header *PESHeader
}

// PESHeader is the fixed PES header.
type PESHeader struct {
	OptionalHeader *PESOptionalHeader
	StreamID       uint8
	PacketLength   int
}

// PESOptionalHeader carries the optional PES fields the demuxer uses.
type PESOptionalHeader struct {
	DataAlignmentIndicator bool
	PTS                    *ClockReference
	DTS                    *ClockReference
}

// ClockReference is a 33-bit 90 kHz timestamp.
type ClockReference struct {
	Base int64
}
