package mpegts

import "fmt"

const (
	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

func parsePSI(payload []byte, firstPacket *Packet) ([]*DemuxerData, error) {
	if len(payload) < 1 {
		return nil, fmt.Errorf("mpegts: PSI payload too short")
	}

	offset := 1 + int(payload[0])
	if offset >= len(payload) {
		return nil, fmt.Errorf("mpegts: PSI pointer field out of range")
	}

	var results []*DemuxerData
	for offset < len(payload) {
		tableID := payload[offset]
		if tableID == 0xFF || offset+3 > len(payload) {
			break
		}
		// Zero padding has section_syntax_indicator clear.
		if payload[offset+1]&0x80 == 0 {
			break
		}

		sectionLength := int(payload[offset+1]&0x0F)<<8 | int(payload[offset+2])
		sectionEnd := offset + 3 + sectionLength
		if sectionEnd > len(payload) {
			break
		}
		section := payload[offset:sectionEnd]

		switch tableID {
		case tableIDPAT:
			pat, err := parsePATSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{FirstPacket: firstPacket, PAT: pat})
		case tableIDPMT:
			pmt, err := parsePMTSection(section)
			if err != nil {
				return results, err
			}
			results = append(results, &DemuxerData{FirstPacket: firstPacket, PMT: pmt})
		}

		offset = sectionEnd
	}

	return results, nil
}

// parsePATSection decodes a PAT section:
//
//	[0]      table_id
//	[1-2]    syntax(1) zero(1) reserved(2) section_length(12)
//	[3-4]    transport_stream_id
//	[5]      reserved(2) version(5) current_next(1)
//	[6-7]    section_number, last_section_number
//	[8..N-4] program entries, 4 bytes each
//	[N-4..N] CRC32
func parsePATSection(data []byte) (*PATData, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PAT %w", err)
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("mpegts: PAT too short")
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	entryEnd := min(3+sectionLength-4, len(data)-4)

	pat := &PATData{TransportStreamID: uint16(data[3])<<8 | uint16(data[4])}
	for i := 8; i+4 <= entryEnd; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		if programNumber == 0 {
			continue // network PID
		}
		pat.Programs = append(pat.Programs, &PATProgram{
			ProgramNumber: programNumber,
			ProgramMapID:  uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3]),
		})
	}
	return pat, nil
}

// parsePMTSection decodes a PMT section:
//
//	[0]      table_id
//	[1-2]    syntax(1) zero(1) reserved(2) section_length(12)
//	[3-4]    program_number
//	[5]      reserved(2) version(5) current_next(1)
//	[6-7]    section_number, last_section_number
//	[8-9]    reserved(3) PCR_PID(13)
//	[10-11]  reserved(4) program_info_length(12)
//	program descriptors, elementary stream loop, CRC32
func parsePMTSection(data []byte) (*PMTData, error) {
	if err := verifyCRC32(data); err != nil {
		return nil, fmt.Errorf("mpegts: PMT %w", err)
	}
	if len(data) < 16 {
		return nil, fmt.Errorf("mpegts: PMT too short")
	}

	sectionLength := int(data[1]&0x0F)<<8 | int(data[2])
	loopEnd := min(3+sectionLength, len(data)) - 4

	pmt := &PMTData{
		ProgramNumber: uint16(data[3])<<8 | uint16(data[4]),
		Version:       data[5] >> 1 & 0x1F,
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}

	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLength
	if offset > loopEnd {
		return nil, fmt.Errorf("mpegts: PMT program_info_length %d overruns section", programInfoLength)
	}
	pmt.Descriptors = parseDescriptors(data[12:offset])

	for offset+5 <= loopEnd {
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])
		infoEnd := min(offset+5+esInfoLength, loopEnd)
		pmt.ElementaryStreams = append(pmt.ElementaryStreams, &PMTElementaryStream{
			StreamType:    data[offset],
			ElementaryPID: uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
			Descriptors:   parseDescriptors(data[offset+5 : infoEnd]),
		})
		offset += 5 + esInfoLength
	}

	return pmt, nil
}

// parseDescriptors splits a descriptor loop. A truncated trailing
// descriptor is dropped.
func parseDescriptors(b []byte) []Descriptor {
	var ds []Descriptor
	for len(b) >= 2 {
		n := int(b[1])
		if 2+n > len(b) {
			break
		}
		ds = append(ds, Descriptor{Tag: b[0], Data: b[2 : 2+n]})
		b = b[2+n:]
	}
	return ds
}
